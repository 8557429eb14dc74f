// Copyright 2025 The LaylaOS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kconfig is the kernel core's boot configuration: a typed Config
// struct bound to command-line flags and an optional YAML file via viper,
// plus a parser for the /etc/boot_fstab-equivalent mount table read at boot.
package kconfig

import "fmt"

// MountFlags is a bitmask of mount options (spec §6 "Root filesystem and
// mount config"). The bit values are this package's own, assigned in
// declaration order; they do not match mount(2)'s MS_* constants.
type MountFlags uint32

const (
	MountReadOnly MountFlags = 1 << iota
	MountNoExec
	MountNoSuid
	MountNoDev
	MountNoAtime
)

// String renders the set bits as the comma-joined flag names a boot log
// line or laylaosctl mount listing prints, e.g. "ro,noexec".
func (f MountFlags) String() string {
	names := []struct {
		bit  MountFlags
		name string
	}{
		{MountReadOnly, "ro"},
		{MountNoExec, "noexec"},
		{MountNoSuid, "nosuid"},
		{MountNoDev, "nodev"},
		{MountNoAtime, "noatime"},
	}
	out := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if out != "" {
				out += ","
			}
			out += n.name
		}
	}
	if out == "" {
		return "rw"
	}
	return out
}

// ParseMountFlags accepts the comma-separated option strings a boot_fstab
// entry's options column carries, the mount(8) way.
func ParseMountFlags(s string) (MountFlags, error) {
	var f MountFlags
	if s == "" || s == "defaults" {
		return f, nil
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ',' {
			continue
		}
		tok := s[start:i]
		start = i + 1
		switch tok {
		case "rw", "defaults":
		case "ro":
			f |= MountReadOnly
		case "noexec":
			f |= MountNoExec
		case "nosuid":
			f |= MountNoSuid
		case "nodev":
			f |= MountNoDev
		case "noatime":
			f |= MountNoAtime
		default:
			return 0, fmt.Errorf("kconfig: unknown mount option %q", tok)
		}
	}
	return f, nil
}

// Rlimit is one POSIX resource limit entry (spec §4.5's task lifecycle
// names rlimits as part of what fork/exec inherit and exec may reset).
type Rlimit struct {
	Soft uint64 `mapstructure:"soft" yaml:"soft"`
	Hard uint64 `mapstructure:"hard" yaml:"hard"`
}

// RlimitUnlimited is the sentinel a Rlimit field holds when the resource is
// uncapped, mirroring RLIM_INFINITY.
const RlimitUnlimited = ^uint64(0)

// BootFstabEntry is one line of the on-disk mount table read at boot,
// analogous to /etc/fstab: which driver-backed device to mount, the fs_ops
// registry key selecting its filesystem type, where to graft it, and its
// mount flags.
type BootFstabEntry struct {
	Device     uint64     `yaml:"device"`
	FsType     string     `yaml:"fs-type"`
	MountPoint string     `yaml:"mount-point"`
	Options    string     `yaml:"options"`
	Flags      MountFlags `yaml:"-"`
}

// SchedulerConfig tunes the task scheduler (spec §4.5).
type SchedulerConfig struct {
	// QuantumMillis is the preemption quantum for round-robin scheduling.
	QuantumMillis int `mapstructure:"quantum-millis" yaml:"quantum-millis"`
}

// PageCacheConfig tunes the page cache (spec §4.1).
type PageCacheConfig struct {
	// SweepIntervalSeconds is how often the background sweep/flush daemon
	// runs.
	SweepIntervalSeconds int `mapstructure:"sweep-interval-seconds" yaml:"sweep-interval-seconds"`
	// StaleAfterSeconds is how long an entry may go unaccessed before the
	// flusher's periodic sweep reclaims it (pcache.Config.EvictAfter).
	StaleAfterSeconds int `mapstructure:"stale-after-seconds" yaml:"stale-after-seconds"`
	// MaxConcurrentSweeps is accepted from flags and the config file but is
	// not passed to the page cache: the flusher's concurrency limit is fixed
	// at four.
	MaxConcurrentSweeps int `mapstructure:"max-concurrent-sweeps" yaml:"max-concurrent-sweeps"`
}

// LogConfig selects klog's output shape.
type LogConfig struct {
	Format   string `mapstructure:"format" yaml:"format"`
	Severity string `mapstructure:"severity" yaml:"severity"`
	FilePath string `mapstructure:"file-path" yaml:"file-path"`
}

// MetricsConfig selects kmetrics' exporter path.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// Config is the kernel core's full boot configuration, the union of
// everything cmd/laylaosd and cmd/laylaosctl need to construct and wire the
// substrate's subsystems.
type Config struct {
	BootFstabPath string `mapstructure:"boot-fstab-path" yaml:"boot-fstab-path"`

	DefaultRlimitNofile Rlimit `mapstructure:"default-rlimit-nofile" yaml:"default-rlimit-nofile"`
	DefaultRlimitAs     Rlimit `mapstructure:"default-rlimit-as" yaml:"default-rlimit-as"`

	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	PageCache PageCacheConfig `mapstructure:"page-cache" yaml:"page-cache"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// DebugSocketPath is the Unix domain socket cmd/laylaosd's debug server
	// listens on and cmd/laylaosctl dials.
	DebugSocketPath string `mapstructure:"debug-socket-path" yaml:"debug-socket-path"`
}

// Default returns the configuration a demo boot uses when no flags or
// config file override it.
func Default() Config {
	return Config{
		BootFstabPath:       "/etc/boot_fstab",
		DefaultRlimitNofile: Rlimit{Soft: 1024, Hard: 4096},
		DefaultRlimitAs:     Rlimit{Soft: RlimitUnlimited, Hard: RlimitUnlimited},
		Scheduler:           SchedulerConfig{QuantumMillis: 10},
		PageCache: PageCacheConfig{
			SweepIntervalSeconds: 30,
			StaleAfterSeconds:    300,
			MaxConcurrentSweeps:  4,
		},
		Log:             LogConfig{Format: "json", Severity: "INFO"},
		Metrics:         MetricsConfig{Enabled: true, Address: ":9090"},
		DebugSocketPath: "/run/laylaosd.sock",
	}
}
