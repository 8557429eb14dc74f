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

package kconfig

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers every Config field as a persistent flag on flagSet and
// binds it into viper under the matching dotted key, the way gcsfuse's
// generated cfg.BindFlags does. A caller that also points viper at a YAML
// config file gets flag values as the override layer and file values as the
// base, viper's usual precedence.
func BindFlags(flagSet *pflag.FlagSet) error {
	def := Default()

	flagSet.String("boot-fstab-path", def.BootFstabPath, "Path to the boot-time mount table.")
	if err := viper.BindPFlag("boot-fstab-path", flagSet.Lookup("boot-fstab-path")); err != nil {
		return err
	}

	flagSet.Int("scheduler.quantum-millis", def.Scheduler.QuantumMillis, "Scheduler preemption quantum, in milliseconds.")
	if err := viper.BindPFlag("scheduler.quantum-millis", flagSet.Lookup("scheduler.quantum-millis")); err != nil {
		return err
	}

	flagSet.Int("page-cache.sweep-interval-seconds", def.PageCache.SweepIntervalSeconds, "Page cache sweep daemon interval, in seconds.")
	if err := viper.BindPFlag("page-cache.sweep-interval-seconds", flagSet.Lookup("page-cache.sweep-interval-seconds")); err != nil {
		return err
	}

	flagSet.Int("page-cache.stale-after-seconds", def.PageCache.StaleAfterSeconds, "Age after which an unreferenced clean page is reclaimed.")
	if err := viper.BindPFlag("page-cache.stale-after-seconds", flagSet.Lookup("page-cache.stale-after-seconds")); err != nil {
		return err
	}

	flagSet.Int("page-cache.max-concurrent-sweeps", def.PageCache.MaxConcurrentSweeps, "Maximum concurrent page cache eviction workers (not read: the flusher's limit is fixed at four).")
	if err := viper.BindPFlag("page-cache.max-concurrent-sweeps", flagSet.Lookup("page-cache.max-concurrent-sweeps")); err != nil {
		return err
	}

	flagSet.String("log.format", def.Log.Format, `Log output format, "json" or "text".`)
	if err := viper.BindPFlag("log.format", flagSet.Lookup("log.format")); err != nil {
		return err
	}

	flagSet.String("log.severity", def.Log.Severity, "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("log.severity", flagSet.Lookup("log.severity")); err != nil {
		return err
	}

	flagSet.String("log.file-path", def.Log.FilePath, "Log file path; empty routes logs to stderr.")
	if err := viper.BindPFlag("log.file-path", flagSet.Lookup("log.file-path")); err != nil {
		return err
	}

	flagSet.Bool("metrics.enabled", def.Metrics.Enabled, "Export kernel metrics.")
	if err := viper.BindPFlag("metrics.enabled", flagSet.Lookup("metrics.enabled")); err != nil {
		return err
	}

	flagSet.String("metrics.address", def.Metrics.Address, "Address the Prometheus exporter listens on.")
	if err := viper.BindPFlag("metrics.address", flagSet.Lookup("metrics.address")); err != nil {
		return err
	}

	flagSet.String("debug-socket-path", def.DebugSocketPath, "Unix domain socket laylaosctl connects to for state inspection.")
	if err := viper.BindPFlag("debug-socket-path", flagSet.Lookup("debug-socket-path")); err != nil {
		return err
	}

	return nil
}

// Load reads viper's bound flags (and, if SetConfigFile was already called,
// its config file) into a Config, applying DecodeHook for the custom types
// BindFlags' callers may have set. Load starts from a zero Config, not from
// Default(): a field with no bound flag and no file value is left at its Go
// zero value.
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, DecoderConfigOption); err != nil {
		return Config{}, fmt.Errorf("kconfig: unmarshaling config: %w", err)
	}
	return cfg, nil
}
