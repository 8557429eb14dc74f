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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMountFlagsRoundTrip(t *testing.T) {
	cases := []struct {
		opts string
		want MountFlags
	}{
		{"", 0},
		{"defaults", 0},
		{"ro", MountReadOnly},
		{"ro,noexec", MountReadOnly | MountNoExec},
		{"noatime,nodev,nosuid", MountNoAtime | MountNoDev | MountNoSuid},
	}
	for _, tc := range cases {
		t.Run(tc.opts, func(t *testing.T) {
			got, err := ParseMountFlags(tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseMountFlagsRejectsUnknownOption(t *testing.T) {
	_, err := ParseMountFlags("ro,bogus")
	assert.Error(t, err)
}

func TestMountFlagsString(t *testing.T) {
	assert.Equal(t, "rw", MountFlags(0).String())
	assert.Equal(t, "ro,noexec", (MountReadOnly | MountNoExec).String())
}

func TestLoadBootFstabParsesEntriesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot_fstab.yaml")
	doc := `
mounts:
  - device: 1
    fs-type: layla-demo-fs
    mount-point: /
    options: defaults
  - device: 2
    fs-type: layla-demo-fs
    mount-point: /mnt/data
    options: ro,noexec
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	entries, err := LoadBootFstab(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "/", entries[0].MountPoint)
	assert.Equal(t, MountFlags(0), entries[0].Flags)

	assert.Equal(t, "/mnt/data", entries[1].MountPoint)
	assert.Equal(t, MountReadOnly|MountNoExec, entries[1].Flags)
}

func TestLoadBootFstabRejectsMissingMountPoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot_fstab.yaml")
	doc := `
mounts:
  - device: 1
    fs-type: layla-demo-fs
    options: defaults
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadBootFstab(path)
	assert.Error(t, err)
}

func TestLoadBootFstabRejectsMissingFile(t *testing.T) {
	_, err := LoadBootFstab(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfigIsSelfConsistent(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/etc/boot_fstab", cfg.BootFstabPath)
	assert.Equal(t, RlimitUnlimited, cfg.DefaultRlimitAs.Hard)
	assert.Greater(t, cfg.Scheduler.QuantumMillis, 0)
}
