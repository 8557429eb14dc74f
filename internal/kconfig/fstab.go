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
	"os"

	"gopkg.in/yaml.v3"
)

// bootFstabDocument is the on-disk shape of /etc/boot_fstab: a flat list of
// entries, parsed with yaml.v3 rather than the classic fstab column format
// since every other piece of kernel core config is already YAML.
type bootFstabDocument struct {
	Mounts []BootFstabEntry `yaml:"mounts"`
}

// LoadBootFstab reads and parses the mount table at path, resolving each
// entry's Options string into a Flags bitmask. Entries are returned in file
// order, which is also mount order: a later entry's MountPoint may be a
// directory created by an earlier one.
func LoadBootFstab(path string) ([]BootFstabEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kconfig: reading boot fstab %s: %w", path, err)
	}

	var doc bootFstabDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("kconfig: parsing boot fstab %s: %w", path, err)
	}

	for i := range doc.Mounts {
		flags, err := ParseMountFlags(doc.Mounts[i].Options)
		if err != nil {
			return nil, fmt.Errorf("kconfig: boot fstab %s entry %d: %w", path, i, err)
		}
		doc.Mounts[i].Flags = flags
		if doc.Mounts[i].MountPoint == "" {
			return nil, fmt.Errorf("kconfig: boot fstab %s entry %d: missing mount-point", path, i)
		}
		if doc.Mounts[i].FsType == "" {
			return nil, fmt.Errorf("kconfig: boot fstab %s entry %d: missing fs-type", path, i)
		}
	}
	return doc.Mounts, nil
}
