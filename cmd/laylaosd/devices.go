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

package main

import "github.com/laylaos/kernelcore/driver"

// deviceEntry is one device-table row: everything pcache.DeviceResolver
// needs to know about a device beyond how to reach its driver, which
// driver.Registry already tracks by major number.
type deviceEntry struct {
	drv       driver.Driver
	blockSize int
	writable  bool
}

// deviceTable implements pcache.DeviceResolver over a small fixed device
// map, the boot sequence's stand-in for a real kernel's block_device_table
// (spec §6 "Driver contract"). cmd/laylaosd registers exactly one entry,
// memdev's demo device, but the type itself scales to more.
type deviceTable struct {
	devices map[uint64]deviceEntry
}

func newDeviceTable() *deviceTable {
	return &deviceTable{devices: make(map[uint64]deviceEntry)}
}

func (d *deviceTable) add(device uint64, entry deviceEntry) {
	d.devices[device] = entry
}

func (d *deviceTable) Driver(device uint64) (driver.Driver, bool) {
	e, ok := d.devices[device]
	return e.drv, ok
}

func (d *deviceTable) BlockSize(device uint64) int {
	return d.devices[device].blockSize
}

func (d *deviceTable) Writable(device uint64) bool {
	return d.devices[device].writable
}
