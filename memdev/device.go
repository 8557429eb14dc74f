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

// Package memdev is the demo harness spec §8's end-to-end scenarios and
// cmd/laylaosd's demo boot run against: an afero.MemMapFs-backed block
// device (driver.Driver) and a minimal filesystem ("layla-demo-fs") over it.
// Neither piece is spec'd core (spec §1 scopes real storage hardware and
// on-disk formats out); they exist only to give the execution substrate
// something concrete to drive.
package memdev

import (
	"context"
	"sync"

	"github.com/spf13/afero"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/errno"
)

const imagePath = "/layla-demo.img"

// Device is a fixed-size raw block device backed by an afero in-memory
// filesystem. It plays the role spec §6's driver contract names for a real
// AHCI/NVMe controller: one Strategy entry point, addressed by byte offset,
// that the page cache and memdev's own FS issue reads and writes through.
type Device struct {
	mu   sync.Mutex
	file afero.File
	size int64
}

// NewDevice creates a zero-filled block device of the given size backed by
// a fresh afero.MemMapFs. sizeBytes must be a multiple of the block size the
// caller intends to format it with; NewDevice itself is block-size agnostic.
func NewDevice(sizeBytes int64) (*Device, error) {
	fs := afero.NewMemMapFs()
	f, err := fs.Create(imagePath)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		return nil, err
	}
	return &Device{file: f, size: sizeBytes}, nil
}

// Size reports the device's fixed capacity in bytes.
func (d *Device) Size() int64 {
	return d.size
}

// Close releases the backing afero file. The harness has no shutdown path
// of its own (spec §1 scopes real device teardown out); callers that tear
// down a demo kernel instance call this themselves.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// Strategy implements driver.Driver. req.Offset/req.Length address a byte
// range of the backing image; out-of-range requests fail with EIO the same
// way a real controller would report a request past the end of the disk.
func (d *Device) Strategy(ctx context.Context, req *driver.Request) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if req.Offset < 0 || req.Length < 0 || req.Offset+int64(req.Length) > d.size {
		return 0, errno.EIO
	}
	if len(req.Buf) < req.Length {
		return 0, errno.EINVAL
	}

	switch req.Direction {
	case driver.Read:
		return d.file.ReadAt(req.Buf[:req.Length], req.Offset)
	case driver.Write:
		return d.file.WriteAt(req.Buf[:req.Length], req.Offset)
	default:
		return 0, errno.EINVAL
	}
}
