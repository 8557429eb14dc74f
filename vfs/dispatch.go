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

package vfs

import (
	"context"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/errno"
)

// IODispatch is the per-open-file function-pointer table the original
// kernel assigns at open time based on node kind (spec §4.3): a generic
// file goes through the page cache, a device goes straight to its driver,
// O_PATH opens get a dummy table that rejects everything but fstat/close.
type IODispatch interface {
	Read(ctx context.Context, f *OpenFile, buf []byte) (int, error)
	Write(ctx context.Context, f *OpenFile, buf []byte) (int, error)
	Select(ctx context.Context, f *OpenFile, events uint32) (uint32, error)
	Poll(ctx context.Context, f *OpenFile, events uint32) (uint32, error)
}

// genericFileIO is the ordinary regular-file dispatch: every read/write goes
// through the page cache, block by block, coalesced per pcache's fill
// algorithm.
type genericFileIO struct {
	srv *Server
}

func (g genericFileIO) Read(ctx context.Context, f *OpenFile, buf []byte) (int, error) {
	off := f.Offset()
	n, err := g.srv.genericRead(ctx, f.Inode, off, buf)
	if err != nil {
		return n, err
	}
	f.setOffset(off + int64(n))
	return n, nil
}

func (g genericFileIO) Write(ctx context.Context, f *OpenFile, buf []byte) (int, error) {
	off := f.Offset()
	if f.Flags&OAppend != 0 {
		off = f.Inode.Size()
	}
	n, err := g.srv.genericWrite(ctx, f.Inode, off, buf)
	if err != nil {
		return n, err
	}
	f.setOffset(off + int64(n))
	return n, nil
}

func (genericFileIO) Select(ctx context.Context, f *OpenFile, events uint32) (uint32, error) {
	return events, nil // regular files are always ready
}

func (genericFileIO) Poll(ctx context.Context, f *OpenFile, events uint32) (uint32, error) {
	return events, nil
}

// deviceIO dispatches straight to the device driver registered for the
// inode's device number, bypassing the page cache entirely (character
// devices: ttys, /dev/null-equivalents).
type deviceIO struct {
	drv driver.ReadWriteDriver
}

func (d deviceIO) Read(ctx context.Context, f *OpenFile, buf []byte) (int, error) {
	return d.drv.Read(ctx, buf)
}
func (d deviceIO) Write(ctx context.Context, f *OpenFile, buf []byte) (int, error) {
	return d.drv.Write(ctx, buf)
}
func (d deviceIO) Select(ctx context.Context, f *OpenFile, events uint32) (uint32, error) {
	if p, ok := d.drv.(driver.PollableDriver); ok {
		return p.Select(ctx, events)
	}
	return events, nil
}
func (d deviceIO) Poll(ctx context.Context, f *OpenFile, events uint32) (uint32, error) {
	if p, ok := d.drv.(driver.PollableDriver); ok {
		return p.Poll(ctx, events)
	}
	return events, nil
}

// pathOnlyIO is installed for O_PATH opens (spec §4.3): every data
// operation is rejected, only fstat/close are meaningful against the fd.
type pathOnlyIO struct{}

func (pathOnlyIO) Read(context.Context, *OpenFile, []byte) (int, error)  { return 0, errno.EBADF }
func (pathOnlyIO) Write(context.Context, *OpenFile, []byte) (int, error) { return 0, errno.EBADF }
func (pathOnlyIO) Select(context.Context, *OpenFile, uint32) (uint32, error) {
	return 0, errno.EBADF
}
func (pathOnlyIO) Poll(context.Context, *OpenFile, uint32) (uint32, error) {
	return 0, errno.EBADF
}

// dispatchFor chooses the IODispatch for a freshly opened inode (spec §4.3
// "I/O dispatch table"): O_PATH always wins, then device nodes resolve
// through the driver registry, and everything else is the generic
// page-cache-backed path.
func (s *Server) dispatchFor(flags OpenFlag, n *Inode, registry *driver.Registry) IODispatch {
	if flags&OPath != 0 {
		return pathOnlyIO{}
	}
	if n.Mode&ModeDevice != 0 && registry != nil {
		if drv, ok := registry.Lookup(driver.Major(n.Blocks[0])); ok {
			if rw, ok := drv.(driver.ReadWriteDriver); ok {
				return deviceIO{drv: rw}
			}
		}
	}
	return genericFileIO{srv: s}
}
