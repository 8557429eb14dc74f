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

// Package driver defines the contract block and character device drivers
// supply to the kernel core (spec §6, "Driver contract (downward)"). Drivers
// themselves (AHCI, loop, tty) are out of scope (spec §1); this package only
// names the vtable the page cache and VFS dispatch against.
package driver

import "context"

// Direction of a Request.
type Direction int

const (
	Read Direction = iota
	Write
)

// Request describes one driver I/O. Offset is a byte offset for file-backed
// strategy calls or a block number for raw-block calls; callers distinguish
// the two by convention with the filesystem that issued the request, exactly
// as spec §4.1 does ("offset is interpreted as a block number").
type Request struct {
	Device    uint64
	Offset    int64
	Length    int
	Direction Direction
	Buf       []byte
}

// Driver is the minimum contract the page cache requires: one entry point
// that issues a read or write of one or more blocks (spec's "Strategy").
// Drivers report errors by returning a non-nil error; the page cache
// translates that into STALE (spec §4.1 "Failure model").
type Driver interface {
	Strategy(ctx context.Context, req *Request) (n int, err error)
}

// IoctlDriver is implemented by drivers that support device control codes.
// The VFS, not the page cache, calls this (spec §6: "the page cache calls
// strategy only; the VFS may call the others").
type IoctlDriver interface {
	Ioctl(ctx context.Context, cmd uintptr, arg uintptr) (int, error)
}

// PollableDriver is implemented by drivers backing character devices that
// support select/poll (ttys in particular).
type PollableDriver interface {
	Select(ctx context.Context, events uint32) (ready uint32, err error)
	Poll(ctx context.Context, events uint32) (ready uint32, err error)
}

// ReadWriteDriver is implemented by character devices with their own
// read/write entry points bypassing the page cache entirely (ttys).
type ReadWriteDriver interface {
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, buf []byte) (int, error)
}

// Major is a device major number, the index into the Registry.
type Major uint32

// Registry maps major numbers to drivers, mirroring the kernel's static
// major-number device table. Concrete drivers register themselves here at
// init time; the VFS consults it when assigning I/O function pointers to an
// inode at open (spec §4.3).
type Registry struct {
	drivers map[Major]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[Major]Driver)}
}

func (r *Registry) Register(major Major, d Driver) {
	r.drivers[major] = d
}

func (r *Registry) Lookup(major Major) (Driver, bool) {
	d, ok := r.drivers[major]
	return d, ok
}
