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

// Package mm implements each task's address-space map (spec §4.4): a sorted
// list of memory regions, protection/detach intersection logic, demand
// paging through pcache, and the fork/exec-time address-space operations.
package mm

import (
	"github.com/laylaos/kernelcore/pcache"
)

// Prot is a page protection bitmask: {R,W,X} (spec §3 "Memory region").
type Prot uint32

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// RegionType classifies a region's role (spec §3 "Memory region" type enum:
// TEXT, DATA, SHMEM, STACK, KERNEL).
type RegionType int

const (
	TypeText RegionType = iota
	TypeData
	TypeShmem
	TypeStack
	TypeKernel
)

// RegionFlag carries the region flag enum (spec §3: PRIVATE xor SHARED,
// USER, STICKY, NORESERVE, VDSO). FlagPrivate and FlagShared are mutually
// exclusive; callers set exactly one.
type RegionFlag uint32

const (
	FlagPrivate RegionFlag = 1 << iota
	FlagShared
	FlagUser
	FlagSticky
	// FlagNoReserve skips accounting this region's pages against
	// AddressSpace.Config.MaxAnonPages (semantics supplemented from
	// original_source/memregion.c, which spec.md's flag enum names but does
	// not spell out).
	FlagNoReserve
	FlagVDSO
)

// Region is one mapped span of a task's address space (spec §4.4 "Region
// list"): start/size define the span, Backing/FileOffset/FileLen name the
// file and byte window it maps (nil Backing means anonymous), and refCount
// counts the address spaces mapping a region after a fork: Dup gives the
// child its own Region copy and carries the parent's raised count into it.
// Regions within one AddressSpace are kept non-overlapping and
// sorted by Start via the intrusive prev/next pointers.
type Region struct {
	Start, Size int64
	Prot        Prot
	Type        RegionType
	Flags       RegionFlag

	Backing    pcache.FileBacking
	FileOffset int64
	FileLen    int64

	// ShmID is the SysV segment id this region is attached to when Type is
	// TypeShmem (spec §4.4 "Shared memory": "a SHMEM region carries an
	// association with a SysV segment id"); zero for every other region.
	ShmID int

	refCount int32

	prev, next *Region
}

func (r *Region) End() int64 { return r.Start + r.Size }

func (r *Region) overlaps(start, end int64) bool {
	return start < r.End() && end > r.Start
}

// Device satisfies pcache's raw-device-resolution needs when a region is
// backed by a file; anonymous regions (Backing nil) resolve through
// AddressSpace's own anonDevice slice instead, so this is only meaningful
// when Backing is set.
func (r *Region) Device() uint64 {
	if r.Backing == nil {
		return 0
	}
	return r.Backing.Device()
}
