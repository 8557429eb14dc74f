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

package mm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/pcache"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// Config bounds an address space's accounting.
type Config struct {
	MaxAnonPages int64
}

func DefaultConfig() Config {
	return Config{MaxAnonPages: 1 << 20}
}

// AddressSpace is one task's view of memory: a sorted, non-overlapping list
// of Regions plus the page cache handle used to fault pages in (spec §4.4).
type AddressSpace struct {
	mu head

	// anonDevice gives this address space its own slice of the page cache's
	// key space for anonymous pages and private (COW) copies, so two
	// unrelated tasks mapping the same virtual address never collide on the
	// same cache entry. Real devices are numbered from 1 up by memdev's
	// registry, so the anonymous range starts high enough to never be
	// mistaken for one.
	anonDevice uint64

	cache     *pcache.Cache
	cfg       Config
	anonPages int64
}

// head holds the intrusive doubly-linked region list, kept sorted by Start.
type head struct {
	sync.Mutex
	first *Region
}

var nextAnonDevice uint64 = 1 << 32

func NewAddressSpace(cache *pcache.Cache, cfg Config) *AddressSpace {
	dev := atomic.AddUint64(&nextAnonDevice, 1)
	return &AddressSpace{cache: cache, cfg: cfg, anonDevice: dev}
}

// AllocAndAttach inserts a new region spanning [start, end) (spec §4.4
// "Allocate-and-attach"). If the range overlaps an existing region, it is
// rejected with EINVAL unless removeOverlaps is set (the MAP_FIXED case), in
// which case overlapping regions are split/detached exactly as
// ChangeProtOrDetach would, preserving each survivor's (fileOffset, fileLen)
// window, before the new region is inserted.
func (as *AddressSpace) AllocAndAttach(start, end int64, prot Prot, typ RegionType, flags RegionFlag, backing pcache.FileBacking, fileOffset, fileLen int64, removeOverlaps bool) (*Region, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	hasOverlap := false
	for r := as.mu.first; r != nil; r = r.next {
		if r.overlaps(start, end) {
			hasOverlap = true
			break
		}
	}
	if hasOverlap {
		if !removeOverlaps {
			return nil, errno.EINVAL
		}
		as.detachRange(start, end)
	}

	size := end - start
	if typ != TypeShmem && backing == nil && flags&FlagNoReserve == 0 {
		if as.anonPages+size/pcache.PageSize > as.cfg.MaxAnonPages {
			return nil, errno.ENOMEM
		}
		as.anonPages += size / pcache.PageSize
	}

	nr := &Region{
		Start: start, Size: size, Prot: prot, Type: typ, Flags: flags,
		Backing: backing, FileOffset: fileOffset, FileLen: fileLen,
		refCount: 1,
	}
	as.insertSorted(nr)
	return nr, nil
}

func (as *AddressSpace) insertSorted(nr *Region) {
	if as.mu.first == nil || nr.Start < as.mu.first.Start {
		nr.next = as.mu.first
		if as.mu.first != nil {
			as.mu.first.prev = nr
		}
		as.mu.first = nr
		return
	}
	cur := as.mu.first
	for cur.next != nil && cur.next.Start < nr.Start {
		cur = cur.next
	}
	nr.next = cur.next
	nr.prev = cur
	if cur.next != nil {
		cur.next.prev = nr
	}
	cur.next = nr
}

func (as *AddressSpace) unlink(r *Region) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		as.mu.first = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	}
}

// detachRange tears down (part of) every region intersecting [start, end),
// used by AllocAndAttach's MAP_FIXED path. Must be called with as.mu held.
func (as *AddressSpace) detachRange(start, end int64) {
	as.changeRange(start, end, 0, true)
}

// ChangeProtOrDetach applies mprotect/munmap over [start, end) against every
// region it intersects (spec §4.4 "Change protection / detach"): the nine
// cases enumerated by whether start/end fall left of, equal to, or right of
// a region's bounds collapse into four structurally distinct outcomes this
// walk performs per intersecting region: the target range can cover the
// region fully (reprotect/detach whole), cover a prefix or suffix (shrink
// from one side, keep the untouched remainder with its original
// protection), or fall in a strict interior (split into three, reprotect/
// detach the middle). Splitting preserves (FileOffset, FileLen) continuity
// on every surviving piece.
func (as *AddressSpace) ChangeProtOrDetach(start, end int64, newProt Prot, detach bool) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.changeRange(start, end, newProt, detach)
	return nil
}

func (as *AddressSpace) changeRange(start, end int64, newProt Prot, detach bool) {
	r := as.mu.first
	for r != nil {
		next := r.next
		if !r.overlaps(start, end) {
			r = next
			continue
		}

		rStart, rEnd := r.Start, r.End()
		coverStart := start <= rStart
		coverEnd := end >= rEnd

		switch {
		case coverStart && coverEnd:
			// Covers the whole region - reprotect or detach it outright.
			as.detachOrReprotect(r, newProt, detach)

		case coverStart && !coverEnd:
			// Covers a prefix - shrink/reprotect [rStart, end), keep
			// [end, rEnd) untouched.
			as.splitPrefix(r, end, newProt, detach)

		case !coverStart && coverEnd:
			// Covers a suffix - keep [rStart, start) untouched, shrink/
			// reprotect [start, rEnd).
			as.splitSuffix(r, start, newProt, detach)

		default:
			// Strict interior - [rStart,start) and [end,rEnd) are kept
			// as-is, [start,end) is reprotected/detached.
			as.splitInterior(r, start, end, newProt, detach)
		}

		r = next
	}
}

func (as *AddressSpace) detachOrReprotect(r *Region, newProt Prot, detach bool) {
	if detach {
		as.unlink(r)
		if r.Backing == nil && r.Type != TypeShmem && r.Flags&FlagNoReserve == 0 {
			as.anonPages -= r.Size / pcache.PageSize
		}
		return
	}
	r.Prot = newProt
}

// splitPrefix handles a target range covering [r.Start, newStart): the
// covered prefix is reprotected/detached in place (reusing r's object for
// the detach case), and the uncovered remainder [newStart, r.End()) keeps
// its original protection untouched.
func (as *AddressSpace) splitPrefix(r *Region, newStart int64, newProt Prot, detach bool) {
	delta := newStart - r.Start
	if detach {
		if r.Backing == nil && r.Type != TypeShmem && r.Flags&FlagNoReserve == 0 {
			as.anonPages -= delta / pcache.PageSize
		}
		r.Start = newStart
		r.Size -= delta
		r.FileOffset += delta
		if r.Backing != nil {
			r.FileLen -= delta
			if r.FileLen < 0 {
				r.FileLen = 0
			}
		}
		return
	}
	as.splitOff(r, newStart) // r keeps the covered prefix, tail keeps its own prot
	r.Prot = newProt
}

func (as *AddressSpace) splitSuffix(r *Region, newEnd int64, newProt Prot, detach bool) {
	tail := as.splitOff(r, newEnd)
	if detach {
		as.unlink(tail)
		if tail.Backing == nil && tail.Type != TypeShmem && tail.Flags&FlagNoReserve == 0 {
			as.anonPages -= tail.Size / pcache.PageSize
		}
		return
	}
	tail.Prot = newProt
}

func (as *AddressSpace) splitInterior(r *Region, start, end int64, newProt Prot, detach bool) {
	mid := as.splitOff(r, start)
	as.splitOff(mid, end) // tail kept attached, unmodified
	if detach {
		as.unlink(mid)
		if mid.Backing == nil && mid.Type != TypeShmem && mid.Flags&FlagNoReserve == 0 {
			as.anonPages -= mid.Size / pcache.PageSize
		}
		return
	}
	mid.Prot = newProt
}

// splitOff divides r at byte offset at (absolute address), returning the new
// region covering [at, r.End()) and shrinking r to [r.Start, at). Both
// halves stay linked into the list, and the file window splits so each
// survivor's (FileOffset, FileLen) keeps pointing at the right bytes. Must
// be called with as.mu held.
func (as *AddressSpace) splitOff(r *Region, at int64) *Region {
	if at <= r.Start || at >= r.End() {
		return r
	}
	delta := at - r.Start
	tailSize := r.End() - at

	tailFileOffset := r.FileOffset
	tailFileLen := r.FileLen
	if r.Backing != nil {
		tailFileOffset = r.FileOffset + delta
		tailFileLen = r.FileLen - delta
		if tailFileLen < 0 {
			tailFileLen = 0
		}
		if delta < r.FileLen {
			r.FileLen = delta
		}
	}

	r.Size -= tailSize

	tail := &Region{
		Start: at, Size: tailSize, Prot: r.Prot, Type: r.Type, Flags: r.Flags,
		Backing: r.Backing, FileOffset: tailFileOffset, FileLen: tailFileLen,
		ShmID: r.ShmID, refCount: r.refCount,
	}
	tail.next = r.next
	tail.prev = r
	if r.next != nil {
		r.next.prev = tail
	}
	r.next = tail
	return tail
}

// Consolidate merges adjacent regions with identical prot/type/flags and
// contiguous backing windows (spec §4.4 "Consolidation"), undoing
// fragmentation left behind by a sequence of partial munmaps/mprotects.
func (as *AddressSpace) Consolidate() {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := as.mu.first
	for r != nil && r.next != nil {
		n := r.next
		if r.End() == n.Start && r.Prot == n.Prot && r.Type == n.Type && r.Flags == n.Flags &&
			r.Backing == n.Backing && r.ShmID == n.ShmID &&
			(r.Backing == nil || r.FileOffset+r.FileLen == n.FileOffset) {
			r.Size += n.Size
			r.FileLen += n.FileLen
			as.unlink(n)
			continue
		}
		r = r.next
	}
}

// ShmRegions returns every TypeShmem region currently attached, used by
// ipc/shm.Registry.Reattach to re-register a forked child's attachments with
// their SysV segments (spec §4.4 "Fork": "re-register shared-memory
// attachments with their SysV segment").
func (as *AddressSpace) ShmRegions() []*Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	var regions []*Region
	for r := as.mu.first; r != nil; r = r.next {
		if r.Type == TypeShmem && r.ShmID != 0 {
			regions = append(regions, r)
		}
	}
	return regions
}

// Find returns the region containing addr, if any.
func (as *AddressSpace) Find(addr int64) (*Region, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for r := as.mu.first; r != nil; r = r.next {
		if addr >= r.Start && addr < r.End() {
			return r, true
		}
	}
	return nil, false
}

// LoadPage demand-faults the page covering addr within region r (spec §4.4
// "Demand paging"):
//   - anonymous region (Backing nil): a fresh zero-filled frame.
//   - file-backed region: consult the page cache. A SHARED region, or a
//     read fault against a PRIVATE region, shares the cached frame directly.
//     A write fault against a PRIVATE region allocates a private frame
//     scoped to this address space and copies the cached content into it
//     (copy-on-write), so a write never reaches the backing file.
//   - if the region's file window (FileOffset, FileLen) ends before the
//     faulting page ends, the remainder of that private copy is zero-filled;
//     a SHARED mapping's tail-beyond-window is left to the page cache's own
//     end-of-file zero-fill, since redefining per-mapping window boundaries
//     on a frame shared with other mappings would require real PTE-level
//     indirection, which is arch/MMU glue this substrate doesn't model.
func (as *AddressSpace) LoadPage(ctx context.Context, r *Region, addr int64, write bool) (*pcache.Entry, error) {
	pageAddr := addr &^ (pcache.PageSize - 1)

	if r.Backing == nil {
		return as.cache.GetCachedPage(ctx, as.anonDevice, anonBacking{device: as.anonDevice, addr: pageAddr}, pageAddr, pcache.AutoAlloc)
	}

	fileOff := r.FileOffset + (pageAddr - r.Start)
	shared, err := as.cache.GetCachedPage(ctx, r.Backing.Device(), r.Backing, fileOff, pcache.AutoAlloc)
	if err != nil {
		return nil, err
	}

	if r.Flags&FlagShared != 0 || !write {
		if r.Flags&FlagShared != 0 && write {
			as.cache.MarkDirty(shared)
		}
		return shared, nil
	}

	// PRIVATE write fault: allocate this address space's own private copy
	// and release the shared frame - the private copy is never written back.
	private, err := as.cache.GetCachedPage(ctx, as.anonDevice, anonBacking{device: as.anonDevice, addr: pageAddr}, pageAddr, pcache.AutoAlloc)
	if err != nil {
		as.cache.ReleaseCachedPage(shared)
		return nil, err
	}
	copy(private.Frame.Data, shared.Frame.Data)

	windowEnd := r.FileOffset + r.FileLen
	validInPage := windowEnd - fileOff
	if validInPage < int64(len(private.Frame.Data)) {
		if validInPage < 0 {
			validInPage = 0
		}
		for i := validInPage; i < int64(len(private.Frame.Data)); i++ {
			private.Frame.Data[i] = 0
		}
	}

	as.cache.ReleaseCachedPage(shared)
	return private, nil
}

// anonBacking is a pcache.FileBacking for anonymous pages and private
// (COW) copies: Bmap always reports a hole, so fill zero-fills the page
// without ever dereferencing a device driver. Device is the owning
// AddressSpace's private device slice and InodeNum is the faulting address,
// so two address spaces mapping the same virtual address never collide on
// the same cache entry.
type anonBacking struct {
	device uint64
	addr   int64
}

func (a anonBacking) Device() uint64   { return a.device }
func (a anonBacking) InodeNum() uint64 { return uint64(a.addr) }
func (a anonBacking) BlockSize() int   { return pcache.PageSize }
func (a anonBacking) Size() int64      { return a.addr + pcache.PageSize }
func (a anonBacking) Writable() bool   { return true }

func (a anonBacking) LockedByCaller(ctx context.Context) bool { return false }

func (a anonBacking) Bmap(ctx context.Context, logicalBlock uint64, flag fsops.BmapFlag) (uint64, error) {
	return 0, nil
}

// Dup implements fork's address-space duplication (spec §4.4 "Fork"): every
// region descriptor is copied into the child, refcounted share-for-share
// with the parent. Bumping the backing inode's own reference count and
// re-registering SHMEM attachments with their SysV segment are the caller's
// responsibility (task.Fork, ipc/shm) - mm only owns the region list itself.
// PRIVATE regions are COW in the original kernel's PTE sense; here the two
// AddressSpaces instead share the same underlying pcache entries until one
// side takes a write fault, at which point LoadPage allocates that side's
// own private copy - indistinguishable from COW from this layer's point of
// view, since the byte-level durability guarantee is identical. The child
// inherits the parent's anonDevice rather than being given its own, so
// anonymous pages and private copies the parent already faulted in are
// visible to the child with their current content instead of re-zero-filling.
func (as *AddressSpace) Dup() *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := NewAddressSpace(as.cache, as.cfg)
	child.anonDevice = as.anonDevice
	for r := as.mu.first; r != nil; r = r.next {
		r.refCount++
		nr := &Region{
			Start: r.Start, Size: r.Size, Prot: r.Prot, Type: r.Type, Flags: r.Flags,
			Backing: r.Backing, FileOffset: r.FileOffset, FileLen: r.FileLen,
			ShmID: r.ShmID, refCount: r.refCount,
		}
		child.insertSorted(nr)
	}
	child.anonPages = as.anonPages
	return child
}

// DetachAllUser tears down every non-kernel region, as exec(2) does before
// mapping the new image's TEXT/DATA/STACK regions afresh (spec §4.4
// "Exec"). TypeKernel regions (e.g. a VDSO mapping) survive the exec.
func (as *AddressSpace) DetachAllUser() {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := as.mu.first
	for r != nil {
		next := r.next
		if r.Type != TypeKernel {
			as.unlink(r)
			if r.Backing == nil && r.Type != TypeShmem && r.Flags&FlagNoReserve == 0 {
				as.anonPages -= r.Size / pcache.PageSize
			}
		}
		r = next
	}
}
