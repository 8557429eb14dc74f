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

// Package shm implements the SysV shared-memory bridge into the
// memory-region layer (spec §4.4 "Shared memory"): shmget/shmat/shmdt/shmctl
// against a fixed-size segment table, indexed two ways: by key for shmget's
// lookup, and by a segment id assigned from a counter (held in a map) for
// access from a syscall-supplied id.
package shm

import (
	"sync"

	"github.com/laylaos/kernelcore/clock"
	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/mm"
)

// Well-known key requesting a private (never looked-up-by-key) segment.
const KeyPrivate = 0

// shmget flags (mirrors the SysV IPC_CREAT/IPC_EXCL convention).
const (
	FlagCreate    = 1 << 9
	FlagExclusive = 1 << 10
)

// shmat flags.
const (
	AtReadOnly = 1 << iota
	AtRound
	AtExec
)

// MaxSegments bounds the segment table, mirroring IPC_SHM_MAX_QUEUES.
const MaxSegments = 4096

// MaxSegmentSize bounds a single shmget request.
const MaxSegmentSize = 1 << 30

// Perm carries a segment's SysV permission block: creator/current
// uid/gid and a mode whose low 9 bits are rwxrwxrwx and whose SHM_DEST bit
// records a pending IPC_RMID.
type Perm struct {
	CreatorUID, CreatorGID uint32
	UID, GID               uint32
	Mode                   uint32
}

const modeDest = 1 << 15 // SHM_DEST: IPC_RMID has been requested

// Segment is one SysV shared-memory segment. Its content lives entirely in
// the page cache, reached through the anonBacking-style device each
// attaching AddressSpace already owns - the segment record itself only
// tracks bookkeeping (size, permissions, attach count, timestamps), which is
// all the original kernel's ipc_shm queue table holds once the frame array
// indirection is replaced by pcache's own key space.
type Segment struct {
	id      int
	key     int64
	size    int64
	perm    Perm
	nattach int
	cpid    int
	lpid    int
	atime, dtime, ctime int64
}

func (s *Segment) ID() int      { return s.id }
func (s *Segment) Size() int64  { return s.size }
func (s *Segment) Perm() Perm   { return s.perm }
func (s *Segment) NAttach() int { return s.nattach }

// permission bits, matching ipc_has_perm's read/write distinction.
const (
	permRead  = 1
	permWrite = 2
)

func (s *Segment) hasPerm(uid, gid uint32, priv bool, want int) bool {
	if priv || uid == 0 {
		return true
	}
	mode := s.perm.Mode
	var bits uint32
	switch {
	case uid == s.perm.UID || uid == s.perm.CreatorUID:
		bits = (mode >> 6) & 07
	case gid == s.perm.GID || gid == s.perm.CreatorGID:
		bits = (mode >> 3) & 07
	default:
		bits = mode & 07
	}
	if want == permRead {
		return bits&04 != 0
	}
	return bits&02 != 0
}

// Registry is the kernel-wide SysV shared-memory segment table (spec's
// ipc_shm array). A zero Registry is not usable; call New.
type Registry struct {
	mu      sync.Mutex
	clk     clock.Clock
	byID    map[int]*Segment
	byKey   map[int64]*Segment
	nextID  int
}

func New(clk clock.Clock) *Registry {
	return &Registry{
		clk:   clk,
		byID:  make(map[int]*Segment),
		byKey: make(map[int64]*Segment),
	}
}

// Requester identifies the calling task for permission checks and
// bookkeeping (ipc_shm's cur_task euid/egid/pid).
type Requester struct {
	UID, GID   uint32
	Privileged bool
	PID        int
}

// Get implements shmget(2) (spec's syscall_shmget): looks a segment up by
// key, or creates one when key is KeyPrivate or no entry exists and
// FlagCreate is set. Returns the segment id to pass to Attach/Detach/Ctl.
func (reg *Registry) Get(key int64, size int64, flags int, req Requester) (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if key != KeyPrivate {
		if seg, ok := reg.byKey[key]; ok {
			if flags&(FlagCreate|FlagExclusive) == FlagCreate|FlagExclusive {
				return 0, errno.EEXIST
			}
			if !seg.hasPerm(req.UID, req.GID, req.Privileged, permRead) {
				return 0, errno.EACCES
			}
			return seg.id, nil
		}
	}

	if key != KeyPrivate && flags&FlagCreate == 0 {
		return 0, errno.ENOENT
	}

	if len(reg.byID) >= MaxSegments {
		return 0, errno.ENOSPC
	}
	if size <= 0 || size > MaxSegmentSize {
		return 0, errno.EINVAL
	}

	reg.nextID++
	id := reg.nextID
	now := reg.clk.Now().Unix()
	seg := &Segment{
		id:   id,
		key:  key,
		size: size,
		perm: Perm{
			CreatorUID: req.UID, UID: req.UID,
			CreatorGID: req.GID, GID: req.GID,
			Mode: uint32(flags) & 0777,
		},
		cpid:  req.PID,
		ctime: now,
	}
	reg.byID[id] = seg
	if key != KeyPrivate {
		reg.byKey[key] = seg
	}
	return id, nil
}

// lookup finds a live segment by id, mirroring SHMQ(index)'s
// queue-id-mismatch-means-removed check.
func (reg *Registry) lookup(id int) (*Segment, error) {
	seg, ok := reg.byID[id]
	if !ok {
		return nil, errno.EIDRM
	}
	return seg, nil
}

// Attach implements shmat(2) (spec's syscall_shmat + memregion_alloc_and_attach
// with MEMREGION_TYPE_SHMEM/MEMREGION_FLAG_SHARED): validates permission,
// bumps the attach count, and installs a SHMEM region in the caller's
// address space spanning [addr, addr+size). The caller resolves addr
// (NULL-shmaddr address selection is the caller's mmap-layout concern, not
// this package's); Attach only validates page alignment when addr != 0.
func (reg *Registry) Attach(as *mm.AddressSpace, id int, addr int64, flags int, req Requester) (*mm.Region, error) {
	reg.mu.Lock()
	seg, err := reg.lookup(id)
	if err != nil {
		reg.mu.Unlock()
		return nil, err
	}

	want := permWrite
	if flags&AtReadOnly != 0 {
		want = permRead
	}
	if !seg.hasPerm(req.UID, req.GID, req.Privileged, want) {
		reg.mu.Unlock()
		return nil, errno.EACCES
	}

	seg.nattach++
	size := seg.size
	reg.mu.Unlock()

	prot := mm.ProtRead
	if flags&AtExec != 0 {
		prot |= mm.ProtExec
	}
	if flags&AtReadOnly == 0 {
		prot |= mm.ProtWrite
	}

	region, err := as.AllocAndAttach(addr, addr+size, prot, mm.TypeShmem,
		mm.FlagShared|mm.FlagSticky, nil, 0, 0, false)
	if err != nil {
		reg.mu.Lock()
		seg.nattach--
		reg.mu.Unlock()
		return nil, err
	}
	region.ShmID = seg.id

	reg.mu.Lock()
	seg.lpid = req.PID
	seg.atime = reg.clk.Now().Unix()
	reg.mu.Unlock()

	return region, nil
}

// Detach implements shmdt(2) (spec's syscall_shmdt, walking memregion_detach
// into shmdt_internal): detaches the region from the caller's address space
// and decrements the segment's attach count, destroying the segment if it
// was IPC_RMID-marked and this was the last attachment.
func (reg *Registry) Detach(as *mm.AddressSpace, region *mm.Region) error {
	if region.Type != mm.TypeShmem || region.ShmID == 0 {
		return errno.EINVAL
	}

	if err := as.ChangeProtOrDetach(region.Start, region.End(), 0, true); err != nil {
		return err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	seg, ok := reg.byID[region.ShmID]
	if !ok {
		return nil // already destroyed by a concurrent IPC_RMID + last-detach
	}
	seg.nattach--
	seg.dtime = reg.clk.Now().Unix()
	if seg.nattach <= 0 && seg.perm.Mode&modeDest != 0 {
		reg.destroyLocked(seg)
	}
	return nil
}

// Reattach re-registers every SHMEM region already present in as (a forked
// child's address space, copied share-for-share by mm.AddressSpace.Dup) with
// its SysV segment's attach count (spec §4.4 "Fork": "re-register
// shared-memory attachments with their SysV segment"). Regions whose segment
// has since been destroyed are left alone - detaching them is the exiting
// task's own cleanup, not fork's job.
func (reg *Registry) Reattach(as *mm.AddressSpace) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, r := range as.ShmRegions() {
		if seg, ok := reg.byID[r.ShmID]; ok {
			seg.nattach++
		}
	}
}

// Ctl implements shmctl(2)'s IPC_STAT/IPC_SET/IPC_RMID commands (spec's
// syscall_shmctl). IPC_RMID only marks the segment for destruction -
// destruction happens in Detach once the attach count reaches zero, exactly
// as shm_destroy is deferred in the original until shmdt_internal notices.
func (reg *Registry) Ctl(id int, cmd Cmd, req Requester, set *Perm) (*Segment, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	seg, err := reg.lookup(id)
	if err != nil {
		return nil, err
	}

	switch cmd {
	case CmdStat:
		if !seg.hasPerm(req.UID, req.GID, req.Privileged, permRead) {
			return nil, errno.EACCES
		}
		snapshot := *seg
		return &snapshot, nil

	case CmdSet:
		if !req.Privileged && req.UID != seg.perm.UID && req.UID != seg.perm.CreatorUID {
			return nil, errno.EPERM
		}
		if set == nil {
			return nil, errno.EINVAL
		}
		seg.perm.UID = set.UID
		seg.perm.GID = set.GID
		seg.perm.Mode = (seg.perm.Mode &^ 0777) | (set.Mode & 0777)
		seg.ctime = reg.clk.Now().Unix()
		return nil, nil

	case CmdRemove:
		if !req.Privileged && req.UID != seg.perm.UID && req.UID != seg.perm.CreatorUID {
			return nil, errno.EPERM
		}
		seg.perm.Mode |= modeDest
		if seg.nattach <= 0 {
			reg.destroyLocked(seg)
		}
		return nil, nil
	}

	return nil, errno.EINVAL
}

// destroyLocked removes seg from both indices. Must be called with reg.mu
// held. Pages already faulted into any attached address space are reclaimed
// by the page cache's normal eviction path once nothing references them;
// this package only owns the segment's bookkeeping record.
func (reg *Registry) destroyLocked(seg *Segment) {
	delete(reg.byID, seg.id)
	if seg.key != KeyPrivate {
		delete(reg.byKey, seg.key)
	}
}

// Cmd enumerates shmctl's command argument.
type Cmd int

const (
	CmdStat Cmd = iota
	CmdSet
	CmdRemove
)
