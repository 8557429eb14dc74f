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

// Package vfs is the virtual filesystem core (spec §4.2, §4.3): the incore
// inode table, the mount graph, path resolution, the generic read/write/link/
// unlink/mkdir/rmdir/rename operations built on top of pcache, and the
// per-inode I/O dispatch table. Concrete filesystems plug in through
// vfs/fsops.FilesystemOps; concrete devices through the driver package.
package vfs

import (
	"context"
	"sync"
	"time"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/pcache"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// Mode bits, the subset the VFS itself inspects (filesystem drivers are free
// to carry the rest in fsops.Node.Mode untouched).
const (
	ModeDir     = 1 << 14
	ModeRegular = 1 << 13
	ModeSymlink = 1 << 12
	ModeFIFO    = 1 << 11
	ModeSocket  = 1 << 10
	ModeDevice  = 1 << 9
)

// Inode is the incore inode: the VFS's cached view of an on-disk (or
// synthetic) file, shared across every open file description that refers to
// it (spec §3 "incore inode").
type Inode struct {
	device   uint64
	inodeNum uint64

	mu sync.Mutex // guards the fields below; also the "recursive lock" pcache probes

	Mode       uint32
	UID, GID   uint32
	size       int64
	Nlink      uint32
	Blocks     [15]uint64
	AccessTime time.Time
	ModTime    time.Time
	ChangeTime time.Time

	Mount   *Mount
	Ops     fsops.FilesystemOps
	Devices pcache.DeviceResolver

	refCount int32
	dirty    bool

	lockOwner uint64
	lockDepth int

	Private any
}

func (n *Inode) Device() uint64   { return n.device }
func (n *Inode) InodeNum() uint64 { return n.inodeNum }
func (n *Inode) IsDir() bool      { return n.Mode&ModeDir != 0 }
func (n *Inode) IsRegular() bool  { return n.Mode&ModeRegular != 0 }
func (n *Inode) IsSymlink() bool  { return n.Mode&ModeSymlink != 0 }

func (n *Inode) BlockSize() int {
	if n.Mount == nil || n.Devices == nil {
		return pcache.PageSize
	}
	return n.Devices.BlockSize(n.device)
}

func (n *Inode) Size() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

func (n *Inode) setSize(s int64) {
	n.mu.Lock()
	n.size = s
	n.mu.Unlock()
}

func (n *Inode) Writable() bool {
	return n.Mount != nil && !n.Mount.ReadOnly
}

// Lock acquires the inode's lock, recursively for the same task id recorded
// in ctx (spec §4.1 "Recursive-lock avoidance": the writeback path must be
// able to detect, not deadlock against, a caller that already holds this
// inode locked).
func (n *Inode) Lock(ctx context.Context) {
	task := pcache.TaskFromContext(ctx)
	n.mu.Lock()
	n.lockOwner = task
	n.lockDepth++
	n.mu.Unlock()
}

func (n *Inode) Unlock() {
	n.mu.Lock()
	n.lockDepth--
	if n.lockDepth == 0 {
		n.lockOwner = 0
	}
	n.mu.Unlock()
}

// LockedByCaller implements pcache.FileBacking: does ctx's task already hold
// this inode locked? Used by pcache.SyncCachedPage to return EAGAIN instead
// of deadlocking when writeback is driven by the same task that is also
// holding the inode (e.g. a write(2) that dirtied the page it's now trying to
// flush synchronously).
func (n *Inode) LockedByCaller(ctx context.Context) bool {
	task := pcache.TaskFromContext(ctx)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lockDepth > 0 && n.lockOwner == task
}

// Bmap translates a logical block number to a disk block number through the
// owning filesystem, implementing pcache.FileBacking.
func (n *Inode) Bmap(ctx context.Context, logicalBlock uint64, flag fsops.BmapFlag) (uint64, error) {
	node := n.toFsopsNode()
	db, err := n.Ops.Bmap(ctx, node, logicalBlock, n.BlockSize(), flag)
	if err != nil {
		return 0, err
	}
	if flag == fsops.BmapCreate {
		n.fromFsopsNode(node)
	}
	return db, nil
}

func (n *Inode) toFsopsNode() *fsops.Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return &fsops.Node{
		Device:     n.device,
		InodeNum:   n.inodeNum,
		Mode:       n.Mode,
		UID:        n.UID,
		GID:        n.GID,
		Size:       n.size,
		Nlink:      n.Nlink,
		Blocks:     n.Blocks,
		AccessTime: n.AccessTime.UnixNano(),
		ModTime:    n.ModTime.UnixNano(),
		ChangeTime: n.ChangeTime.UnixNano(),
		Private:    n.Private,
	}
}

func (n *Inode) fromFsopsNode(fn *fsops.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Mode = fn.Mode
	n.UID = fn.UID
	n.GID = fn.GID
	n.size = fn.Size
	n.Nlink = fn.Nlink
	n.Blocks = fn.Blocks
	n.Private = fn.Private
	n.dirty = true
}

// key identifies an inode within the table.
type inodeKey struct {
	device   uint64
	inodeNum uint64
}

// InodeTable is the process-wide incore inode cache (spec §4.2 "inode
// table"). It hands out *Inode pointers ref-counted across every open file
// description and directory entry that names them.
type InodeTable struct {
	mu      sync.Mutex
	entries map[inodeKey]*Inode
}

func NewInodeTable() *InodeTable {
	return &InodeTable{entries: make(map[inodeKey]*Inode)}
}

// GetNode returns the incore inode for (device, inodeNum), reading it from
// the owning filesystem on first reference and bumping its refcount on every
// call (spec §4.2 "GetNode"). Callers must pair every GetNode with a
// ReleaseNode.
func (t *InodeTable) GetNode(ctx context.Context, mnt *Mount, inodeNum uint64, devices pcache.DeviceResolver) (*Inode, error) {
	key := inodeKey{device: mnt.Device, inodeNum: inodeNum}

	t.mu.Lock()
	if n, ok := t.entries[key]; ok {
		n.refCount++
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	node := &fsops.Node{Device: mnt.Device, InodeNum: inodeNum}
	if err := mnt.Ops.ReadInode(ctx, node); err != nil {
		return nil, err
	}

	in := &Inode{
		device:     mnt.Device,
		inodeNum:   inodeNum,
		Mode:       node.Mode,
		UID:        node.UID,
		GID:        node.GID,
		size:       node.Size,
		Nlink:      node.Nlink,
		Blocks:     node.Blocks,
		AccessTime: time.Unix(0, node.AccessTime),
		ModTime:    time.Unix(0, node.ModTime),
		ChangeTime: time.Unix(0, node.ChangeTime),
		Mount:      mnt,
		Ops:        mnt.Ops,
		Devices:    devices,
		refCount:   1,
		Private:    node.Private,
	}

	t.mu.Lock()
	if existing, ok := t.entries[key]; ok {
		// Lost the race with a concurrent GetNode; use the winner's entry.
		existing.refCount++
		t.mu.Unlock()
		return existing, nil
	}
	t.entries[key] = in
	t.mu.Unlock()
	return in, nil
}

// ReleaseNode drops one reference. At zero references its page-cache pages
// are dropped through RemoveCachedNodePages (which keeps dirty ones), then an
// inode with Nlink==0 is freed through the filesystem and any other dirty
// inode is written back (spec §4.2 "ReleaseNode").
func (t *InodeTable) ReleaseNode(ctx context.Context, n *Inode, cache *pcache.Cache) error {
	key := inodeKey{device: n.device, inodeNum: n.inodeNum}

	t.mu.Lock()
	n.refCount--
	if n.refCount > 0 {
		t.mu.Unlock()
		return nil
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if cache != nil {
		cache.RemoveCachedNodePages(ctx, n)
	}

	n.mu.Lock()
	nlink := n.Nlink
	dirty := n.dirty
	n.mu.Unlock()

	if nlink == 0 {
		return n.Ops.FreeInode(ctx, n.toFsopsNode())
	}
	if dirty {
		return n.Ops.WriteInode(ctx, n.toFsopsNode())
	}
	return nil
}

// checkAccess is a minimal POSIX permission check: owner/group/other bits
// against the requested rwx mask. root (uid 0) always passes.
func checkAccess(n *Inode, uid, gid uint32, want uint32) error {
	if uid == 0 {
		return nil
	}
	var shift uint32
	switch {
	case n.UID == uid:
		shift = 6
	case n.GID == gid:
		shift = 3
	default:
		shift = 0
	}
	if (n.Mode>>shift)&want != want {
		return errno.EACCES
	}
	return nil
}
