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
	"sync"

	"github.com/google/uuid"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// Mount is one entry in the mount graph: a filesystem instance grafted onto
// a directory of its parent (spec §4.2 "VfsMount"). ID is a random uuid
// assigned at mount time; page-cache entries and laylaosctl output do not
// refer to it.
type Mount struct {
	ID       uuid.UUID
	Device   uint64
	Ops      fsops.FilesystemOps
	ReadOnly bool

	// MountPoint is the inode this filesystem is grafted onto, nil for the
	// root mount.
	MountPoint *Inode
	Root       *Inode
	Parent     *Mount
}

// MountTable is the process-wide mount graph.
type MountTable struct {
	mu     sync.Mutex
	mounts map[uint64]*Mount // keyed by the mount point inode's (device,inode) hash; the root mount is held in root, not here
	root   *Mount
}

func NewMountTable() *MountTable {
	return &MountTable{mounts: make(map[uint64]*Mount)}
}

func mountKey(mp *Inode) uint64 {
	if mp == nil {
		return 0
	}
	return mp.device<<32 ^ mp.inodeNum
}

// VfsMount mounts a filesystem instance at mountPoint (nil for the root
// mount, which must be called exactly once before any other mount).
func (t *MountTable) VfsMount(ctx context.Context, device uint64, opts string, ops fsops.FilesystemOps, readOnly bool, mountPoint *Inode, tbl *InodeTable) (*Mount, error) {
	if err := ops.Mount(ctx, device, opts); err != nil {
		return nil, err
	}
	rootNode, err := ops.ReadSuper(ctx)
	if err != nil {
		return nil, err
	}

	mnt := &Mount{
		ID:         uuid.New(),
		Device:     device,
		Ops:        ops,
		ReadOnly:   readOnly,
		MountPoint: mountPoint,
	}

	root := &Inode{
		device:   device,
		inodeNum: rootNode.InodeNum,
		Mode:     rootNode.Mode,
		UID:      rootNode.UID,
		GID:      rootNode.GID,
		size:     rootNode.Size,
		Nlink:    rootNode.Nlink,
		Blocks:   rootNode.Blocks,
		Mount:    mnt,
		Ops:      ops,
		refCount: 1,
		Private:  rootNode.Private,
	}
	mnt.Root = root

	t.mu.Lock()
	defer t.mu.Unlock()
	if mountPoint == nil {
		if t.root != nil {
			return nil, errno.EBUSY
		}
		t.root = mnt
		return mnt, nil
	}
	key := mountKey(mountPoint)
	if _, exists := t.mounts[key]; exists {
		return nil, errno.EBUSY
	}
	mnt.Parent = t.mountAt(mountPoint)
	t.mounts[key] = mnt
	return mnt, nil
}

// mountAt returns the mount that directly owns dir, used to find a child
// mount's logical parent. Must be called with t.mu held.
func (t *MountTable) mountAt(dir *Inode) *Mount {
	if dir != nil && dir.Mount != nil {
		return dir.Mount
	}
	return t.root
}

// LookupMount returns the mount grafted onto mountPoint, if any. Path
// resolution uses this to cross a mount boundary when the walk lands on a
// directory that is itself a mount point (spec §4.2 "crossing a mount").
func (t *MountTable) LookupMount(mountPoint *Inode) (*Mount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.mounts[mountKey(mountPoint)]
	return m, ok
}

// RootMount returns the root mount, or nil if VfsMount has never been called
// with a nil mountPoint.
func (t *MountTable) RootMount() *Mount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// VfsUmount detaches mnt, provided its root inode's refcount is exactly 1
// (i.e. nothing below it is still referenced) and it has no mounts grafted
// onto it in turn.
func (t *MountTable) VfsUmount(ctx context.Context, mnt *Mount) error {
	t.mu.Lock()
	for _, child := range t.mounts {
		if child.Parent == mnt {
			t.mu.Unlock()
			return errno.EBUSY
		}
	}
	t.mu.Unlock()

	mnt.Root.mu.Lock()
	refs := mnt.Root.refCount
	mnt.Root.mu.Unlock()
	if refs > 1 {
		return errno.EBUSY
	}

	if err := mnt.Ops.WriteSuper(ctx); err != nil {
		return err
	}
	if err := mnt.Ops.PutSuper(ctx); err != nil {
		return err
	}
	if err := mnt.Ops.Umount(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if mnt == t.root {
		t.root = nil
		return nil
	}
	delete(t.mounts, mountKey(mnt.MountPoint))
	return nil
}
