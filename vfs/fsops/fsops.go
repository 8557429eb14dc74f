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

// Package fsops defines the fixed vtable every filesystem driver supplies to
// the VFS (spec §4.2's table). Concrete filesystems (ext2, iso9660, tmpfs)
// are external collaborators (spec §1); this package only names the contract
// and a construction registry, the same role gcsfuse's gcs.Bucket interface
// plays between the FUSE layer and a concrete bucket implementation.
package fsops

import "context"

// BmapFlag controls whether Bmap is allowed to allocate or free the disk
// block it is translating (spec §4.2 table entry for "bmap").
type BmapFlag int

const (
	BmapNone BmapFlag = iota
	BmapCreate
	BmapFree
)

// Node is the minimal view of an incore inode a filesystem driver needs: it
// never reaches back into vfs.Inode directly (that would invert the
// dependency), it only sees the fields it owns.
type Node struct {
	Device     uint64
	InodeNum   uint64
	Mode       uint32
	UID, GID   uint32
	Size       int64
	Nlink      uint32
	Blocks     [15]uint64 // 12 direct + 1/2/3 indirect, ext2 convention
	AccessTime int64
	ModTime    int64
	ChangeTime int64
	Private    any // filesystem-specific extra state
}

// Dirent is one directory entry as returned by FindDir/GetDents.
type Dirent struct {
	Name     string
	InodeNum uint64
	Type     uint8
}

// DirPage is a reference to the on-disk page holding a directory entry plus
// the entry's intra-page byte offset, as required by spec's "finddir...
// return a dirent, a reference to the disk page holding it, and the
// intra-page offset" so that callers (addir/deldir) can mutate in place.
type DirPage struct {
	PageOffset  int64
	EntryOffset int
}

// FilesystemOps is the fixed set of operations every filesystem supplies
// (spec §4.2 table, verbatim). Read-only filesystems return a permission
// error from the mutating entries; the VFS treats that as a first-class
// outcome, not a defect.
type FilesystemOps interface {
	ReadInode(ctx context.Context, n *Node) error
	WriteInode(ctx context.Context, n *Node) error
	AllocInode(ctx context.Context, parent *Node, mode uint32) (*Node, error)
	FreeInode(ctx context.Context, n *Node) error

	Bmap(ctx context.Context, n *Node, logicalBlock uint64, blockSize int, flag BmapFlag) (diskBlock uint64, err error)

	ReadSymlink(ctx context.Context, n *Node) (string, error)
	WriteSymlink(ctx context.Context, n *Node, target string) error

	FindDir(ctx context.Context, dir *Node, name string) (Dirent, DirPage, error)
	FindDirByInode(ctx context.Context, dir *Node, inodeNum uint64) (Dirent, DirPage, error)
	AddDir(ctx context.Context, dir *Node, child *Node, name string) error
	DelDir(ctx context.Context, dir *Node, entry DirPage, isLastDirLink bool) error
	Mkdir(ctx context.Context, dir *Node, parent *Node) error
	DirEmpty(ctx context.Context, dir *Node) (bool, error)
	GetDents(ctx context.Context, dir *Node, pos int64, n int) (entries []Dirent, next int64, err error)

	Mount(ctx context.Context, device uint64, opts string) error
	Umount(ctx context.Context) error
	ReadSuper(ctx context.Context) (root *Node, err error)
	WriteSuper(ctx context.Context) error
	PutSuper(ctx context.Context) error

	Ustat(ctx context.Context) (Statfs, error)
	Statfs(ctx context.Context) (Statfs, error)
}

// Statfs mirrors the counters returned by statfs(2)/ustat(2).
type Statfs struct {
	BlockSize       int64
	TotalBlocks     uint64
	FreeBlocks      uint64
	TotalInodes     uint64
	FreeInodes      uint64
	MaxFilenameLen  int
}

// Constructor builds a FilesystemOps for a given device, used by a Registry
// entry when vfs.Mount resolves a filesystem type name.
type Constructor func(ctx context.Context, device uint64, opts string) (FilesystemOps, error)

// Registry maps filesystem type names ("ext2", "tmpfs", "iso9660", ...) to
// constructors, the way a real kernel's file_system_type list works and the
// way gcsfuse's bucket construction is parameterized by config.
type Registry struct {
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[name] = ctor
}

func (r *Registry) Lookup(name string) (Constructor, bool) {
	c, ok := r.ctors[name]
	return c, ok
}
