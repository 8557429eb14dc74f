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

package memdev

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/vfs"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// FSName is the filesystem type string a fsops.Registry entry for this
// package is keyed by, the way "ext2" or "tmpfs" would be for a real driver.
const FSName = "layla-demo-fs"

// Block/pointer geometry of the invented on-disk layout (spec's memdev
// harness note: "12 direct + indirect pointers honored"). Only a single
// level of indirection is implemented; double/triple indirect slots in
// fsops.Node.Blocks stay zero and a file that outgrows single indirect's
// reach fails with EFBIG rather than silently truncating.
const (
	DirectBlocks     = 12
	PointersPerBlock = BlockSize / 8
)

// BlockSize is the harness's fixed block size.
const BlockSize = 4096

// direntRecord is one entry in a directory's flat, never-compacted entry
// array (spec's memdev harness note: "directories are flat fixed-size
// dirent arrays"); a DirPage's EntryOffset is a stable index into it across
// adds and deletes, mirroring how vfs's own test fixture keeps finddir/
// adddir/deldir's disk-page-plus-offset contract honest.
type direntRecord struct {
	name    string
	inode   uint64
	deleted bool
}

type memInode struct {
	node    fsops.Node
	entries []direntRecord // non-nil only for directories
	symlink string
	freed   bool
}

const rootInode = 1

// FS is "layla-demo-fs": a fsops.FilesystemOps that actually persists file
// content through a Device's block store (via Bmap-assigned block numbers),
// while keeping directory and inode metadata in memory the same way vfs's
// own test fixture does. It exists to drive spec §8's end-to-end scenarios
// against something more real than a pure in-memory stub.
type FS struct {
	mu sync.Mutex

	device uint64
	dev    *Device

	nodes     map[uint64]*memInode
	nextInode uint64

	freeBlocks map[uint64]bool // true: free and reusable
	nextBlock  uint64
	maxBlocks  uint64
}

// NewFS formats dev fresh and returns a FS over it. totalBlocks bounds how
// many BlockSize-sized blocks the filesystem may hand out; block 0 is
// reserved (a disk block number of 0 in a fsops.Node.Blocks entry means
// "unallocated", ext2-style), so usable capacity is totalBlocks-1 blocks.
func NewFS(device uint64, dev *Device, totalBlocks uint64) *FS {
	fs := &FS{
		device:     device,
		dev:        dev,
		nodes:      make(map[uint64]*memInode),
		nextInode:  rootInode + 1,
		freeBlocks: make(map[uint64]bool),
		nextBlock:  1, // block 0 reserved as the "no block" sentinel
		maxBlocks:  totalBlocks,
	}
	fs.nodes[rootInode] = &memInode{
		node:    fsops.Node{Device: device, InodeNum: rootInode, Mode: vfs.ModeDir | 0755, Nlink: 2},
		entries: []direntRecord{},
	}
	return fs
}

// Constructor adapts NewFS to fsops.Constructor for registration in a
// fsops.Registry; dev is closed over since the harness's device is built and
// owned by whatever sets up the demo (cmd/laylaosd or a test), not parsed
// out of opts the way a real mount(2) option string would be.
func Constructor(dev *Device, totalBlocks uint64) fsops.Constructor {
	return func(ctx context.Context, device uint64, opts string) (fsops.FilesystemOps, error) {
		return NewFS(device, dev, totalBlocks), nil
	}
}

func (fs *FS) ReadInode(ctx context.Context, n *fsops.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[n.InodeNum]
	if !ok || in.freed {
		return errno.ENOENT
	}
	*n = in.node
	return nil
}

func (fs *FS) WriteInode(ctx context.Context, n *fsops.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[n.InodeNum]
	if !ok {
		return errno.ENOENT
	}
	in.node = *n
	return nil
}

func (fs *FS) AllocInode(ctx context.Context, parent *fsops.Node, mode uint32) (*fsops.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := fs.nextInode
	fs.nextInode++
	in := &memInode{node: fsops.Node{Device: fs.device, InodeNum: id, Mode: mode, Nlink: 1}}
	if mode&vfs.ModeDir != 0 {
		in.node.Nlink = 2
		in.entries = []direntRecord{}
	}
	fs.nodes[id] = in
	cp := in.node
	return &cp, nil
}

// FreeInode releases every block the inode holds (direct and single
// indirect) before dropping its metadata, so the harness's block store
// doesn't leak capacity across repeated create/unlink cycles in long-running
// demo sessions.
func (fs *FS) FreeInode(ctx context.Context, n *fsops.Node) error {
	fs.mu.Lock()
	in, ok := fs.nodes[n.InodeNum]
	if !ok {
		fs.mu.Unlock()
		return nil
	}
	in.freed = true
	node := in.node
	delete(fs.nodes, n.InodeNum)
	fs.mu.Unlock()

	for i := 0; i < DirectBlocks; i++ {
		if b := node.Blocks[i]; b != 0 {
			fs.freeBlock(b)
		}
	}
	if ind := node.Blocks[DirectBlocks]; ind != 0 {
		ptrs := make([]byte, BlockSize)
		if err := fs.readBlock(ctx, ind, ptrs); err == nil {
			for i := 0; i < PointersPerBlock; i++ {
				if b := binary.LittleEndian.Uint64(ptrs[i*8 : i*8+8]); b != 0 {
					fs.freeBlock(b)
				}
			}
		}
		fs.freeBlock(ind)
	}
	return nil
}

// Bmap translates a file-relative logical block to a physical device block,
// allocating or freeing it per flag (spec §4.2's bmap entry). Only direct
// and single-indirect slots are honored; a logicalBlock past single
// indirect's reach fails EFBIG rather than silently wrapping.
func (fs *FS) Bmap(ctx context.Context, n *fsops.Node, logicalBlock uint64, blockSize int, flag fsops.BmapFlag) (uint64, error) {
	fs.mu.Lock()
	in, ok := fs.nodes[n.InodeNum]
	fs.mu.Unlock()
	if !ok {
		return 0, errno.ENOENT
	}

	if logicalBlock < DirectBlocks {
		return fs.bmapDirect(ctx, in, logicalBlock, flag)
	}
	idx := logicalBlock - DirectBlocks
	if idx >= PointersPerBlock {
		return 0, errno.EFBIG
	}
	return fs.bmapIndirect(ctx, in, idx, flag)
}

func (fs *FS) bmapDirect(ctx context.Context, in *memInode, logicalBlock uint64, flag fsops.BmapFlag) (uint64, error) {
	fs.mu.Lock()
	phys := in.node.Blocks[logicalBlock]
	fs.mu.Unlock()

	if phys == 0 {
		if flag != fsops.BmapCreate {
			return 0, errno.ENOENT
		}
		nb, err := fs.allocBlock()
		if err != nil {
			return 0, err
		}
		fs.mu.Lock()
		in.node.Blocks[logicalBlock] = nb
		fs.mu.Unlock()
		return nb, nil
	}
	if flag == fsops.BmapFree {
		fs.freeBlock(phys)
		fs.mu.Lock()
		in.node.Blocks[logicalBlock] = 0
		fs.mu.Unlock()
		return 0, nil
	}
	return phys, nil
}

func (fs *FS) bmapIndirect(ctx context.Context, in *memInode, idx uint64, flag fsops.BmapFlag) (uint64, error) {
	fs.mu.Lock()
	indirectBlock := in.node.Blocks[DirectBlocks]
	fs.mu.Unlock()

	if indirectBlock == 0 {
		if flag != fsops.BmapCreate {
			return 0, errno.ENOENT
		}
		nb, err := fs.allocBlock()
		if err != nil {
			return 0, err
		}
		if err := fs.writeBlock(ctx, nb, make([]byte, BlockSize)); err != nil {
			fs.freeBlock(nb)
			return 0, err
		}
		fs.mu.Lock()
		in.node.Blocks[DirectBlocks] = nb
		fs.mu.Unlock()
		indirectBlock = nb
	}

	ptrs := make([]byte, BlockSize)
	if err := fs.readBlock(ctx, indirectBlock, ptrs); err != nil {
		return 0, err
	}
	off := idx * 8
	phys := binary.LittleEndian.Uint64(ptrs[off : off+8])

	switch {
	case phys == 0 && flag == fsops.BmapCreate:
		nb, err := fs.allocBlock()
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint64(ptrs[off:off+8], nb)
		if err := fs.writeBlock(ctx, indirectBlock, ptrs); err != nil {
			fs.freeBlock(nb)
			return 0, err
		}
		return nb, nil
	case phys == 0:
		return 0, errno.ENOENT
	case flag == fsops.BmapFree:
		fs.freeBlock(phys)
		binary.LittleEndian.PutUint64(ptrs[off:off+8], 0)
		if err := fs.writeBlock(ctx, indirectBlock, ptrs); err != nil {
			return 0, err
		}
		return 0, nil
	default:
		return phys, nil
	}
}

func (fs *FS) readBlock(ctx context.Context, blockNum uint64, buf []byte) error {
	_, err := fs.dev.Strategy(ctx, &driver.Request{
		Device: fs.device, Offset: int64(blockNum) * BlockSize, Length: len(buf),
		Direction: driver.Read, Buf: buf,
	})
	return err
}

func (fs *FS) writeBlock(ctx context.Context, blockNum uint64, buf []byte) error {
	_, err := fs.dev.Strategy(ctx, &driver.Request{
		Device: fs.device, Offset: int64(blockNum) * BlockSize, Length: len(buf),
		Direction: driver.Write, Buf: buf,
	})
	return err
}

func (fs *FS) allocBlock() (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for b, free := range fs.freeBlocks {
		if free {
			fs.freeBlocks[b] = false
			return b, nil
		}
	}
	if fs.nextBlock >= fs.maxBlocks {
		return 0, errno.ENOSPC
	}
	b := fs.nextBlock
	fs.nextBlock++
	fs.freeBlocks[b] = false
	return b, nil
}

func (fs *FS) freeBlock(b uint64) {
	fs.mu.Lock()
	fs.freeBlocks[b] = true
	fs.mu.Unlock()
}

func (fs *FS) ReadSymlink(ctx context.Context, n *fsops.Node) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[n.InodeNum]
	if !ok {
		return "", errno.ENOENT
	}
	return in.symlink, nil
}

func (fs *FS) WriteSymlink(ctx context.Context, n *fsops.Node, target string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[n.InodeNum]
	if !ok {
		return errno.ENOENT
	}
	in.symlink = target
	return nil
}

func (fs *FS) FindDir(ctx context.Context, dir *fsops.Node, name string) (fsops.Dirent, fsops.DirPage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[dir.InodeNum]
	if !ok || in.entries == nil {
		return fsops.Dirent{}, fsops.DirPage{}, errno.ENOTDIR
	}
	for i, e := range in.entries {
		if !e.deleted && e.name == name {
			return fsops.Dirent{Name: e.name, InodeNum: e.inode}, fsops.DirPage{EntryOffset: i}, nil
		}
	}
	return fsops.Dirent{}, fsops.DirPage{}, errno.ENOENT
}

func (fs *FS) FindDirByInode(ctx context.Context, dir *fsops.Node, inodeNum uint64) (fsops.Dirent, fsops.DirPage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[dir.InodeNum]
	if !ok || in.entries == nil {
		return fsops.Dirent{}, fsops.DirPage{}, errno.ENOTDIR
	}
	for i, e := range in.entries {
		if !e.deleted && e.inode == inodeNum {
			return fsops.Dirent{Name: e.name, InodeNum: e.inode}, fsops.DirPage{EntryOffset: i}, nil
		}
	}
	return fsops.Dirent{}, fsops.DirPage{}, errno.ENOENT
}

func (fs *FS) AddDir(ctx context.Context, dir *fsops.Node, child *fsops.Node, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[dir.InodeNum]
	if !ok || in.entries == nil {
		return errno.ENOTDIR
	}
	for _, e := range in.entries {
		if !e.deleted && e.name == name {
			return errno.EEXIST
		}
	}
	in.entries = append(in.entries, direntRecord{name: name, inode: child.InodeNum})
	return nil
}

func (fs *FS) DelDir(ctx context.Context, dir *fsops.Node, entry fsops.DirPage, isLastDirLink bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[dir.InodeNum]
	if !ok || in.entries == nil || entry.EntryOffset < 0 || entry.EntryOffset >= len(in.entries) {
		return errno.ENOENT
	}
	in.entries[entry.EntryOffset].deleted = true
	return nil
}

func (fs *FS) Mkdir(ctx context.Context, dir *fsops.Node, parent *fsops.Node) error {
	return nil
}

func (fs *FS) DirEmpty(ctx context.Context, dir *fsops.Node) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[dir.InodeNum]
	if !ok || in.entries == nil {
		return false, errno.ENOTDIR
	}
	for _, e := range in.entries {
		if !e.deleted {
			return false, nil
		}
	}
	return true, nil
}

func (fs *FS) GetDents(ctx context.Context, dir *fsops.Node, pos int64, n int) ([]fsops.Dirent, int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in, ok := fs.nodes[dir.InodeNum]
	if !ok || in.entries == nil {
		return nil, 0, errno.ENOTDIR
	}
	var out []fsops.Dirent
	i := int(pos)
	for ; i < len(in.entries) && len(out) < n; i++ {
		if !in.entries[i].deleted {
			out = append(out, fsops.Dirent{Name: in.entries[i].name, InodeNum: in.entries[i].inode})
		}
	}
	return out, int64(i), nil
}

func (fs *FS) Mount(ctx context.Context, device uint64, opts string) error { return nil }
func (fs *FS) Umount(ctx context.Context) error                           { return nil }

func (fs *FS) ReadSuper(ctx context.Context) (*fsops.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := fs.nodes[rootInode].node
	return &cp, nil
}

func (fs *FS) WriteSuper(ctx context.Context) error { return nil }
func (fs *FS) PutSuper(ctx context.Context) error   { return nil }

func (fs *FS) Ustat(ctx context.Context) (fsops.Statfs, error) {
	return fs.Statfs(ctx)
}

func (fs *FS) Statfs(ctx context.Context) (fsops.Statfs, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	free := fs.maxBlocks - fs.nextBlock
	for _, isFree := range fs.freeBlocks {
		if isFree {
			free++
		}
	}
	return fsops.Statfs{
		BlockSize:      BlockSize,
		TotalBlocks:    fs.maxBlocks,
		FreeBlocks:     free,
		TotalInodes:    fs.nextInode - 1,
		FreeInodes:     0,
		MaxFilenameLen: 255,
	}, nil
}
