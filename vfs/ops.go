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
	"github.com/laylaos/kernelcore/pcache"
)

// fsizeLimitKey threads RLIMIT_FSIZE through context, since vfs doesn't
// import task. Posting SIGXFSZ with signal.Post is the caller's job once
// genericWrite reports EFBIG; vfs only enforces the byte ceiling.
type fsizeLimitKeyType struct{}

var fsizeLimitKey = fsizeLimitKeyType{}

func ContextWithFSizeLimit(ctx context.Context, limit int64) context.Context {
	return context.WithValue(ctx, fsizeLimitKey, limit)
}

func fsizeLimitFromContext(ctx context.Context) int64 {
	v, _ := ctx.Value(fsizeLimitKey).(int64)
	if v == 0 {
		return -1 // unset means unlimited
	}
	return v
}

// Open resolves path, optionally creating it (O_CREAT), and returns a fresh
// OpenFile with its IO dispatch table assigned by node kind (spec §4.2
// "Open", §4.3 "I/O dispatch").
func (s *Server) Open(ctx context.Context, lc *LookupContext, path string, flags OpenFlag, mode uint32, registry *driver.Registry) (*OpenFile, error) {
	dir, last, trailingSlash, err := s.GetParentDir(ctx, lc, path)
	if err != nil {
		return nil, err
	}

	symlinks := 0
	node, err := s.stepComponent(ctx, lc, dir, last, &symlinks)
	switch {
	case err == errno.ENOENT && flags&OCreat != 0:
		fn, cerr := dir.Ops.AllocInode(ctx, dir.toFsopsNode(), mode|ModeRegular)
		if cerr != nil {
			return nil, cerr
		}
		if aerr := dir.Ops.AddDir(ctx, dir.toFsopsNode(), fn, last); aerr != nil {
			return nil, aerr
		}
		node, err = s.Inodes.GetNode(ctx, dir.Mount, fn.InodeNum, s.Devices)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case flags&OCreat != 0 && flags&OExcl != 0:
		return nil, errno.EEXIST
	}

	if trailingSlash && !node.IsDir() {
		return nil, errno.ENOTDIR
	}
	if node.IsDir() && flags.writable() {
		return nil, errno.EISDIR
	}
	if flags.writable() {
		if !node.Writable() {
			return nil, errno.EROFS
		}
		if err := checkAccess(node, lc.UID, lc.GID, 2); err != nil {
			return nil, err
		}
	} else {
		if err := checkAccess(node, lc.UID, lc.GID, 4); err != nil {
			return nil, err
		}
	}

	if flags&OTrunc != 0 && flags.writable() && node.IsRegular() {
		node.setSize(0)
		s.Cache.RemoveCachedNodePages(ctx, node)
	}

	f := &OpenFile{Inode: node, Flags: flags}
	f.IO = s.dispatchFor(flags, node, registry)
	return f, nil
}

// genericRead satisfies a regular-file read through the page cache, one page
// at a time, returning fewer bytes than requested only at EOF (spec §4.2
// "generic read").
func (s *Server) genericRead(ctx context.Context, n *Inode, offset int64, buf []byte) (int, error) {
	size := n.Size()
	if offset >= size {
		return 0, nil
	}
	if int64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}

	total := 0
	for total < len(buf) {
		pageOff := (offset + int64(total)) &^ (pcache.PageSize - 1)
		inPage := int((offset + int64(total)) - pageOff)

		e, err := s.Cache.GetCachedPage(ctx, n.Device(), n, pageOff, 0)
		if err != nil {
			return total, err
		}
		written := copy(buf[total:], e.Frame.Data[inPage:])
		s.Cache.ReleaseCachedPage(e)
		total += written
		if written == 0 {
			break
		}
	}
	return total, nil
}

// genericWrite satisfies a regular-file write through the page cache,
// extending the file and allocating blocks via AutoAlloc as needed, enforcing
// the RLIMIT_FSIZE ceiling from ctx (spec §4.2: writes past it return EFBIG,
// the caller posts SIGXFSZ).
func (s *Server) genericWrite(ctx context.Context, n *Inode, offset int64, buf []byte) (int, error) {
	limit := fsizeLimitFromContext(ctx)
	if limit >= 0 && offset >= limit {
		return 0, errno.EFBIG
	}
	if limit >= 0 && offset+int64(len(buf)) > limit {
		buf = buf[:limit-offset]
	}
	if !n.Writable() {
		return 0, errno.EROFS
	}

	total := 0
	for total < len(buf) {
		pos := offset + int64(total)
		pageOff := pos &^ (pcache.PageSize - 1)
		inPage := int(pos - pageOff)

		e, err := s.Cache.GetCachedPage(ctx, n.Device(), n, pageOff, pcache.AutoAlloc)
		if err != nil {
			return total, err
		}
		written := copy(e.Frame.Data[inPage:], buf[total:])
		s.Cache.MarkDirty(e)
		s.Cache.ReleaseCachedPage(e)
		total += written
		if written == 0 {
			break
		}
	}

	if offset+int64(total) > n.Size() {
		n.setSize(offset + int64(total))
		n.mu.Lock()
		n.dirty = true
		n.mu.Unlock()
	}
	return total, nil
}

// Link creates a new directory entry newName under newDir pointing at the
// same inode as existing (spec §4.2 "Link").
func (s *Server) Link(ctx context.Context, existing *Inode, newDir *Inode, newName string) error {
	if existing.IsDir() {
		return errno.EPERM
	}
	if existing.device != newDir.device {
		return errno.EXDEV
	}
	if err := newDir.Ops.AddDir(ctx, newDir.toFsopsNode(), existing.toFsopsNode(), newName); err != nil {
		return err
	}
	existing.mu.Lock()
	existing.Nlink++
	existing.dirty = true
	existing.mu.Unlock()
	return nil
}

// Unlink removes name from dir. If the target's link count drops to zero and
// nothing else references it, ReleaseNode frees it (spec §4.2 "Unlink").
func (s *Server) Unlink(ctx context.Context, lc *LookupContext, dir *Inode, name string) error {
	symlinks := 0
	target, err := s.stepComponent(ctx, lc, dir, name, &symlinks)
	if err != nil {
		return err
	}
	if target.IsDir() {
		return errno.EISDIR
	}
	_, entry, err := dir.Ops.FindDir(ctx, dir.toFsopsNode(), name)
	if err != nil {
		return err
	}
	if err := dir.Ops.DelDir(ctx, dir.toFsopsNode(), entry, false); err != nil {
		return err
	}
	target.mu.Lock()
	if target.Nlink > 0 {
		target.Nlink--
	}
	target.dirty = true
	target.mu.Unlock()
	return s.Inodes.ReleaseNode(ctx, target, s.Cache)
}

// Mkdir creates a new directory named name under dir (spec §4.2 "Mkdir").
func (s *Server) Mkdir(ctx context.Context, dir *Inode, name string, mode uint32) error {
	if err := checkAccess(dir, 0, 0, 2); err != nil {
		return err
	}
	child, err := dir.Ops.AllocInode(ctx, dir.toFsopsNode(), mode|ModeDir)
	if err != nil {
		return err
	}
	if err := dir.Ops.AddDir(ctx, dir.toFsopsNode(), child, name); err != nil {
		return err
	}
	return dir.Ops.Mkdir(ctx, child, dir.toFsopsNode())
}

// Rmdir removes the empty directory name under dir (spec §4.2 "Rmdir").
func (s *Server) Rmdir(ctx context.Context, lc *LookupContext, dir *Inode, name string) error {
	if name == "." || name == ".." {
		return errno.EINVAL
	}
	symlinks := 0
	target, err := s.stepComponent(ctx, lc, dir, name, &symlinks)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return errno.ENOTDIR
	}
	empty, err := target.Ops.DirEmpty(ctx, target.toFsopsNode())
	if err != nil {
		return err
	}
	if !empty {
		return errno.ENOTEMPTY
	}
	_, entry, err := dir.Ops.FindDir(ctx, dir.toFsopsNode(), name)
	if err != nil {
		return err
	}
	if err := dir.Ops.DelDir(ctx, dir.toFsopsNode(), entry, true); err != nil {
		return err
	}
	target.mu.Lock()
	target.Nlink = 0
	target.mu.Unlock()
	return s.Inodes.ReleaseNode(ctx, target, s.Cache)
}

// Rename moves oldName under oldDir to newName under newDir (spec §4.2
// "Rename"). Cross-device renames are rejected with EXDEV, matching the
// generic kernel contract; a caller wanting copy-then-delete semantics
// implements that at the syscall layer.
func (s *Server) Rename(ctx context.Context, lc *LookupContext, oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	if oldDir.device != newDir.device {
		return errno.EXDEV
	}
	symlinks := 0
	target, err := s.stepComponent(ctx, lc, oldDir, oldName, &symlinks)
	if err != nil {
		return err
	}

	if existing, _, err := newDir.Ops.FindDir(ctx, newDir.toFsopsNode(), newName); err == nil {
		if existing.InodeNum == target.inodeNum {
			return nil
		}
		return errno.EEXIST
	}

	if err := newDir.Ops.AddDir(ctx, newDir.toFsopsNode(), target.toFsopsNode(), newName); err != nil {
		return err
	}
	_, entry, err := oldDir.Ops.FindDir(ctx, oldDir.toFsopsNode(), oldName)
	if err != nil {
		return err
	}
	return oldDir.Ops.DelDir(ctx, oldDir.toFsopsNode(), entry, false)
}
