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
	"strings"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/pcache"
)

// MaxSymlinks bounds symlink recursion during path resolution (spec §4.2
// "MAXSYMLINKS=40"); exceeding it is ELOOP, not a stack overflow.
const MaxSymlinks = 40

// MaxPathLen bounds a single resolved path (spec §4.2 "ENAMETOOLONG").
const MaxPathLen = 4096

// LookupContext carries the caller identity and starting points path
// resolution needs, without vfs depending on the task package (neither
// imports the other; the syscall layer builds this from a task's state).
type LookupContext struct {
	UID, GID uint32
	Root     *Inode
	Cwd      *Inode
}

// Server bundles the tables every vfs entry point needs.
type Server struct {
	Inodes  *InodeTable
	Mounts  *MountTable
	Cache   *pcache.Cache
	Devices pcache.DeviceResolver
}

// GetParentDir resolves every component of path except the last, returning
// the directory inode it lives (or would live) in, the final component name,
// and whether the original path had a trailing slash (which forces
// directory-only semantics on the caller, spec §4.2). It follows symlinks
// encountered on intermediate components up to MaxSymlinks times and never
// calls into the backing filesystem for "." or ".." once a mount boundary
// has been crossed, matching the original kernel's vfs.c path walk.
func (s *Server) GetParentDir(ctx context.Context, lc *LookupContext, path string) (*Inode, string, bool, error) {
	if len(path) == 0 {
		return nil, "", false, errno.ENOENT
	}
	if len(path) > MaxPathLen {
		return nil, "", false, errno.ENAMETOOLONG
	}

	trailingSlash := strings.HasSuffix(path, "/") && path != "/"

	dir := lc.Cwd
	if strings.HasPrefix(path, "/") {
		dir = lc.Root
	}
	if dir == nil {
		dir = lc.Root
	}

	parts := splitPath(path)
	if len(parts) == 0 {
		return dir, ".", false, nil
	}

	symlinks := 0
	for i := 0; i < len(parts)-1; i++ {
		name := parts[i]
		next, err := s.stepComponent(ctx, lc, dir, name, &symlinks)
		if err != nil {
			return nil, "", false, err
		}
		if !next.IsDir() {
			return nil, "", false, errno.ENOTDIR
		}
		dir = next
	}

	return dir, parts[len(parts)-1], trailingSlash, nil
}

// stepComponent advances dir by one path component, resolving "." and ".."
// without a filesystem round trip and following a symlink result up to
// MaxSymlinks times.
func (s *Server) stepComponent(ctx context.Context, lc *LookupContext, dir *Inode, name string, symlinks *int) (*Inode, error) {
	if err := checkAccess(dir, lc.UID, lc.GID, 1 /* execute */); err != nil {
		return nil, err
	}

	if name == "." {
		return dir, nil
	}
	if name == ".." {
		if dir == lc.Root {
			return dir, nil
		}
		if dir.Mount != nil && dir == dir.Mount.Root && dir.Mount.MountPoint != nil {
			// Crossed back out of a child mount: ".." means the mount
			// point's own parent, resolved in the parent mount, never by
			// calling finddir against this mount's backing fs.
			return s.stepComponent(ctx, lc, dir.Mount.MountPoint, "..", symlinks)
		}
	}

	dirent, _, err := dir.Ops.FindDir(ctx, dir.toFsopsNode(), name)
	if err != nil {
		return nil, err
	}

	child, err := s.Inodes.GetNode(ctx, dir.Mount, dirent.InodeNum, s.Devices)
	if err != nil {
		return nil, err
	}

	if mnt, ok := s.Mounts.LookupMount(child); ok {
		child = mnt.Root
	}

	if child.IsSymlink() {
		*symlinks++
		if *symlinks > MaxSymlinks {
			return nil, errno.ELOOP
		}
		target, err := child.Ops.ReadSymlink(ctx, child.toFsopsNode())
		if err != nil {
			return nil, err
		}
		base := dir
		if strings.HasPrefix(target, "/") {
			base = lc.Root
		}
		targetDir, last, _, err := s.GetParentDir(ctx, &LookupContext{UID: lc.UID, GID: lc.GID, Root: lc.Root, Cwd: base}, target)
		if err != nil {
			return nil, err
		}
		return s.stepComponent(ctx, lc, targetDir, last, symlinks)
	}

	return child, nil
}

// Lookup fully resolves path to its inode, following a trailing symlink only
// when followLastSymlink is true (stat(2) vs lstat(2)).
func (s *Server) Lookup(ctx context.Context, lc *LookupContext, path string, followLastSymlink bool) (*Inode, error) {
	dir, last, _, err := s.GetParentDir(ctx, lc, path)
	if err != nil {
		return nil, err
	}
	if last == "." {
		return dir, nil
	}
	symlinks := 0
	target, err := s.stepComponent(ctx, lc, dir, last, &symlinks)
	if err != nil {
		return nil, err
	}
	if followLastSymlink && target.IsSymlink() {
		linkTarget, err := target.Ops.ReadSymlink(ctx, target.toFsopsNode())
		if err != nil {
			return nil, err
		}
		base := dir
		if strings.HasPrefix(linkTarget, "/") {
			base = lc.Root
		}
		return s.Lookup(ctx, &LookupContext{UID: lc.UID, GID: lc.GID, Root: lc.Root, Cwd: base}, linkTarget, followLastSymlink)
	}
	return target, nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
