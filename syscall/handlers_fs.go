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

package syscall

import (
	"context"

	"golang.org/x/sys/unix"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/signal"
	"github.com/laylaos/kernelcore/task"
	"github.com/laylaos/kernelcore/vfs"
)

const maxPathArg = vfs.MaxPathLen

func init() {
	register(uintptr(unix.SYS_OPEN), sysOpen)
	register(uintptr(unix.SYS_CLOSE), sysClose)
	register(uintptr(unix.SYS_READ), sysRead)
	register(uintptr(unix.SYS_WRITE), sysWrite)
	register(uintptr(unix.SYS_LSEEK), sysLseek)
	register(uintptr(unix.SYS_LINK), sysLink)
	register(uintptr(unix.SYS_UNLINK), sysUnlink)
	register(uintptr(unix.SYS_MKDIR), sysMkdir)
	register(uintptr(unix.SYS_RMDIR), sysRmdir)
	register(uintptr(unix.SYS_RENAME), sysRename)
}

// sysOpen implements open(2): args[0] is the path pointer, args[1] the
// OpenFlag bits, args[2] the creation mode. The returned fd is installed in
// the calling task's own file table (spec §4.2 "Open").
func sysOpen(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	path, ferr := mem.CopyInString(t, args[0], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	lc, ps, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}

	f, oerr := k.VFS.Open(ctx, lc, path, vfs.OpenFlag(args[1]), uint32(args[2]), k.Drivers)
	if oerr != nil {
		return errno.From(oerr).Negated()
	}

	fd, ierr := ps.files.Install(f, 0)
	if ierr != nil {
		return errno.From(ierr).Negated()
	}
	return int64(fd)
}

func sysClose(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	_, ps, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}
	f, cerr := ps.files.Close(int(args[0]))
	if cerr != nil {
		return errno.From(cerr).Negated()
	}
	if f != nil {
		if rerr := k.VFS.Inodes.ReleaseNode(ctx, f.Inode, k.VFS.Cache); rerr != nil {
			return errno.From(rerr).Negated()
		}
	}
	return 0
}

func sysRead(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	_, ps, lerr := k.lookupContext(t)
	if lerr != 0 {
		return lerr.Negated()
	}
	f, err := ps.files.Get(int(args[0]))
	if err != nil {
		return errno.From(err).Negated()
	}
	buf := make([]byte, int(args[2]))
	n, rerr := f.IO.Read(ctx, f, buf)
	if rerr != nil {
		return errno.From(rerr).Negated()
	}
	if werr := mem.CopyOut(t, args[1], buf[:n]); werr != 0 {
		return werr.Negated()
	}
	return int64(n)
}

func sysWrite(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	_, ps, lerr := k.lookupContext(t)
	if lerr != 0 {
		return lerr.Negated()
	}
	f, err := ps.files.Get(int(args[0]))
	if err != nil {
		return errno.From(err).Negated()
	}
	buf, ferr := mem.CopyIn(t, args[1], int(args[2]))
	if ferr != 0 {
		return ferr.Negated()
	}
	n, werr := f.IO.Write(ctx, f, buf)
	if werr != nil {
		if werr == errno.EFBIG {
			// spec §7 "User-visible failure": a write past RLIMIT_FSIZE
			// posts SIGXFSZ in addition to returning EFBIG.
			_ = signal.Post(t.SignalTarget(k.Scheduler), signal.Sender{Privileged: true},
				signal.SIGXFSZ, signal.Info{}, true)
		}
		return errno.From(werr).Negated()
	}
	return int64(n)
}

// sysLseek implements lseek(2)'s SEEK_SET/SEEK_CUR/SEEK_END, args[1] the
// offset, args[2] the whence value (0/1/2).
func sysLseek(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	_, ps, lerr := k.lookupContext(t)
	if lerr != 0 {
		return lerr.Negated()
	}
	f, err := ps.files.Get(int(args[0]))
	if err != nil {
		return errno.From(err).Negated()
	}
	offset := int64(args[1])
	switch args[2] {
	case 0: // SEEK_SET
	case 1: // SEEK_CUR
		offset += f.Offset()
	case 2: // SEEK_END
		offset += f.Inode.Size()
	default:
		return errno.EINVAL.Negated()
	}
	if offset < 0 {
		return errno.EINVAL.Negated()
	}
	f.SetOffset(offset)
	return offset
}

func sysLink(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	oldPath, ferr := mem.CopyInString(t, args[0], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	newPath, ferr := mem.CopyInString(t, args[1], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	lc, _, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}
	existing, lerr := k.VFS.Lookup(ctx, lc, oldPath, true)
	if lerr != nil {
		return errno.From(lerr).Negated()
	}
	newDir, newName, _, perr := k.VFS.GetParentDir(ctx, lc, newPath)
	if perr != nil {
		return errno.From(perr).Negated()
	}
	if lerr := k.VFS.Link(ctx, existing, newDir, newName); lerr != nil {
		return errno.From(lerr).Negated()
	}
	return 0
}

func sysUnlink(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	path, ferr := mem.CopyInString(t, args[0], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	lc, _, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}
	dir, name, _, perr := k.VFS.GetParentDir(ctx, lc, path)
	if perr != nil {
		return errno.From(perr).Negated()
	}
	if uerr := k.VFS.Unlink(ctx, lc, dir, name); uerr != nil {
		return errno.From(uerr).Negated()
	}
	return 0
}

func sysMkdir(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	path, ferr := mem.CopyInString(t, args[0], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	lc, _, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}
	dir, name, _, perr := k.VFS.GetParentDir(ctx, lc, path)
	if perr != nil {
		return errno.From(perr).Negated()
	}
	if merr := k.VFS.Mkdir(ctx, dir, name, uint32(args[1])); merr != nil {
		return errno.From(merr).Negated()
	}
	return 0
}

func sysRmdir(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	path, ferr := mem.CopyInString(t, args[0], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	lc, _, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}
	dir, name, _, perr := k.VFS.GetParentDir(ctx, lc, path)
	if perr != nil {
		return errno.From(perr).Negated()
	}
	if rerr := k.VFS.Rmdir(ctx, lc, dir, name); rerr != nil {
		return errno.From(rerr).Negated()
	}
	return 0
}

func sysRename(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	oldPath, ferr := mem.CopyInString(t, args[0], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	newPath, ferr := mem.CopyInString(t, args[1], maxPathArg)
	if ferr != 0 {
		return ferr.Negated()
	}
	lc, _, err := k.lookupContext(t)
	if err != 0 {
		return err.Negated()
	}
	oldDir, oldName, _, perr := k.VFS.GetParentDir(ctx, lc, oldPath)
	if perr != nil {
		return errno.From(perr).Negated()
	}
	newDir, newName, _, perr := k.VFS.GetParentDir(ctx, lc, newPath)
	if perr != nil {
		return errno.From(perr).Negated()
	}
	if rerr := k.VFS.Rename(ctx, lc, oldDir, oldName, newDir, newName); rerr != nil {
		return errno.From(rerr).Negated()
	}
	return 0
}
