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

// Package syscall is the dispatcher that wires vfs/mm/task/signal/ipc-shm
// together behind the POSIX-shaped surface spec §6 describes (user trap →
// dispatch by number → vfs/task/shm operation → maybe block → maybe signal
// trampoline on return to user mode). It is deliberately thin: every
// handler's real work already lives in the package that owns that
// subsystem; this package only resolves fds to *vfs.OpenFile, uid/gid to a
// vfs.LookupContext, and routes by syscall number, mirroring how gcsfuse's
// fuseutil.FileSystem methods are themselves thin dispatch onto fs.Server's
// own inode/handle tables.
package syscall

import (
	"context"
	"sync"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/ipc/shm"
	"github.com/laylaos/kernelcore/mm"
	"github.com/laylaos/kernelcore/task"
	"github.com/laylaos/kernelcore/vfs"
)

// procState is the syscall layer's own process table entry: the vfs-facing
// state (root, cwd, open-file table) that task.Task deliberately does not
// carry, since task must not import vfs (spec §1's layering: task only
// knows a narrow Files interface). Keyed by the owning *task.Task.
type procState struct {
	root, cwd *vfs.Inode
	files     *vfs.FileTable
}

// Kernel bundles the tables every syscall handler needs: the VFS server,
// the device driver registry, the scheduler, the SysV shared-memory
// registry, and the syscall-layer's own process table. One Kernel is shared
// kernel-wide, the same role gcsfuse's fs.Server plays for every FUSE op.
type Kernel struct {
	VFS       *vfs.Server
	Drivers   *driver.Registry
	Scheduler *task.Scheduler
	Shm       *shm.Registry
	// Init is the task exiting children are reparented to (spec §4.5
	// "exit"); nil until the boot sequence spawns and assigns it.
	Init *task.Task

	mu    sync.Mutex
	procs map[*task.Task]*procState
}

func NewKernel(v *vfs.Server, drivers *driver.Registry, sched *task.Scheduler, shmReg *shm.Registry) *Kernel {
	return &Kernel{
		VFS:       v,
		Drivers:   drivers,
		Scheduler: sched,
		Shm:       shmReg,
		procs:     make(map[*task.Task]*procState),
	}
}

// fileTableAdapter satisfies task.Files by wrapping the concrete
// *vfs.FileTable the syscall layer keeps per task; task.Task.Fork calls
// Dup()/CloseOnExec() through this interface without task ever importing
// vfs directly.
type fileTableAdapter struct{ ft *vfs.FileTable }

func (a fileTableAdapter) Dup() task.Files { return fileTableAdapter{a.ft.Dup()} }
func (a fileTableAdapter) CloseOnExec()    { a.ft.CloseOnExec() }

// Spawn creates a fresh task plus its syscall-layer process state (an empty
// file table, the given root/cwd), registers it with the scheduler, and
// sets the task's Shm to the kernel's registry (a nil k.Shm means this
// kernel instance never touches ipc/shm, matching task.Task.Shm's own
// nil-means-unused convention).
func (k *Kernel) Spawn(id task.Identity, vm *mm.AddressSpace, root, cwd *vfs.Inode) *task.Task {
	ft := vfs.NewFileTable()
	t := task.New(id, vm, fileTableAdapter{ft})
	t.Shm = k.Shm
	k.mu.Lock()
	k.procs[t] = &procState{root: root, cwd: cwd, files: ft}
	k.mu.Unlock()
	k.Scheduler.Enqueue(t)
	return t
}

// Fork implements the fork(2) half that task.Task.Fork doesn't know about:
// registering the child's procState (its duplicated file table, inherited
// root/cwd) alongside the scheduler-visible task.Task.Fork already builds.
func (k *Kernel) Fork(parent *task.Task, childPID int) *task.Task {
	child := parent.Fork(childPID)

	k.mu.Lock()
	ps := k.procs[parent]
	k.mu.Unlock()

	childPS := &procState{}
	if ps != nil {
		childPS.root, childPS.cwd = ps.root, ps.cwd
	}
	if adapter, ok := child.Files.(fileTableAdapter); ok {
		childPS.files = adapter.ft
	}

	k.mu.Lock()
	k.procs[child] = childPS
	k.mu.Unlock()

	k.Scheduler.Enqueue(child)
	return child
}

func (k *Kernel) procOf(t *task.Task) *procState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.procs[t]
}

// lookupContext builds the vfs.LookupContext a handler needs from a task's
// POSIX identity and the syscall layer's own root/cwd bookkeeping.
func (k *Kernel) lookupContext(t *task.Task) (*vfs.LookupContext, *procState, errno.Errno) {
	ps := k.procOf(t)
	if ps == nil {
		return nil, nil, errno.ESRCH
	}
	return &vfs.LookupContext{
		UID: t.Identity.EUID, GID: t.Identity.EGID,
		Root: ps.root, Cwd: ps.cwd,
	}, ps, 0
}

// handlerFunc is one syscall's implementation: resolve arguments out of
// args/mem, perform the operation, and return a result (>=0) or a negated
// errno, exactly as spec §6 describes the handler contract.
type handlerFunc func(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64

// table is populated by init() from each handlers_*.go file, keyed by the
// real Linux syscall number (golang.org/x/sys/unix's SYS_* constants) so
// the numbers themselves need no invention.
var table = map[uintptr]handlerFunc{}

func register(nr uintptr, h handlerFunc) {
	if _, exists := table[nr]; exists {
		panic("syscall: duplicate handler registration")
	}
	table[nr] = h
}

// Dispatch routes nr to its registered handler (spec §6 "the dispatcher
// receives a packed register frame and routes by syscall number"). An
// unknown number returns -ENOSYS, matching the real kernel's behavior for a
// syscall table gap.
func (k *Kernel) Dispatch(ctx context.Context, t *task.Task, mem *UserMemory, nr uintptr, args [6]uintptr) int64 {
	h, ok := table[nr]
	if !ok {
		return errno.ENOSYS.Negated()
	}
	return h(k, ctx, t, mem, args)
}
