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
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/laylaos/kernelcore/task"
)

func init() {
	register(uintptr(unix.SYS_FORK), sysFork)
	register(uintptr(unix.SYS_EXIT), sysExit)
	register(uintptr(unix.SYS_EXIT_GROUP), sysExit)
}

// pidCounter is the syscall layer's pid allocator (task.Task.Fork
// deliberately leaves pid allocation to its caller; this is that caller).
var pidCounter int64 = 1

func (k *Kernel) nextPID() int {
	return int(atomic.AddInt64(&pidCounter, 1))
}

// sysFork implements fork(2) (spec §4.5 "fork"): allocate a pid, duplicate
// the address space/file table/signal state through task.Task.Fork, carry
// the syscall layer's own root/cwd bookkeeping across via Kernel.Fork, and
// enqueue the child on the scheduler. Returns the child's pid to the parent,
// 0 to the child - but since both run as the same simulated goroutine stack
// here, callers drive that distinction themselves; Dispatch only returns
// the value the parent's "return" sees.
func sysFork(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	child := k.Fork(t, k.nextPID())
	return int64(child.Identity.PID)
}

// sysExit implements exit(2)/exit_group(2) (spec §4.5 "exit"): reparent the
// task's children to init, record the exit status, and move it onto the
// scheduler's zombie list for the parent's next wait* to reap.
func sysExit(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	t.Exit(int(int32(args[0])), k.Init)
	k.Scheduler.Zombify(t)
	return 0
}
