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
	"sync"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/signal"
	"github.com/laylaos/kernelcore/task"
)

// UserMemory is a simulated flat user address space: spec §1 scopes real
// MMU/page-table glue out, so a task's "user pointers" are just offsets
// into a byte slice here. CopyInString/CopyOut are the copy-to/from-user
// helpers spec §6 names; any out-of-range offset is treated exactly like a
// real bad user pointer (spec §7 "User-visible failure": converted into
// SIGSEGV/SEGV_MAPERR against the task, syscall returns EFAULT).
type UserMemory struct {
	mu  sync.Mutex
	buf []byte
}

func NewUserMemory(size int) *UserMemory {
	return &UserMemory{buf: make([]byte, size)}
}

// faultAt posts SIGSEGV/SEGV_MAPERR to t for a bad access at addr, mirroring
// the original kernel's page-fault-on-bad-user-pointer path, and returns
// EFAULT for the handler to hand back to the caller.
func faultAt(t *task.Task, addr uintptr) errno.Errno {
	_ = signal.Post(t.SignalTarget(nil), signal.Sender{Privileged: true}, signal.SIGSEGV,
		signal.Info{Code: signal.CodeSegvMapErr, Addr: addr}, true)
	return errno.EFAULT
}

// CopyInString reads a NUL-terminated string starting at addr, up to
// maxLen bytes (not counting the terminator).
func (m *UserMemory) CopyInString(t *task.Task, addr uintptr, maxLen int) (string, errno.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int(addr)
	if off < 0 || off > len(m.buf) {
		return "", faultAt(t, addr)
	}
	end := off
	for end < len(m.buf) && end-off < maxLen && m.buf[end] != 0 {
		end++
	}
	if end-off >= maxLen {
		return "", errno.ENAMETOOLONG
	}
	if end >= len(m.buf) {
		return "", faultAt(t, addr)
	}
	return string(m.buf[off:end]), 0
}

// CopyIn reads n raw bytes starting at addr.
func (m *UserMemory) CopyIn(t *task.Task, addr uintptr, n int) ([]byte, errno.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int(addr)
	if off < 0 || n < 0 || off+n > len(m.buf) {
		return nil, faultAt(t, addr)
	}
	out := make([]byte, n)
	copy(out, m.buf[off:off+n])
	return out, 0
}

// CopyOut writes data starting at addr.
func (m *UserMemory) CopyOut(t *task.Task, addr uintptr, data []byte) errno.Errno {
	m.mu.Lock()
	defer m.mu.Unlock()

	off := int(addr)
	if off < 0 || off+len(data) > len(m.buf) {
		return faultAt(t, addr)
	}
	copy(m.buf[off:], data)
	return 0
}

// WriteString places s plus a NUL terminator at addr, a convenience for
// tests and for handlers that hand a path back to user space (getcwd-style
// syscalls).
func (m *UserMemory) WriteString(t *task.Task, addr uintptr, s string) errno.Errno {
	return m.CopyOut(t, addr, append([]byte(s), 0))
}
