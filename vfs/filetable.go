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
	"sync"

	"github.com/laylaos/kernelcore/errno"
)

// OpenMax is the per-task open file descriptor ceiling (spec §4.2
// "OPEN_MAX"), mirroring the original kernel's fixed-size fd array. No
// RLIMIT_NOFILE is checked; Install returns EMFILE once every slot is in use.
const OpenMax = 1024

// OpenFlag mirrors the subset of POSIX open(2) flags the VFS itself
// interprets; filesystem-specific flags pass through opaquely.
type OpenFlag uint32

const (
	ORdOnly OpenFlag = 0
	OWrOnly OpenFlag = 1
	ORdWr   OpenFlag = 2
	OAppend OpenFlag = 1 << 10
	OCreat  OpenFlag = 1 << 11
	OTrunc  OpenFlag = 1 << 12
	OExcl   OpenFlag = 1 << 13
	ODirect OpenFlag = 1 << 14
	OPath   OpenFlag = 1 << 15
)

func (f OpenFlag) writable() bool {
	acc := f & 0x3
	return acc == OWrOnly || acc == ORdWr
}

// OpenFile is an open file description: the kernel object shared by every
// fd that was dup'd from the same open(2) call (spec §3 "open file
// description" distinct from "file descriptor"). Offset is guarded by mu
// since concurrent read/write on dup'd fds race on it for real.
type OpenFile struct {
	mu     sync.Mutex
	Inode  *Inode
	Flags  OpenFlag
	offset int64
	refs   int32

	IO IODispatch
}

func (f *OpenFile) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *OpenFile) setOffset(o int64) {
	f.mu.Lock()
	f.offset = o
	f.mu.Unlock()
}

// SetOffset repositions the open file description's cursor, the lseek(2)
// entry point the syscall layer needs from outside this package.
func (f *OpenFile) SetOffset(o int64) { f.setOffset(o) }

func (f *OpenFile) addRef() { f.refs++ }

// FileTable is a task's per-process file descriptor table: a fixed-size
// slot array mapping small integers to *OpenFile plus a close-on-exec
// bitmask (spec §4.2 "per-task FileTable").
type FileTable struct {
	mu      sync.Mutex
	slots   [OpenMax]*OpenFile
	cloexec [OpenMax]bool
}

func NewFileTable() *FileTable {
	return &FileTable{}
}

// Install places f into the lowest free slot >= after, per POSIX dup2/open
// semantics, returning the new fd.
func (t *FileTable) Install(f *OpenFile, after int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd := after; fd < OpenMax; fd++ {
		if t.slots[fd] == nil {
			t.slots[fd] = f
			t.cloexec[fd] = false
			f.addRef()
			return fd, nil
		}
	}
	return -1, errno.EMFILE
}

func (t *FileTable) Get(fd int) (*OpenFile, error) {
	if fd < 0 || fd >= OpenMax {
		return nil, errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.slots[fd]
	if f == nil {
		return nil, errno.EBADF
	}
	return f, nil
}

func (t *FileTable) SetCloexec(fd int, v bool) error {
	if fd < 0 || fd >= OpenMax {
		return errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[fd] == nil {
		return errno.EBADF
	}
	t.cloexec[fd] = v
	return nil
}

// Close releases fd. The underlying OpenFile is only actually torn down
// (inode released) by the caller once refs drops to zero; this just clears
// the slot and decrements refs.
func (t *FileTable) Close(fd int) (*OpenFile, error) {
	if fd < 0 || fd >= OpenMax {
		return nil, errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.slots[fd]
	if f == nil {
		return nil, errno.EBADF
	}
	t.slots[fd] = nil
	f.mu.Lock()
	f.refs--
	closed := f.refs == 0
	f.mu.Unlock()
	if closed {
		return f, nil
	}
	return nil, nil
}

// Dup shares entry fd (the same OpenFile, refcounted) into a new task's
// table, as fork(2) does across a whole table at once.
func (t *FileTable) Dup() *FileTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewFileTable()
	for fd, f := range t.slots {
		if f == nil {
			continue
		}
		nt.slots[fd] = f
		nt.cloexec[fd] = t.cloexec[fd]
		f.addRef()
	}
	return nt
}

// CloseOnExec closes every fd marked close-on-exec, as exec(2) does after a
// successful image switch (spec §4.5 "Exec").
func (t *FileTable) CloseOnExec() []*OpenFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	var closed []*OpenFile
	for fd, mark := range t.cloexec {
		if !mark || t.slots[fd] == nil {
			continue
		}
		f := t.slots[fd]
		t.slots[fd] = nil
		f.mu.Lock()
		f.refs--
		done := f.refs == 0
		f.mu.Unlock()
		if done {
			closed = append(closed, f)
		}
	}
	return closed
}
