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

// Package errno carries POSIX error numbers across internal kernel-core
// boundaries (spec §7). Every layer (pcache, vfs, mm, task, signal) returns
// an error that can be recovered as an errno at the syscall boundary via
// From, rather than inventing its own sentinel error values.
package errno

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a negative-at-the-boundary POSIX error code. Internally it is
// carried as a plain positive number (unix.EINVAL etc.) and negated only when
// handed back across the syscall surface, matching spec §7's "negative POSIX
// errno values" convention.
type Errno int

const (
	EINVAL       = Errno(unix.EINVAL)
	EBADF        = Errno(unix.EBADF)
	EFAULT       = Errno(unix.EFAULT)
	ENAMETOOLONG = Errno(unix.ENAMETOOLONG)
	ELOOP        = Errno(unix.ELOOP)
	EACCES       = Errno(unix.EACCES)
	EPERM        = Errno(unix.EPERM)
	EROFS        = Errno(unix.EROFS)
	ENOMEM       = Errno(unix.ENOMEM)
	ENFILE       = Errno(unix.ENFILE)
	EMFILE       = Errno(unix.EMFILE)
	ENOSPC       = Errno(unix.ENOSPC)
	ENOBUFS      = Errno(unix.ENOBUFS)
	EDQUOT       = Errno(unix.EDQUOT)
	EBUSY        = Errno(unix.EBUSY)
	EAGAIN       = Errno(unix.EAGAIN)
	EWOULDBLOCK  = Errno(unix.EWOULDBLOCK)
	EIO          = Errno(unix.EIO)
	EINTR        = Errno(unix.EINTR)
	ERESTARTSYS  = Errno(unix.ERESTART) // arch glue maps this to a real restart; see signal package
	ECHILD       = Errno(unix.ECHILD)
	ESRCH        = Errno(unix.ESRCH)
	ESTALE       = Errno(unix.ESTALE)
	ENOENT       = Errno(unix.ENOENT)
	ENOTDIR      = Errno(unix.ENOTDIR)
	EISDIR       = Errno(unix.EISDIR)
	EEXIST       = Errno(unix.EEXIST)
	EXDEV        = Errno(unix.EXDEV)
	EFBIG        = Errno(unix.EFBIG)
	EMLINK       = Errno(unix.EMLINK)
	ENOTEMPTY    = Errno(unix.ENOTEMPTY)
	EIDRM        = Errno(unix.EIDRM)
	ENOSYS       = Errno(unix.ENOSYS)
)

func (e Errno) Error() string {
	return unix.Errno(e).Error()
}

// Negated returns the value a syscall handler hands back to user mode: a
// negative errno, or 0 if e is the zero value (no error).
func (e Errno) Negated() int64 {
	if e == 0 {
		return 0
	}
	return -int64(e)
}

// From recovers the Errno carried by err, if any. Plain errors that do not
// wrap an Errno are reported as EIO, matching spec §7's "generic rule:
// functions return the first negative errno they encounter" - an internal
// error that forgot to be one is itself a bug, not a successful call.
func From(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if asErrno(err, &e) {
		return e
	}
	return EIO
}

func asErrno(err error, out *Errno) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(Errno); ok {
			*out = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Wrap annotates err with additional context while remaining recoverable by
// From, mirroring fmt.Errorf("%w", ...) but documenting intent at call sites
// inside the kernel core.
func Wrap(e Errno, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), e)
}
