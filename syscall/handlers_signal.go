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
)

func init() {
	register(uintptr(unix.SYS_KILL), sysKill)
	register(uintptr(unix.SYS_RT_SIGACTION), sysRtSigaction)
	register(uintptr(unix.SYS_RT_SIGPROCMASK), sysRtSigprocmask)
	register(uintptr(unix.SYS_RT_SIGRETURN), sysRtSigreturn)
	register(uintptr(unix.SYS_SIGALTSTACK), sysSigaltstack)
}

// targetOf resolves args[0]'s pid to the task to signal by scanning the
// process table Kernel.Spawn/Fork populate. A kernel with many more tasks
// than this one expects would keep a pid-indexed map instead; the process
// count this package is built for doesn't justify that yet.
func (k *Kernel) targetOf(pid int) (*task.Task, errno.Errno) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for t := range k.procs {
		if t.Identity.PID == pid {
			return t, 0
		}
	}
	return nil, errno.ESRCH
}

// sysKill implements kill(2) (spec §4.6 "Posting"): args[0] the target pid,
// args[1] the signal number. Signal 0 is the POSIX existence/permission
// probe and never actually posts, exactly as signal.Post itself already
// handles.
func sysKill(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	target, terr := k.targetOf(int(int32(args[0])))
	if terr != 0 {
		return terr.Negated()
	}
	sig := signal.Signal(args[1])
	sender := signal.Sender{UID: t.Identity.EUID, Privileged: t.Identity.EUID == 0}
	info := signal.Info{Code: signal.CodeUser, PID: t.Identity.PID, UID: t.Identity.EUID}
	if err := signal.Post(target.SignalTarget(k.Scheduler), sender, sig, info, false); err != nil {
		return errno.From(err).Negated()
	}
	return 0
}

// sigactionArg mirrors struct sigaction's layout closely enough for the
// simulated user memory this package copies to/from: handler, flags,
// restorer, mask, each a uintptr/uint64-sized field in address order.
type sigactionArg struct {
	Handler  uintptr
	Flags    uint32
	Restorer uintptr
	Mask     uint64
}

const sigactionSize = 8 + 8 + 8 + 8

func (m *UserMemory) readSigaction(t *task.Task, addr uintptr) (sigactionArg, errno.Errno) {
	raw, err := m.CopyIn(t, addr, sigactionSize)
	if err != 0 {
		return sigactionArg{}, err
	}
	return sigactionArg{
		Handler:  uintptr(leUint64(raw[0:8])),
		Flags:    uint32(leUint64(raw[8:16])),
		Restorer: uintptr(leUint64(raw[16:24])),
		Mask:     leUint64(raw[24:32]),
	}, 0
}

func (m *UserMemory) writeSigaction(t *task.Task, addr uintptr, a sigactionArg) errno.Errno {
	var raw [sigactionSize]byte
	putLeUint64(raw[0:8], uint64(a.Handler))
	putLeUint64(raw[8:16], uint64(a.Flags))
	putLeUint64(raw[16:24], uint64(a.Restorer))
	putLeUint64(raw[24:32], a.Mask)
	return m.CopyOut(t, addr, raw[:])
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// sysRtSigaction implements sigaction(2): args[0] the signal number,
// args[1] the new action pointer (NULL to only query), args[2] the old
// action output pointer.
func sysRtSigaction(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	sig := signal.Signal(args[0])
	if sig <= 0 || int(sig) >= signal.NSig {
		return errno.EINVAL.Negated()
	}

	old := t.Signals.Actions[sig]
	if args[2] != 0 {
		if werr := mem.writeSigaction(t, args[2], sigactionArg{
			Handler: uintptr(old.Handler), Flags: uint32(old.Flags),
			Restorer: old.Restorer, Mask: uint64(old.Mask),
		}); werr != 0 {
			return werr.Negated()
		}
	}

	if args[1] != 0 {
		n, rerr := mem.readSigaction(t, args[1])
		if rerr != 0 {
			return rerr.Negated()
		}
		t.Signals.Actions[sig] = signal.Action{
			Handler: signal.Handler(n.Handler), Flags: signal.Flag(n.Flags),
			Restorer: n.Restorer, Mask: signal.Set(n.Mask),
		}
	}
	return 0
}

// sysRtSigprocmask implements sigprocmask(2): args[0] the how value
// (0=SIG_BLOCK, 1=SIG_UNBLOCK, 2=SIG_SETMASK), args[1] the new mask pointer
// (NULL to only query), args[2] the old mask output pointer.
func sysRtSigprocmask(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	old := t.Signals.Mask
	if args[2] != 0 {
		if werr := mem.CopyOut(t, args[2], leBytes(uint64(old))); werr != 0 {
			return werr.Negated()
		}
	}
	if args[1] == 0 {
		return 0
	}
	raw, rerr := mem.CopyIn(t, args[1], 8)
	if rerr != 0 {
		return rerr.Negated()
	}
	newSet := signal.Set(leUint64(raw))

	switch args[0] {
	case 0: // SIG_BLOCK
		t.Signals.Mask = t.Signals.Mask.Union(newSet)
	case 1: // SIG_UNBLOCK
		for s := signal.Signal(1); int(s) < signal.NSig; s++ {
			if newSet.Has(s) {
				t.Signals.Mask.Del(s)
			}
		}
	case 2: // SIG_SETMASK
		t.Signals.Mask = newSet
	default:
		return errno.EINVAL.Negated()
	}
	return 0
}

func leBytes(v uint64) []byte {
	b := make([]byte, 8)
	putLeUint64(b, v)
	return b
}

// sysRtSigreturn implements sigreturn(2) (spec §4.6 "sigreturn"): pop the
// trampoline frame the most recent handler dispatch built, restore the
// pre-delivery mask and register context through signal.Sigreturn, and
// transparently redispatch the interrupted syscall if its action carried
// SA_RESTART. The real frame's saved registers are arch glue out of scope
// (spec §1); only the interrupted syscall number travels back through args.
func sysRtSigreturn(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	frame := t.CurrentFrame
	if frame == nil {
		return errno.EINVAL.Negated()
	}
	t.CurrentFrame = nil
	signal.Sigreturn(&t.Signals, frame)

	if frame.InterruptedSyscall != 0 {
		action := t.Signals.Actions[frame.Signum]
		if signal.ShouldRestart(action, errno.ERESTARTSYS) {
			return k.Dispatch(ctx, t, mem, frame.InterruptedSyscall, args)
		}
	}
	return 0
}

// sysSigaltstack implements sigaltstack(2): args[0] the new stack_t
// pointer (NULL to only query), args[1] the old stack_t output pointer.
// Layout matches AltStack: SP, Size, Disabled as a 0/1 uint64 word.
func sysSigaltstack(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	var newSS, oldSS signal.AltStack
	var newPtr *signal.AltStack
	if args[0] != 0 {
		raw, err := mem.CopyIn(t, args[0], 24)
		if err != 0 {
			return err.Negated()
		}
		newSS = signal.AltStack{
			SP:       uintptr(leUint64(raw[0:8])),
			Size:     uintptr(leUint64(raw[8:16])),
			Disabled: leUint64(raw[16:24]) != 0,
		}
		newPtr = &newSS
	}

	var oldPtr *signal.AltStack
	if args[1] != 0 {
		oldPtr = &oldSS
	}

	if serr := signal.Sigaltstack(&t.Signals, newPtr, oldPtr); serr != nil {
		return errno.From(serr).Negated()
	}

	if args[1] != 0 {
		var raw [24]byte
		putLeUint64(raw[0:8], uint64(oldSS.SP))
		putLeUint64(raw[8:16], uint64(oldSS.Size))
		disabled := uint64(0)
		if oldSS.Disabled {
			disabled = 1
		}
		putLeUint64(raw[16:24], disabled)
		if werr := mem.CopyOut(t, args[1], raw[:]); werr != 0 {
			return werr.Negated()
		}
	}
	return 0
}
