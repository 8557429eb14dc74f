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

package signal

import (
	"github.com/laylaos/kernelcore/errno"
)

// RegisterContext is the saved general-purpose register set a trampoline
// frame preserves across a handler call (the ucontext_t.uc_mcontext
// equivalent). Architecture/MMU glue is out of scope (spec §1 non-goals), so
// this is an opaque value the caller threads through unchanged.
type RegisterContext struct {
	PC, SP uintptr
	GPRegs [32]uint64
}

// Frame is the trampoline frame a handler dispatch builds: everything needed
// to run the handler and, on Sigreturn, restore the interrupted context
// (spec §4.6 "Trampoline": "general-purpose registers, program counter,
// stack pointer... and a pointer to a restorer").
type Frame struct {
	Signum             Signal
	Handler            Handler
	Restorer           uintptr
	Info               Info
	SavedRegs          RegisterContext
	SavedMask          Set
	OnAltStack         bool
	InterruptedSyscall uintptr
}

// BuildFrame implements the handler-dispatch branch of handle_signal (spec
// §4.6 "Trampoline"): it snapshots the pre-delivery mask, computes the
// in-handler mask (action.Mask unioned in, plus the delivered signal itself
// unless SA_NODEFER), marks the task as handling a signal, switches to the
// alternate stack when requested and eligible, and reverts the action to
// SIG_DFL first if SA_RESETHAND is set (except for SIGILL/SIGTRAP, which the
// original never auto-reverts to avoid a fault loop).
func BuildFrame(st *State, sig Signal, action Action, regs RegisterContext) *Frame {
	st.SavedMask = st.Mask

	newMask := st.Mask.Union(action.Mask)
	if action.Flags&FlagNoDefer == 0 {
		newMask.Add(sig)
	}
	st.Mask = newMask
	st.HandlingSig = true

	onAltStack := action.Flags&FlagOnStack != 0 && !st.AltStack.Disabled && !st.AltStack.OnStack()
	if onAltStack {
		st.AltStack.onStack = true
	}

	if action.Flags&FlagResetHand != 0 && sig != SIGILL && sig != SIGTRAP {
		st.Actions[sig] = Action{Handler: HandlerDefault}
	}

	return &Frame{
		Signum:             sig,
		Handler:            action.Handler,
		Restorer:           action.Restorer,
		Info:               st.Info[sig],
		SavedRegs:          regs,
		SavedMask:          st.SavedMask,
		OnAltStack:         onAltStack,
		InterruptedSyscall: st.InterruptedSyscall,
	}
}

// Sigreturn implements the sigreturn(2) half of spec §4.6 "sigreturn":
// restore the pre-delivery mask exactly, leave the alternate-stack and
// handling-signal bookkeeping as it was before the handler ran, and hand
// back the interrupted register context for the caller to resume into.
func Sigreturn(st *State, frame *Frame) RegisterContext {
	st.Mask = frame.SavedMask
	st.HandlingSig = false
	if frame.OnAltStack {
		st.AltStack.onStack = false
	}
	return frame.SavedRegs
}

// ShouldRestart reports whether the syscall interrupted by delivering a
// signal under action should be transparently restarted rather than
// returned to the caller as EINTR (spec §4.6 "Syscall restart interaction":
// "if the handler's SA_RESTART flag is set, the original syscall number is
// redispatched instead of returning EINTR to user space").
func ShouldRestart(action Action, err errno.Errno) bool {
	if err != errno.ERESTARTSYS {
		return false
	}
	return action.Flags&FlagRestart != 0
}

// Sigaltstack implements sigaltstack(2) (spec §4.6 "Sigaltstack"): ss
// replaces the current descriptor unless a handler is presently executing on
// it, in which case reconfiguration is rejected with EPERM; old, if
// non-nil, receives the descriptor being replaced.
func Sigaltstack(st *State, ss, old *AltStack) error {
	if old != nil {
		prev := st.AltStack
		*old = prev
	}
	if ss == nil {
		return nil
	}
	if st.AltStack.OnStack() {
		return errno.EPERM
	}
	onStack := st.AltStack.onStack
	st.AltStack = *ss
	st.AltStack.onStack = onStack
	return nil
}
