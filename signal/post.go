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

// Target is the narrow view of a task that posting/delivery needs. A
// *task.Task satisfies it via a thin adapter built in the syscall package,
// the same narrow-interface shape task.Files already uses to keep one
// package from importing another it only needs a sliver of.
type Target interface {
	// SignalState returns the mutable signal.State embedded in the task.
	SignalState() *State
	// Identity returns the uid/saved-uid pair a sender's permission check
	// is matched against (spec §4.6 "Posting": "sender's uid matches
	// target's real or saved uid").
	Identity() (uid, suid uint32)
	// IsUser reports whether this is a user task; kernel server tasks
	// refuse all signals (spec §4.6 "Posting": "refuse signals to
	// non-user kernel tasks").
	IsUser() bool
	// IsSleepingInterruptibly reports whether the task is currently
	// blocked in an interruptible sleep.
	IsSleepingInterruptibly() bool
	// WakeBySignal wakes an interruptibly-sleeping task, recording which
	// signal did it (spec §4.6 "Posting": "wake it and record which
	// signal did the waking").
	WakeBySignal(sig Signal)
}

// Sender identifies the posting party for the permission check (spec §4.6
// "Posting": "sender's uid matches target's real or saved uid, or sender is
// privileged, or force").
type Sender struct {
	UID        uint32
	Privileged bool
}

// Post implements add_task_signal (spec §4.6 "Posting"): permission check,
// stop-vs-continue conflict resolution, idempotent pending-bit semantics,
// and waking an eligible interruptible sleeper. signum 0 is the POSIX
// "existence/permission probe" signal and never actually posts (mirrors the
// original's explicit "NULL signal... doesn't actually deliver a signal").
func Post(target Target, sender Sender, sig Signal, info Info, force bool) error {
	if sig < 0 || int(sig) >= NSig {
		return errno.EINVAL
	}
	if sig == 0 {
		return nil
	}
	if !target.IsUser() {
		return errno.EPERM
	}

	st := target.SignalState()

	if st.Pending.Has(sig) {
		return wakeIfEligible(target, st, sig)
	}

	if !force && !sender.Privileged {
		uid, suid := target.Identity()
		if sender.UID != uid && sender.UID != suid {
			return errno.EPERM
		}
	}

	switch sig {
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		st.Pending.Del(SIGCONT)
	case SIGCONT:
		st.Pending.Del(SIGSTOP)
		st.Pending.Del(SIGTSTP)
		st.Pending.Del(SIGTTIN)
		st.Pending.Del(SIGTTOU)
	}

	st.Pending.Add(sig)
	info.Signo = sig
	st.Info[sig] = info

	return wakeIfEligible(target, st, sig)
}

// wakeIfEligible wakes target if it is sleeping interruptibly, the signal is
// not SIG_IGN, and the signal is not masked (spec §4.6 "Posting": "If the
// target is sleeping interruptibly and has not masked the signal and has not
// set SIG_IGN, wake it").
func wakeIfEligible(target Target, st *State, sig Signal) error {
	if !target.IsSleepingInterruptibly() {
		return nil
	}
	if st.Actions[sig].Handler == HandlerIgnore {
		return nil
	}
	if st.Mask.Has(sig) {
		return nil
	}
	target.WakeBySignal(sig)
	return nil
}

// PostTimerSignal records an overrun instead of re-posting when a real-time
// timer's signal is already pending (spec §3 parenthetical "saved_overruns",
// supplemented per original_source/kernel/kernel/signal.c's timer-restart
// handling).
func PostTimerSignal(target Target, sender Sender, sig Signal, info Info, force bool) error {
	st := target.SignalState()
	if st.Pending.Has(sig) {
		if st.TimerOverruns == nil {
			st.TimerOverruns = make(map[Signal]uint32)
		}
		st.TimerOverruns[sig]++
		return nil
	}
	return Post(target, sender, sig, info, force)
}
