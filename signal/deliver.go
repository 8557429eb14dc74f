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

// Disposition is what CheckPending decided should happen with the chosen
// signal (spec §4.6 "Delivery").
type Disposition int

const (
	// DispositionNone means nothing deliverable was pending.
	DispositionNone Disposition = iota
	// DispositionIgnore: SIG_IGN, or a SIG_DFL signal whose default is to
	// be ignored (CHLD, URG, PWR, WINCH).
	DispositionIgnore
	// DispositionStop: SIG_DFL job-control stop (STOP, TSTP, TTIN, TTOU).
	// The caller must block the task and notify its parent with SIGCHLD/
	// CLD_STOPPED.
	DispositionStop
	// DispositionContinue: SIG_DFL SIGCONT. The caller notifies the
	// parent with CLD_CONTINUED; the task does not need waking here
	// because Post already woke it as part of delivering SIGCONT.
	DispositionContinue
	// DispositionTerminate: SIG_DFL default termination.
	DispositionTerminate
	// DispositionTerminateDump: SIG_DFL termination for the core-dumping
	// signals (QUIT/ILL/TRAP/ABRT/BUS/FPE/SEGV/XCPU/XFSZ/SYS).
	DispositionTerminateDump
	// DispositionHandler: an installed handler must run; Delivery.Frame
	// carries the trampoline frame to switch the interrupted context to.
	DispositionHandler
)

// dumpingSignals is the subset of default-terminate signals that also
// core-dump (spec §4.6 "Delivery": "terminate+dump for quit-like signals").
var dumpingSignals = map[Signal]bool{
	SIGQUIT: true, SIGILL: true, SIGTRAP: true, SIGABRT: true,
	SIGBUS: true, SIGFPE: true, SIGSEGV: true, SIGXCPU: true,
	SIGXFSZ: true, SIGSYS: true,
}

// ignoredByDefault is the subset of SIG_DFL signals whose default
// disposition is "drop" rather than "terminate" (spec §4.6 "Delivery").
var ignoredByDefault = map[Signal]bool{
	SIGCHLD: true, SIGURG: true, SIGPWR: true, SIGWINCH: true,
}

// Delivery is CheckPending's result for the one signal (if any) it chose to
// dispatch this call.
type Delivery struct {
	Signum      Signal
	Disposition Disposition
	Frame       *Frame // only set for DispositionHandler
}

// CheckPending implements check_pending_signals (spec §4.6 "Delivery"): the
// deliverable set is pending ∧ ¬mask ∪ {SIGKILL, SIGSTOP}; the lowest-number
// deliverable signal is chosen, cleared from pending, and dispatched per its
// installed action. regs is the interrupted user context, needed to build a
// handler's trampoline frame; pass a zero RegisterContext if no handler
// dispatch is expected to occur (e.g. probing between syscalls is fine, a
// handler dispatch with a zero context just carries zero values through).
func CheckPending(target Target, regs RegisterContext) Delivery {
	st := target.SignalState()

	deliverable := st.Pending.Intersect(^st.Mask | Set(unblockable))
	if deliverable.Empty() {
		return Delivery{}
	}

	var sig Signal
	for s := Signal(1); int(s) < NSig; s++ {
		if deliverable.Has(s) {
			sig = s
			break
		}
	}
	if sig == 0 {
		return Delivery{}
	}

	st.Pending.Del(sig)
	action := st.Actions[sig]

	if action.Handler == HandlerIgnore {
		return Delivery{Signum: sig, Disposition: DispositionIgnore}
	}

	if action.Handler == HandlerDefault {
		st.Caught.Add(sig)
		switch {
		case sig == SIGCONT:
			return Delivery{Signum: sig, Disposition: DispositionContinue}
		case ignoredByDefault[sig]:
			return Delivery{Signum: sig, Disposition: DispositionIgnore}
		case sig == SIGSTOP, sig == SIGTSTP, sig == SIGTTIN, sig == SIGTTOU:
			return Delivery{Signum: sig, Disposition: DispositionStop}
		case dumpingSignals[sig]:
			return Delivery{Signum: sig, Disposition: DispositionTerminateDump}
		default:
			return Delivery{Signum: sig, Disposition: DispositionTerminate}
		}
	}

	st.Caught.Add(sig)
	frame := BuildFrame(st, sig, action, regs)
	return Delivery{Signum: sig, Disposition: DispositionHandler, Frame: frame}
}
