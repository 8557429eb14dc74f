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

package task

import "github.com/laylaos/kernelcore/signal"

// signalTarget adapts *Task to signal.Target. It exists as its own type
// rather than methods directly on *Task because Task already has an
// exported Identity field of type Identity, and Go forbids a method with
// the same name as a field - Identity() has to live somewhere else.
type signalTarget struct {
	t     *Task
	sched *Scheduler
}

// SignalTarget returns the view of t that signal.Post/signal.CheckPending
// operate on. sched is the scheduler t is running under, needed to actually
// wake a sleeping task; pass nil if the caller only needs the read-only
// parts (e.g. inspecting pending signals without posting).
func (t *Task) SignalTarget(sched *Scheduler) signal.Target {
	return signalTarget{t: t, sched: sched}
}

func (s signalTarget) SignalState() *signal.State { return &s.t.Signals }

func (s signalTarget) Identity() (uid, suid uint32) {
	return s.t.Identity.UID, s.t.Identity.SUID
}

// IsUser always reports true: this package has no notion yet of a
// kernel-server task distinct from a user task, so every Task is a valid
// signal-posting target.
func (s signalTarget) IsUser() bool { return true }

func (s signalTarget) IsSleepingInterruptibly() bool {
	return s.t.State() == StateSleeping
}

func (s signalTarget) WakeBySignal(sig signal.Signal) {
	if s.sched != nil {
		s.sched.SignalWake(s.t)
	}
}
