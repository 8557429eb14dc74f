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

import (
	"sync"

	"github.com/laylaos/kernelcore/common"
)

// Scheduler holds one ready queue per priority band plus a blocked set and
// a zombie list (spec §4.5 "Queues"). FIFO and RR tasks are picked ahead of
// OTHER tasks, modeled on internal/workerpool.Pool's priority-then-normal
// drain order, generalized from two bands to three.
type Scheduler struct {
	mu sync.Mutex

	fifo  common.Queue[*Task]
	rr    common.Queue[*Task]
	other common.Queue[*Task]

	blocked map[*Task]struct{}
	zombies common.Queue[*Task]

	running *Task
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		fifo:    common.NewLinkedListQueue[*Task](),
		rr:      common.NewLinkedListQueue[*Task](),
		other:   common.NewLinkedListQueue[*Task](),
		blocked: make(map[*Task]struct{}),
		zombies: common.NewLinkedListQueue[*Task](),
	}
}

// Enqueue places t on its policy's ready queue and marks it READY (spec's
// RUNNING → READY transitions: preemption, end-of-quantum, explicit yield;
// also used for a freshly-forked task's first scheduling).
func (s *Scheduler) Enqueue(t *Task) {
	t.setState(StateReady)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t.Policy {
	case PolicyFIFO:
		s.fifo.Push(t)
	case PolicyRR:
		s.rr.Push(t)
	default:
		s.other.Push(t)
	}
}

// Pick removes and returns the highest-priority READY task (FIFO/RR ahead
// of OTHER, spec §4.5 "Queues": "the scheduler picks the highest-priority
// READY task"), transitioning it to RUNNING. Returns nil if every queue is
// empty.
func (s *Scheduler) Pick() *Task {
	s.mu.Lock()
	var t *Task
	switch {
	case !s.fifo.IsEmpty():
		t = s.fifo.Pop()
	case !s.rr.IsEmpty():
		t = s.rr.Pop()
	case !s.other.IsEmpty():
		t = s.other.Pop()
	}
	s.running = t
	s.mu.Unlock()

	if t != nil {
		t.setState(StateRunning)
	}
	return t
}

// Running returns the task the scheduler last picked, if any.
func (s *Scheduler) Running() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BlockOn implements block_task/block_task2 (spec §4.5): t leaves the
// running state and sleeps on channel until Unblock(channel) is called, a
// signal wakes it (only when interruptible), or, if done is non-nil, done
// fires first (the block_task2 timeout case). Returns which of those
// happened.
func (s *Scheduler) BlockOn(t *Task, channel any, interruptible bool, done <-chan struct{}) WakeReason {
	wake := make(chan WakeReason, 1)

	t.mu.Lock()
	t.channel = channel
	t.waitCh = wake
	if interruptible {
		t.state = StateSleeping
	} else {
		t.state = StateWaiting
	}
	t.mu.Unlock()

	s.mu.Lock()
	s.blocked[t] = struct{}{}
	s.mu.Unlock()

	var reason WakeReason
	if done != nil {
		select {
		case reason = <-wake:
		case <-done:
			reason = WokeTimeout
		}
	} else {
		reason = <-wake
	}

	s.mu.Lock()
	delete(s.blocked, t)
	s.mu.Unlock()

	t.mu.Lock()
	t.channel = nil
	t.waitCh = nil
	if reason == WokeTimeout {
		// Unblock/SignalWake already transition the task to READY as part
		// of re-enqueueing it; a timeout wakes the task without anyone
		// else touching its state, so BlockOn does it here instead.
		t.state = StateReady
	}
	t.mu.Unlock()

	return reason
}

// Unblock wakes every task sleeping on channel (spec §4.5: "SLEEPING →
// READY when another task calls unblock_tasks(channel)"), moving each back
// onto its ready queue.
func (s *Scheduler) Unblock(channel any) {
	s.mu.Lock()
	var woken []*Task
	for t := range s.blocked {
		t.mu.Lock()
		if t.channel == channel {
			woken = append(woken, t)
		}
		t.mu.Unlock()
	}
	s.mu.Unlock()

	for _, t := range woken {
		t.waitCh <- WokeNormally
		s.Enqueue(t)
	}
}

// SignalWake wakes t if it is interruptibly sleeping, reporting WokeSignal
// (spec §4.6 "Posting": "If the target is sleeping interruptibly and has
// not masked the signal... wake it"). Returns false if t was not eligible
// to be woken this way (WAITING tasks are not interruptible).
func (s *Scheduler) SignalWake(t *Task) bool {
	t.mu.Lock()
	eligible := t.state == StateSleeping && t.waitCh != nil
	wake := t.waitCh
	t.mu.Unlock()

	if !eligible {
		return false
	}

	wake <- WokeSignal
	s.Enqueue(t)
	return true
}

// Stop transitions t to STOPPED (spec §4.5: "RUNNING → STOPPED on
// SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU").
func (s *Scheduler) Stop(t *Task) {
	t.setState(StateStopped)
}

// Continue transitions a STOPPED task back to READY (spec: "STOPPED →
// READY on SIGCONT").
func (s *Scheduler) Continue(t *Task) {
	s.Enqueue(t)
}

// Zombify moves t onto the zombie list once Task.Exit has already set its
// state; the parent's wait* call later drains this list via ReapZombie.
func (s *Scheduler) Zombify(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zombies.Push(t)
}

// ReapZombie pops the oldest zombie, if any (spec: "the parent's next
// wait* reaps the struct").
func (s *Scheduler) ReapZombie() (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zombies.IsEmpty() {
		return nil, false
	}
	return s.zombies.Pop(), true
}
