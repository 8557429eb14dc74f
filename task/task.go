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

// Package task implements the per-task control block and the scheduler's
// ready/blocked/zombie queues (spec §4.5 "Task Lifecycle & Scheduler").
package task

import (
	"sync"

	"github.com/laylaos/kernelcore/ipc/shm"
	"github.com/laylaos/kernelcore/mm"
	"github.com/laylaos/kernelcore/signal"
)

// State is a task's scheduling state (spec §4.5 "State transitions").
type State int

const (
	StateReady State = iota
	StateRunning
	StateSleeping // interruptible block_task wait
	StateWaiting  // uninterruptible block_task wait
	StateStopped  // SIGSTOP/SIGTSTP/SIGTTIN/SIGTTOU
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateSleeping:
		return "SLEEPING"
	case StateWaiting:
		return "WAITING"
	case StateStopped:
		return "STOPPED"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Policy selects which ready-queue band a task is scheduled from (spec §4.5
// "Queues": "a ready queue per priority band (FIFO, RR, OTHER...)").
type Policy int

const (
	PolicyOther Policy = iota
	PolicyFIFO
	PolicyRR
)

// Property is the task's one-word property flag register (spec §3 "Task").
type Property uint32

const (
	// PropertyVFork marks a vfork child: its SHMEM regions (and, by
	// extension, its whole address space, shared with the parent until
	// exit/exec) must not be torn down independently of the parent (spec
	// §4.5 "fork": "vfork additionally marks the child with
	// PROPERTY_VFORK...").
	PropertyVFork Property = 1 << iota
	// PropertyTraced marks a task under a tracer (ptrace-style), consulted
	// by the signal layer's stop/continue handling.
	PropertyTraced
)

// Identity is the POSIX identity block (spec §3 "Task": "pid, tgid, pgid,
// sid, uids, gids, supplementary groups").
type Identity struct {
	PID, TGID, PGID, SID int
	UID, EUID, SUID      uint32
	GID, EGID, SGID      uint32
	Groups               []uint32
}

// Files is the narrow view of a task's open-file table this package needs;
// the full fd-table implementation lives in vfs and is injected here rather
// than duplicated.
type Files interface {
	// Dup returns a reference-bumped copy for a fork/clone child.
	Dup() Files
	// CloseOnExec closes every descriptor marked close-on-exec.
	CloseOnExec()
}

// WakeReason reports why BlockOn returned (spec §4.5 "block_task2 reports
// EWOULDBLOCK on timeout, EINTR on signal, zero otherwise").
type WakeReason int

const (
	WokeNormally WakeReason = iota
	WokeTimeout
	WokeSignal
)

// Task is the per-task control block (spec §3 "Task"). The kernel stack and
// saved register context are arch-specific glue (spec §1) this layer never
// touches; Task only carries the scheduling-relevant and POSIX-identity
// fields that the rest of the execution substrate reasons about.
type Task struct {
	mu sync.Mutex

	Identity Identity
	VM       *mm.AddressSpace
	Files    Files

	// Shm re-registers a forked child's shared-memory attachments with
	// their SysV segment (spec §4.4 "Fork"); nil if this task's kernel
	// instance never touches ipc/shm, in which case Fork skips Reattach.
	Shm *shm.Registry

	Policy   Policy
	Priority int
	state    State
	property Property

	// channel is the wait-channel this task is blocked on (nil when not
	// blocked); Unblock and SignalWake send a WakeReason on waitCh to wake it.
	channel any
	waitCh  chan WakeReason

	Parent   *Task
	Children []*Task

	ExitStatus int

	// Signals is the task's full posting/masking/delivery state (spec §3's
	// pending set, mask, action table, siginfo slots, sigaltstack
	// descriptor). task never calls into the signal package's behavior
	// itself - SignalTarget adapts *Task so the signal package's Post/
	// CheckPending free functions can operate on it without this package
	// importing signal's behavior back.
	Signals signal.State

	// CurrentFrame is the trampoline frame of the handler presently
	// executing, if any; sigreturn(2) consumes it to restore the
	// interrupted context (spec §4.6 "sigreturn"). nil outside a handler.
	CurrentFrame *signal.Frame
}

// New constructs a task with the given identity and address space, starting
// READY (the scheduler decides when it first runs).
func New(id Identity, vm *mm.AddressSpace, files Files) *Task {
	return &Task{Identity: id, VM: vm, Files: files, state: StateReady}
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) HasProperty(p Property) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.property&p != 0
}

func (t *Task) SetProperty(p Property) {
	t.mu.Lock()
	t.property |= p
	t.mu.Unlock()
}

func (t *Task) ClearProperty(p Property) {
	t.mu.Lock()
	t.property &^= p
	t.mu.Unlock()
}

// setState is the single place that mutates t.state, so every transition is
// observable for tests without exposing a public setter callers could abuse
// to skip the scheduler's own bookkeeping.
func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Fork duplicates this task into a new child (spec §4.5 "fork"): the
// address space is duplicated via mm.AddressSpace.Dup (COW-equivalent, see
// mm's own doc comment), the file table is duplicated with bumped
// reference counts, and the child is attached to this task's child list.
// The caller supplies the child's fresh pid (pid allocation is a policy
// decision outside this package's scope).
func (t *Task) Fork(childPID int) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	child := &Task{
		Identity: t.Identity,
		VM:       t.VM.Dup(),
		Files:    t.Files.Dup(),
		Shm:      t.Shm,
		Policy:   t.Policy,
		Priority: t.Priority,
		state:    StateReady,
		Parent:   t,
	}
	child.Identity.PID = childPID
	child.Identity.TGID = childPID
	if child.Shm != nil {
		child.Shm.Reattach(child.VM)
	}
	// A forked child inherits its parent's mask and action table but starts
	// with an empty pending set (spec §4.5 "fork"; nothing posted to the
	// parent before the fork is owed to the child).
	child.Signals.Mask = t.Signals.Mask
	child.Signals.Actions = t.Signals.Actions
	child.Signals.AltStack = t.Signals.AltStack
	child.Signals.AltStack.Reset()
	t.Children = append(t.Children, child)
	return child
}

// Vfork is Fork plus PROPERTY_VFORK (spec §4.5 "fork": "vfork additionally
// marks the child...").
func (t *Task) Vfork(childPID int) *Task {
	child := t.Fork(childPID)
	child.SetProperty(PropertyVFork)
	return child
}

// Exec implements the address-space and fd-table half of execve (spec
// §4.5 "exec"): detach all non-kernel regions (the caller then attaches the
// new image's TEXT/DATA/STACK regions via VM.AllocAndAttach), and close
// every close-on-exec descriptor. Signal-action-table reset (handlers that
// are SIG_DFL/SIG_IGN preserved, catchers revert to SIG_DFL) is the signal
// package's responsibility, invoked separately by the syscall handler.
func (t *Task) Exec() {
	t.VM.DetachAllUser()
	t.Files.CloseOnExec()
}

// Exit converts the task to ZOMBIE (spec §4.5 "exit"): reparents its
// children to init, records the exit status, and leaves SIGCHLD delivery
// and the parent's wait*-driven reap to the signal/syscall layers, which
// observe the ZOMBIE state transition.
func (t *Task) Exit(status int, initTask *Task) {
	t.mu.Lock()
	children := t.Children
	t.Children = nil
	t.ExitStatus = status
	t.state = StateZombie
	t.mu.Unlock()

	for _, c := range children {
		c.mu.Lock()
		c.Parent = initTask
		c.mu.Unlock()
		if initTask != nil {
			initTask.mu.Lock()
			initTask.Children = append(initTask.Children, c)
			initTask.mu.Unlock()
		}
	}
}
