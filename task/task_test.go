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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/mm"
	"github.com/laylaos/kernelcore/pcache"
)

type fakeDriver struct{}

func (fakeDriver) Strategy(ctx context.Context, req *driver.Request) (int, error) {
	return req.Length, nil
}

type fakeResolver struct{}

func (fakeResolver) Driver(device uint64) (driver.Driver, bool) { return fakeDriver{}, true }
func (fakeResolver) BlockSize(device uint64) int                { return 4096 }
func (fakeResolver) Writable(device uint64) bool                { return true }

type fixedClock struct{}

func (fixedClock) Now() time.Time                  { return time.Time{} }
func (fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func newVM() *mm.AddressSpace {
	cache := pcache.New(fakeResolver{}, fixedClock{}, pcache.DefaultConfig(), nil)
	return mm.NewAddressSpace(cache, mm.DefaultConfig())
}

type fakeFiles struct{ closedOnExec bool }

func (f *fakeFiles) Dup() Files          { return &fakeFiles{} }
func (f *fakeFiles) CloseOnExec()        { f.closedOnExec = true }

func newTask(pid int) *Task {
	return New(Identity{PID: pid, TGID: pid}, newVM(), &fakeFiles{})
}

func TestFork_ChildGetsOwnAddressSpaceAndIsChildOfParent(t *testing.T) {
	parent := newTask(1)
	child := parent.Fork(2)

	assert.Equal(t, 2, child.Identity.PID)
	assert.Same(t, parent, child.Parent)
	assert.Contains(t, parent.Children, child)
	assert.NotSame(t, parent.VM, child.VM)
}

func TestVfork_MarksChildWithPropertyVFork(t *testing.T) {
	parent := newTask(1)
	child := parent.Vfork(2)

	assert.True(t, child.HasProperty(PropertyVFork))
	assert.False(t, parent.HasProperty(PropertyVFork))
}

func TestExec_DetachesRegionsAndClosesOnExec(t *testing.T) {
	tsk := newTask(1)
	_, err := tsk.VM.AllocAndAttach(0x1000, 0x2000, mm.ProtRead, mm.TypeData, mm.FlagPrivate, nil, 0, 0, false)
	require.NoError(t, err)

	tsk.Exec()

	_, ok := tsk.VM.Find(0x1000)
	assert.False(t, ok)
	assert.True(t, tsk.Files.(*fakeFiles).closedOnExec)
}

func TestExit_ReparentsChildrenToInit(t *testing.T) {
	initTask := newTask(1)
	parent := newTask(2)
	child := parent.Fork(3)

	parent.Exit(0, initTask)

	assert.Equal(t, StateZombie, parent.State())
	assert.Same(t, initTask, child.Parent)
	assert.Contains(t, initTask.Children, child)
	assert.Empty(t, parent.Children)
}

func TestScheduler_PicksFifoBeforeRRBeforeOther(t *testing.T) {
	sched := NewScheduler()
	other := newTask(1)
	other.Policy = PolicyOther
	rr := newTask(2)
	rr.Policy = PolicyRR
	fifo := newTask(3)
	fifo.Policy = PolicyFIFO

	sched.Enqueue(other)
	sched.Enqueue(rr)
	sched.Enqueue(fifo)

	assert.Same(t, fifo, sched.Pick())
	assert.Same(t, rr, sched.Pick())
	assert.Same(t, other, sched.Pick())
	assert.Nil(t, sched.Pick())
}

func TestScheduler_BlockAndUnblockRoundTrip(t *testing.T) {
	sched := NewScheduler()
	tsk := newTask(1)

	done := make(chan WakeReason, 1)
	go func() {
		done <- sched.BlockOn(tsk, "chan", true, nil)
	}()

	// Give the goroutine a chance to register as blocked.
	for i := 0; i < 1000 && tsk.State() != StateSleeping; i++ {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, StateSleeping, tsk.State())

	sched.Unblock("chan")

	reason := <-done
	assert.Equal(t, WokeNormally, reason)
	assert.Equal(t, StateReady, tsk.State())
}

func TestScheduler_SignalWakeOnlyWakesInterruptibleSleepers(t *testing.T) {
	sched := NewScheduler()
	tsk := newTask(1)

	done := make(chan WakeReason, 1)
	go func() {
		done <- sched.BlockOn(tsk, "chan", false, nil) // uninterruptible (WAITING)
	}()

	for i := 0; i < 1000 && tsk.State() != StateWaiting; i++ {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, StateWaiting, tsk.State())

	assert.False(t, sched.SignalWake(tsk))

	sched.Unblock("chan")
	assert.Equal(t, WokeNormally, <-done)
}

func TestScheduler_StopAndContinue(t *testing.T) {
	sched := NewScheduler()
	tsk := newTask(1)

	sched.Stop(tsk)
	assert.Equal(t, StateStopped, tsk.State())

	sched.Continue(tsk)
	assert.Equal(t, StateReady, tsk.State())
}

func TestScheduler_ZombifyAndReap(t *testing.T) {
	sched := NewScheduler()
	tsk := newTask(1)
	tsk.Exit(7, nil)
	sched.Zombify(tsk)

	reaped, ok := sched.ReapZombie()
	require.True(t, ok)
	assert.Same(t, tsk, reaped)
	assert.Equal(t, 7, reaped.ExitStatus)

	_, ok = sched.ReapZombie()
	assert.False(t, ok)
}
