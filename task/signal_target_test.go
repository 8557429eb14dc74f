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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laylaos/kernelcore/signal"
)

func TestSignalTarget_PostWakesSleepingTask(t *testing.T) {
	sched := NewScheduler()
	tsk := newTask(1)
	tsk.Identity.UID = 100
	tsk.Identity.SUID = 100

	done := make(chan WakeReason, 1)
	go func() {
		done <- sched.BlockOn(tsk, "chan", true, nil)
	}()
	for i := 0; i < 1000 && tsk.State() != StateSleeping; i++ {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, StateSleeping, tsk.State())

	target := tsk.SignalTarget(sched)
	require.NoError(t, signal.Post(target, signal.Sender{UID: 100}, signal.SIGTERM, signal.Info{}, false))

	assert.Equal(t, WokeSignal, <-done)
	assert.True(t, tsk.Signals.Pending.Has(signal.SIGTERM))
}

func TestSignalTarget_IdentityMatchesTaskIdentity(t *testing.T) {
	tsk := newTask(1)
	tsk.Identity.UID = 42
	tsk.Identity.SUID = 7

	uid, suid := tsk.SignalTarget(nil).Identity()
	assert.EqualValues(t, 42, uid)
	assert.EqualValues(t, 7, suid)
}

func TestFork_ChildInheritsMaskAndActionsButNotPending(t *testing.T) {
	parent := newTask(1)
	parent.Signals.Mask.Add(signal.SIGUSR1)
	parent.Signals.Pending.Add(signal.SIGTERM)
	parent.Signals.Actions[signal.SIGHUP] = signal.Action{Handler: signal.HandlerIgnore}

	child := parent.Fork(2)

	assert.True(t, child.Signals.Mask.Has(signal.SIGUSR1))
	assert.False(t, child.Signals.Pending.Has(signal.SIGTERM))
	assert.Equal(t, signal.HandlerIgnore, child.Signals.Actions[signal.SIGHUP].Handler)
}
