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

package main

import (
	"context"
	"time"

	"github.com/laylaos/kernelcore/internal/klog"
	"github.com/laylaos/kernelcore/internal/kmetrics"
	"github.com/laylaos/kernelcore/task"
)

// runSchedulerLoop ticks the scheduler once per quantum: pick the
// highest-priority ready task, report its transition to RUNNING, then
// immediately re-enqueue it and report its transition back to READY. The
// run queue length is reported only on a tick that finds the queue empty,
// as 0. The demo has no real program
// text to execute (spec §1 scopes process execution out), so "running" a
// task here means nothing more than giving it the CPU for one quantum
// before yielding it back, the same round-robin spec §4.5 describes for
// PolicyRR tasks that never block.
func runSchedulerLoop(ctx context.Context, sched *task.Scheduler, metrics kmetrics.MetricHandle, quantum time.Duration) func() {
	if quantum <= 0 {
		quantum = 10 * time.Millisecond
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(quantum)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-done:
				return
			case <-ticker.C:
				tickScheduler(ctx, sched, metrics)
			}
		}
	}()
	return func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}
}

func tickScheduler(ctx context.Context, sched *task.Scheduler, metrics kmetrics.MetricHandle) {
	t := sched.Pick()
	if t == nil {
		metrics.RunQueueLength(ctx, 0)
		return
	}
	klog.Tracef("scheduled pid=%d", t.Identity.PID)
	metrics.TaskStateTransition(ctx, "READY", "RUNNING")
	sched.Enqueue(t)
	metrics.TaskStateTransition(ctx, "RUNNING", "READY")
}
