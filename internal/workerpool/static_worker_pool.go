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

// Package workerpool runs a fixed number of goroutines draining two job
// queues, one for priority work and one for normal work. No other package in
// this module submits work to a Pool; task.Scheduler's ready queues follow
// the same priority-then-normal order without using one.
package workerpool

import (
	"errors"
	"sync"
)

// Job is one unit of work submitted to the pool.
type Job func()

// Pool runs priorityWorkers goroutines draining the priority queue first,
// falling back to the normal queue, plus normalWorkers goroutines draining
// only the normal queue.
type Pool struct {
	priorityCh chan Job
	normalCh   chan Job
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewStaticWorkerPool starts priorityWorkers + normalWorkers goroutines.
// At least one worker of either kind is required.
func NewStaticWorkerPool(priorityWorkers, normalWorkers uint32) (*Pool, error) {
	if priorityWorkers == 0 && normalWorkers == 0 {
		return nil, errors.New("workerpool: need at least one priority or normal worker")
	}

	p := &Pool{
		priorityCh: make(chan Job, 256),
		normalCh:   make(chan Job, 256),
	}

	for i := uint32(0); i < priorityWorkers; i++ {
		p.wg.Add(1)
		go p.runPriority()
	}
	for i := uint32(0); i < normalWorkers; i++ {
		p.wg.Add(1)
		go p.runNormal()
	}
	return p, nil
}

func (p *Pool) runPriority() {
	defer p.wg.Done()
	for {
		// Take any queued priority job before considering normal work.
		select {
		case job, ok := <-p.priorityCh:
			if !ok {
				return
			}
			job()
			continue
		default:
		}
		select {
		case job, ok := <-p.priorityCh:
			if !ok {
				return
			}
			job()
		case job, ok := <-p.normalCh:
			if !ok {
				return
			}
			job()
		}
	}
}

func (p *Pool) runNormal() {
	defer p.wg.Done()
	for job := range p.normalCh {
		job()
	}
}

// Submit enqueues job onto the priority queue when priority is true,
// otherwise the normal queue.
func (p *Pool) Submit(priority bool, job Job) {
	if priority {
		p.priorityCh <- job
	} else {
		p.normalCh <- job
	}
}

// Stop closes both queues and waits for in-flight jobs to finish. Safe to
// call on a nil pool (a no-op), matching callers that clean up after a
// construction failure.
func (p *Pool) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.priorityCh)
		close(p.normalCh)
	})
	p.wg.Wait()
}
