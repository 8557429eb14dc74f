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

// Package clock supplies the notion of a "clock tick" used throughout the
// kernel core: page-cache access-time stamps (§4.1), scheduler timeslice and
// block_task2 timeouts (§4.5), and periodic sweeps. The arch-specific glue
// that actually drives a hardware tick is an external collaborator (spec §1);
// this package only defines the interface kernel code programs against and
// the three implementations (real / fake / simulated) used in production and
// in tests.
package clock

import "time"

// Clock is the kernel's view of time. RealClock is used in production;
// SimulatedClock lets tests advance time deterministically to exercise
// age-based page-cache eviction and block_task2 timeouts without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &FakeClock{}
	_ Clock = &SimulatedClock{}
)
