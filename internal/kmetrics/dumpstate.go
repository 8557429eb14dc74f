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

package kmetrics

import (
	"encoding/json"
	"time"

	"github.com/google/renameio/v2"
)

// Snapshot is a point-in-time view of the counters a MetricHandle otherwise
// only exports as Prometheus samples, for an operator attached to a single
// running kernel instance who wants a readable snapshot, not a scrape
// target. WriteSnapshot persists one to a file; neither laylaosctl nor
// laylaosd's debug socket produces or returns a Snapshot.
type Snapshot struct {
	Time            time.Time      `json:"time"`
	RunQueueLength  int64          `json:"run_queue_length"`
	DirtyPages      int64          `json:"dirty_pages"`
	PageCacheHits   int64          `json:"page_cache_hits"`
	PageCacheMisses int64          `json:"page_cache_misses"`
	TaskStates      map[string]int `json:"task_states"`
}

// WriteSnapshot serializes snap as indented JSON and writes it to path
// atomically: a concurrent reader (another laylaosctl invocation, or a
// human tailing the file) never observes a partially written snapshot. This
// mirrors how gcsfuse persists its own on-disk state — a temp file renamed
// into place, never a direct truncate-and-write.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}
