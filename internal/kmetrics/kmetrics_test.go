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
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetricsDiscardsEverything(t *testing.T) {
	h := NewNoopMetrics()
	ctx := context.Background()

	h.PageCacheLookup(ctx, true)
	h.PageCacheEviction(ctx, "lru", 3)
	h.PageCacheDirtyPages(ctx, -1)
	h.SyscallCount(ctx, "read", 0)
	h.SyscallLatency(ctx, "read", 0.002)
	h.SignalGenerated(ctx, 17)
	h.SignalDelivered(ctx, 17, "handled")
	h.TaskStateTransition(ctx, "RUNNING", "SLEEPING")
	h.RunQueueLength(ctx, 4)

	assert.NoError(t, h.Close(ctx))
}

func TestOTelMetricsRecordsAcrossAllSubsystems(t *testing.T) {
	h, err := NewOTelMetrics()
	require.NoError(t, err)
	defer h.Close(context.Background())

	ctx := context.Background()
	// Exercise every method on the real implementation; a panic or a nil
	// instrument would fail the test even without inspecting the exported
	// Prometheus samples.
	h.PageCacheLookup(ctx, true)
	h.PageCacheLookup(ctx, false)
	h.PageCacheEviction(ctx, "stale", 2)
	h.PageCacheDirtyPages(ctx, 5)
	h.SyscallCount(ctx, "open", 0)
	h.SyscallCount(ctx, "open", 2)
	h.SyscallLatency(ctx, "open", 0.0005)
	h.SignalGenerated(ctx, 9)
	h.SignalDelivered(ctx, 9, "terminate")
	h.TaskStateTransition(ctx, "READY", "RUNNING")
	h.RunQueueLength(ctx, 2)
}

func TestJoinShutdownFnAggregatesErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	fn := JoinShutdownFn(
		func(ctx context.Context) error { return errA },
		nil,
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errB },
	)

	err := fn(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errA))
	assert.True(t, errors.Is(err, errB))
}

func TestWriteSnapshotRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.json")

	snap := Snapshot{
		RunQueueLength:  3,
		DirtyPages:      7,
		PageCacheHits:   100,
		PageCacheMisses: 4,
		TaskStates:      map[string]int{"RUNNING": 1, "SLEEPING": 2},
	}
	require.NoError(t, WriteSnapshot(path, snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, snap.RunQueueLength, got.RunQueueLength)
	assert.Equal(t, snap.TaskStates, got.TaskStates)
}
