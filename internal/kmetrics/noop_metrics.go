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

import "context"

type noopMetrics struct{}

// NewNoopMetrics returns a MetricHandle that discards everything. Tests,
// and laylaosd when its config disables metrics, use this instead of
// standing up an exporter.
func NewNoopMetrics() MetricHandle {
	return noopMetrics{}
}

func (noopMetrics) PageCacheLookup(ctx context.Context, hit bool)                     {}
func (noopMetrics) PageCacheEviction(ctx context.Context, reason string, count int64)  {}
func (noopMetrics) PageCacheDirtyPages(ctx context.Context, delta int64)               {}
func (noopMetrics) SyscallCount(ctx context.Context, name string, errno int)           {}
func (noopMetrics) SyscallLatency(ctx context.Context, name string, seconds float64)   {}
func (noopMetrics) SignalGenerated(ctx context.Context, signo int)                     {}
func (noopMetrics) SignalDelivered(ctx context.Context, signo int, action string)      {}
func (noopMetrics) TaskStateTransition(ctx context.Context, from, to string)           {}
func (noopMetrics) RunQueueLength(ctx context.Context, length int64)                  {}
func (noopMetrics) Close(ctx context.Context) error                                   { return nil }
