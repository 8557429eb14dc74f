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

// Package kmetrics is the kernel core's instrumentation facade: one
// MetricHandle interface, composed of a sub-interface per subsystem, with a
// real OpenTelemetry/Prometheus implementation and a no-op implementation
// that a test or a short-lived tool can use instead of standing up an
// exporter. Callers depend only on MetricHandle, never on its concrete
// constructors.
package kmetrics

import (
	"context"
	"errors"
	"net/http"
)

// PageCacheMetricHandle covers the page cache's hit/miss/eviction counters
// spec §2 names (GetCachedPage, the sweep/flush daemon).
type PageCacheMetricHandle interface {
	PageCacheLookup(ctx context.Context, hit bool)
	PageCacheEviction(ctx context.Context, reason string, count int64)
	PageCacheDirtyPages(ctx context.Context, delta int64)
}

// SyscallMetricHandle covers the dispatcher's per-syscall counters and
// latency, spec §6.
type SyscallMetricHandle interface {
	SyscallCount(ctx context.Context, name string, errno int)
	SyscallLatency(ctx context.Context, name string, seconds float64)
}

// SignalMetricHandle covers signal generation and delivery, spec §4.6.
type SignalMetricHandle interface {
	SignalGenerated(ctx context.Context, signo int)
	SignalDelivered(ctx context.Context, signo int, action string)
}

// SchedulerMetricHandle covers task lifecycle and scheduling decisions,
// spec §4.
type SchedulerMetricHandle interface {
	TaskStateTransition(ctx context.Context, from, to string)
	RunQueueLength(ctx context.Context, length int64)
}

// MetricHandle is the full surface every kernel subsystem instruments
// against. A NewOTelMetrics or NewNoopMetrics value satisfies it.
type MetricHandle interface {
	PageCacheMetricHandle
	SyscallMetricHandle
	SignalMetricHandle
	SchedulerMetricHandle

	// Close releases any exporter resources. Safe to call on a no-op handle.
	Close(ctx context.Context) error
}

// HTTPExposable is implemented by MetricHandle values that back a scrape
// endpoint. NewOTelMetrics satisfies it; NewNoopMetrics does not, since it
// has no exporter to serve.
type HTTPExposable interface {
	Handler() http.Handler
}

// ShutdownFn is the shape every subsystem's teardown hook takes, so a boot
// entrypoint can collect one per component and run them all on exit.
type ShutdownFn func(ctx context.Context) error

// JoinShutdownFn composes N shutdown hooks into one that runs all of them
// and joins their errors, regardless of whether an earlier one failed.
func JoinShutdownFn(fns ...ShutdownFn) ShutdownFn {
	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
