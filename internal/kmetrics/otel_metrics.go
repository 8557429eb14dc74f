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
	"errors"
	"net/http"
	"sync"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	pageCacheMeter = otel.Meter("laylaos/pcache")
	syscallMeter   = otel.Meter("laylaos/syscall")
	signalMeter    = otel.Meter("laylaos/signal")
	schedMeter     = otel.Meter("laylaos/sched")
)

var syscallLatencyBuckets = sdkmetric.WithExplicitBucketBoundaries(
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
)

// loadOrStoreAttributeOption caches the attribute.Set built from key so a
// hot path (e.g. every syscall return) doesn't allocate a new attribute set
// on every call; it builds one the first time a given key is seen and reuses
// it afterward, the same trade gcsfuse's metrics package makes for its own
// high-cardinality-but-bounded attribute keys.
func loadOrStoreAttributeOption[K comparable](mp *sync.Map, key K, gen func() attribute.Set) metric.MeasurementOption {
	if v, ok := mp.Load(key); ok {
		return metric.WithAttributeSet(v.(attribute.Set))
	}
	set := gen()
	mp.Store(key, set)
	return metric.WithAttributeSet(set)
}

// otelMetrics is the real MetricHandle: every method records against an
// OpenTelemetry instrument exported through a Prometheus pull endpoint.
type otelMetrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	pageCacheLookups   metric.Int64Counter
	pageCacheEvictions metric.Int64Counter
	pageCacheDirty     metric.Int64UpDownCounter

	syscallCounts    metric.Int64Counter
	syscallLatencies metric.Float64Histogram

	signalsGenerated metric.Int64Counter
	signalsDelivered metric.Int64Counter

	taskTransitions metric.Int64Counter
	runQueueLength  metric.Int64Gauge

	hitAttrs       sync.Map // bool -> attribute.Set
	evictAttrs     sync.Map // string -> attribute.Set
	syscallAttrs   sync.Map // syscallKey -> attribute.Set
	signalGenAttrs sync.Map // int -> attribute.Set
	signalDelAttrs sync.Map // signalDelKey -> attribute.Set
	transAttrs     sync.Map // transKey -> attribute.Set
}

type syscallKey struct {
	name  string
	errno int
}

type signalDelKey struct {
	signo  int
	action string
}

type transKey struct {
	from, to string
}

// NewOTelMetrics builds every meter, counter and histogram the kernel core
// reports against and wires them to a Prometheus exporter, returning the
// populated MetricHandle; its Close shuts the meter provider down.
// Construction errors from independent instruments are aggregated rather
// than failing fast on the first one, so a caller sees every misconfigured
// instrument in one error instead of fixing them one at a time.
func NewOTelMetrics() (MetricHandle, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &otelMetrics{provider: provider, registry: registry}

	var errs []error
	m.pageCacheLookups, err = pageCacheMeter.Int64Counter("pcache.lookups",
		metric.WithDescription("page cache lookups by hit/miss"))
	errs = append(errs, err)
	m.pageCacheEvictions, err = pageCacheMeter.Int64Counter("pcache.evictions",
		metric.WithDescription("page cache entries evicted, by reason"))
	errs = append(errs, err)
	m.pageCacheDirty, err = pageCacheMeter.Int64UpDownCounter("pcache.dirty_pages",
		metric.WithDescription("current count of dirty cache entries"))
	errs = append(errs, err)

	m.syscallCounts, err = syscallMeter.Int64Counter("syscall.count",
		metric.WithDescription("syscalls dispatched, by name and return errno"))
	errs = append(errs, err)
	m.syscallLatencies, err = syscallMeter.Float64Histogram("syscall.latency_seconds",
		metric.WithDescription("syscall dispatch latency"), syscallLatencyBuckets)
	errs = append(errs, err)

	m.signalsGenerated, err = signalMeter.Int64Counter("signal.generated",
		metric.WithDescription("signals queued for delivery, by signal number"))
	errs = append(errs, err)
	m.signalsDelivered, err = signalMeter.Int64Counter("signal.delivered",
		metric.WithDescription("signals delivered, by signal number and disposition"))
	errs = append(errs, err)

	m.taskTransitions, err = schedMeter.Int64Counter("sched.task_transitions",
		metric.WithDescription("task state transitions, by from/to state"))
	errs = append(errs, err)
	m.runQueueLength, err = schedMeter.Int64Gauge("sched.run_queue_length",
		metric.WithDescription("current run queue length"))
	errs = append(errs, err)

	if joined := errors.Join(errs...); joined != nil {
		return nil, joined
	}
	return m, nil
}

func (m *otelMetrics) PageCacheLookup(ctx context.Context, hit bool) {
	opt := loadOrStoreAttributeOption(&m.hitAttrs, hit, func() attribute.Set {
		return attribute.NewSet(attribute.Bool("hit", hit))
	})
	m.pageCacheLookups.Add(ctx, 1, opt)
}

func (m *otelMetrics) PageCacheEviction(ctx context.Context, reason string, count int64) {
	opt := loadOrStoreAttributeOption(&m.evictAttrs, reason, func() attribute.Set {
		return attribute.NewSet(attribute.String("reason", reason))
	})
	m.pageCacheEvictions.Add(ctx, count, opt)
}

func (m *otelMetrics) PageCacheDirtyPages(ctx context.Context, delta int64) {
	m.pageCacheDirty.Add(ctx, delta)
}

func (m *otelMetrics) SyscallCount(ctx context.Context, name string, errno int) {
	key := syscallKey{name: name, errno: errno}
	opt := loadOrStoreAttributeOption(&m.syscallAttrs, key, func() attribute.Set {
		return attribute.NewSet(attribute.String("name", name), attribute.Int("errno", errno))
	})
	m.syscallCounts.Add(ctx, 1, opt)
}

func (m *otelMetrics) SyscallLatency(ctx context.Context, name string, seconds float64) {
	m.syscallLatencies.Record(ctx, seconds, metric.WithAttributes(attribute.String("name", name)))
}

func (m *otelMetrics) SignalGenerated(ctx context.Context, signo int) {
	opt := loadOrStoreAttributeOption(&m.signalGenAttrs, signo, func() attribute.Set {
		return attribute.NewSet(attribute.Int("signo", signo))
	})
	m.signalsGenerated.Add(ctx, 1, opt)
}

func (m *otelMetrics) SignalDelivered(ctx context.Context, signo int, action string) {
	key := signalDelKey{signo: signo, action: action}
	opt := loadOrStoreAttributeOption(&m.signalDelAttrs, key, func() attribute.Set {
		return attribute.NewSet(attribute.Int("signo", signo), attribute.String("action", action))
	})
	m.signalsDelivered.Add(ctx, 1, opt)
}

func (m *otelMetrics) TaskStateTransition(ctx context.Context, from, to string) {
	key := transKey{from: from, to: to}
	opt := loadOrStoreAttributeOption(&m.transAttrs, key, func() attribute.Set {
		return attribute.NewSet(attribute.String("from", from), attribute.String("to", to))
	})
	m.taskTransitions.Add(ctx, 1, opt)
}

func (m *otelMetrics) RunQueueLength(ctx context.Context, length int64) {
	m.runQueueLength.Record(ctx, length)
}

func (m *otelMetrics) Close(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// Handler exposes the Prometheus scrape endpoint backing this handle's
// instruments. Callers type-assert MetricHandle against HTTPExposable
// rather than depending on *otelMetrics directly, since NewNoopMetrics has
// no endpoint to serve.
func (m *otelMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
