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

// PageCacheSink adapts a MetricHandle to pcache.MetricsSink's narrow,
// argument-less interface. pcache is deliberately kept unaware of
// kmetrics/OTel (spec §1's layering: the cache doesn't know who is watching
// it), so the adaptation happens on this side instead.
type PageCacheSink struct {
	Handle MetricHandle
}

func (s PageCacheSink) PageCacheHit()      { s.Handle.PageCacheLookup(context.Background(), true) }
func (s PageCacheSink) PageCacheMiss()     { s.Handle.PageCacheLookup(context.Background(), false) }
func (s PageCacheSink) PageCacheEviction() { s.Handle.PageCacheEviction(context.Background(), "sweep", 1) }
func (s PageCacheSink) PageCacheStale()    { s.Handle.PageCacheEviction(context.Background(), "stale", 1) }
