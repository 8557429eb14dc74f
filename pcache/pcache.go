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

// Package pcache implements the process-wide, hash-indexed page cache (spec
// §4.1): fixed-size pages keyed by (device, inode-or-none, offset), with
// busy/dirty/stale/wanted lifecycle, shared-frame refcounting, and
// writeback. Every read/write above the driver layer goes through here.
package pcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// PageSize is the fixed page size the cache deals in. Entries never cover
// more than one page (spec §3: "length (≤ one page)").
const PageSize = 4096

// Flag is the page-cache entry state bitset (spec §3).
type Flag uint32

const (
	Busy Flag = 1 << iota
	Wanted
	Dirty
	AlwaysDirty
	Stale
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Key identifies one page-cache entry. HasInode distinguishes file-backed
// pages from raw-block pages (spec §3: "inode-or-NONE"); when false, Offset
// is a block number rather than a byte offset (spec §4.1 "Fill algorithm
// (raw block)").
type Key struct {
	Device   uint64
	HasInode bool
	InodeNum uint64
	Offset   int64
}

func (k Key) String() string {
	if !k.HasInode {
		return fmt.Sprintf("dev%d:blk%d", k.Device, k.Offset)
	}
	return fmt.Sprintf("dev%d:ino%d:off%d", k.Device, k.InodeNum, k.Offset)
}

// Frame stands in for the physical/kernel-virtual page frame backing an
// entry. ShareCount is >= 1 while the entry exists (the cache itself holds
// one share) and drops to exactly 1 immediately before the entry is released
// from memory (spec §3 invariant b).
type Frame struct {
	Data       []byte
	ShareCount int32 // guarded by the owning Cache's mutex
}

// FileBacking is the narrow view of an inode the page cache needs in order
// to fill and write back a file-backed page. vfs.Inode implements this; the
// page cache never imports vfs, avoiding a dependency cycle (vfs imports
// pcache for generic read/write).
type FileBacking interface {
	Device() uint64
	InodeNum() uint64
	BlockSize() int
	Size() int64
	Writable() bool
	Bmap(ctx context.Context, logicalBlock uint64, flag fsops.BmapFlag) (uint64, error)
	// LockedByCaller reports whether the calling goroutine already holds this
	// inode's lock, so SyncCachedPage can detect the recursive-lock case
	// (spec §4.1 "Recursive-lock avoidance") instead of deadlocking.
	LockedByCaller(ctx context.Context) bool
}

// DeviceResolver lets the page cache reach a driver and its block size by
// device id without depending on whatever subsystem owns device
// registration (spec §6 "Driver contract").
type DeviceResolver interface {
	Driver(device uint64) (driver.Driver, bool)
	BlockSize(device uint64) int
	Writable(device uint64) bool
}

// GetFlags controls GetCachedPage's behavior (spec §4.1).
type GetFlags uint32

const (
	PeekOnly GetFlags = 1 << iota
	IgnoreStale
	AutoAlloc
)

// Entry is one page-cache record (spec §3).
type Entry struct {
	Key        Key
	Frame      *Frame
	flags      Flag
	AccessTick int64
	OwningTask uint64

	wake chan struct{} // closed and replaced whenever flags change; waiters re-check
}

func (e *Entry) Flags() Flag { return e.flags }

func newWakeChan() chan struct{} { return make(chan struct{}) }

// Config bounds the cache's behavior.
type Config struct {
	// MaxStaleRetries bounds how many times GetCachedPage will loop through
	// stale-reclaim before giving up. Spec §4.1/§9: exceeding it is a
	// liveness assertion violation - by default we panic, since something is
	// holding a stale frame forever. Set PanicOnReclaimExhaustion=false to
	// downgrade to returning an error, as the spec explicitly permits.
	MaxStaleRetries          int
	PanicOnReclaimExhaustion bool
	// EvictAfter is the age-based eviction threshold (spec §4.1 "two
	// minutes" example).
	EvictAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxStaleRetries:          1000,
		PanicOnReclaimExhaustion: true,
		EvictAfter:               2 * time.Minute,
	}
}

// Cache is the page cache table. A single mutex stands in for spec §5's
// "global page-cache table lock"; no suspension is allowed while it is held
// (callers drop it before sleeping on an entry or doing driver I/O).
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	devices DeviceResolver
	clock   clockSource
	cfg     Config

	metrics MetricsSink
}

// clockSource is satisfied by clock.Clock; declared narrowly here to avoid an
// import of the clock package's concrete types beyond what's needed.
type clockSource interface {
	Now() time.Time
}

// MetricsSink receives page-cache events for internal/kmetrics to export. A
// nil sink disables instrumentation.
type MetricsSink interface {
	PageCacheHit()
	PageCacheMiss()
	PageCacheEviction()
	PageCacheStale()
}

func New(devices DeviceResolver, clk clockSource, cfg Config, metrics MetricsSink) *Cache {
	return &Cache{
		entries: make(map[Key]*Entry),
		devices: devices,
		clock:   clk,
		cfg:     cfg,
		metrics: metrics,
	}
}

func (c *Cache) tick() int64 { return c.clock.Now().UnixNano() }

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.PageCacheHit()
	}
}
func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.PageCacheMiss()
	}
}
func (c *Cache) eviction() {
	if c.metrics != nil {
		c.metrics.PageCacheEviction()
	}
}
func (c *Cache) stale() {
	if c.metrics != nil {
		c.metrics.PageCacheStale()
	}
}

// Len reports the number of entries currently cached, for tests and
// diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
