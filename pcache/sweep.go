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

package pcache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// evictable reports whether e may be removed from the table right now:
// never while Busy, Wanted, or shared into a task's address space (share
// count > 1 is how shared mmap keeps a page resident, spec §4.1 "Eviction
// policy").
func evictable(e *Entry) bool {
	return !e.flags.has(Busy) && !e.flags.has(Wanted) && e.Frame.ShareCount <= 1
}

// reclaimStale removes a stale entry from the table if nobody else holds it.
// If it is still held, this is a no-op; the caller's retry loop will try
// again next time around (spec §4.1 step 1).
func (c *Cache) reclaimStale(ctx context.Context, key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.flags.has(Stale) {
		return
	}
	if !evictable(e) {
		return
	}
	delete(c.entries, key)
	c.eviction()
}

// RemoveOldCachedPages evicts entries on device older than olderThan,
// flushing dirty ones first (spec §4.1 sweep variants).
func (c *Cache) RemoveOldCachedPages(ctx context.Context, device uint64, olderThan time.Duration, nodes NodeLookup) {
	cutoff := c.tick() - olderThan.Nanoseconds()
	c.sweep(ctx, nodes, func(e *Entry) bool {
		return e.Key.Device == device && e.AccessTick < cutoff
	})
}

// RemoveStaleCachedPages evicts every evictable Stale entry, regardless of
// age (spec: "Stale entries are evicted at their first opportunity").
func (c *Cache) RemoveStaleCachedPages(ctx context.Context) {
	c.sweep(ctx, nil, func(e *Entry) bool { return e.flags.has(Stale) })
}

// RemoveUnreferencedCachedPages evicts entries with share count <= 1,
// optionally restricted to a single node (nil node means all nodes).
func (c *Cache) RemoveUnreferencedCachedPages(ctx context.Context, node FileBacking) {
	c.sweep(ctx, nil, func(e *Entry) bool {
		if node != nil {
			return e.Key.HasInode && e.Key.Device == node.Device() && e.Key.InodeNum == node.InodeNum()
		}
		return true
	})
}

// RemoveCachedDiskPages evicts every entry for device (file-backed or raw),
// except dirty entries that are not Stale, which it has no NodeLookup to flush.
func (c *Cache) RemoveCachedDiskPages(ctx context.Context, device uint64) {
	c.sweep(ctx, nil, func(e *Entry) bool { return e.Key.Device == device })
}

// RemoveCachedNodePages evicts every entry backed by node, except dirty
// entries that are not Stale, which it has no NodeLookup to flush.
func (c *Cache) RemoveCachedNodePages(ctx context.Context, node FileBacking) {
	c.sweep(ctx, nil, func(e *Entry) bool {
		return e.Key.HasInode && e.Key.Device == node.Device() && e.Key.InodeNum == node.InodeNum()
	})
}

// NodeLookup resolves a Key back to its FileBacking, needed by sweeps that
// must flush dirty pages (which requires calling back into bmap). A nil
// NodeLookup means "don't flush dirty entries that match, just skip them" -
// used by sweeps that only target already-stale or already-clean entries.
// A dirty file-backed entry whose node Lookup cannot resolve is skipped the
// same way. A Stale entry is evicted whether or not it is dirty.
type NodeLookup interface {
	Lookup(device uint64, inodeNum uint64) (FileBacking, bool)
}

// sweep walks the table once, evicting entries matched by pred that are
// evictable; dirty matched entries are flushed first when nodes is non-nil.
// Per spec §5, the writeback path drops the table lock before calling
// SyncCachedPage (which takes the inode lock) and restarts the sweep from
// scratch afterward, since the map may have mutated underneath it.
func (c *Cache) sweep(ctx context.Context, nodes NodeLookup, pred func(*Entry) bool) {
restart:
	c.mu.Lock()
	for key, e := range c.entries {
		if !pred(e) {
			continue
		}
		if e.flags.has(Busy) || e.flags.has(Wanted) {
			continue
		}

		if e.flags.has(Dirty) && nodes != nil {
			var node FileBacking
			if e.Key.HasInode {
				var found bool
				if node, found = nodes.Lookup(e.Key.Device, e.Key.InodeNum); !found {
					continue
				}
			}
			e.flags |= Busy
			c.mu.Unlock()
			if _, err := c.SyncCachedPage(ctx, e, node); err == nil {
				c.mu.Lock()
				e.flags &^= Dirty
				e.flags &^= Busy
				e.notify()
				c.mu.Unlock()
			} else {
				c.mu.Lock()
				e.flags &^= Busy
				e.notify()
				c.mu.Unlock()
			}
			goto restart
		}

		if e.flags.has(Dirty) && !e.flags.has(Stale) {
			continue
		}

		if evictable(e) {
			delete(c.entries, key)
			c.eviction()
		}
	}
	c.mu.Unlock()
}

// FlushCachedPages is the periodic call target (spec §4.1): AlwaysDirty
// entries are re-armed Dirty, Dirty entries are flushed, and entries not
// accessed within Config.EvictAfter are reclaimed. allDevices selects every
// device; otherwise only device's entries are visited.
func (c *Cache) FlushCachedPages(ctx context.Context, device uint64, allDevices bool, nodes NodeLookup) {
	c.mu.Lock()
	for _, e := range c.entries {
		if !allDevices && e.Key.Device != device {
			continue
		}
		if e.flags.has(AlwaysDirty) {
			e.flags |= Dirty
		}
	}
	c.mu.Unlock()

	cutoff := c.tick() - c.cfg.EvictAfter.Nanoseconds()
	c.sweep(ctx, nodes, func(e *Entry) bool {
		if !allDevices && e.Key.Device != device {
			return false
		}
		return e.flags.has(Dirty) || e.AccessTick < cutoff
	})
}

// Flusher periodically calls FlushCachedPages, rate-limited so a burst of
// manual syncs doesn't starve it (spec: "a periodic call target"). Each tick
// fans the independent sweep variants out concurrently, bounded by a
// semaphore so a slow writeback on one device doesn't delay the stale-only
// sweep on another.
type Flusher struct {
	cache   *Cache
	nodes   NodeLookup
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	stop    chan struct{}
}

func NewFlusher(cache *Cache, nodes NodeLookup, interval time.Duration) *Flusher {
	return &Flusher{
		cache:   cache,
		nodes:   nodes,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		sem:     semaphore.NewWeighted(4),
		stop:    make(chan struct{}),
	}
}

func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f.limiter.Allow() {
				f.tick(ctx)
			}
		}
	}
}

func (f *Flusher) tick(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer f.sem.Release(1)
		f.cache.FlushCachedPages(ctx, 0, true, f.nodes)
		return nil
	})
	g.Go(func() error {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer f.sem.Release(1)
		f.cache.RemoveStaleCachedPages(ctx)
		return nil
	})
	_ = g.Wait()
}

func (f *Flusher) Stop() { close(f.stop) }
