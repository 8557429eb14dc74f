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

	"github.com/jpillora/backoff"

	"github.com/laylaos/kernelcore/errno"
)

// GetCachedPage returns a page entry with the frame's share count
// incremented for the caller, per spec §4.1's four-step algorithm. The
// returned entry is not Busy: Busy is held only while a fill is in flight,
// so several callers may hold the same entry at once.
// node is nil for a raw-block request. offset is aligned down to the page
// boundary by the caller's convention (callers pass the already-aligned
// offset, as vfs's generic read/write does).
func (c *Cache) GetCachedPage(ctx context.Context, device uint64, node FileBacking, offset int64, flags GetFlags) (*Entry, error) {
	key := keyFor(device, node, offset)

	bo := &backoff.Backoff{Min: time.Millisecond, Max: 50 * time.Millisecond, Factor: 2, Jitter: true}
	staleRetries := 0

	for {
		c.mu.Lock()
		e, ok := c.entries[key]

		switch {
		case ok && e.flags.has(Stale):
			// Step 1: stale-reclaim. Drop the lock, reclaim, optionally
			// yield, retry. A bounded number of retries guards against a
			// reclaim bug that never actually frees the stale frame.
			c.mu.Unlock()
			if flags&IgnoreStale != 0 {
				return nil, nil
			}
			staleRetries++
			if staleRetries > c.cfg.MaxStaleRetries {
				if c.cfg.PanicOnReclaimExhaustion {
					panic("pcache: stale-reclaim retry threshold exceeded, a reference to a stale frame is held forever")
				}
				return nil, errno.ENOMEM
			}
			c.reclaimStale(ctx, key)
			time.Sleep(bo.Duration())
			continue

		case ok && e.flags.has(Busy):
			// Step 2: mark Wanted and sleep on the entry.
			e.flags |= Wanted
			ch := e.wakeChan()
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue

		case ok:
			// Step 3: idle and present. Busy guards I/O in flight, not
			// ownership, so multiple callers may hold a share of the same
			// idle entry concurrently (spec §8 scenario 2).
			c.hit()
			e.Frame.ShareCount++
			e.AccessTick = c.tick()
			e.OwningTask = taskFromContext(ctx)
			c.mu.Unlock()
			return e, nil

		case flags&PeekOnly != 0:
			c.mu.Unlock()
			return nil, nil

		default:
			// Step 4: missing. Insert a Busy placeholder, drop the lock,
			// and fill it.
			c.miss()
			e = &Entry{
				Key:   key,
				Frame: &Frame{Data: make([]byte, PageSize), ShareCount: 1},
				flags: Busy,
			}
			c.entries[key] = e
			c.mu.Unlock()

			if err := c.fill(ctx, e, node, flags); err != nil {
				c.mu.Lock()
				delete(c.entries, key)
				c.mu.Unlock()
				return nil, err
			}

			// Filling is done; clear Busy and wake anyone who queued up
			// behind it before handing the now-idle, shared entry back.
			c.mu.Lock()
			wasWanted := e.flags.has(Wanted)
			e.flags &^= Busy | Wanted
			if wasWanted {
				e.notify()
			}
			e.Frame.ShareCount++
			e.AccessTick = c.tick()
			e.OwningTask = taskFromContext(ctx)
			c.mu.Unlock()
			return e, nil
		}
	}
}

// wakeChan returns the entry's current wake channel, creating it lazily.
// Must be called with Cache.mu held.
func (e *Entry) wakeChan() chan struct{} {
	if e.wake == nil {
		e.wake = newWakeChan()
	}
	return e.wake
}

// notify wakes anyone sleeping on the entry by closing and replacing its
// wake channel. Must be called with Cache.mu held.
func (e *Entry) notify() {
	if e.wake != nil {
		close(e.wake)
		e.wake = nil
	}
}

// ReleaseCachedPage clears Busy (and Wanted), decrements the frame's share
// count, and wakes sleepers if Wanted was set (spec §4.1).
func (c *Cache) ReleaseCachedPage(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasWanted := e.flags.has(Wanted)
	e.flags &^= Busy | Wanted
	e.Frame.ShareCount--
	if wasWanted {
		e.notify()
	}
}

// MarkDirty flags e for writeback on the next flush sweep (spec §4.1:
// writes dirty the page they touched instead of writing through
// synchronously).
func (c *Cache) MarkDirty(e *Entry) {
	c.mu.Lock()
	e.flags |= Dirty
	c.mu.Unlock()
}

func keyFor(device uint64, node FileBacking, offset int64) Key {
	if node == nil {
		return Key{Device: device, Offset: offset}
	}
	return Key{Device: node.Device(), HasInode: true, InodeNum: node.InodeNum(), Offset: offset}
}

// taskContextKey is used to thread the calling task's id through for
// diagnostics (spec §3 "owning-task id (for diagnostics)"). The task package
// sets this in the context it passes down through vfs into pcache.
type taskContextKeyType struct{}

var taskContextKey = taskContextKeyType{}

func ContextWithTask(ctx context.Context, taskID uint64) context.Context {
	return context.WithValue(ctx, taskContextKey, taskID)
}

func taskFromContext(ctx context.Context) uint64 {
	return TaskFromContext(ctx)
}

// TaskFromContext recovers the task id set by ContextWithTask, or 0 if none
// was set. Exported so vfs can correlate its own inode-lock ownership with
// the same task id the page cache records on each entry.
func TaskFromContext(ctx context.Context) uint64 {
	v, _ := ctx.Value(taskContextKey).(uint64)
	return v
}
