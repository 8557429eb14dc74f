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
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// fakeDisk is an in-memory "disk" addressed by block number, used to verify
// the coalescing behavior of spec §8 scenario 1 without a real device.
type fakeDisk struct {
	blockSize int
	blocks    map[uint64][]byte
	calls     []driver.Request
	failNext  bool
}

func newFakeDisk(blockSize int) *fakeDisk {
	return &fakeDisk{blockSize: blockSize, blocks: make(map[uint64][]byte)}
}

func (d *fakeDisk) setBlock(n uint64, content byte) {
	b := bytes.Repeat([]byte{content}, d.blockSize)
	d.blocks[n] = b
}

func (d *fakeDisk) Strategy(ctx context.Context, req *driver.Request) (int, error) {
	d.calls = append(d.calls, *req)
	if d.failNext {
		d.failNext = false
		return 0, assert.AnError
	}
	switch req.Direction {
	case driver.Read:
		count := req.Length / d.blockSize
		start := uint64(req.Offset) / uint64(d.blockSize)
		for i := 0; i < count; i++ {
			b := d.blocks[start+uint64(i)]
			if b == nil {
				b = make([]byte, d.blockSize)
			}
			copy(req.Buf[i*d.blockSize:(i+1)*d.blockSize], b)
		}
		return req.Length, nil
	default:
		count := req.Length / d.blockSize
		start := uint64(req.Offset) / uint64(d.blockSize)
		for i := 0; i < count; i++ {
			cp := make([]byte, d.blockSize)
			copy(cp, req.Buf[i*d.blockSize:(i+1)*d.blockSize])
			d.blocks[start+uint64(i)] = cp
		}
		return req.Length, nil
	}
}

type fakeResolver struct {
	drv       driver.Driver
	blockSize int
	writable  bool
}

func (r *fakeResolver) Driver(device uint64) (driver.Driver, bool) { return r.drv, true }
func (r *fakeResolver) BlockSize(device uint64) int                { return r.blockSize }
func (r *fakeResolver) Writable(device uint64) bool                { return r.writable }

type fakeNode struct {
	device    uint64
	inode     uint64
	blockSize int
	blockMap  map[uint64]uint64
	locked    bool
	writable  bool
	size      int64
}

func (n *fakeNode) Device() uint64    { return n.device }
func (n *fakeNode) InodeNum() uint64  { return n.inode }
func (n *fakeNode) BlockSize() int    { return n.blockSize }
func (n *fakeNode) Size() int64       { return n.size }
func (n *fakeNode) Writable() bool    { return n.writable }
func (n *fakeNode) LockedByCaller(ctx context.Context) bool { return n.locked }
func (n *fakeNode) Bmap(ctx context.Context, logicalBlock uint64, flag fsops.BmapFlag) (uint64, error) {
	return n.blockMap[logicalBlock], nil
}

type noopClock struct{ t time.Time }

func (c noopClock) Now() time.Time { return c.t }

// TestGetCachedPage_ReadCoalescing is spec §8 scenario 1: an 8-block file
// whose blocks map to disk blocks {100..103, 120..123} should produce
// exactly two driver Strategy calls when a full page is read.
func TestGetCachedPage_ReadCoalescing(t *testing.T) {
	const blockSize = 512
	disk := newFakeDisk(blockSize)
	var want []byte
	blockMap := map[uint64]uint64{}
	disks := []uint64{100, 101, 102, 103, 120, 121, 122, 123}
	for i, db := range disks {
		disk.setBlock(db, byte('a'+i))
		blockMap[uint64(i)] = db
		want = append(want, bytes.Repeat([]byte{byte('a' + i)}, blockSize)...)
	}

	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cache := New(resolver, noopClock{}, DefaultConfig(), nil)
	node := &fakeNode{device: 1, inode: 7, blockSize: blockSize, blockMap: blockMap, writable: true}

	entry, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, want, entry.Frame.Data)
	require.Len(t, disk.calls, 2)
	assert.Equal(t, int64(100*blockSize), disk.calls[0].Offset)
	assert.Equal(t, 4*blockSize, disk.calls[0].Length)
	assert.Equal(t, int64(120*blockSize), disk.calls[1].Offset)
	assert.Equal(t, 4*blockSize, disk.calls[1].Length)
}

// TestGetCachedPage_ConcurrentAcquire is spec §8 scenario 2: two tasks
// racing to fill the same missing page see exactly one driver read and both
// end up holding a reference to the same frame.
func TestGetCachedPage_ConcurrentAcquire(t *testing.T) {
	const blockSize = 4096
	disk := newFakeDisk(blockSize)
	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cache := New(resolver, noopClock{}, DefaultConfig(), nil)
	node := &fakeNode{device: 1, inode: 7, blockSize: blockSize, blockMap: map[uint64]uint64{0: 50}, writable: true}

	var wg sync.WaitGroup
	entries := make([]*Entry, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
			assert.NoError(t, err)
			entries[i] = e
		}(i)
	}
	wg.Wait()

	require.Same(t, entries[0], entries[1])
	assert.Equal(t, int32(3), entries[0].Frame.ShareCount)

	var strategyCalls int32
	for _, c := range disk.calls {
		if c.Direction == driver.Read {
			strategyCalls++
		}
	}
	assert.Equal(t, int32(1), strategyCalls)
}

func TestSyncCachedPage_RecursiveLockReturnsEAgainAndAlwaysDirty(t *testing.T) {
	const blockSize = 4096
	disk := newFakeDisk(blockSize)
	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cache := New(resolver, noopClock{}, DefaultConfig(), nil)
	node := &fakeNode{device: 1, inode: 7, blockSize: blockSize, blockMap: map[uint64]uint64{0: 50}, writable: true, locked: true}

	entry, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
	require.NoError(t, err)

	_, err = cache.SyncCachedPage(context.Background(), entry, node)
	require.Error(t, err)
	assert.True(t, entry.Flags().has(AlwaysDirty))
}

func TestGetCachedPage_StaleRetryExhaustionPanics(t *testing.T) {
	const blockSize = 4096
	disk := newFakeDisk(blockSize)
	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cfg := DefaultConfig()
	cfg.MaxStaleRetries = 2
	cache := New(resolver, noopClock{}, cfg, nil)
	node := &fakeNode{device: 1, inode: 7, blockSize: blockSize, blockMap: map[uint64]uint64{0: 50}, writable: true}

	entry, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
	require.NoError(t, err)
	cache.ReleaseCachedPage(entry)

	// Pin the share count artificially high so reclaimStale can never evict
	// it - this simulates "someone is holding a reference to a stale frame
	// forever" (spec §9).
	cache.mu.Lock()
	entry.flags |= Stale
	entry.Frame.ShareCount = 5
	cache.mu.Unlock()

	assert.Panics(t, func() {
		_, _ = cache.GetCachedPage(context.Background(), 1, node, 0, 0)
	})
}

func TestGetCachedPage_StaleRetryExhaustionDowngradesToError(t *testing.T) {
	const blockSize = 4096
	disk := newFakeDisk(blockSize)
	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cfg := DefaultConfig()
	cfg.MaxStaleRetries = 2
	cfg.PanicOnReclaimExhaustion = false
	cache := New(resolver, noopClock{}, cfg, nil)
	node := &fakeNode{device: 1, inode: 7, blockSize: blockSize, blockMap: map[uint64]uint64{0: 50}, writable: true}

	entry, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
	require.NoError(t, err)
	cache.ReleaseCachedPage(entry)

	cache.mu.Lock()
	entry.flags |= Stale
	entry.Frame.ShareCount = 5
	cache.mu.Unlock()

	_, err = cache.GetCachedPage(context.Background(), 1, node, 0, 0)
	assert.Error(t, err)
}

func TestGetCachedPage_RawBlock(t *testing.T) {
	const blockSize = 512
	disk := newFakeDisk(blockSize)
	disk.setBlock(7, 'z')
	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cache := New(resolver, noopClock{}, DefaultConfig(), nil)

	entry, err := cache.GetCachedPage(context.Background(), 1, nil, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, byte('z'), entry.Frame.Data[0])
}

// blockingDisk delays its first Strategy call until released, so a test can
// deterministically observe a second GetCachedPage call arriving while the
// entry is still Busy (fill in flight) and unblocking once it clears.
type blockingDisk struct {
	*fakeDisk
	proceed   chan struct{}
	firstCall int32
}

func (d *blockingDisk) Strategy(ctx context.Context, req *driver.Request) (int, error) {
	if atomic.CompareAndSwapInt32(&d.firstCall, 0, 1) {
		<-d.proceed
	}
	return d.fakeDisk.Strategy(ctx, req)
}

func TestGetCachedPage_BlocksOnBusyThenWakes(t *testing.T) {
	const blockSize = 4096
	disk := &blockingDisk{fakeDisk: newFakeDisk(blockSize), proceed: make(chan struct{})}
	resolver := &fakeResolver{drv: disk, blockSize: blockSize, writable: true}
	cache := New(resolver, noopClock{}, DefaultConfig(), nil)
	node := &fakeNode{device: 1, inode: 7, blockSize: blockSize, blockMap: map[uint64]uint64{0: 50}, writable: true}

	var firstDone, secondDone int32
	go func() {
		_, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
		assert.NoError(t, err)
		atomic.StoreInt32(&firstDone, 1)
	}()

	// Give the first goroutine time to insert the Busy placeholder and
	// block inside Strategy.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, cache.Len())

	go func() {
		_, err := cache.GetCachedPage(context.Background(), 1, node, 0, 0)
		assert.NoError(t, err)
		atomic.StoreInt32(&secondDone, 1)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&firstDone))
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondDone))

	close(disk.proceed)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&firstDone))
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondDone))
}
