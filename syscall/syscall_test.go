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

package syscall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/laylaos/kernelcore/clock"
	"github.com/laylaos/kernelcore/driver"
	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/ipc/shm"
	"github.com/laylaos/kernelcore/mm"
	"github.com/laylaos/kernelcore/pcache"
	"github.com/laylaos/kernelcore/signal"
	"github.com/laylaos/kernelcore/task"
	"github.com/laylaos/kernelcore/vfs"
	"github.com/laylaos/kernelcore/vfs/fsops"
)

// fakeFS is the same minimal in-memory fsops.FilesystemOps shape vfs's own
// tests use, rebuilt here since the vfs package's copy is unexported. Only
// what the handlers under test actually drive is implemented.
type direntRecord struct {
	name    string
	inode   uint64
	deleted bool
}

type fakeInode struct {
	node    fsops.Node
	entries []direntRecord
}

type fakeFS struct {
	mu        sync.Mutex
	device    uint64
	nodes     map[uint64]*fakeInode
	nextInode uint64
}

const fakeRootInode = 1

func newFakeFS(device uint64) *fakeFS {
	fs := &fakeFS{device: device, nodes: make(map[uint64]*fakeInode), nextInode: fakeRootInode + 1}
	fs.nodes[fakeRootInode] = &fakeInode{
		node:    fsops.Node{Device: device, InodeNum: fakeRootInode, Mode: vfs.ModeDir | 0755, Nlink: 2},
		entries: []direntRecord{},
	}
	return fs
}

func (fs *fakeFS) ReadInode(ctx context.Context, n *fsops.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[n.InodeNum]
	if !ok {
		return errno.ENOENT
	}
	*n = fn.node
	return nil
}

func (fs *fakeFS) WriteInode(ctx context.Context, n *fsops.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[n.InodeNum]
	if !ok {
		return errno.ENOENT
	}
	fn.node = *n
	return nil
}

func (fs *fakeFS) AllocInode(ctx context.Context, parent *fsops.Node, mode uint32) (*fsops.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	id := fs.nextInode
	fs.nextInode++
	fn := &fakeInode{node: fsops.Node{Device: fs.device, InodeNum: id, Mode: mode, Nlink: 1}}
	if mode&vfs.ModeDir != 0 {
		fn.node.Nlink = 2
		fn.entries = []direntRecord{}
	}
	fs.nodes[id] = fn
	cp := fn.node
	return &cp, nil
}

func (fs *fakeFS) FreeInode(ctx context.Context, n *fsops.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.nodes, n.InodeNum)
	return nil
}

func (fs *fakeFS) Bmap(ctx context.Context, n *fsops.Node, logicalBlock uint64, blockSize int, flag fsops.BmapFlag) (uint64, error) {
	return logicalBlock + 1, nil
}

func (fs *fakeFS) ReadSymlink(ctx context.Context, n *fsops.Node) (string, error) { return "", nil }
func (fs *fakeFS) WriteSymlink(ctx context.Context, n *fsops.Node, target string) error {
	return nil
}

func (fs *fakeFS) FindDir(ctx context.Context, dir *fsops.Node, name string) (fsops.Dirent, fsops.DirPage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[dir.InodeNum]
	if !ok || fn.entries == nil {
		return fsops.Dirent{}, fsops.DirPage{}, errno.ENOTDIR
	}
	for i, e := range fn.entries {
		if !e.deleted && e.name == name {
			return fsops.Dirent{Name: e.name, InodeNum: e.inode}, fsops.DirPage{EntryOffset: i}, nil
		}
	}
	return fsops.Dirent{}, fsops.DirPage{}, errno.ENOENT
}

func (fs *fakeFS) FindDirByInode(ctx context.Context, dir *fsops.Node, inodeNum uint64) (fsops.Dirent, fsops.DirPage, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[dir.InodeNum]
	if !ok || fn.entries == nil {
		return fsops.Dirent{}, fsops.DirPage{}, errno.ENOTDIR
	}
	for i, e := range fn.entries {
		if !e.deleted && e.inode == inodeNum {
			return fsops.Dirent{Name: e.name, InodeNum: e.inode}, fsops.DirPage{EntryOffset: i}, nil
		}
	}
	return fsops.Dirent{}, fsops.DirPage{}, errno.ENOENT
}

func (fs *fakeFS) AddDir(ctx context.Context, dir *fsops.Node, child *fsops.Node, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[dir.InodeNum]
	if !ok || fn.entries == nil {
		return errno.ENOTDIR
	}
	for _, e := range fn.entries {
		if !e.deleted && e.name == name {
			return errno.EEXIST
		}
	}
	fn.entries = append(fn.entries, direntRecord{name: name, inode: child.InodeNum})
	return nil
}

func (fs *fakeFS) DelDir(ctx context.Context, dir *fsops.Node, entry fsops.DirPage, isLastDirLink bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[dir.InodeNum]
	if !ok || fn.entries == nil || entry.EntryOffset < 0 || entry.EntryOffset >= len(fn.entries) {
		return errno.ENOENT
	}
	fn.entries[entry.EntryOffset].deleted = true
	return nil
}

func (fs *fakeFS) Mkdir(ctx context.Context, dir *fsops.Node, parent *fsops.Node) error { return nil }

func (fs *fakeFS) DirEmpty(ctx context.Context, dir *fsops.Node) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[dir.InodeNum]
	if !ok || fn.entries == nil {
		return false, errno.ENOTDIR
	}
	for _, e := range fn.entries {
		if !e.deleted {
			return false, nil
		}
	}
	return true, nil
}

func (fs *fakeFS) GetDents(ctx context.Context, dir *fsops.Node, pos int64, n int) ([]fsops.Dirent, int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn, ok := fs.nodes[dir.InodeNum]
	if !ok || fn.entries == nil {
		return nil, 0, errno.ENOTDIR
	}
	var out []fsops.Dirent
	for i := int(pos); i < len(fn.entries) && len(out) < n; i++ {
		if !fn.entries[i].deleted {
			out = append(out, fsops.Dirent{Name: fn.entries[i].name, InodeNum: fn.entries[i].inode})
		}
	}
	return out, int64(len(fn.entries)), nil
}

func (fs *fakeFS) Mount(ctx context.Context, device uint64, opts string) error { return nil }
func (fs *fakeFS) Umount(ctx context.Context) error                           { return nil }

func (fs *fakeFS) ReadSuper(ctx context.Context) (*fsops.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cp := fs.nodes[fakeRootInode].node
	return &cp, nil
}

func (fs *fakeFS) WriteSuper(ctx context.Context) error { return nil }
func (fs *fakeFS) PutSuper(ctx context.Context) error   { return nil }

func (fs *fakeFS) Ustat(ctx context.Context) (fsops.Statfs, error)  { return fsops.Statfs{}, nil }
func (fs *fakeFS) Statfs(ctx context.Context) (fsops.Statfs, error) { return fsops.Statfs{}, nil }

type fakeDriver struct{}

func (fakeDriver) Strategy(ctx context.Context, req *driver.Request) (int, error) {
	return req.Length, nil
}

type fakeResolver struct{}

func (fakeResolver) Driver(device uint64) (driver.Driver, bool) { return fakeDriver{}, true }
func (fakeResolver) BlockSize(device uint64) int                { return 4096 }
func (fakeResolver) Writable(device uint64) bool                { return true }

type fixedClock struct{}

func (fixedClock) Now() time.Time                         { return time.Time{} }
func (fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// testKernel bundles a Kernel over a fakeFS-backed single-device VFS, ready
// to Spawn a task and Dispatch syscalls against it.
type testKernel struct {
	k     *Kernel
	root  *vfs.Inode
	cache *pcache.Cache
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	cache := pcache.New(fakeResolver{}, fixedClock{}, pcache.DefaultConfig(), nil)
	srv := &vfs.Server{
		Inodes:  vfs.NewInodeTable(),
		Mounts:  vfs.NewMountTable(),
		Cache:   cache,
		Devices: fakeResolver{},
	}
	fs := newFakeFS(1)
	mnt, err := srv.Mounts.VfsMount(context.Background(), 1, "", fs, false, nil, srv.Inodes)
	require.NoError(t, err)

	k := NewKernel(srv, driver.NewRegistry(), task.NewScheduler(), shm.New(clock.RealClock{}))
	return &testKernel{k: k, root: mnt.Root, cache: cache}
}

func (tk *testKernel) spawn(t *testing.T) *task.Task {
	t.Helper()
	id := task.Identity{PID: tk.k.nextPID()}
	vm := mm.NewAddressSpace(tk.cache, mm.DefaultConfig())
	return tk.k.Spawn(id, vm, tk.root, tk.root)
}

func TestOpenWriteReadClose_RoundTrip(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(4096)

	const pathAddr = 0
	require.Zero(t, mem.WriteString(tsk, pathAddr, "/greeting"))

	fd := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN),
		[6]uintptr{pathAddr, uintptr(vfs.OCreat | vfs.OWrOnly), 0644})
	require.GreaterOrEqual(t, fd, int64(0))

	const dataAddr = 64
	data := "hello kernel"
	require.Zero(t, mem.CopyOut(tsk, dataAddr, []byte(data)))

	n := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_WRITE),
		[6]uintptr{uintptr(fd), dataAddr, uintptr(len(data)), 0, 0, 0})
	assert.Equal(t, int64(len(data)), n)

	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_CLOSE), [6]uintptr{uintptr(fd)})
	assert.Zero(t, rc)

	fd2 := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN),
		[6]uintptr{pathAddr, uintptr(vfs.ORdOnly), 0})
	require.GreaterOrEqual(t, fd2, int64(0))

	const readBufAddr = 256
	n = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_READ),
		[6]uintptr{uintptr(fd2), readBufAddr, uintptr(len(data)), 0, 0, 0})
	require.Equal(t, int64(len(data)), n)

	readBuf, ferr := mem.CopyIn(tsk, readBufAddr, len(data))
	require.Zero(t, ferr)
	assert.Equal(t, data, string(readBuf))
}

func TestLseek_SeekEndAndSeekCur(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(4096)

	require.Zero(t, mem.WriteString(tsk, 0, "/f"))
	fd := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN),
		[6]uintptr{0, uintptr(vfs.OCreat | vfs.OWrOnly), 0644})
	require.GreaterOrEqual(t, fd, int64(0))

	require.Zero(t, mem.CopyOut(tsk, 64, []byte("0123456789")))
	n := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_WRITE), [6]uintptr{uintptr(fd), 64, 10})
	require.Equal(t, int64(10), n)

	end := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_LSEEK), [6]uintptr{uintptr(fd), 0, 2})
	assert.Equal(t, int64(10), end)

	cur := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_LSEEK), [6]uintptr{uintptr(fd), uintptr(int64(-4)), 1})
	assert.Equal(t, int64(6), cur)
}

func TestMkdirRmdir_RejectsNonEmptyThenSucceedsOnceEmpty(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(4096)

	require.Zero(t, mem.WriteString(tsk, 0, "/dir"))
	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_MKDIR), [6]uintptr{0, 0755})
	require.Zero(t, rc)

	require.Zero(t, mem.WriteString(tsk, 64, "/dir/child"))
	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_MKDIR), [6]uintptr{64, 0755})
	require.Zero(t, rc)

	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_RMDIR), [6]uintptr{0})
	assert.Equal(t, errno.ENOTEMPTY.Negated(), rc)

	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_RMDIR), [6]uintptr{64})
	require.Zero(t, rc)
	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_RMDIR), [6]uintptr{0})
	assert.Zero(t, rc)
}

func TestUnlink_RemovesDirectoryEntry(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(4096)

	require.Zero(t, mem.WriteString(tsk, 0, "/f"))
	fd := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN), [6]uintptr{0, uintptr(vfs.OCreat | vfs.OWrOnly), 0644})
	require.GreaterOrEqual(t, fd, int64(0))
	tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_CLOSE), [6]uintptr{uintptr(fd)})

	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_UNLINK), [6]uintptr{0})
	require.Zero(t, rc)

	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN), [6]uintptr{0, uintptr(vfs.ORdOnly), 0})
	assert.Equal(t, errno.ENOENT.Negated(), rc)
}

func TestRename_MovesEntryAcrossDirectories(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(4096)

	require.Zero(t, mem.WriteString(tsk, 0, "/dir"))
	require.Zero(t, tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_MKDIR), [6]uintptr{0, 0755}))

	require.Zero(t, mem.WriteString(tsk, 64, "/src"))
	fd := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN), [6]uintptr{64, uintptr(vfs.OCreat | vfs.OWrOnly), 0644})
	require.GreaterOrEqual(t, fd, int64(0))
	tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_CLOSE), [6]uintptr{uintptr(fd)})

	require.Zero(t, mem.WriteString(tsk, 128, "/dir/dst"))
	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_RENAME), [6]uintptr{64, 128})
	require.Zero(t, rc)

	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN), [6]uintptr{64, uintptr(vfs.ORdOnly), 0})
	assert.Equal(t, errno.ENOENT.Negated(), rc)

	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_OPEN), [6]uintptr{128, uintptr(vfs.ORdOnly), 0})
	assert.GreaterOrEqual(t, rc, int64(0))
}

func TestForkExit_ReparentsAndZombifies(t *testing.T) {
	tk := newTestKernel(t)
	parent := tk.spawn(t)
	tk.k.Init = tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	childPID := tk.k.Dispatch(ctx, parent, mem, uintptr(unix.SYS_FORK), [6]uintptr{})
	require.Greater(t, childPID, int64(0))
	require.Len(t, parent.Children, 1)
	child := parent.Children[0]
	assert.EqualValues(t, childPID, child.Identity.PID)

	rc := tk.k.Dispatch(ctx, child, mem, uintptr(unix.SYS_EXIT), [6]uintptr{7})
	assert.Zero(t, rc)
	assert.Equal(t, task.StateZombie, child.State())
	assert.Equal(t, 7, child.ExitStatus)
}

func TestKill_PostsSignalToTargetPID(t *testing.T) {
	tk := newTestKernel(t)
	sender := tk.spawn(t)
	target := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	rc := tk.k.Dispatch(ctx, sender, mem, uintptr(unix.SYS_KILL),
		[6]uintptr{uintptr(target.Identity.PID), uintptr(signal.SIGUSR1)})
	require.Zero(t, rc)
	assert.True(t, target.Signals.Pending.Has(signal.SIGUSR1))
}

func TestKill_UnknownPIDIsESRCH(t *testing.T) {
	tk := newTestKernel(t)
	sender := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	rc := tk.k.Dispatch(ctx, sender, mem, uintptr(unix.SYS_KILL), [6]uintptr{999999, uintptr(signal.SIGTERM)})
	assert.Equal(t, errno.ESRCH.Negated(), rc)
}

func TestRtSigprocmask_BlockThenUnblock(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	const maskAddr = 32
	var set signal.Set
	set.Add(signal.SIGUSR1)
	require.Zero(t, mem.CopyOut(tsk, maskAddr, leBytes(uint64(set))))

	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_RT_SIGPROCMASK), [6]uintptr{0, maskAddr, 0})
	require.Zero(t, rc)
	assert.True(t, tsk.Signals.Mask.Has(signal.SIGUSR1))

	rc = tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_RT_SIGPROCMASK), [6]uintptr{1, maskAddr, 0})
	require.Zero(t, rc)
	assert.False(t, tsk.Signals.Mask.Has(signal.SIGUSR1))
}

func TestSigaltstack_ReplacesStackWhenNotOnIt(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	const newSSAddr = 40
	tsk.Signals.AltStack = signal.AltStack{SP: 0x1000, Size: 8192}
	var raw [24]byte
	putLeUint64(raw[0:8], 0x2000)
	putLeUint64(raw[8:16], 8192)
	require.Zero(t, mem.CopyOut(tsk, newSSAddr, raw[:]))

	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_SIGALTSTACK), [6]uintptr{newSSAddr, 0})
	require.Zero(t, rc)
	assert.EqualValues(t, 0x2000, tsk.Signals.AltStack.SP)
}

func TestShmGetAttachDetach_RoundTrip(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	id := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_SHMGET),
		[6]uintptr{0, 4096, uintptr(shm.FlagCreate | 0600)})
	require.GreaterOrEqual(t, id, int64(0))

	addr := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_SHMAT), [6]uintptr{uintptr(id), 0, 0})
	require.GreaterOrEqual(t, addr, int64(0))

	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_SHMDT), [6]uintptr{uintptr(addr)})
	assert.Zero(t, rc)
}

func TestShmget_WithoutRegistryReturnsENOSYS(t *testing.T) {
	tk := newTestKernel(t)
	tk.k.Shm = nil
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	rc := tk.k.Dispatch(ctx, tsk, mem, uintptr(unix.SYS_SHMGET), [6]uintptr{0, 4096, uintptr(shm.FlagCreate | 0600)})
	assert.Equal(t, errno.ENOSYS.Negated(), rc)
}

func TestDispatch_UnknownSyscallIsENOSYS(t *testing.T) {
	tk := newTestKernel(t)
	tsk := tk.spawn(t)
	ctx := context.Background()
	mem := NewUserMemory(64)

	rc := tk.k.Dispatch(ctx, tsk, mem, 999999999, [6]uintptr{})
	assert.Equal(t, errno.ENOSYS.Negated(), rc)
}

func TestUserMemory_OutOfRangeAccessFaultsAndPostsSigsegv(t *testing.T) {
	tsk := &task.Task{Identity: task.Identity{PID: 1}}
	mem := NewUserMemory(16)

	_, ferr := mem.CopyIn(tsk, 100, 4)
	assert.Equal(t, errno.EFAULT, ferr)
	assert.True(t, tsk.Signals.Pending.Has(signal.SIGSEGV))
}
