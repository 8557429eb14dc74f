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

	"golang.org/x/sys/unix"

	"github.com/laylaos/kernelcore/errno"
	"github.com/laylaos/kernelcore/ipc/shm"
	"github.com/laylaos/kernelcore/task"
)

func init() {
	register(uintptr(unix.SYS_SHMGET), sysShmget)
	register(uintptr(unix.SYS_SHMAT), sysShmat)
	register(uintptr(unix.SYS_SHMDT), sysShmdt)
	register(uintptr(unix.SYS_SHMCTL), sysShmctl)
}

// requesterOf builds the ipc/shm.Requester a handler's caller is checked
// against, from the task's own POSIX identity.
func requesterOf(t *task.Task) shm.Requester {
	return shm.Requester{
		UID: t.Identity.EUID, GID: t.Identity.EGID,
		Privileged: t.Identity.EUID == 0,
		PID:        t.Identity.PID,
	}
}

// sysShmget implements shmget(2): args[0] the key, args[1] the size,
// args[2] the shmflg bits (IPC_CREAT/IPC_EXCL plus a mode).
func sysShmget(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	if k.Shm == nil {
		return errno.ENOSYS.Negated()
	}
	id, err := k.Shm.Get(int64(args[0]), int64(args[1]), int(args[2]), requesterOf(t))
	if err != nil {
		return errno.From(err).Negated()
	}
	return int64(id)
}

// sysShmat implements shmat(2): args[0] the segment id, args[1] the
// requested address (0 lets the region land wherever as.AllocAndAttach
// places it), args[2] the shmflg bits (SHM_RDONLY and friends).
func sysShmat(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	if k.Shm == nil {
		return errno.ENOSYS.Negated()
	}
	region, err := k.Shm.Attach(t.VM, int(args[0]), int64(args[1]), int(args[2]), requesterOf(t))
	if err != nil {
		return errno.From(err).Negated()
	}
	return region.Start
}

// sysShmdt implements shmdt(2): args[0] the address shmat(2) returned.
func sysShmdt(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	if k.Shm == nil {
		return errno.ENOSYS.Negated()
	}
	region, ok := t.VM.Find(int64(args[0]))
	if !ok {
		return errno.EINVAL.Negated()
	}
	if err := k.Shm.Detach(t.VM, region); err != nil {
		return errno.From(err).Negated()
	}
	return 0
}

// shmidDsArg mirrors the fields of struct shmid_ds that IPC_STAT/IPC_SET
// actually exchange: the permission block plus size, in address order.
type shmidDsArg struct {
	UID, GID   uint32
	Mode       uint32
	Size       int64
}

const shmidDsSize = 4 + 4 + 4 + 8

// sysShmctl implements shmctl(2)'s IPC_STAT(0)/IPC_SET(1)/IPC_RMID(2):
// args[0] the segment id, args[1] the command, args[2] the shmid_ds
// pointer (read for IPC_SET, written for IPC_STAT, unused for IPC_RMID).
func sysShmctl(k *Kernel, ctx context.Context, t *task.Task, mem *UserMemory, args [6]uintptr) int64 {
	if k.Shm == nil {
		return errno.ENOSYS.Negated()
	}
	req := requesterOf(t)

	switch args[1] {
	case 0: // IPC_STAT
		seg, err := k.Shm.Ctl(int(args[0]), shm.CmdStat, req, nil)
		if err != nil {
			return errno.From(err).Negated()
		}
		perm := seg.Perm()
		if werr := mem.writeShmidDs(t, args[2], shmidDsArg{
			UID: perm.UID, GID: perm.GID, Mode: perm.Mode, Size: seg.Size(),
		}); werr != 0 {
			return werr.Negated()
		}
		return 0

	case 1: // IPC_SET
		n, rerr := mem.readShmidDs(t, args[2])
		if rerr != 0 {
			return rerr.Negated()
		}
		set := shm.Perm{UID: n.UID, GID: n.GID, Mode: n.Mode}
		if _, err := k.Shm.Ctl(int(args[0]), shm.CmdSet, req, &set); err != nil {
			return errno.From(err).Negated()
		}
		return 0

	case 2: // IPC_RMID
		if _, err := k.Shm.Ctl(int(args[0]), shm.CmdRemove, req, nil); err != nil {
			return errno.From(err).Negated()
		}
		return 0

	default:
		return errno.EINVAL.Negated()
	}
}

func (m *UserMemory) readShmidDs(t *task.Task, addr uintptr) (shmidDsArg, errno.Errno) {
	raw, err := m.CopyIn(t, addr, shmidDsSize)
	if err != 0 {
		return shmidDsArg{}, err
	}
	return shmidDsArg{
		UID:  leUint32(raw[0:4]),
		GID:  leUint32(raw[4:8]),
		Mode: leUint32(raw[8:12]),
		Size: int64(leUint64(raw[12:20])),
	}, 0
}

func (m *UserMemory) writeShmidDs(t *task.Task, addr uintptr, a shmidDsArg) errno.Errno {
	var raw [shmidDsSize]byte
	putLeUint32(raw[0:4], a.UID)
	putLeUint32(raw[4:8], a.GID)
	putLeUint32(raw[8:12], a.Mode)
	putLeUint64(raw[12:20], uint64(a.Size))
	return m.CopyOut(t, addr, raw[:])
}

func putLeUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}
