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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"

	"github.com/laylaos/kernelcore/internal/kdebug"
	ksyscall "github.com/laylaos/kernelcore/syscall"
	"github.com/laylaos/kernelcore/vfs"
)

// serveDebugSocket listens on a Unix domain socket and answers
// kdebug.Request commands from laylaosctl, one JSON line per request; a
// connection may carry several requests, each answered in turn.
// It never touches kernel mutation paths, only read-only introspection, so
// it is safe to leave listening for the lifetime of the demo boot.
func serveDebugSocket(ctx context.Context, path string, kernel *ksyscall.Kernel, root *vfs.Inode) (net.Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleDebugConn(conn, kernel, root)
		}
	}()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return ln, nil
}

func handleDebugConn(conn net.Conn, kernel *ksyscall.Kernel, root *vfs.Inode) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req kdebug.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(kdebug.Response{Error: err.Error()})
			continue
		}
		enc.Encode(handleDebugCommand(req, kernel, root))
	}
}

func handleDebugCommand(req kdebug.Request, kernel *ksyscall.Kernel, root *vfs.Inode) kdebug.Response {
	switch req.Command {
	case kdebug.CommandPS:
		var tasks []kdebug.TaskInfo
		if kernel.Init != nil {
			tasks = append(tasks, kdebug.TaskInfo{
				PID:   kernel.Init.Identity.PID,
				PGID:  kernel.Init.Identity.PGID,
				SID:   kernel.Init.Identity.SID,
				State: kernel.Init.State().String(),
			})
		}
		return kdebug.Response{Tasks: tasks}
	case kdebug.CommandMount:
		return kdebug.Response{Mounts: []kdebug.MountInfo{
			{Device: root.Device(), FsType: "layla-demo-fs", ReadOnly: !root.Writable()},
		}}
	case kdebug.CommandStatfs:
		sf, err := root.Ops.Statfs(context.Background())
		if err != nil {
			return kdebug.Response{Error: err.Error()}
		}
		return kdebug.Response{Statfs: &kdebug.StatfsInfo{
			BlockSize:      int(sf.BlockSize),
			TotalBlocks:    sf.TotalBlocks,
			FreeBlocks:     sf.FreeBlocks,
			TotalInodes:    sf.TotalInodes,
			FreeInodes:     sf.FreeInodes,
			MaxFilenameLen: sf.MaxFilenameLen,
		}}
	default:
		return kdebug.Response{Error: "unknown command: " + req.Command}
	}
}
