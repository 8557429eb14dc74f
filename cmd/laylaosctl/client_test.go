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
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laylaos/kernelcore/internal/kdebug"
)

// startFakeDebugServer listens on a temporary Unix socket and answers every
// request with the given canned response, once. It returns the socket path.
func startFakeDebugServer(t *testing.T, resp kdebug.Response) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "laylaosd.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var req kdebug.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		_ = json.NewEncoder(conn).Encode(resp)
	}()

	return path
}

func TestSendReturnsDecodedResponse(t *testing.T) {
	want := kdebug.Response{Tasks: []kdebug.TaskInfo{{PID: 1, PGID: 1, SID: 1, State: "RUNNING"}}}
	socketPath = startFakeDebugServer(t, want)

	got, err := send(kdebug.CommandPS)
	require.NoError(t, err)
	assert.Equal(t, want.Tasks, got.Tasks)
}

func TestSendSurfacesServerSideError(t *testing.T) {
	socketPath = startFakeDebugServer(t, kdebug.Response{Error: "no such mount"})

	_, err := send(kdebug.CommandMount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such mount")
}

func TestSendFailsWhenSocketMissing(t *testing.T) {
	socketPath = filepath.Join(t.TempDir(), "does-not-exist.sock")

	_, err := send(kdebug.CommandStatfs)
	require.Error(t, err)
}
