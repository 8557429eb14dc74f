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
	"fmt"
	"net"
	"time"

	"github.com/laylaos/kernelcore/internal/kdebug"
)

// send dials the debug socket, writes one request line, and decodes the
// single JSON response line laylaosd writes back.
func send(command string) (kdebug.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return kdebug.Response{}, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(kdebug.Request{Command: command}); err != nil {
		return kdebug.Response{}, err
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return kdebug.Response{}, err
		}
		return kdebug.Response{}, fmt.Errorf("laylaosd closed the connection without responding")
	}

	var resp kdebug.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return kdebug.Response{}, err
	}
	if resp.Error != "" {
		return kdebug.Response{}, fmt.Errorf("laylaosd: %s", resp.Error)
	}
	return resp, nil
}
