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

// Command laylaosctl is a small operator CLI that dials a running
// laylaosd's debug socket and prints what it reports: the one demo task's
// state, the mounted filesystem, and its statfs counters. It speaks
// internal/kdebug's newline-JSON protocol directly rather than linking
// against any kernel package, the same separation gcsfuse draws between
// its mount daemon and a hypothetical inspection CLI.
package main

func main() {
	Execute()
}
