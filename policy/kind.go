// Copyright 2025 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package policy

// Kind selects one of the four acquisition strategies.
type Kind int

// The four classic deadlock-handling strategies.
const (
	// Naive acquires in a per-participant order with unbounded waits.
	// Opposing orders permit a circular wait with no internal escape.
	Naive Kind = iota
	// Ordered acquires in one global total order, which structurally
	// forbids cycles in the wait-for graph.
	Ordered
	// Retry bounds every wait and, on timeout, rolls back all held
	// resources before backing off and starting over.
	Retry
	// Banker routes every request through an arbiter that only grants
	// requests preserving a safe state.
	Banker
)

func (k Kind) String() string {
	switch k {
	case Naive:
		return "naive"
	case Ordered:
		return "ordered"
	case Retry:
		return "retry"
	case Banker:
		return "banker"
	default:
		return "unknown"
	}
}
