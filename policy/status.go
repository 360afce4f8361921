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

// Status describes a participant's progress through its acquisition
// sequence.
type Status int

// Participant lifecycle states. Completed and ForciblyTerminated are
// terminal.
const (
	Idle Status = iota
	Waiting
	Holding
	Retrying
	Completed
	ForciblyTerminated
)

// Terminal returns true for the two end states.
func (s Status) Terminal() bool {
	return s == Completed || s == ForciblyTerminated
}

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Holding:
		return "holding"
	case Retrying:
		return "retrying"
	case Completed:
		return "completed"
	case ForciblyTerminated:
		return "forcibly_terminated"
	default:
		return "unknown"
	}
}
