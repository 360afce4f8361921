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

package metrics

import "time"

// Kind classifies a telemetry [Event].
type Kind string

// Event kinds emitted by participants.
const (
	// AcquireStart is emitted when a participant begins waiting on a
	// resource.
	AcquireStart Kind = "acquire_start"
	// AcquireEnd is emitted when a wait ends in a grant. Elapsed
	// carries the time spent waiting.
	AcquireEnd Kind = "acquire_end"
	// Retry is emitted after a full rollback. Elapsed carries the
	// backoff delay preceding the next attempt.
	Retry Kind = "retry"
	// Denied is emitted when an arbiter defers a request. Elapsed
	// carries the backoff delay preceding the re-issued request.
	Denied Kind = "denied"
	// Release is emitted when units are returned to the pool.
	Release Kind = "release"
	// Done is emitted once per participant at termination. Elapsed
	// carries the participant's total run duration.
	Done Kind = "done"
)

// NoResource is the Event.Resource value for events that do not name a
// specific resource.
const NoResource = -1

// An Event is a timestamped telemetry sample emitted by a participant.
// Events are ephemeral; they are consumed by a [Collector] as they are
// produced.
type Event struct {
	Participant int
	Name        string
	Kind        Kind
	Resource    int
	Units       int64
	At          time.Time
	Elapsed     time.Duration
}
