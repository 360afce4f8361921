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

// Package banker contains an admission-control arbiter implementing
// the banker's algorithm: a resource request is granted only if the
// resulting allocation state is safe, meaning some ordering exists in
// which every participant can still obtain its full declared need and
// finish.
package banker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
)

var (
	// ErrInvalidClaim is returned by [New] if a declared maximum need
	// exceeds a resource's capacity. This is a configuration error that
	// must abort a scenario before any participant runs.
	ErrInvalidClaim = errors.New("declared need exceeds resource capacity")

	// ErrInvalidRequest is returned by [Arbiter.Request] for negative
	// or malformed request vectors.
	ErrInvalidRequest = errors.New("malformed resource request")

	// ErrExceedsClaim is returned by [Arbiter.Request] when a request
	// is larger than the participant's declared remaining need. Unlike
	// a denial, this indicates a misconfigured participant.
	ErrExceedsClaim = errors.New("request exceeds declared remaining need")
)

// An Arbiter validates resource requests against the banker safety
// invariant before allowing the underlying [resource.Set] to grant
// them. Each participant's maximum need is declared up front and fixed.
//
// An Arbiter is internally synchronized and is safe for concurrent
// use. An Arbiter should not be copied after it has been created.
type Arbiter struct {
	maxNeed [][]int64
	set     *resource.Set

	mu struct {
		sync.Mutex
		alloc [][]int64
	}
}

// New constructs an [Arbiter] over the given Set. maxNeed declares,
// per participant, the upper bound of units the participant may ever
// hold of each resource. Every declared need is validated against the
// resource's capacity.
func New(set *resource.Set, maxNeed [][]int64) (*Arbiter, error) {
	resources := set.Len()
	for p, claim := range maxNeed {
		if len(claim) != resources {
			return nil, fmt.Errorf("%w: participant %d declares %d resources, want %d",
				ErrInvalidClaim, p, len(claim), resources)
		}
		for r, need := range claim {
			if need < 0 || need > set.Capacity(resource.ID(r)) {
				return nil, fmt.Errorf("%w: participant %d declares %d units of %s (capacity %d)",
					ErrInvalidClaim, p, need, set.Label(resource.ID(r)),
					set.Capacity(resource.ID(r)))
			}
		}
	}

	a := &Arbiter{
		maxNeed: copyMatrix(maxNeed),
		set:     set,
	}
	a.mu.alloc = make([][]int64, len(maxNeed))
	for p := range a.mu.alloc {
		a.mu.alloc[p] = make([]int64, resources)
	}
	return a, nil
}

// Request asks the Arbiter to grant the given units, one entry per
// resource. It returns true and commits the allocation if the request
// is admissible and the resulting state is safe. It returns false,
// with no state change, if the units are unavailable or granting them
// would be unsafe; the caller should back off and re-issue the request.
func (a *Arbiter) Request(participant int, req []int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if participant < 0 || participant >= len(a.maxNeed) {
		return false, fmt.Errorf("%w: unknown participant %d", ErrInvalidRequest, participant)
	}
	if len(req) != a.set.Len() {
		return false, fmt.Errorf("%w: request names %d resources, want %d",
			ErrInvalidRequest, len(req), a.set.Len())
	}
	for r, units := range req {
		if units < 0 {
			return false, fmt.Errorf("%w: negative request for %s",
				ErrInvalidRequest, a.set.Label(resource.ID(r)))
		}
		remaining := a.maxNeed[participant][r] - a.mu.alloc[participant][r]
		if units > remaining {
			return false, fmt.Errorf(
				"%w: participant %d requested %d units of %s with %d remaining",
				ErrExceedsClaim, participant, units, a.set.Label(resource.ID(r)), remaining)
		}
	}

	// Deny outright if the units are not presently available.
	available := a.availableLocked()
	for r, units := range req {
		if units > available[r] {
			return false, nil
		}
	}

	// Tentatively apply the request to scratch state and check that
	// some finishing order still exists.
	scratch := copyMatrix(a.mu.alloc)
	for r, units := range req {
		scratch[participant][r] += units
		available[r] -= units
	}
	if !a.safe(available, scratch) {
		return false, nil
	}

	// Commit. The tentative state was checked against availability, so
	// a failed TryAcquire means the ledger and the arbiter disagree.
	for r, units := range req {
		if units == 0 {
			continue
		}
		if !a.set.TryAcquire(participant, resource.ID(r), units) {
			panic(fmt.Sprintf("safe request by participant %d for %d units of %s not granted",
				participant, units, a.set.Label(resource.ID(r))))
		}
		a.mu.alloc[participant][r] += units
	}
	return true, nil
}

// ReleaseAll returns every unit allocated to the participant and
// reports the released vector.
func (a *Arbiter) ReleaseAll(participant int) []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	released := a.mu.alloc[participant]
	a.mu.alloc[participant] = make([]int64, a.set.Len())
	a.set.ReleaseAll(participant)
	return released
}

// Snapshot returns copies of the current availability vector and the
// per-participant allocation matrix.
func (a *Arbiter) Snapshot() (available []int64, alloc [][]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availableLocked(), copyMatrix(a.mu.alloc)
}

// Unsafe reports whether the committed allocation state fails the
// safety check. Every grant preserves safety, so this probe should
// never return true; it exists for tests to assert the invariant.
func (a *Arbiter) Unsafe() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.safe(a.availableLocked(), copyMatrix(a.mu.alloc))
}

// Participants returns the number of declared participants.
func (a *Arbiter) Participants() int { return len(a.maxNeed) }

// availableLocked derives availability from the arbiter's allocation
// view. Banker participants only acquire through the arbiter, so this
// matches the Set's ledger.
func (a *Arbiter) availableLocked() []int64 {
	available := a.set.Capacities()
	for _, row := range a.mu.alloc {
		for r, units := range row {
			available[r] -= units
		}
	}
	return available
}

// safe runs the banker safety check against scratch state: repeatedly
// find a participant whose remaining need fits within the work vector,
// add its allocation back, and repeat. The state is safe iff every
// participant can finish. work and alloc are consumed.
func (a *Arbiter) safe(work []int64, alloc [][]int64) bool {
	finished := make([]bool, len(alloc))
	for done := 0; done < len(alloc); {
		progress := false
		for p := range alloc {
			if finished[p] {
				continue
			}
			if !a.finishable(p, work, alloc[p]) {
				continue
			}
			for r, units := range alloc[p] {
				work[r] += units
			}
			finished[p] = true
			progress = true
			done++
		}
		if !progress {
			return false
		}
	}
	return true
}

func (a *Arbiter) finishable(participant int, work, alloc []int64) bool {
	for r, units := range alloc {
		if a.maxNeed[participant][r]-units > work[r] {
			return false
		}
	}
	return true
}

func copyMatrix(m [][]int64) [][]int64 {
	out := make([][]int64, len(m))
	for idx, row := range m {
		out[idx] = append([]int64(nil), row...)
	}
	return out
}
