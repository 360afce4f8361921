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

// Package resource contains a fixed-capacity, counted resource pool
// that is shared by participants in a contention scenario.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ID identifies a resource within a [Set].
type ID int

// ErrTimedOut is returned by [Set.AcquireTimeout] when the per-attempt
// bound elapses before the requested units become available.
var ErrTimedOut = errors.New("acquisition timed out")

// ErrInvalidCapacity is returned by [NewSet] if any capacity is less
// than one unit.
var ErrInvalidCapacity = errors.New("resource capacity must be at least 1")

// A Wait describes a participant's pending acquisition.
type Wait struct {
	Resource ID
	Units    int64
}

// A Set owns a collection of counted resources. Participants acquire
// and release units through the Set; no caller may mutate counts
// directly. Availability is always derived from the ownership ledger,
// so the capacity invariant cannot be observed in a violated state.
//
// A Set is internally synchronized and is safe for concurrent use. A
// Set should not be copied after it has been created.
type Set struct {
	capacities []int64
	labels     []string
	sems       []*semaphore.Weighted

	mu struct {
		sync.Mutex
		// held is the ownership ledger: participant -> resource -> units.
		held map[int]map[ID]int64
		// waiting tracks each participant's in-flight acquisition.
		waiting map[int]Wait
	}
}

// NewSet constructs a [Set] with one resource per entry in capacities.
// Resources are labeled "Resource A", "Resource B", and so on.
func NewSet(capacities []int64) (*Set, error) {
	sems := make([]*semaphore.Weighted, len(capacities))
	for idx, capacity := range capacities {
		if capacity < 1 {
			return nil, fmt.Errorf("%w: resource %d has capacity %d",
				ErrInvalidCapacity, idx, capacity)
		}
		sems[idx] = semaphore.NewWeighted(capacity)
	}
	s := &Set{
		capacities: append([]int64(nil), capacities...),
		labels:     Labels(len(capacities)),
		sems:       sems,
	}
	s.mu.held = make(map[int]map[ID]int64)
	s.mu.waiting = make(map[int]Wait)
	return s, nil
}

// Acquire blocks until the requested units are granted or the context
// is canceled. No internal lock is held while blocked.
func (s *Set) Acquire(ctx context.Context, participant int, r ID, units int64) error {
	s.checkRequest(r, units)
	s.setWaiting(participant, r, units)
	defer s.clearWaiting(participant)

	if err := s.sems[r].Acquire(ctx, units); err != nil {
		return err
	}
	s.record(participant, r, units)
	return nil
}

// AcquireTimeout is a bounded [Set.Acquire]. It returns [ErrTimedOut]
// if the bound elapses first, or the context's error if the scenario
// itself was canceled.
func (s *Set) AcquireTimeout(
	ctx context.Context, participant int, r ID, units int64, bound time.Duration,
) error {
	s.checkRequest(r, units)
	s.setWaiting(participant, r, units)
	defer s.clearWaiting(participant)

	attempt, cancel := context.WithTimeout(ctx, bound)
	defer cancel()
	if err := s.sems[r].Acquire(attempt, units); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimedOut
	}
	s.record(participant, r, units)
	return nil
}

// TryAcquire grants the requested units without blocking. It returns
// false if the units are not immediately available.
func (s *Set) TryAcquire(participant int, r ID, units int64) bool {
	s.checkRequest(r, units)
	if !s.sems[r].TryAcquire(units) {
		return false
	}
	s.record(participant, r, units)
	return true
}

// Release returns units to the pool. Releasing units that the
// participant does not hold indicates a bug in a policy implementation
// and panics.
func (s *Set) Release(participant int, r ID, units int64) {
	s.checkRequest(r, units)

	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.mu.held[participant][r]
	if units > held {
		panic(fmt.Sprintf("participant %d released %d units of %s but holds %d",
			participant, units, s.labels[r], held))
	}
	if held == units {
		delete(s.mu.held[participant], r)
		if len(s.mu.held[participant]) == 0 {
			delete(s.mu.held, participant)
		}
	} else {
		s.mu.held[participant][r] = held - units
	}
	s.sems[r].Release(units)
}

// ReleaseAll returns every unit held by the participant and reports
// what was released. It is a no-op for a participant holding nothing,
// which makes it safe to use as a reclamation backstop.
func (s *Set) ReleaseAll(participant int) map[ID]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := s.mu.held[participant]
	delete(s.mu.held, participant)
	for r, units := range released {
		s.sems[r].Release(units)
	}
	return released
}

// Held returns a copy of the participant's current holdings.
func (s *Set) Held(participant int) map[ID]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := make(map[ID]int64, len(s.mu.held[participant]))
	for r, units := range s.mu.held[participant] {
		held[r] = units
	}
	return held
}

// Holders returns the participants currently holding units of the
// resource, in ascending order.
func (s *Set) Holders(r ID) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var holders []int
	for participant, held := range s.mu.held {
		if held[r] > 0 {
			holders = append(holders, participant)
		}
	}
	sort.Ints(holders)
	return holders
}

// Waiting returns a snapshot of in-flight acquisitions, keyed by
// participant.
func (s *Set) Waiting() map[int]Wait {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting := make(map[int]Wait, len(s.mu.waiting))
	for participant, w := range s.mu.waiting {
		waiting[participant] = w
	}
	return waiting
}

// Available returns the number of unheld units of the resource.
func (s *Set) Available(r ID) int64 {
	s.boundsCheck(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	available := s.capacities[r]
	for _, held := range s.mu.held {
		available -= held[r]
	}
	return available
}

// Capacity returns the total units of the resource.
func (s *Set) Capacity(r ID) int64 {
	s.boundsCheck(r)
	return s.capacities[r]
}

// Capacities returns a copy of all resource capacities.
func (s *Set) Capacities() []int64 {
	return append([]int64(nil), s.capacities...)
}

// Label returns the human-readable name of the resource.
func (s *Set) Label(r ID) string {
	s.boundsCheck(r)
	return s.labels[r]
}

// Len returns the number of resources in the Set.
func (s *Set) Len() int { return len(s.capacities) }

func (s *Set) boundsCheck(r ID) {
	if r < 0 || int(r) >= len(s.capacities) {
		panic(fmt.Sprintf("unknown resource %d", r))
	}
}

func (s *Set) checkRequest(r ID, units int64) {
	s.boundsCheck(r)
	if units < 1 || units > s.capacities[r] {
		panic(fmt.Sprintf("request of %d units of %s exceeds capacity %d",
			units, s.labels[r], s.capacities[r]))
	}
}

func (s *Set) clearWaiting(participant int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mu.waiting, participant)
}

func (s *Set) record(participant int, r ID, units int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.mu.held[participant]
	if held == nil {
		held = make(map[ID]int64)
		s.mu.held[participant] = held
	}
	held[r] += units
}

func (s *Set) setWaiting(participant int, r ID, units int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.waiting[participant] = Wait{Resource: r, Units: units}
}
