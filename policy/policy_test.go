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

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/field-eng-deadlock-lab/banker"
	"github.com/cockroachdb/field-eng-deadlock-lab/metrics"
	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// heldSink snapshots a participant's held set every time an event of
// the watched kind is recorded. It runs on the participant's own
// goroutine, so the snapshot is taken at the emission point.
type heldSink struct {
	kind metrics.Kind
	set  *resource.Set

	mu struct {
		sync.Mutex
		events    []metrics.Event
		heldSizes []int
	}
}

func (s *heldSink) Record(ev metrics.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.events = append(s.mu.events, ev)
	if ev.Kind == s.kind {
		s.mu.heldSizes = append(s.mu.heldSizes, len(s.set.Held(ev.Participant)))
	}
}

func (s *heldSink) watched() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.mu.heldSizes...)
}

func TestMisconfigured(t *testing.T) {
	r := require.New(t)

	set, err := resource.NewSet([]int64{1})
	r.NoError(err)

	_, err = New(Config{Kind: Naive})
	r.ErrorIs(err, ErrMisconfigured)

	_, err = New(Config{Kind: Naive, Name: "P1", Set: set})
	r.ErrorIs(err, ErrMisconfigured) // no order

	_, err = New(Config{Kind: Retry, Name: "P1", Set: set, Order: []resource.ID{0}})
	r.ErrorIs(err, ErrMisconfigured) // no retry timeout

	_, err = New(Config{Kind: Banker, Name: "P1", Set: set})
	r.ErrorIs(err, ErrMisconfigured) // no arbiter
}

// Two naive participants with strictly opposing orders must deadlock;
// the external deadline then forcibly terminates both, and termination
// releases everything they held.
func TestNaiveDeadlocks(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	set, err := resource.NewSet([]int64{1, 1})
	r.NoError(err)

	configs := []Config{
		{ID: 0, Name: "P1", Kind: Naive, Set: set,
			Order: []resource.ID{0, 1}, HoldTime: 50 * time.Millisecond},
		{ID: 1, Name: "P2", Kind: Naive, Set: set,
			Order: []resource.ID{1, 0}, HoldTime: 50 * time.Millisecond},
	}

	statuses := runAll(t, ctx, configs)
	r.Equal([]Status{ForciblyTerminated, ForciblyTerminated}, statuses)

	// Termination reclaimed every unit.
	r.Equal(int64(1), set.Available(0))
	r.Equal(int64(1), set.Available(1))
}

// The same opposing preferences under the Ordered policy cannot cycle.
func TestOrderedCompletes(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	set, err := resource.NewSet([]int64{1, 1})
	r.NoError(err)

	configs := []Config{
		{ID: 0, Name: "P1", Kind: Ordered, Set: set,
			Order: []resource.ID{0, 1}, HoldTime: 20 * time.Millisecond},
		{ID: 1, Name: "P2", Kind: Ordered, Set: set,
			Order: []resource.ID{1, 0}, HoldTime: 20 * time.Millisecond},
	}

	statuses := runAll(t, ctx, configs)
	r.Equal([]Status{Completed, Completed}, statuses)
	r.Equal(int64(1), set.Available(0))
	r.Equal(int64(1), set.Available(1))
}

// Retry participants resolve the same contention by rolling back, and
// the held set must be empty at every Retry event.
func TestRetryRollsBackFully(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	set, err := resource.NewSet([]int64{1, 1})
	r.NoError(err)
	sink := &heldSink{kind: metrics.Retry, set: set}

	configs := []Config{
		{ID: 0, Name: "P1", Kind: Retry, Set: set, Order: []resource.ID{0, 1},
			HoldTime: 25 * time.Millisecond, RetryTimeout: 40 * time.Millisecond,
			Seed: 1, Events: sink},
		{ID: 1, Name: "P2", Kind: Retry, Set: set, Order: []resource.ID{1, 0},
			HoldTime: 25 * time.Millisecond, RetryTimeout: 40 * time.Millisecond,
			Seed: 2, Events: sink},
	}

	statuses := runAll(t, ctx, configs)
	r.Equal([]Status{Completed, Completed}, statuses)

	for _, size := range sink.watched() {
		r.Zero(size, "held set not empty after a retry")
	}
	r.Equal(int64(1), set.Available(0))
	r.Equal(int64(1), set.Available(1))
}

// A participant canceled during its backoff sleep still reports every
// rollback: the retry counter and the emitted retry events stay in
// step, and the held set is empty at each emission.
func TestRetryEventPerRollback(t *testing.T) {
	r := require.New(t)

	set, err := resource.NewSet([]int64{1})
	r.NoError(err)
	// The unit stays with a holder that never releases, so every
	// attempt times out.
	r.True(set.TryAcquire(99, 0, 1))

	sink := &heldSink{kind: metrics.Retry, set: set}
	p, err := New(Config{
		ID: 0, Name: "P1", Kind: Retry, Set: set, Order: []resource.ID{0},
		HoldTime: 200 * time.Millisecond, RetryTimeout: 10 * time.Millisecond,
		Seed: 1, Events: sink,
	})
	r.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		status, changed := p.Status()
		for status != Retrying {
			<-changed
			status, changed = p.Status()
		}
		cancel()
	}()

	r.Equal(ForciblyTerminated, p.Run(ctx))
	events := sink.watched()
	r.GreaterOrEqual(p.Retries(), 1)
	r.Len(events, p.Retries())
	for _, size := range events {
		r.Zero(size, "held set not empty after a retry")
	}
}

// Two banker participants with the worked claims both reach their full
// need and finish.
func TestBankerCompletes(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	set, err := resource.NewSet([]int64{3, 2})
	r.NoError(err)
	claims := [][]int64{{2, 2}, {1, 1}}
	arb, err := banker.New(set, claims)
	r.NoError(err)

	configs := []Config{
		{ID: 0, Name: "P1", Kind: Banker, Set: set, Arbiter: arb,
			Claim: claims[0], HoldTime: 20 * time.Millisecond, Seed: 1},
		{ID: 1, Name: "P2", Kind: Banker, Set: set, Arbiter: arb,
			Claim: claims[1], HoldTime: 20 * time.Millisecond, Seed: 2},
	}

	statuses := runAll(t, ctx, configs)
	r.Equal([]Status{Completed, Completed}, statuses)
	r.False(arb.Unsafe())
	r.Equal(int64(3), set.Available(0))
	r.Equal(int64(2), set.Available(1))
}

func TestStatusWatch(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	set, err := resource.NewSet([]int64{1})
	r.NoError(err)
	p, err := New(Config{ID: 0, Name: "P1", Kind: Naive, Set: set,
		Order: []resource.ID{0}, HoldTime: time.Millisecond})
	r.NoError(err)

	status, changed := p.Status()
	r.Equal(Idle, status)

	go p.Run(ctx)
	for !status.Terminal() {
		select {
		case <-changed:
			status, changed = p.Status()
		case <-time.After(5 * time.Second):
			r.Fail("no terminal status")
		}
	}
	r.Equal(Completed, status)
}

// runAll runs each configured participant on its own goroutine and
// returns their terminal statuses in configuration order.
func runAll(t *testing.T, ctx context.Context, configs []Config) []Status {
	t.Helper()
	r := require.New(t)

	statuses := make([]Status, len(configs))
	var eg errgroup.Group
	for idx, cfg := range configs {
		idx, cfg := idx, cfg
		p, err := New(cfg)
		r.NoError(err)
		eg.Go(func() error {
			statuses[idx] = p.Run(ctx)
			return nil
		})
	}
	r.NoError(eg.Wait())
	return statuses
}
