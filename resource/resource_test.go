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

package resource

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAcquireRelease(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	s, err := NewSet([]int64{3, 2})
	r.NoError(err)
	r.Equal(2, s.Len())
	r.Equal(int64(3), s.Capacity(0))
	r.Equal(int64(3), s.Available(0))

	r.NoError(s.Acquire(ctx, 1, 0, 2))
	r.Equal(int64(1), s.Available(0))
	r.Equal(map[ID]int64{0: 2}, s.Held(1))
	r.Equal([]int{1}, s.Holders(0))

	r.True(s.TryAcquire(1, 0, 1))
	r.False(s.TryAcquire(2, 0, 1))
	r.Equal(int64(0), s.Available(0))

	s.Release(1, 0, 1)
	r.Equal(int64(1), s.Available(0))
	r.Equal(map[ID]int64{0: 2}, s.ReleaseAll(1))
	r.Equal(int64(3), s.Available(0))
	r.Empty(s.Held(1))
}

func TestAcquireTimeout(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	s, err := NewSet([]int64{1})
	r.NoError(err)
	r.True(s.TryAcquire(1, 0, 1))

	start := time.Now()
	err = s.AcquireTimeout(ctx, 2, 0, 1, 20*time.Millisecond)
	r.ErrorIs(err, ErrTimedOut)
	r.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
	r.Empty(s.Held(2))

	// A canceled scenario context wins over the per-attempt bound.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.AcquireTimeout(canceled, 2, 0, 1, time.Minute)
	r.ErrorIs(err, context.Canceled)
}

func TestWaitingSnapshot(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewSet([]int64{1})
	r.NoError(err)
	r.True(s.TryAcquire(1, 0, 1))

	blocked := make(chan error, 1)
	go func() {
		blocked <- s.Acquire(ctx, 2, 0, 1)
	}()

	for {
		if w, ok := s.Waiting()[2]; ok {
			r.Equal(Wait{Resource: 0, Units: 1}, w)
			break
		}
		runtime.Gosched()
	}

	s.Release(1, 0, 1)
	r.NoError(<-blocked)
	r.Empty(s.Waiting())
	r.Equal([]int{2}, s.Holders(0))
}

func TestReleaseUnheldPanics(t *testing.T) {
	r := require.New(t)

	s, err := NewSet([]int64{2})
	r.NoError(err)
	r.True(s.TryAcquire(1, 0, 1))

	r.Panics(func() { s.Release(2, 0, 1) })
	r.Panics(func() { s.Release(1, 0, 2) })
	r.Panics(func() { s.Release(1, 1, 1) })
	r.Panics(func() { s.TryAcquire(1, 0, 3) })
}

func TestInvalidCapacity(t *testing.T) {
	r := require.New(t)

	_, err := NewSet([]int64{1, 0})
	r.ErrorIs(err, ErrInvalidCapacity)
}

// Hammer the Set from many goroutines and verify that no observable
// snapshot ever exceeds a resource's capacity.
func TestCapacityInvariant(t *testing.T) {
	const numResources = 4
	const numWorkers = 32
	const iterations = 200

	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	capacities := make([]int64, numResources)
	for idx := range capacities {
		capacities[idx] = int64(idx + 1)
	}
	s, err := NewSet(capacities)
	r.NoError(err)

	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		w := w
		eg.Go(func() error {
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < iterations; i++ {
				res := ID(rng.Intn(numResources))
				units := 1 + rng.Int63n(s.Capacity(res))
				if !s.TryAcquire(w, res, units) {
					runtime.Gosched()
					continue
				}
				// Availability is derived from the ledger, so this
				// snapshot must always respect capacity.
				for check := ID(0); check < numResources; check++ {
					avail := s.Available(check)
					if avail < 0 || avail > s.Capacity(check) {
						s.Release(w, res, units)
						return fmt.Errorf("resource %d availability %d out of range", check, avail)
					}
				}
				runtime.Gosched()
				s.Release(w, res, units)
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
			}
			return nil
		})
	}
	r.NoError(eg.Wait())

	for res := ID(0); res < numResources; res++ {
		r.Equal(s.Capacity(res), s.Available(res))
	}
}

func TestLabels(t *testing.T) {
	r := require.New(t)

	labels := Labels(28)
	r.Equal("Resource A", labels[0])
	r.Equal("Resource Z", labels[25])
	r.Equal("Resource A2", labels[26])
	r.Equal("Resource B2", labels[27])

	s, err := NewSet([]int64{1, 1})
	r.NoError(err)
	r.Equal("Resource B", s.Label(1))
}
