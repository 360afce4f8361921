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

package retry

import (
	"math/rand"
	"time"
)

// WithJitter wraps a backoff strategy so that each delay is drawn
// uniformly from [delay/2, delay]. Randomizing the delay keeps
// contending callers from retrying in lockstep. A nil rng uses a
// time-seeded source.
func WithJitter(strategy Backoff, rng *rand.Rand) Backoff {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &jitter{rng: rng, strategy: strategy}
}

type jitter struct {
	rng      *rand.Rand
	strategy Backoff
}

var _ Backoff = &jitter{}

// Next implements Backoff.
func (j *jitter) Next() (time.Duration, bool) {
	delay, ok := j.strategy.Next()
	if !ok || delay < 2 {
		return delay, ok
	}
	half := delay / 2
	return half + time.Duration(j.rng.Int63n(int64(half)+1)), true
}
