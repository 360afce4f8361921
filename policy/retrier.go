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
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/field-eng-deadlock-lab/metrics"
	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
	"github.com/cockroachdb/field-eng-deadlock-lab/retry"
)

// retrier walks the task-preferred order but bounds every wait. A
// timed-out wait rolls back the entire held set, then the attempt is
// restarted from the first resource after a jittered exponential
// backoff. No attempt ever leaves a partial hold behind.
type retrier struct{}

var _ Policy = retrier{}

func (retrier) Kind() Kind { return Retry }

func (retrier) Acquire(ctx context.Context, p *Participant) error {
	// lastRollback marks the start of the backoff sleep between
	// attempts, so the next attempt can record how long it slept.
	var lastRollback time.Time

	attempt := func(ctx context.Context) error {
		if !lastRollback.IsZero() {
			p.waited.Add(int64(time.Since(lastRollback)))
			lastRollback = time.Time{}
		}
		for _, r := range p.cfg.Order {
			err := p.acquireBounded(ctx, r)
			switch {
			case errors.Is(err, resource.ErrTimedOut):
				p.releaseAll()
				p.retries.Add(1)
				p.status.Set(Retrying)
				lastRollback = time.Now()
				p.logger.Debug("attempt timed out, rolled back",
					"resource", p.cfg.Set.Label(r))
				return fmt.Errorf("%w: %s", retry.ErrRetriable, p.cfg.Set.Label(r))
			case err != nil:
				return err
			}
			if err := p.sleep(ctx, p.cfg.HoldTime); err != nil {
				return err
			}
		}
		return nil
	}

	// The event for each rollback is emitted when the driver draws the
	// next delay, not at the start of the next attempt: a participant
	// canceled mid-backoff still reports the retry, and the held set is
	// empty at that point because the rollback released everything.
	backoff := announcing{p.newBackoff(), func(delay time.Duration) {
		p.emit(metrics.Event{
			Kind:     metrics.Retry,
			Resource: metrics.NoResource,
			Elapsed:  delay,
		})
	}}
	return retry.Do(ctx, backoff, attempt)
}

// announcing reports each delay a [retry.Backoff] hands out.
type announcing struct {
	retry.Backoff
	report func(time.Duration)
}

func (a announcing) Next() (time.Duration, bool) {
	delay, ok := a.Backoff.Next()
	if ok {
		a.report(delay)
	}
	return delay, ok
}
