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

	"github.com/cockroachdb/field-eng-deadlock-lab/metrics"
)

// bankerPolicy negotiates partial randomized requests with the
// arbiter until the declared claim is fully held. A denial is not a
// rollback: nothing was granted, so the participant just defers and
// re-requests after a backoff.
type bankerPolicy struct{}

var _ Policy = bankerPolicy{}

func (bankerPolicy) Kind() Kind { return Banker }

func (bankerPolicy) Acquire(ctx context.Context, p *Participant) error {
	remaining := append([]int64(nil), p.cfg.Claim...)
	backoff := p.newBackoff()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := buildRequest(p, remaining)
		p.status.Set(Waiting)

		granted, err := p.cfg.Arbiter.Request(p.cfg.ID, req)
		if err != nil {
			return err
		}
		if granted {
			var units int64
			for r, u := range req {
				remaining[r] -= u
				units += u
			}
			p.emit(metrics.Event{
				Kind: metrics.AcquireEnd, Resource: metrics.NoResource, Units: units,
			})
			available, alloc := p.cfg.Arbiter.Snapshot()
			p.logger.Debug("request granted",
				"request", req,
				"allocation", alloc[p.cfg.ID],
				"available", available)

			if allZero(remaining) {
				return nil
			}
			// Brief pause between partial grants so other
			// participants can interleave.
			if err := p.sleep(ctx, p.cfg.HoldTime/3); err != nil {
				return err
			}
			continue
		}

		// Denied: unsafe state or insufficient units. Defer and
		// re-issue.
		delay, _ := backoff.Next() // unlimited strategy, always continues
		p.retries.Add(1)
		p.status.Set(Retrying)
		p.emit(metrics.Event{
			Kind:     metrics.Denied,
			Resource: metrics.NoResource,
			Elapsed:  delay,
		})
		p.logger.Debug("request denied, deferring", "request", req, "backoff", delay)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		p.waited.Add(int64(delay))
	}
}

// buildRequest draws a partial request: at least one unit of some
// still-needed resource, never more than the remaining need.
func buildRequest(p *Participant, remaining []int64) []int64 {
	req := make([]int64, len(remaining))
	for r, need := range remaining {
		if need > 0 {
			req[r] = 1 + p.rng.Int63n(need)
		}
	}
	return req
}

func allZero(values []int64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}
