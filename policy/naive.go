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

import "context"

// naive walks the task-preferred order with unbounded waits and never
// gives anything back while waiting. With opposing orders across
// participants this permits a circular wait; only the orchestrator's
// deadline restores liveness.
type naive struct{}

var _ Policy = naive{}

func (naive) Kind() Kind { return Naive }

func (naive) Acquire(ctx context.Context, p *Participant) error {
	for _, r := range p.cfg.Order {
		if err := p.acquireOne(ctx, r); err != nil {
			return err
		}
		// Work on the partially-held set. This is the window that
		// lets opposing participants interleave into a deadlock.
		if err := p.sleep(ctx, p.cfg.HoldTime); err != nil {
			return err
		}
	}
	return nil
}
