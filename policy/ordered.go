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
	"sort"

	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
)

// ordered ignores the task-preferred order and acquires in the single
// global total order (ascending resource id). A participant therefore
// never requests a lower-ordered resource while holding a higher one,
// so the wait-for graph cannot contain a cycle.
type ordered struct{}

var _ Policy = ordered{}

func (ordered) Kind() Kind { return Ordered }

func (ordered) Acquire(ctx context.Context, p *Participant) error {
	order := append([]resource.ID(nil), p.cfg.Order...)
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, r := range order {
		if err := p.acquireOne(ctx, r); err != nil {
			return err
		}
		if err := p.sleep(ctx, p.cfg.HoldTime); err != nil {
			return err
		}
	}
	return nil
}
