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

package scenario

import (
	"fmt"

	"github.com/cockroachdb/field-eng-deadlock-lab/policy"
)

// Kind names one of the four demonstration scenarios.
type Kind int

const (
	// Deadlock runs naive participants with opposing orders until the
	// deadline fires.
	Deadlock Kind = iota
	// Ordered runs the prevention strategy: one global acquisition
	// order.
	Ordered
	// Retry runs the recovery strategy: bounded waits with rollback
	// and backoff.
	Retry
	// Banker runs the avoidance strategy: an arbiter admits only safe
	// requests.
	Banker
)

// Kinds returns all scenarios in demonstration order.
func Kinds() []Kind { return []Kind{Deadlock, Ordered, Retry, Banker} }

// ParseKind maps a scenario name to its [Kind].
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown scenario %q", name)
}

func (k Kind) String() string {
	switch k {
	case Deadlock:
		return "deadlock"
	case Ordered:
		return "ordered"
	case Retry:
		return "retry"
	case Banker:
		return "banker"
	default:
		return "unknown"
	}
}

// Title returns the scenario's display headline.
func (k Kind) Title() string {
	switch k {
	case Deadlock:
		return "Scenario 1: intentional deadlock"
	case Ordered:
		return "Scenario 2: prevention with a fixed acquisition order"
	case Retry:
		return "Scenario 3: recovery with timeout and backoff"
	case Banker:
		return "Scenario 4: avoidance with the banker's algorithm"
	default:
		return "unknown scenario"
	}
}

func (k Kind) policyKind() policy.Kind {
	switch k {
	case Deadlock:
		return policy.Naive
	case Ordered:
		return policy.Ordered
	case Retry:
		return policy.Retry
	case Banker:
		return policy.Banker
	default:
		panic(fmt.Sprintf("unknown scenario kind %d", k))
	}
}
