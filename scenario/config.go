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

import "time"

// Default configuration values.
const (
	DefaultHoldTime        = 2 * time.Second
	DefaultDeadlockTimeout = 5 * time.Second
	DefaultRetryTimeout    = time.Second
)

// Config is the explicit configuration surface consumed by an
// [Orchestrator]. The zero value is usable; unset fields take the
// defaults above.
type Config struct {
	// Workers is the number of participants to spawn.
	Workers int
	// Resources is the number of counted resources in the pool.
	Resources int
	// ResourceUnits is the capacity of each resource.
	ResourceUnits int64

	// HoldTime is how long a participant works while holding
	// resources.
	HoldTime time.Duration
	// DeadlockTimeout is the scenario-wide deadline after which
	// non-completed participants are forcibly terminated.
	DeadlockTimeout time.Duration
	// RetryTimeout bounds each acquisition attempt under the Retry
	// policy.
	RetryTimeout time.Duration

	// MonitorInterval enables the periodic wait-for-graph check when
	// positive.
	MonitorInterval time.Duration
	// Seed fixes the randomized choices (claims, task orders,
	// jitter). 0 seeds from the worker count for reproducible claim
	// generation.
	Seed int64
	// Progress enables "n/m finished" reporting.
	Progress bool
	// MetricsBuffer overrides the telemetry channel depth.
	MetricsBuffer int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Resources <= 0 {
		c.Resources = 2
	}
	if c.ResourceUnits <= 0 {
		c.ResourceUnits = 1
	}
	if c.HoldTime <= 0 {
		c.HoldTime = DefaultHoldTime
	}
	if c.DeadlockTimeout <= 0 {
		c.DeadlockTimeout = DefaultDeadlockTimeout
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}
	if c.Seed == 0 {
		c.Seed = int64(c.Workers)
	}
	return c
}
