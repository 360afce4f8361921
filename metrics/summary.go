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

package metrics

import (
	"math"
	"time"
)

// A Record describes one participant's run. Durations are expressed
// in seconds, rounded to the millisecond, so the record serializes
// identically through JSON and CSV.
type Record struct {
	ID       string  `json:"id"`
	Status   string  `json:"status,omitempty"`
	Duration float64 `json:"duration"`
	Retries  int     `json:"retries"`
	WaitTime float64 `json:"wait_time"`
}

// A Summary aggregates a scenario run: per-participant records plus
// scenario-wide averages.
type Summary struct {
	RunID         string   `json:"run_id"`
	Scenario      string   `json:"scenario"`
	Participants  []Record `json:"participants"`
	AvgDuration   float64  `json:"avg_duration"`
	AvgWait       float64  `json:"avg_wait"`
	TotalRetries  int      `json:"total_retries"`
	DroppedEvents int64    `json:"dropped_events,omitempty"`
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
