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
	"time"

	gr "github.com/sethvargo/go-retry"
)

// Strategy adapts a [github.com/sethvargo/go-retry] backoff to the
// [Backoff] contract used by [Do]. The go-retry package reports a
// stop condition, while [Backoff.Next] reports a continue condition.
func Strategy(backoff gr.Backoff) Backoff {
	return &strategy{backoff}
}

type strategy struct {
	backoff gr.Backoff
}

var _ Backoff = &strategy{}

// Next implements Backoff.
func (s *strategy) Next() (time.Duration, bool) {
	delay, stop := s.backoff.Next()
	return delay, !stop
}
