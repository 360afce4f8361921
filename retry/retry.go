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

// Package retry provides a utility to retry operations that
// fail with a transient error, based on a supplied backoff strategy.
package retry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMaxRetries is raised when we reach the maximum number of retries.
	ErrMaxRetries = errors.New("too many retries")
	// ErrRetriable tags errors from operation that can be retried.
	ErrRetriable = errors.New("retriable error")
)

// Operation to be retried.
type Operation func(context.Context) error

// Backoff strategy. Next returns the delay before the upcoming attempt
// and true, or false once the strategy's retry budget is exhausted.
type Backoff interface {
	Next() (time.Duration, bool)
}

// Do invokes the operation, retrying with the given backoff strategy
// as long as the operation fails with an error tagged [ErrRetriable].
// It returns [ErrMaxRetries] once the strategy is exhausted, or the
// context's error if the context is canceled while sleeping between
// attempts.
//
// Backoff strategies from https://github.com/sethvargo/go-retry can be
// bridged through [Strategy].
func Do(ctx context.Context, strategy Backoff, op Operation) error {
	for {
		if err := op(ctx); err == nil || !errors.Is(err, ErrRetriable) {
			return err
		}
		delay, ok := strategy.Next()
		if !ok {
			return ErrMaxRetries
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			// try again
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
