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

// Package metrics aggregates per-participant telemetry events into a
// scenario summary.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// defaultBuffer is the event channel depth used when the caller does
// not specify one.
const defaultBuffer = 256

// A Runner spawns the Collector's consumer in a non-blocking fashion.
type Runner interface {
	Go(func(context.Context)) error
}

// A Collector is a passive sink for [Event] values produced by many
// participants and consumed by a single goroutine. Producers never
// block: if the buffer is full, events are dropped and counted.
//
// A nil *Collector is a valid no-op sink, allowing a scenario to run
// with telemetry disabled.
type Collector struct {
	dropped atomic.Int64
	events  chan Event
	done    chan struct{}
	runID   string
	stop    chan struct{}

	mu struct {
		sync.Mutex
		aggregates map[int]*aggregate
	}
}

type aggregate struct {
	name     string
	duration time.Duration
	retries  int
	wait     time.Duration
}

// NewCollector constructs a [Collector] and starts its consumer via
// the runner. If the runner refuses the consumer, the error is
// returned and the caller should degrade to a nil Collector. A
// buffer of 0 selects a reasonable default depth.
func NewCollector(runner Runner, buffer int) (*Collector, error) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	c := &Collector{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		runID:  uuid.NewString(),
		stop:   make(chan struct{}),
	}
	c.mu.aggregates = make(map[int]*aggregate)
	if err := runner.Go(c.consume); err != nil {
		return nil, err
	}
	return c, nil
}

// Record submits an event without ever blocking the caller. Events
// that do not fit in the buffer are dropped and counted.
func (c *Collector) Record(ev Event) {
	if c == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer
// was full.
func (c *Collector) Dropped() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// Close stops intake, drains buffered events, and waits for the
// consumer to exit or the context to be canceled. Close is a no-op on
// a nil Collector.
func (c *Collector) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	close(c.stop)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary snapshots the aggregates into a [Summary]. statuses maps a
// participant id to its terminal status label. A nil Collector returns
// a nil Summary.
func (c *Collector) Summary(scenario string, statuses map[int]string) *Summary {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		DroppedEvents: c.dropped.Load(),
		RunID:         c.runID,
		Scenario:      scenario,
	}
	ids := make([]int, 0, len(c.mu.aggregates))
	for id := range c.mu.aggregates {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var totalDuration, totalWait time.Duration
	for _, id := range ids {
		agg := c.mu.aggregates[id]
		s.Participants = append(s.Participants, Record{
			ID:       agg.name,
			Status:   statuses[id],
			Duration: seconds(agg.duration),
			Retries:  agg.retries,
			WaitTime: seconds(agg.wait),
		})
		totalDuration += agg.duration
		totalWait += agg.wait
		s.TotalRetries += agg.retries
	}
	if count := len(s.Participants); count > 0 {
		s.AvgDuration = seconds(totalDuration / time.Duration(count))
		s.AvgWait = seconds(totalWait / time.Duration(count))
	}
	return s
}

func (c *Collector) consume(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
		case <-c.stop:
			c.drain()
			return
		case <-ctx.Done():
			// Cancellation still drains: participants emit their
			// Release and Done events while unwinding, and those may
			// already be buffered.
			c.drain()
			return
		}
	}
}

func (c *Collector) drain() {
	for {
		select {
		case ev := <-c.events:
			c.apply(ev)
		default:
			return
		}
	}
}

func (c *Collector) apply(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg := c.mu.aggregates[ev.Participant]
	if agg == nil {
		agg = &aggregate{}
		c.mu.aggregates[ev.Participant] = agg
	}
	if agg.name == "" {
		agg.name = ev.Name
	}
	switch ev.Kind {
	case AcquireEnd:
		agg.wait += ev.Elapsed
	case Retry, Denied:
		agg.retries++
		agg.wait += ev.Elapsed
	case Done:
		agg.duration = ev.Elapsed
	}
}
