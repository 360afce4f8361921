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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type goRunner struct{ ctx context.Context }

func (r *goRunner) Go(fn func(context.Context)) error {
	go fn(r.ctx)
	return nil
}

type refusingRunner struct{}

func (refusingRunner) Go(func(context.Context)) error {
	return errors.New("runner refused")
}

func TestCollectorAggregates(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	c, err := NewCollector(&goRunner{ctx}, 0)
	r.NoError(err)

	c.Record(Event{Participant: 0, Name: "P1", Kind: AcquireStart, Resource: 0})
	c.Record(Event{Participant: 0, Name: "P1", Kind: AcquireEnd, Resource: 0,
		Elapsed: 500 * time.Millisecond})
	c.Record(Event{Participant: 0, Name: "P1", Kind: Done, Elapsed: 2 * time.Second})

	c.Record(Event{Participant: 1, Name: "P2", Kind: Retry,
		Elapsed: 250 * time.Millisecond})
	c.Record(Event{Participant: 1, Name: "P2", Kind: Denied,
		Elapsed: 250 * time.Millisecond})
	c.Record(Event{Participant: 1, Name: "P2", Kind: Done, Elapsed: 4 * time.Second})

	r.NoError(c.Close(ctx))

	summary := c.Summary("retry", map[int]string{0: "completed", 1: "completed"})
	r.Equal("retry", summary.Scenario)
	r.NotEmpty(summary.RunID)
	r.Len(summary.Participants, 2)

	p1 := summary.Participants[0]
	r.Equal(Record{ID: "P1", Status: "completed", Duration: 2, Retries: 0, WaitTime: 0.5}, p1)

	p2 := summary.Participants[1]
	r.Equal("P2", p2.ID)
	r.Equal(2, p2.Retries)
	r.Equal(0.5, p2.WaitTime)

	r.Equal(2, summary.TotalRetries)
	r.Equal(3.0, summary.AvgDuration)
	r.Equal(0.5, summary.AvgWait)
	r.Zero(summary.DroppedEvents)
}

// Producers must never block, even with no consumer draining the
// channel.
func TestProducersNeverBlock(t *testing.T) {
	r := require.New(t)

	// Build the collector without starting its consumer so the buffer
	// fills up and stays full.
	c := &Collector{
		events: make(chan Event, 1),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	c.mu.aggregates = make(map[int]*aggregate)

	var eg errgroup.Group
	for p := 0; p < 8; p++ {
		p := p
		eg.Go(func() error {
			for i := 0; i < 100; i++ {
				c.Record(Event{Participant: p, Kind: Retry})
			}
			return nil
		})
	}
	r.NoError(eg.Wait())
	r.Equal(int64(799), c.Dropped())
}

type capturedRunner struct{ task func(context.Context) }

func (r *capturedRunner) Go(fn func(context.Context)) error {
	r.task = fn
	return nil
}

// A canceled consumer context must not discard buffered events: the
// producers may have emitted them while unwinding from that same
// cancellation.
func TestConsumerDrainsAfterCancel(t *testing.T) {
	r := require.New(t)

	// Capture the consumer so events can be buffered before it runs.
	runner := &capturedRunner{}
	c, err := NewCollector(runner, 8)
	r.NoError(err)

	c.Record(Event{Participant: 0, Name: "P1", Kind: Release, Resource: 0, Units: 1})
	c.Record(Event{Participant: 0, Name: "P1", Kind: Done, Elapsed: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go runner.task(ctx)
	<-c.done

	summary := c.Summary("deadlock", map[int]string{0: "forcibly_terminated"})
	r.Len(summary.Participants, 1)
	r.Equal("forcibly_terminated", summary.Participants[0].Status)
	r.Equal(1.0, summary.Participants[0].Duration)
}

func TestNilCollector(t *testing.T) {
	r := require.New(t)

	var c *Collector
	c.Record(Event{Kind: Done})
	r.Zero(c.Dropped())
	r.NoError(c.Close(context.Background()))
	r.Nil(c.Summary("deadlock", nil))
}

func TestRunnerRefusal(t *testing.T) {
	r := require.New(t)

	c, err := NewCollector(refusingRunner{}, 0)
	r.ErrorContains(err, "runner refused")
	r.Nil(c)
}

func TestExportRoundTrip(t *testing.T) {
	r := require.New(t)

	report := Report{
		"banker": {
			RunID:    "run-1",
			Scenario: "banker",
			Participants: []Record{
				{ID: "P1", Status: "completed", Duration: 1.25, Retries: 3, WaitTime: 0.75},
				{ID: "P2", Status: "completed", Duration: 2.5, Retries: 0, WaitTime: 0},
			},
			AvgDuration:  1.875,
			AvgWait:      0.375,
			TotalRetries: 3,
		},
	}

	var buf bytes.Buffer
	r.NoError(WriteJSON(&buf, report))
	var decoded Report
	r.NoError(json.Unmarshal(buf.Bytes(), &decoded))
	r.Equal(report, decoded)

	buf.Reset()
	r.NoError(WriteCSV(&buf, report))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	r.Len(lines, 3)
	r.Equal("scenario,run_id,participant,status,duration,retries,wait_time", lines[0])
	r.Equal("banker,run-1,P1,completed,1.250,3,0.750", lines[1])
	r.Equal("banker,run-1,P2,completed,2.500,0,0.000", lines[2])
}
