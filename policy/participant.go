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

// Package policy contains the participants that compete for resources
// and the four acquisition strategies they can follow.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/field-eng-deadlock-lab/banker"
	"github.com/cockroachdb/field-eng-deadlock-lab/metrics"
	"github.com/cockroachdb/field-eng-deadlock-lab/notify"
	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
	"github.com/cockroachdb/field-eng-deadlock-lab/retry"
)

// ErrMisconfigured is returned by [New] when a participant's
// configuration does not match its policy kind.
var ErrMisconfigured = errors.New("misconfigured participant")

// An EventSink receives telemetry events. A *[metrics.Collector] is
// the usual sink; a nil Collector disables telemetry.
type EventSink interface {
	Record(metrics.Event)
}

// A Policy drives a participant's acquisition sequence. Acquire
// returns once the participant holds everything it needs, or with the
// context's error if the participant was canceled. Releasing is the
// participant's job, not the Policy's.
type Policy interface {
	Kind() Kind
	Acquire(ctx context.Context, p *Participant) error
}

// Config describes one participant.
type Config struct {
	ID   int
	Name string
	Kind Kind

	// Set is the shared resource pool.
	Set *resource.Set
	// Arbiter is required for Banker participants and unused
	// otherwise.
	Arbiter *banker.Arbiter

	// Order is the task-preferred acquisition order. Required for
	// every kind but Banker.
	Order []resource.ID
	// Units is the number of units acquired from each resource in
	// Order. Defaults to 1.
	Units int64
	// Claim is the declared maximum need, one entry per resource.
	// Required for Banker.
	Claim []int64

	// HoldTime is how long the participant works while holding
	// resources.
	HoldTime time.Duration
	// RetryTimeout bounds each acquisition attempt for Retry
	// participants.
	RetryTimeout time.Duration

	// Seed makes the participant's randomized choices reproducible.
	Seed int64

	Events EventSink
	Logger *slog.Logger
}

// A Participant runs one acquisition sequence to completion: acquire
// everything, work for the hold time, release everything. Its status
// is observable while it runs.
type Participant struct {
	cfg    Config
	logger *slog.Logger
	policy Policy
	rng    *rand.Rand
	status notify.Var[Status]

	retries atomic.Int32
	waited  atomic.Int64 // nanoseconds
}

// New validates the configuration and constructs a [Participant].
func New(cfg Config) (*Participant, error) {
	if cfg.Set == nil {
		return nil, fmt.Errorf("%w: no resource set", ErrMisconfigured)
	}
	if cfg.Units <= 0 {
		cfg.Units = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var pol Policy
	switch cfg.Kind {
	case Naive:
		pol = naive{}
	case Ordered:
		pol = ordered{}
	case Retry:
		if cfg.RetryTimeout <= 0 {
			return nil, fmt.Errorf("%w: %s needs a retry timeout", ErrMisconfigured, cfg.Name)
		}
		pol = retrier{}
	case Banker:
		if cfg.Arbiter == nil || len(cfg.Claim) != cfg.Set.Len() {
			return nil, fmt.Errorf("%w: %s needs an arbiter and a full claim vector",
				ErrMisconfigured, cfg.Name)
		}
		pol = bankerPolicy{}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMisconfigured, cfg.Kind)
	}
	if cfg.Kind != Banker && len(cfg.Order) == 0 {
		return nil, fmt.Errorf("%w: %s has no acquisition order", ErrMisconfigured, cfg.Name)
	}

	p := &Participant{
		cfg:    cfg,
		logger: cfg.Logger.With("participant", cfg.Name, "policy", cfg.Kind.String()),
		policy: pol,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	return p, nil
}

// Run executes the participant's full lifecycle and returns its
// terminal status. Cancellation of the context at any suspension point
// releases everything the participant holds before returning.
func (p *Participant) Run(ctx context.Context) Status {
	start := time.Now()
	defer func() {
		p.emit(metrics.Event{
			Kind:     metrics.Done,
			Resource: metrics.NoResource,
			Elapsed:  time.Since(start),
		})
	}()

	if err := p.policy.Acquire(ctx, p); err != nil {
		return p.terminate(err)
	}
	p.status.Set(Holding)
	p.logger.Debug("holding full set, working")
	if err := p.sleep(ctx, p.cfg.HoldTime); err != nil {
		return p.terminate(err)
	}
	p.releaseAll()
	p.status.Set(Completed)
	p.logger.Debug("completed")
	return Completed
}

// Status returns the current status and a channel closed on the next
// transition.
func (p *Participant) Status() (Status, <-chan struct{}) { return p.status.Get() }

// ID returns the participant's identifier.
func (p *Participant) ID() int { return p.cfg.ID }

// Name returns the participant's display name.
func (p *Participant) Name() string { return p.cfg.Name }

// Kind returns the participant's policy kind.
func (p *Participant) Kind() Kind { return p.policy.Kind() }

// Retries returns the number of rollbacks or deferrals so far.
func (p *Participant) Retries() int { return int(p.retries.Load()) }

// Waited returns the cumulative time spent blocked on acquisitions and
// backoffs.
func (p *Participant) Waited() time.Duration {
	return time.Duration(p.waited.Load())
}

// Held returns the participant's current holdings.
func (p *Participant) Held() map[resource.ID]int64 {
	return p.cfg.Set.Held(p.cfg.ID)
}

// terminate is the cancellation unwind path: release anything held and
// report the forced termination.
func (p *Participant) terminate(err error) Status {
	p.releaseAll()
	p.status.Set(ForciblyTerminated)
	p.logger.Debug("forcibly terminated", "cause", err)
	return ForciblyTerminated
}

// acquireOne blocks until units of r are granted or ctx is canceled.
func (p *Participant) acquireOne(ctx context.Context, r resource.ID) error {
	p.status.Set(Waiting)
	p.logger.Debug("needs resource", "resource", p.cfg.Set.Label(r))
	p.emit(metrics.Event{Kind: metrics.AcquireStart, Resource: int(r), Units: p.cfg.Units})

	start := time.Now()
	err := p.cfg.Set.Acquire(ctx, p.cfg.ID, r, p.cfg.Units)
	waited := time.Since(start)
	p.waited.Add(int64(waited))
	if err != nil {
		return err
	}
	p.emit(metrics.Event{
		Kind: metrics.AcquireEnd, Resource: int(r), Units: p.cfg.Units, Elapsed: waited,
	})
	p.logger.Debug("acquired", "resource", p.cfg.Set.Label(r), "waited", waited)
	return nil
}

// acquireBounded is acquireOne with the Retry policy's per-attempt
// bound. A [resource.ErrTimedOut] result is the caller's cue to roll
// back.
func (p *Participant) acquireBounded(ctx context.Context, r resource.ID) error {
	p.status.Set(Waiting)
	p.logger.Debug("needs resource", "resource", p.cfg.Set.Label(r))
	p.emit(metrics.Event{Kind: metrics.AcquireStart, Resource: int(r), Units: p.cfg.Units})

	start := time.Now()
	err := p.cfg.Set.AcquireTimeout(ctx, p.cfg.ID, r, p.cfg.Units, p.cfg.RetryTimeout)
	waited := time.Since(start)
	p.waited.Add(int64(waited))
	if err != nil {
		return err
	}
	p.emit(metrics.Event{
		Kind: metrics.AcquireEnd, Resource: int(r), Units: p.cfg.Units, Elapsed: waited,
	})
	p.logger.Debug("acquired", "resource", p.cfg.Set.Label(r), "waited", waited)
	return nil
}

// releaseAll returns everything the participant holds. Safe to call
// with nothing held.
func (p *Participant) releaseAll() {
	if p.cfg.Arbiter != nil {
		released := p.cfg.Arbiter.ReleaseAll(p.cfg.ID)
		for r, units := range released {
			if units > 0 {
				p.emit(metrics.Event{Kind: metrics.Release, Resource: r, Units: units})
			}
		}
		p.logger.Debug("released all", "units", released)
		return
	}
	released := p.cfg.Set.ReleaseAll(p.cfg.ID)
	for r, units := range released {
		p.emit(metrics.Event{Kind: metrics.Release, Resource: int(r), Units: units})
		p.logger.Debug("released", "resource", p.cfg.Set.Label(r))
	}
}

// newBackoff builds the jittered exponential backoff used between
// attempts, scaled from the hold time the way the scenario's
// contention window is.
func (p *Participant) newBackoff() retry.Backoff {
	base := p.cfg.HoldTime / 2
	if base < time.Millisecond {
		base = time.Millisecond
	}
	if base > 10*time.Minute {
		base = 10 * time.Minute
	}
	max := 8 * base
	if max > time.Hour {
		max = time.Hour
	}
	backoff, err := retry.NewExpBackoff(base, max, 0)
	if err != nil {
		// The bounds above keep the arguments valid.
		panic(err)
	}
	return retry.WithJitter(backoff, p.rng)
}

// sleep waits for the duration while remaining responsive to
// cancellation.
func (p *Participant) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

func (p *Participant) emit(ev metrics.Event) {
	if p.cfg.Events == nil {
		return
	}
	ev.Participant = p.cfg.ID
	ev.Name = p.cfg.Name
	p.cfg.Events.Record(ev)
}
