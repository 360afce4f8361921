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

// Package scenario runs resource-contention scenarios to completion or
// to a detected deadlock.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/field-eng-deadlock-lab/banker"
	"github.com/cockroachdb/field-eng-deadlock-lab/metrics"
	"github.com/cockroachdb/field-eng-deadlock-lab/policy"
	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
	"github.com/cockroachdb/field-eng-deadlock-lab/waitfor"
)

// Outcome classifies a scenario run.
type Outcome int

const (
	// Completed means every participant finished within the deadline.
	Completed Outcome = iota
	// Deadlocked means the deadline fired and stragglers were
	// forcibly terminated.
	Deadlocked
)

func (o Outcome) String() string {
	if o == Deadlocked {
		return "deadlocked"
	}
	return "completed"
}

// A ParticipantResult records one participant's terminal state.
type ParticipantResult struct {
	Name    string
	Status  policy.Status
	Retries int
	Waited  time.Duration
}

// A Result is the output of [Orchestrator.Run].
type Result struct {
	Scenario Kind
	Outcome  Outcome
	// Participants are listed in spawn order.
	Participants []ParticipantResult
	// Cycle names the participants along the wait-for cycle captured
	// at the deadline, if one was found.
	Cycle []string
	// Summary is nil when telemetry was disabled.
	Summary *metrics.Summary
	Elapsed time.Duration
}

// An Orchestrator owns one scenario run: it builds the shared
// [resource.Set] (and arbiter, for Banker), spawns the participants,
// enforces the deadline, and classifies the outcome. The Orchestrator
// is variant-agnostic; all policy behavior lives behind
// [policy.Policy].
type Orchestrator struct {
	cfg    Config
	kind   Kind
	logger *slog.Logger
	runner Runner
}

// New constructs an [Orchestrator]. A nil logger uses [slog.Default];
// a nil runner spawns plain goroutines under the run's context.
func New(kind Kind, cfg Config, logger *slog.Logger, runner Runner) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		kind:   kind,
		logger: logger.With("scenario", kind.String()),
		runner: runner,
	}
}

// Run executes the scenario. It returns an error only for
// configuration problems or external cancellation; a deadlock is a
// classified outcome, not an error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	cfg := o.cfg
	start := time.Now()
	o.logger.Info(o.kind.Title(),
		"workers", cfg.Workers,
		"resources", cfg.Resources,
		"units", cfg.ResourceUnits)

	capacities := make([]int64, cfg.Resources)
	for idx := range capacities {
		capacities[idx] = cfg.ResourceUnits
	}
	set, err := resource.NewSet(capacities)
	if err != nil {
		return nil, err
	}
	o.describeResources(set)

	var arb *banker.Arbiter
	var claims [][]int64
	if o.kind == Banker {
		claims = o.buildClaims()
		// An invalid declaration aborts before any participant runs.
		arb, err = banker.New(set, claims)
		if err != nil {
			return nil, err
		}
		o.describeClaims(claims)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner := o.runner
	if runner == nil {
		runner = GoRunner(runCtx)
	}

	// The telemetry consumer runs under the host context, not runCtx:
	// the deadline cancellation must not stop it before it has drained
	// the events terminated participants emit while unwinding.
	collectorRunner := o.runner
	if collectorRunner == nil {
		collectorRunner = GoRunner(ctx)
	}
	collector, err := metrics.NewCollector(collectorRunner, cfg.MetricsBuffer)
	if err != nil {
		o.logger.Warn("telemetry unavailable, continuing without metrics", "error", err)
		collector = nil
	}

	participants, err := o.buildParticipants(set, arb, claims, collector)
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	statuses := make([]policy.Status, len(participants))
	for idx, p := range participants {
		idx, p := idx, p
		wg.Add(1)
		if err := runner.Go(func(context.Context) {
			defer wg.Done()
			statuses[idx] = p.Run(runCtx)
		}); err != nil {
			wg.Done()
			cancel()
			wg.Wait()
			return nil, fmt.Errorf("spawning %s: %w", p.Name(), err)
		}
	}
	if cfg.Progress {
		o.watchProgress(participants)
	}
	if cfg.MonitorInterval > 0 {
		o.monitor(runCtx, set, participants)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	outcome := Completed
	var cycle []string
	deadline := time.NewTimer(cfg.DeadlockTimeout)
	defer deadline.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	case <-deadline.C:
		// Snapshot the wait-for graph before cancellation unwinds it.
		if path, ok := waitfor.FromSet(set).Cycle(); ok {
			cycle = o.names(participants, path)
			o.logger.Warn("wait-for cycle detected", "cycle", cycle)
		}
		o.logger.Warn("deadline exceeded, terminating stragglers",
			"deadline", cfg.DeadlockTimeout)
		cancel()
		<-done
		outcome = Deadlocked
	}

	o.reclaim(set, arb, participants, statuses)

	if err := collector.Close(ctx); err != nil {
		o.logger.Warn("telemetry drain interrupted", "error", err)
	}

	result := &Result{
		Scenario: o.kind,
		Outcome:  outcome,
		Cycle:    cycle,
		Elapsed:  time.Since(start),
	}
	labels := make(map[int]string, len(participants))
	for idx, p := range participants {
		result.Participants = append(result.Participants, ParticipantResult{
			Name:    p.Name(),
			Status:  statuses[idx],
			Retries: p.Retries(),
			Waited:  p.Waited(),
		})
		labels[p.ID()] = statuses[idx].String()
	}
	result.Summary = collector.Summary(o.kind.String(), labels)

	if outcome == Completed {
		o.logger.Info("all participants finished without deadlock",
			"elapsed", result.Elapsed)
	} else {
		terminated := 0
		for _, status := range statuses {
			if status != policy.Completed {
				terminated++
			}
		}
		o.logger.Info("deadlock resolved by forced termination",
			"terminated", terminated,
			"elapsed", result.Elapsed)
	}
	return result, nil
}

// buildParticipants assigns each participant its task order (or claim)
// and wires the shared collaborators.
func (o *Orchestrator) buildParticipants(
	set *resource.Set,
	arb *banker.Arbiter,
	claims [][]int64,
	collector *metrics.Collector,
) ([]*policy.Participant, error) {
	cfg := o.cfg
	participants := make([]*policy.Participant, cfg.Workers)
	for idx := range participants {
		pc := policy.Config{
			ID:           idx,
			Name:         fmt.Sprintf("P%d", idx+1),
			Kind:         o.kind.policyKind(),
			Set:          set,
			HoldTime:     cfg.HoldTime,
			RetryTimeout: cfg.RetryTimeout,
			Seed:         cfg.Seed + int64(idx),
			Events:       collector,
			Logger:       o.logger,
		}
		switch o.kind {
		case Banker:
			pc.Arbiter = arb
			pc.Claim = claims[idx]
		case Ordered:
			// Task-preferred orders are randomized; the policy imposes
			// the global order anyway.
			pc.Order = shuffledOrder(cfg.Resources, cfg.Seed+int64(idx))
			pc.Units = cfg.ResourceUnits
		default:
			// Opposing orders: even participants ascend, odd descend.
			pc.Order = opposingOrder(cfg.Resources, idx%2 == 1)
			pc.Units = cfg.ResourceUnits
		}
		p, err := policy.New(pc)
		if err != nil {
			return nil, err
		}
		participants[idx] = p
	}
	return participants, nil
}

// buildClaims draws each participant's maximum need, bounded by the
// per-resource capacity so the declaration always validates.
func (o *Orchestrator) buildClaims() [][]int64 {
	cfg := o.cfg
	rng := rand.New(rand.NewSource(cfg.Seed))
	claims := make([][]int64, cfg.Workers)
	for p := range claims {
		claim := make([]int64, cfg.Resources)
		for r := range claim {
			claim[r] = 1 + rng.Int63n(cfg.ResourceUnits)
		}
		claims[p] = claim
	}
	return claims
}

// reclaim is the backstop for the forced-termination path: the
// participants' own unwind already released their holdings, so
// anything left here indicates a leak worth surfacing.
func (o *Orchestrator) reclaim(
	set *resource.Set,
	arb *banker.Arbiter,
	participants []*policy.Participant,
	statuses []policy.Status,
) {
	for idx, p := range participants {
		if statuses[idx] == policy.Completed {
			continue
		}
		if arb != nil {
			arb.ReleaseAll(p.ID())
			continue
		}
		if leaked := set.ReleaseAll(p.ID()); len(leaked) > 0 {
			o.logger.Warn("reclaimed leaked units", "participant", p.Name(), "units", leaked)
		}
	}
	for r := 0; r < set.Len(); r++ {
		id := resource.ID(r)
		if avail := set.Available(id); avail != set.Capacity(id) {
			panic(fmt.Sprintf("resource %s did not return to full availability: %d of %d",
				set.Label(id), avail, set.Capacity(id)))
		}
	}
}

// watchProgress logs "n/m finished" as participants reach a terminal
// status.
func (o *Orchestrator) watchProgress(participants []*policy.Participant) {
	total := len(participants)
	finished := make(chan string, total)
	for _, p := range participants {
		p := p
		go func() {
			status, changed := p.Status()
			for !status.Terminal() {
				<-changed
				status, changed = p.Status()
			}
			finished <- p.Name()
		}()
	}
	go func() {
		for n := 1; n <= total; n++ {
			name := <-finished
			o.logger.Info("progress", "participant", name, "finished", n, "total", total)
		}
	}()
}

// monitor periodically rebuilds the wait-for graph, logging the first
// cycle it observes before the deadline forces the issue.
func (o *Orchestrator) monitor(
	ctx context.Context, set *resource.Set, participants []*policy.Participant,
) {
	go func() {
		ticker := time.NewTicker(o.cfg.MonitorInterval)
		defer ticker.Stop()
		reported := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if reported {
					continue
				}
				if path, ok := waitfor.FromSet(set).Cycle(); ok {
					o.logger.Warn("wait-for cycle observed",
						"cycle", o.names(participants, path))
					reported = true
				}
			}
		}
	}()
}

func (o *Orchestrator) describeResources(set *resource.Set) {
	for r := 0; r < set.Len(); r++ {
		o.logger.Debug("resource",
			"label", set.Label(resource.ID(r)),
			"units", set.Capacity(resource.ID(r)))
	}
}

func (o *Orchestrator) describeClaims(claims [][]int64) {
	for p, claim := range claims {
		o.logger.Info("declared maximum need",
			"participant", fmt.Sprintf("P%d", p+1),
			"claim", claim)
	}
}

func (o *Orchestrator) names(participants []*policy.Participant, ids []int) []string {
	names := make([]string, len(ids))
	for idx, id := range ids {
		if id >= 0 && id < len(participants) {
			names[idx] = participants[id].Name()
		} else {
			names[idx] = fmt.Sprintf("P%d", id+1)
		}
	}
	return names
}

func opposingOrder(resources int, reversed bool) []resource.ID {
	order := make([]resource.ID, resources)
	for idx := range order {
		if reversed {
			order[idx] = resource.ID(resources - 1 - idx)
		} else {
			order[idx] = resource.ID(idx)
		}
	}
	return order
}

func shuffledOrder(resources int, seed int64) []resource.ID {
	order := opposingOrder(resources, false)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}
