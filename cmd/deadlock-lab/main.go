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

// Command deadlock-lab demonstrates four strategies for dealing with
// resource contention: an intentional deadlock, ordered acquisition,
// timeout-and-retry, and the banker's algorithm.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/field-eng-deadlock-lab/metrics"
	"github.com/cockroachdb/field-eng-deadlock-lab/scenario"
	"github.com/lmittmann/tint"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		name          = flag.String("scenario", "all", "scenario to run: deadlock, ordered, retry, banker, or all")
		workers       = flag.Int("workers", 2, "number of participants")
		resources     = flag.Int("resources", 2, "number of resources")
		resourceUnits = flag.Int64("resource-units", 1, "units per resource")
		hold          = flag.Duration("hold", scenario.DefaultHoldTime, "work time while holding resources")
		timeout       = flag.Duration("timeout", scenario.DefaultDeadlockTimeout, "deadline before stragglers are terminated")
		retryTimeout  = flag.Duration("retry-timeout", scenario.DefaultRetryTimeout, "per-acquisition bound for the retry scenario")
		monitor       = flag.Duration("monitor", 0, "wait-for-graph check interval (0 disables)")
		seed          = flag.Int64("seed", 0, "random seed (0 derives from worker count)")
		progress      = flag.Bool("progress", false, "log n/m finished progress")
		runFile       = flag.String("scenario-file", "", "YAML run list (overrides -scenario)")
		metricsOut    = flag.String("metrics-out", "", "write a metrics report to this file")
		metricsFormat = flag.String("metrics-format", "json", "metrics report format: json or csv")
		verbose       = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)

	if *metricsFormat != "json" && *metricsFormat != "csv" {
		return fmt.Errorf("unknown metrics format %q", *metricsFormat)
	}

	base := scenario.Config{
		Workers:         *workers,
		Resources:       *resources,
		ResourceUnits:   *resourceUnits,
		HoldTime:        *hold,
		DeadlockTimeout: *timeout,
		RetryTimeout:    *retryTimeout,
		MonitorInterval: *monitor,
		Seed:            *seed,
		Progress:        *progress,
	}

	runs, err := selectRuns(*name, *runFile, base)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := make(metrics.Report)
	for _, r := range runs {
		result, err := scenario.New(r.Kind, r.Config, logger, nil).Run(ctx)
		if err != nil {
			return err
		}
		printResult(logger, result)
		if result.Summary != nil {
			report[reportKey(report, r.Kind)] = result.Summary
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			// Brief gap keeps interleaved runs readable in the log.
		}
	}

	if *metricsOut != "" {
		if err := writeReport(*metricsOut, *metricsFormat, report); err != nil {
			return err
		}
		logger.Info("wrote metrics report", "path", *metricsOut, "format", *metricsFormat)
	}
	return nil
}

func selectRuns(name, runFile string, base scenario.Config) ([]scenario.Run, error) {
	if runFile != "" {
		return scenario.Load(runFile, base)
	}
	if name == "all" {
		runs := make([]scenario.Run, 0, len(scenario.Kinds()))
		for _, k := range scenario.Kinds() {
			runs = append(runs, scenario.Run{Kind: k, Config: base})
		}
		return runs, nil
	}
	kind, err := scenario.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return []scenario.Run{{Kind: kind, Config: base}}, nil
}

func printResult(logger *slog.Logger, result *scenario.Result) {
	for _, pr := range result.Participants {
		logger.Info("participant result",
			"scenario", result.Scenario.String(),
			"participant", pr.Name,
			"status", pr.Status.String(),
			"retries", pr.Retries,
			"waited", pr.Waited.Round(time.Millisecond))
	}
	logger.Info("scenario finished",
		"scenario", result.Scenario.String(),
		"outcome", result.Outcome.String(),
		"elapsed", result.Elapsed.Round(time.Millisecond))
}

// reportKey disambiguates repeated runs of the same scenario from a
// run-list file.
func reportKey(report metrics.Report, kind scenario.Kind) string {
	key := kind.String()
	if _, ok := report[key]; !ok {
		return key
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", key, n)
		if _, ok := report[candidate]; !ok {
			return candidate
		}
	}
}

func writeReport(path, format string, report metrics.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if format == "csv" {
		if err := metrics.WriteCSV(f, report); err != nil {
			return err
		}
	} else if err := metrics.WriteJSON(f, report); err != nil {
		return err
	}
	return f.Close()
}
