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
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// A FileRun is one entry in a run-list file. Zero fields inherit from
// the base [Config]; durations are Go duration strings ("250ms").
type FileRun struct {
	Scenario      string `yaml:"scenario"`
	Workers       int    `yaml:"workers,omitempty"`
	Resources     int    `yaml:"resources,omitempty"`
	ResourceUnits int64  `yaml:"resource_units,omitempty"`
	HoldTime      string `yaml:"hold_time,omitempty"`
	Timeout       string `yaml:"timeout,omitempty"`
	RetryTimeout  string `yaml:"retry_timeout,omitempty"`
	Seed          int64  `yaml:"seed,omitempty"`
}

// A File is a declarative list of scenario runs.
type File struct {
	Runs []FileRun `yaml:"runs"`
}

// A Run pairs a resolved scenario kind with its effective config.
type Run struct {
	Kind   Kind
	Config Config
}

// Load reads a run-list file and resolves each entry over base.
func Load(path string, base Config) ([]Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	runs, err := Parse(f, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return runs, nil
}

// Parse decodes a run-list document and resolves each entry over base.
func Parse(r io.Reader, base Config) ([]Run, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil {
		return nil, err
	}
	if len(file.Runs) == 0 {
		return nil, fmt.Errorf("run list is empty")
	}
	runs := make([]Run, 0, len(file.Runs))
	for idx, entry := range file.Runs {
		run, err := entry.resolve(base)
		if err != nil {
			return nil, fmt.Errorf("runs[%d]: %w", idx, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (fr FileRun) resolve(base Config) (Run, error) {
	kind, err := ParseKind(fr.Scenario)
	if err != nil {
		return Run{}, err
	}
	cfg := base
	if fr.Workers > 0 {
		cfg.Workers = fr.Workers
	}
	if fr.Resources > 0 {
		cfg.Resources = fr.Resources
	}
	if fr.ResourceUnits > 0 {
		cfg.ResourceUnits = fr.ResourceUnits
	}
	if fr.Seed != 0 {
		cfg.Seed = fr.Seed
	}
	if err := setDuration(&cfg.HoldTime, fr.HoldTime); err != nil {
		return Run{}, fmt.Errorf("hold_time: %w", err)
	}
	if err := setDuration(&cfg.DeadlockTimeout, fr.Timeout); err != nil {
		return Run{}, fmt.Errorf("timeout: %w", err)
	}
	if err := setDuration(&cfg.RetryTimeout, fr.RetryTimeout); err != nil {
		return Run{}, fmt.Errorf("retry_timeout: %w", err)
	}
	return Run{Kind: kind, Config: cfg.withDefaults()}, nil
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	*dst = d
	return nil
}
