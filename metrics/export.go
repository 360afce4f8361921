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
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
)

// A Report maps a scenario name to its summary. It is the exporter
// surface produced by an "all" run.
type Report map[string]*Summary

// WriteJSON serializes the report as indented JSON.
func WriteJSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// csvHeader is the column layout for [WriteCSV].
var csvHeader = []string{
	"scenario", "run_id", "participant", "status", "duration", "retries", "wait_time",
}

// WriteCSV serializes the report as one row per participant, ordered
// by scenario name.
func WriteCSV(w io.Writer, report Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	scenarios := make([]string, 0, len(report))
	for name := range report {
		scenarios = append(scenarios, name)
	}
	sort.Strings(scenarios)

	for _, name := range scenarios {
		summary := report[name]
		if summary == nil {
			continue
		}
		for _, rec := range summary.Participants {
			row := []string{
				name,
				summary.RunID,
				rec.ID,
				rec.Status,
				strconv.FormatFloat(rec.Duration, 'f', 3, 64),
				strconv.Itoa(rec.Retries),
				strconv.FormatFloat(rec.WaitTime, 'f', 3, 64),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
