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

// Package waitfor detects deadlocks by finding cycles in a wait-for
// graph. An edge from participant X to participant Y means X is
// blocked on a resource that Y holds.
package waitfor

import (
	"sort"

	"github.com/cockroachdb/field-eng-deadlock-lab/resource"
)

// A Graph is a directed wait-for graph over participant ids. A Graph
// is not synchronized; build it from a consistent snapshot.
type Graph struct {
	edges map[int]map[int]struct{}
}

// New constructs an empty [Graph].
func New() *Graph {
	return &Graph{edges: make(map[int]map[int]struct{})}
}

// FromSet builds the wait-for graph implied by the Set's current
// waiters and holders.
func FromSet(set *resource.Set) *Graph {
	g := New()
	for participant, w := range set.Waiting() {
		for _, holder := range set.Holders(w.Resource) {
			if holder != participant {
				g.AddEdge(participant, holder)
			}
		}
	}
	return g
}

// AddEdge records that from is waiting on a resource held by to.
func (g *Graph) AddEdge(from, to int) {
	targets := g.edges[from]
	if targets == nil {
		targets = make(map[int]struct{})
		g.edges[from] = targets
	}
	targets[to] = struct{}{}
}

// Edges returns the graph's edges sorted by source, then target.
func (g *Graph) Edges() [][2]int {
	var edges [][2]int
	for from, targets := range g.edges {
		for to := range targets {
			edges = append(edges, [2]int{from, to})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	return edges
}

// Cycle returns a cycle in the graph, if one exists. The slice lists
// the participants along the cycle with the first repeated at the end.
func (g *Graph) Cycle() ([]int, bool) {
	visited := make(map[int]struct{})
	onStack := make(map[int]struct{})
	var path []int

	var dfs func(node int) []int
	dfs = func(node int) []int {
		visited[node] = struct{}{}
		onStack[node] = struct{}{}
		path = append(path, node)

		for _, next := range g.sortedTargets(node) {
			if _, seen := visited[next]; !seen {
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			} else if _, open := onStack[next]; open {
				for idx, n := range path {
					if n == next {
						return append(append([]int(nil), path[idx:]...), next)
					}
				}
			}
		}

		delete(onStack, node)
		path = path[:len(path)-1]
		return nil
	}

	var nodes []int
	for node := range g.edges {
		nodes = append(nodes, node)
	}
	sort.Ints(nodes)
	for _, node := range nodes {
		if _, seen := visited[node]; seen {
			continue
		}
		if cycle := dfs(node); cycle != nil {
			return cycle, true
		}
	}
	return nil, false
}

func (g *Graph) sortedTargets(node int) []int {
	targets := make([]int, 0, len(g.edges[node]))
	for to := range g.edges[node] {
		targets = append(targets, to)
	}
	sort.Ints(targets)
	return targets
}
