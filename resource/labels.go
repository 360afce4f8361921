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

package resource

import "fmt"

// Labels generates human-readable resource names: "Resource A" through
// "Resource Z", then "Resource A2", "Resource B2", and so on.
func Labels(count int) []string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	labels := make([]string, count)
	for idx := range labels {
		letter := alphabet[idx%len(alphabet)]
		if round := idx / len(alphabet); round > 0 {
			labels[idx] = fmt.Sprintf("Resource %c%d", letter, round+1)
		} else {
			labels[idx] = fmt.Sprintf("Resource %c", letter)
		}
	}
	return labels
}
