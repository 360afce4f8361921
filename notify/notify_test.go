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

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVar(t *testing.T) {
	r := require.New(t)

	v := VarOf(1)
	value, changed := v.Get()
	r.Equal(1, value)

	go v.Set(2)
	select {
	case <-changed:
	case <-time.After(time.Second):
		r.Fail("no notification")
	}
	r.Equal(2, v.Peek())
}

func TestVarZeroValue(t *testing.T) {
	r := require.New(t)

	var v Var[string]
	value, changed := v.Get()
	r.Empty(value)

	v.Set("hello")
	select {
	case <-changed:
	default:
		r.Fail("channel should be closed")
	}
	value, _ = v.Get()
	r.Equal("hello", value)
}
