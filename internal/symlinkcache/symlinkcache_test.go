// Copyright 2025 Google LLC
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

package symlinkcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs123/gofs123/internal/clock"
)

func TestGetMissingEntry(t *testing.T) {
	c := New(nil)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestPutThenGetFreshEntry(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(clk)

	c.Put(1, "/target", clk.Now().Add(10*time.Second))

	target, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "/target", target)
}

func TestEntryExpires(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(clk)

	c.Put(1, "/target", clk.Now().Add(5*time.Second))

	clk.AdvanceTime(4 * time.Second)
	_, ok := c.Get(1)
	assert.True(t, ok)

	clk.AdvanceTime(2 * time.Second)
	_, ok = c.Get(1)
	assert.False(t, ok)
}

func TestEraseRemovesEntry(t *testing.T) {
	c := New(nil)
	c.Put(1, "/target", time.Now().Add(time.Minute))
	assert.Equal(t, 1, c.Len())

	c.Erase(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	c := New(nil)
	exp := time.Now().Add(time.Minute)
	c.Put(1, "/first", exp)
	c.Put(1, "/second", exp)

	target, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "/second", target)
	assert.Equal(t, 1, c.Len())
}
