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

package attrcache

import (
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs123/gofs123/internal/clock"
)

func TestGetMissingEntry(t *testing.T) {
	c := New(nil)
	_, ok := c.Get(1, "a")
	assert.False(t, ok)
}

func TestPutThenGetFreshEntry(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(clk)

	e := Entry{Ino: 42, EstaleCookie: 1, Expires: clk.Now().Add(10 * time.Second)}
	c.Put(1, "a", e)

	got, ok := c.Get(1, "a")
	require.True(t, ok)
	assert.Equal(t, fuseops.InodeID(42), got.Ino)
}

func TestEntryExpiresAtMaxAge(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(clk)

	c.Put(1, "a", Entry{Ino: 42, Expires: clk.Now().Add(5 * time.Second)})

	clk.AdvanceTime(4 * time.Second)
	_, ok := c.Get(1, "a")
	assert.True(t, ok, "still within max_age window")

	clk.AdvanceTime(2 * time.Second)
	_, ok = c.Get(1, "a")
	assert.False(t, ok, "past Expires, entry must report stale even though it is still stored")
}

func TestEraseRemovesEntry(t *testing.T) {
	c := New(nil)
	c.Put(1, "a", Entry{Expires: time.Now().Add(time.Minute)})
	assert.Equal(t, 1, c.Len())

	c.Erase(1, "a")
	_, ok := c.Get(1, "a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestDifferentParentsDoNotCollide(t *testing.T) {
	c := New(nil)
	exp := time.Now().Add(time.Minute)
	c.Put(1, "a", Entry{Ino: 10, Expires: exp})
	c.Put(2, "a", Entry{Ino: 20, Expires: exp})

	e1, _ := c.Get(1, "a")
	e2, _ := c.Get(2, "a")
	assert.Equal(t, fuseops.InodeID(10), e1.Ino)
	assert.Equal(t, fuseops.InodeID(20), e2.Ino)
}

func TestHashKeyDeterministicAndDistinct(t *testing.T) {
	assert.Equal(t, HashKey(1, "a"), HashKey(1, "a"))
	assert.NotEqual(t, HashKey(1, "a"), HashKey(1, "b"))
	assert.NotEqual(t, HashKey(1, "a"), HashKey(2, "a"))
}

func TestLenCountsRegardlessOfFreshness(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	c := New(clk)
	c.Put(1, "a", Entry{Expires: clk.Now().Add(-time.Second)}) // already expired
	assert.Equal(t, 1, c.Len())
}
