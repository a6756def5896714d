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

package reqrep

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReqAppliesDefaults(t *testing.T) {
	d := Defaults{StaleIfError: 30, PastStaleWhileRevalidate: 5}
	r := NewReq("/a/b", d)

	assert.Equal(t, "/a/b", r.Stem)
	assert.Equal(t, int64(NoMaxStale), r.MaxStale)
	assert.Equal(t, int64(30), r.StaleIfError)
	assert.Equal(t, int64(5), r.PastStaleWhileRevalidate)
	assert.False(t, r.NoCache)
	assert.Zero(t, r.CacheTag)
}

func TestCacheKeyIsStableAndDeterministic(t *testing.T) {
	r := NewReq("/a/b", Defaults{})

	k1 := r.CacheKey(42)
	k2 := r.CacheKey(42)
	assert.Equal(t, k1, k2, "same request and seed must hash identically")
}

func TestCacheKeyVariesWithSeed(t *testing.T) {
	r := NewReq("/a/b", Defaults{})

	assert.NotEqual(t, r.CacheKey(1), r.CacheKey(2),
		"different base-URL seeds must not collide by default")
}

func TestCacheKeyVariesWithStem(t *testing.T) {
	a := NewReq("/a", Defaults{})
	b := NewReq("/b", Defaults{})

	assert.NotEqual(t, a.CacheKey(7), b.CacheKey(7))
}

func TestCacheKeyVariesWithCacheTag(t *testing.T) {
	base := NewReq("/a/b", Defaults{})
	tagged := base
	tagged.CacheTag = 1

	assert.NotEqual(t, base.CacheKey(7), tagged.CacheKey(7),
		"bumping CacheTag must change the cache key so a client can invalidate its own entries")
}

func TestCacheTagZeroMatchesUntagged(t *testing.T) {
	base := NewReq("/a/b", Defaults{})
	explicitZero := base
	explicitZero.CacheTag = 0

	assert.Equal(t, base.CacheKey(7), explicitZero.CacheKey(7))
}

func TestHash64Deterministic(t *testing.T) {
	assert.Equal(t, Hash64([]byte("http://host")), Hash64([]byte("http://host")))
	assert.NotEqual(t, Hash64([]byte("http://host-a")), Hash64([]byte("http://host-b")))
}
