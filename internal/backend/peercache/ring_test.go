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

package peercache

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteForWithNoPeersReportsNotFound(t *testing.T) {
	r := NewRing(uuid.New())
	_, ok := r.RouteFor("/a/b")
	assert.False(t, ok)
}

func TestSelfWithNoPeersIsAlwaysTrue(t *testing.T) {
	r := NewRing(uuid.New())
	assert.True(t, r.Self("/anything"), "an empty ring must never claim a stem belongs elsewhere")
}

func TestSetPeersIncludesSelf(t *testing.T) {
	self := uuid.New()
	r := NewRing(self)
	r.SetPeers(nil, "127.0.0.1:9000")

	peer, ok := r.RouteFor("/a/b")
	require.True(t, ok)
	assert.Equal(t, self, peer.ID, "with no other peers, every stem must route to self")
}

func TestRouteForIsDeterministic(t *testing.T) {
	r := NewRing(uuid.New())
	r.SetPeers([]Peer{
		{ID: uuid.New(), Addr: "10.0.0.1:9000"},
		{ID: uuid.New(), Addr: "10.0.0.2:9000"},
	}, "10.0.0.0:9000")

	p1, ok1 := r.RouteFor("/same/stem")
	p2, ok2 := r.RouteFor("/same/stem")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, p1.ID, p2.ID)
}

func TestRouteForDistributesAcrossPeers(t *testing.T) {
	self := uuid.New()
	r := NewRing(self)
	peers := []Peer{
		{ID: uuid.New(), Addr: "10.0.0.1:9000"},
		{ID: uuid.New(), Addr: "10.0.0.2:9000"},
		{ID: uuid.New(), Addr: "10.0.0.3:9000"},
	}
	r.SetPeers(peers, "10.0.0.0:9000")

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 200; i++ {
		p, ok := r.RouteFor(uuid.New().String())
		require.True(t, ok)
		seen[p.ID] = true
	}
	assert.Greater(t, len(seen), 1, "200 distinct stems across 4 nodes should not all land on one peer")
}

func TestSelfReflectsRouting(t *testing.T) {
	self := uuid.New()
	r := NewRing(self)
	other := Peer{ID: uuid.New(), Addr: "10.0.0.9:9000"}
	r.SetPeers([]Peer{other}, "10.0.0.0:9000")

	var sawSelf, sawOther bool
	for i := 0; i < 200; i++ {
		stem := uuid.New().String()
		p, _ := r.RouteFor(stem)
		if p.ID == self {
			assert.True(t, r.Self(stem))
			sawSelf = true
		} else {
			assert.False(t, r.Self(stem))
			sawOther = true
		}
	}
	assert.True(t, sawSelf, "expected at least one stem to route to self across 200 tries")
	assert.True(t, sawOther, "expected at least one stem to route to the other peer across 200 tries")
}

func TestSetPeersReplacesPreviousSet(t *testing.T) {
	self := uuid.New()
	r := NewRing(self)
	r.SetPeers([]Peer{{ID: uuid.New(), Addr: "a"}}, "self-addr")
	r.SetPeers(nil, "self-addr")

	p, ok := r.RouteFor("/x")
	require.True(t, ok)
	assert.Equal(t, self, p.ID, "after replacing with an empty peer set, only self should remain")
}
