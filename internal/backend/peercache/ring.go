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

// Package peercache is the optional distributed peer cache layer (spec.md
// §4.1.3): a consistent-hash ring over peer UUIDs, an embedded HTTP server
// for peer-to-peer requests, and loop prevention.
package peercache

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fs123/gofs123/internal/reqrep"
)

// positionsPerPeer is the number of virtual ring positions each peer owns
// (spec.md §4.1.3).
const positionsPerPeer = 100

// Peer identifies one member of the distributed cache.
type Peer struct {
	ID   uuid.UUID
	Addr string
}

type ringEntry struct {
	position uint64
	peer     Peer
}

// Ring is a consistent-hash ring of peers, addressed by URL stem.
type Ring struct {
	mu      sync.RWMutex
	entries []ringEntry
	self    uuid.UUID
}

// NewRing builds an empty ring. self identifies this node; SetPeers places
// it on the ring alongside the peers, and a stem that routes to self is
// answered locally rather than forwarded.
func NewRing(self uuid.UUID) *Ring {
	return &Ring{self: self}
}

func ringPosition(id uuid.UUID, n int) uint64 {
	var buf [24]byte
	copy(buf[:16], id[:])
	binary.LittleEndian.PutUint64(buf[16:], uint64(n))
	return reqrep.Hash64(buf[:])
}

// SetPeers replaces the full peer set, each placed at 100 positions derived
// from hash(uuid, 1..100) (spec.md §4.1.3). self is included in the ring so
// this node gets its own 1/N slice of the hash space; callers identify it
// via Self. Peer discovery (multicast reflector) and ioctl injection are
// out of scope for this package; callers push the discovered set in here.
func (r *Ring) SetPeers(peers []Peer, selfAddr string) {
	all := append([]Peer{{ID: r.self, Addr: selfAddr}}, peers...)
	entries := make([]ringEntry, 0, len(all)*positionsPerPeer)
	for _, p := range all {
		for i := 1; i <= positionsPerPeer; i++ {
			entries = append(entries, ringEntry{position: ringPosition(p.ID, i), peer: p})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].position < entries[j].position })

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// RouteFor returns the peer responsible for stem: the peer at the first
// ring position greater than hash(stem) (spec.md §4.1.3), wrapping around
// to the first entry. Returns (Peer{}, false) when no peers are known.
func (r *Ring) RouteFor(stem string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return Peer{}, false
	}
	h := reqrep.Hash64([]byte(stem))
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].position > h })
	if i == len(r.entries) {
		i = 0
	}
	return r.entries[i].peer, true
}

// Self reports whether stem routes to this node rather than any peer —
// used by the diskcache-behind topology to decide "is this in my 1/N
// slice, or must I forward" (spec.md §4.1.3).
func (r *Ring) Self(stem string) bool {
	p, ok := r.RouteFor(stem)
	return !ok || p.ID == r.self
}
