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

// Package symlinkcache is the short-lived, inode-keyed symlink target
// cache (spec.md §3): entries live only as long as the reply that
// produced them was fresh, with no separate TTL policy of its own.
package symlinkcache

import (
	"sync"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/fs123/gofs123/internal/clock"
)

// Entry is one cached symlink target.
type Entry struct {
	Target  string
	Expires time.Time
}

func (e Entry) fresh(now time.Time) bool { return now.Before(e.Expires) }

// Cache is a mutex-guarded map from inode to symlink target.
type Cache struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[fuseops.InodeID]Entry
}

// New builds an empty symlink cache. clk may be nil (uses RealClock).
func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cache{clk: clk, entries: make(map[fuseops.InodeID]Entry)}
}

// Get returns the cached target for ino if present and still fresh.
func (c *Cache) Get(ino fuseops.InodeID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ino]
	if !ok || !e.fresh(c.clk.Now()) {
		return "", false
	}
	return e.Target, true
}

// Put stores or overwrites the target for ino.
func (c *Cache) Put(ino fuseops.InodeID, target string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ino] = Entry{Target: target, Expires: expires}
}

// Erase removes the entry for ino.
func (c *Cache) Erase(ino fuseops.InodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ino)
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
