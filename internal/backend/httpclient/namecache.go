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

package httpclient

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fs123/gofs123/internal/clock"
)

// nameCacheEntry holds a resolution result for one host.
type nameCacheEntry struct {
	addrs     []string
	refreshed time.Time
	next      uint64 // round-robin counter, accessed atomically
}

// NameCache caches DNS resolution results keyed by host, refreshed
// periodically by a maintenance task (spec.md §4.1.1). On a miss it
// resolves under a single-writer lock so concurrent lookups for the same
// host collapse into one system resolution.
type NameCache struct {
	clk   clock.Clock
	ttl   time.Duration
	mu    sync.Mutex
	byKey map[string]*nameCacheEntry

	// Resolve is overridable for tests; defaults to net.DefaultResolver.
	Resolve func(ctx context.Context, host string) ([]string, error)
}

// NewNameCache builds a NameCache with the given refresh TTL.
func NewNameCache(clk clock.Clock, ttl time.Duration) *NameCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	nc := &NameCache{clk: clk, ttl: ttl, byKey: make(map[string]*nameCacheEntry)}
	nc.Resolve = nc.systemResolve
	return nc
}

func (nc *NameCache) systemResolve(ctx context.Context, host string) ([]string, error) {
	ips, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// isNumericHost reports whether host looks like a literal IP address, in
// which case the cache is bypassed entirely (spec.md §4.1.1).
func isNumericHost(host string) bool {
	_, err := netip.ParseAddr(host)
	return err == nil
}

// Lookup returns one address for host, round-robining among the cached
// set by an atomic counter. Bypasses the cache for numeric hosts.
func (nc *NameCache) Lookup(ctx context.Context, host string) (string, error) {
	if isNumericHost(host) {
		return host, nil
	}

	nc.mu.Lock()
	entry, ok := nc.byKey[host]
	if ok && nc.clk.Now().Sub(entry.refreshed) < nc.ttl {
		nc.mu.Unlock()
		return entry.pick(), nil
	}
	nc.mu.Unlock()

	// Resolve under a single-writer lock so concurrent misses for the same
	// host collapse into one system resolution.
	nc.mu.Lock()
	defer nc.mu.Unlock()

	// Re-check: another goroutine may have refreshed while we waited.
	entry, ok = nc.byKey[host]
	if ok && nc.clk.Now().Sub(entry.refreshed) < nc.ttl {
		return entry.pick(), nil
	}

	addrs, err := nc.Resolve(ctx, host)
	if err != nil {
		if ok {
			// Serve stale on resolution failure rather than erroring a
			// request that could otherwise proceed.
			return entry.pick(), nil
		}
		return "", err
	}

	entry = &nameCacheEntry{addrs: addrs, refreshed: nc.clk.Now()}
	nc.byKey[host] = entry
	return entry.pick(), nil
}

func (e *nameCacheEntry) pick() string {
	if len(e.addrs) == 0 {
		return ""
	}
	n := atomic.AddUint64(&e.next, 1)
	return e.addrs[int(n-1)%len(e.addrs)]
}

// RefreshAll re-resolves every cached host; intended to be called by the
// once-a-minute maintenance task (spec.md §5).
func (nc *NameCache) RefreshAll(ctx context.Context) {
	nc.mu.Lock()
	hosts := make([]string, 0, len(nc.byKey))
	for h := range nc.byKey {
		hosts = append(hosts, h)
	}
	nc.mu.Unlock()

	for _, h := range hosts {
		addrs, err := nc.Resolve(ctx, h)
		if err != nil {
			continue
		}
		nc.mu.Lock()
		if entry, ok := nc.byKey[h]; ok {
			entry.addrs = addrs
			entry.refreshed = nc.clk.Now()
		}
		nc.mu.Unlock()
	}
}
