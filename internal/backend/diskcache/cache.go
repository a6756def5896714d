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

package diskcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fs123/gofs123/internal/backend"
	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/reqrep"
)

// recentWindow is the background-refresh de-duplication window (spec.md
// §4.1.2): it must stay shorter than the open-file scanner's refresh retry
// interval so refreshes it schedules aren't silently dropped.
const recentWindow = 500 * time.Millisecond

// Config configures a Cache.
type Config struct {
	Root             string
	HashSeed         uint64 // derived from the base URL, shared by co-located clients
	MaxFiles         int64
	MaxBytes         int64
	EvictTargetFrac  float64
	EvictLWM         float64
	EvictThrottleLWM float64
	EvictPeriod      time.Duration
	FancySharing     bool
	RefreshPoolSize  int
}

// Cache implements backend.Backend as the disk-cache layer of the pipeline
// (spec.md §4.1.2).
type Cache struct {
	cfg    Config
	upstream backend.Backend
	layout *layout
	evict  *evictor
	clk    clock.Clock
	log    *logger.Logger

	sf singleflight.Group

	mu       sync.Mutex
	recent   map[string]time.Time
	refreshG *errgroup.Group
	refreshSlots chan struct{}

	erofsMu       sync.Mutex
	erofsDeferredUntil time.Time
	erofsWarned   bool
}

// New builds a Cache fronting upstream, which is typically the retry
// manager wrapping the HTTP backend (or the peer cache, see
// internal/backend/peercache).
func New(cfg Config, upstream backend.Backend, clk clock.Clock, log *logger.Logger) (*Cache, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	l, err := newLayout(cfg.Root, cfg.MaxFiles)
	if err != nil {
		return nil, err
	}
	ev := newEvictor(l, evictParams{
		MaxFiles:         cfg.MaxFiles,
		MaxBytes:         cfg.MaxBytes,
		EvictTargetFrac:  cfg.EvictTargetFrac,
		EvictLWM:         cfg.EvictLWM,
		EvictThrottleLWM: cfg.EvictThrottleLWM,
		Period:           cfg.EvictPeriod,
	}, clk, log, cfg.FancySharing)

	poolSize := cfg.RefreshPoolSize
	if poolSize <= 0 {
		poolSize = 16
	}

	c := &Cache{
		cfg:          cfg,
		upstream:     upstream,
		layout:       l,
		evict:        ev,
		clk:          clk,
		log:          log,
		recent:       make(map[string]time.Time),
		refreshSlots: make(chan struct{}, poolSize),
	}
	return c, nil
}

// RunEviction runs the background eviction thread until ctx is cancelled.
// Intended to be launched once, from the maintenance supervisor.
func (c *Cache) RunEviction(ctx context.Context) { c.evict.Run(ctx) }

func (c *Cache) cacheKey(req *reqrep.Req) uint64 { return req.CacheKey(c.cfg.HashSeed) }

// Refresh implements the decision tree from spec.md §4.1.2's "Refresh API".
func (c *Cache) Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
	key := c.cacheKey(req)
	path := c.layout.pathFor(key)

	existing, err := load(path)
	if err != nil {
		return false, err
	}

	now := c.clk.Now()
	if existing != nil {
		swrWindow := existing.StaleWhileRevalidate + time.Duration(req.PastStaleWhileRevalidate)*time.Second
		if req.MaxStale >= 0 {
			maxStaleWindow := time.Duration(req.MaxStale) * time.Second
			if maxStaleWindow < swrWindow {
				swrWindow = maxStaleWindow
			}
		}
		ttl := existing.TTL(now)

		if !req.NoCache && ttl > 0 {
			*reply = *existing
			return true, nil
		}
		if !req.NoCache && ttl > -swrWindow {
			*reply = *existing
			c.scheduleBackgroundRefresh(path, *req)
			return true, nil
		}
	}

	refreshed, err := c.syncRefresh(ctx, req, reply, path)
	if err != nil {
		if existing != nil && time.Duration(req.StaleIfError)*time.Second >= -existing.TTL(now) {
			if c.log != nil {
				c.log.Warnf("diskcache: refresh failed, serving stale-if-error entry: %v", err)
			}
			*reply = *existing
			return true, nil
		}
		return false, err
	}
	return refreshed, nil
}

// syncRefresh calls upstream and, on success, persists the result.
func (c *Cache) syncRefresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply, path string) (bool, error) {
	refreshed, err := c.upstream.Refresh(ctx, req, reply)
	if err != nil {
		return refreshed, err
	}
	if refreshed {
		c.persist(path, reply)
	}
	return refreshed, nil
}

// persist writes reply to path, subject to the admission gate and the
// EROFS back-off window.
func (c *Cache) persist(path string, reply *reqrep.Reply) {
	c.erofsMu.Lock()
	deferred := c.clk.Now().Before(c.erofsDeferredUntil)
	c.erofsMu.Unlock()
	if deferred {
		return
	}
	if !admit(c.evict.InjectProb()) {
		return
	}
	if err := store(path, reply); err != nil {
		if isReadOnlyFSError(err) {
			c.erofsMu.Lock()
			c.erofsDeferredUntil = c.clk.Now().Add(5 * time.Minute)
			warn := !c.erofsWarned
			c.erofsWarned = true
			c.erofsMu.Unlock()
			if warn && c.log != nil {
				c.log.Errorf("diskcache: %s is read-only, deferring writes for 5m", c.cfg.Root)
			}
			return
		}
		if c.log != nil {
			c.log.Warnf("diskcache: storing %s: %v", path, err)
		}
	}
}

// scheduleBackgroundRefresh enqueues an asynchronous refresh for a
// stale-but-usable entry, deduplicated within recentWindow and bounded by
// the refresh worker pool (spec.md §4.1.2).
func (c *Cache) scheduleBackgroundRefresh(path string, req reqrep.Req) {
	c.mu.Lock()
	now := c.clk.Now()
	if last, ok := c.recent[path]; ok && now.Sub(last) < recentWindow {
		c.mu.Unlock()
		return
	}
	c.recent[path] = now
	for p, t := range c.recent {
		if now.Sub(t) > recentWindow {
			delete(c.recent, p)
		}
	}
	c.mu.Unlock()

	select {
	case c.refreshSlots <- struct{}{}:
	default:
		// pool saturated; drop this refresh, the scanner or a later stale
		// read will retry it.
		return
	}

	go func() {
		defer func() { <-c.refreshSlots }()
		c.runBackgroundRefresh(path, req)
	}()
}

// runBackgroundRefresh re-enters upstream with max_stale=0 to force
// freshness, then synchronously serializes the result: a further
// background task to serialize would deadlock a saturated pool (spec.md
// §4.1.2).
func (c *Cache) runBackgroundRefresh(path string, req reqrep.Req) {
	_, err, _ := c.sf.Do(path, func() (interface{}, error) {
		forced := req
		forced.MaxStale = 0
		var reply reqrep.Reply
		reply.Errno = reqrep.InvalidErrno

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		refreshed, err := c.upstream.Refresh(ctx, &forced, &reply)
		if err != nil {
			return nil, err
		}
		if refreshed {
			c.persist(path, &reply)
		} else {
			rewriteHeader(path, &reply)
		}
		return nil, nil
	})
	if err != nil && c.log != nil {
		c.log.Warnf("diskcache: background refresh of %s failed: %v", path, err)
	}
}

var _ backend.Backend = (*Cache)(nil)
