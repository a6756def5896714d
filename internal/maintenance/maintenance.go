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

// Package maintenance runs the background upkeep spec.md §5 groups under
// "one periodic maintenance task": DNS refresh for every base URL, disk
// cache eviction, and the secret manager's key-rotation poll. Each runs
// under its own goroutine supervised by an errgroup.
package maintenance

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fs123/gofs123/internal/logger"
)

// NameRefresher is satisfied by httpclient.NameCache (as returned by
// httpclient.Client.NameCache): re-resolves every known
// host's DNS record before its cached answer expires.
type NameRefresher interface {
	RefreshAll(ctx context.Context)
}

// Evictor is satisfied by diskcache.Cache. RunEviction blocks, driving its
// own internal ticker, so it is launched once for the life of the process
// rather than re-invoked on Supervisor's tick (diskcache/cache.go's
// RunEviction doc comment: "Intended to be launched once, from the
// maintenance supervisor").
type Evictor interface {
	RunEviction(ctx context.Context)
}

// SecretRefresher is satisfied by an optional secret manager that rotates
// its keys on its own schedule (spec.md §1's "external collaborator").
// Nil disables this worker.
type SecretRefresher interface {
	Refresh(ctx context.Context) error
}

// Options bundles Supervisor's dependencies. Names, Evict and Secrets may
// each be nil, in which case the corresponding worker is skipped; a nil Log
// drops tick errors instead of logging them.
type Options struct {
	Names   NameRefresher
	Evict   Evictor
	Secrets SecretRefresher

	// Interval is the tick period for Names and Secrets. Defaults to one
	// minute (spec.md §5).
	Interval time.Duration

	Log *logger.Logger
}

// Supervisor runs gofs123's background upkeep workers until its context is
// canceled.
type Supervisor struct {
	opts Options
}

// New builds a Supervisor from opts, filling Interval with spec.md §5's
// one-minute default if unset.
func New(opts Options) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Supervisor{opts: opts}
}

// Run blocks until every configured worker has returned. Each worker returns
// once ctx is canceled and never reports an error, so Run returns nil; with
// no worker configured it returns at once.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.opts.Evict != nil {
		g.Go(func() error {
			s.opts.Evict.RunEviction(gctx)
			return nil
		})
	}
	if s.opts.Names != nil {
		g.Go(func() error {
			s.tick(gctx, "name-cache-refresh", func() error {
				s.opts.Names.RefreshAll(gctx)
				return nil
			})
			return nil
		})
	}
	if s.opts.Secrets != nil {
		g.Go(func() error {
			s.tick(gctx, "secret-refresh", s.opts.Secrets.Refresh)
			return nil
		})
	}

	return g.Wait()
}

// tick invokes work every s.opts.Interval until ctx is canceled, logging
// (rather than propagating) any error work returns, so that a single
// failed refresh never brings down the whole supervisor.
func (s *Supervisor) tick(ctx context.Context, name string, work func() error) {
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := work(); err != nil && s.opts.Log != nil {
				s.opts.Log.Warnf("maintenance: %s: %v", name, err)
			}
		}
	}
}
