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
	"sync"
	"time"

	"github.com/fs123/gofs123/internal/clock"
)

// clip bounds v to [lo, hi].
func clip(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// baseURL tracks one configured origin and the "deferred_until" fallback
// state from spec.md §4.1.1.
type baseURL struct {
	url            string
	deferredUntil  time.Time
}

// FallbackSet implements the fallback policy across configured base URLs:
// iterate picking the first whose deferral has expired, else the least
// deferred; record slow-to-fail URLs with a longer deferral than
// fast-to-fail ones.
type FallbackSet struct {
	clk clock.Clock

	mu    sync.Mutex
	bases []*baseURL
}

// NewFallbackSet builds a FallbackSet over the given base URLs, in the
// order they should be preferred absent any deferral.
func NewFallbackSet(clk clock.Clock, urls []string) *FallbackSet {
	if clk == nil {
		clk = clock.RealClock{}
	}
	fs := &FallbackSet{clk: clk}
	for _, u := range urls {
		fs.bases = append(fs.bases, &baseURL{url: u})
	}
	return fs
}

// Pick returns the best base URL to try next.
func (fs *FallbackSet) Pick() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.clk.Now()
	var best *baseURL
	for _, b := range fs.bases {
		if !b.deferredUntil.After(now) {
			return b.url
		}
		if best == nil || b.deferredUntil.Before(best.deferredUntil) {
			best = b
		}
	}
	if best == nil {
		return ""
	}
	return best.url
}

// RecordFailure defers url for clip(elapsed, 5s, 10min), penalizing
// slow-to-fail URLs more than fast-to-fail ones (spec.md §4.1.1).
func (fs *FallbackSet) RecordFailure(url string, elapsed time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	deferral := clip(elapsed, 5*time.Second, 10*time.Minute)
	now := fs.clk.Now()
	for _, b := range fs.bases {
		if b.url == url {
			b.deferredUntil = now.Add(deferral)
			return
		}
	}
}

// RecordSuccess clears any deferral on url.
func (fs *FallbackSet) RecordSuccess(url string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, b := range fs.bases {
		if b.url == url {
			b.deferredUntil = time.Time{}
			return
		}
	}
}
