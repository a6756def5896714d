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
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/logger"
)

// evictParams are the thresholds from spec.md §4.1.2's eviction formulas.
type evictParams struct {
	MaxFiles        int64
	MaxBytes        int64 // max_mbytes * 1e6
	EvictTargetFrac float64
	EvictLWM        float64
	EvictThrottleLWM float64
	Period          time.Duration
}

// evictor runs the background eviction thread and, if fancy sharing is
// enabled, the custodian election protocol.
type evictor struct {
	layout *layout
	params evictParams
	clk    clock.Clock
	log    *logger.Logger

	fancySharing bool
	statusPath   string
	statusFile   *os.File
	custodian    atomic.Bool

	injectProb atomic.Uint64 // math.Float64bits, the published admission probability
}

func newEvictor(l *layout, p evictParams, clk clock.Clock, log *logger.Logger, fancySharing bool) *evictor {
	e := &evictor{layout: l, params: p, clk: clk, log: log, fancySharing: fancySharing}
	e.setInjectProb(1.0)
	if fancySharing {
		e.statusPath = filepath.Join(l.root, "status")
	}
	return e
}

func (e *evictor) setInjectProb(p float64) { e.injectProb.Store(math.Float64bits(p)) }

// InjectProb returns the currently published admission probability.
func (e *evictor) InjectProb() float64 { return math.Float64frombits(e.injectProb.Load()) }

// custodianCheck implements "once custodian, always custodian for the
// process lifetime" (spec.md §4.1.2). Without fancy sharing every process
// is its own custodian.
func (e *evictor) custodianCheck() bool {
	if !e.fancySharing {
		return true
	}
	if e.custodian.Load() {
		return true
	}
	if e.statusFile == nil {
		f, err := os.OpenFile(e.statusPath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			if e.log != nil {
				e.log.Warnf("diskcache: opening status file: %v", err)
			}
			return false
		}
		e.statusFile = f
	}
	err := unix.Flock(int(e.statusFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		e.custodian.Store(true)
		if e.log != nil {
			e.log.Infof("diskcache: acquired custodian lock, this process now runs evictions")
		}
		return true
	}
	return false
}

// readPublishedInjectProb is called by non-custodian processes every 10
// seconds to read the custodian's published admission probability.
func (e *evictor) readPublishedInjectProb() {
	b, err := os.ReadFile(e.statusPath)
	if err != nil || len(b) == 0 {
		return
	}
	var p float64
	if _, err := fmt.Sscan(string(b), &p); err == nil && p >= 0 && p <= 1 {
		e.setInjectProb(p)
	}
}

// publishInjectProb writes the current probability to the status file at a
// fixed width, atomically, at offset 0 (spec.md §4.1.2).
func (e *evictor) publishInjectProb(p float64) {
	if e.statusFile == nil {
		return
	}
	line := fmt.Sprintf("%.8f\n", p)
	e.statusFile.WriteAt([]byte(line), 0)
}

type shardStats struct {
	nFiles int
	nBytes int64
	names  []string
}

func scanShard(dir string) (shardStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return shardStats{}, err
	}
	var s shardStats
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasSuffix(name, ".new") || name == "status" {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		s.nFiles++
		// blocks*512 + 4096 models typical small-file filesystem overhead
		// (spec.md §4.1.2); approximate blocks from the apparent size since
		// the DirEntry API doesn't expose st_blocks portably.
		blocks := (info.Size() + 511) / 512
		s.nBytes += blocks*512 + 4096
		s.names = append(s.names, name)
	}
	return s, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runOneShard performs one eviction pass over a single sub-directory,
// implementing the formulas from spec.md §4.1.2 steps 1-4, and returns the
// inject_prob this pass computed.
func (e *evictor) runOneShard(dirIndex int) (float64, error) {
	dir := e.layout.shardDir(dirIndex)
	stats, err := scanShard(dir)
	if err != nil {
		return 0, err
	}

	nDirs := float64(e.layout.numDirs)
	fileFrac := float64(stats.nFiles) / (float64(e.params.MaxFiles) / nDirs)
	byteFrac := float64(stats.nBytes) / (float64(e.params.MaxBytes) / nDirs)
	usage := math.Max(fileFrac, byteFrac)

	if usage > e.params.EvictTargetFrac {
		evictFraction := (usage - e.params.EvictLWM) / usage
		if evictFraction < 0 {
			evictFraction = 0
		}
		nEvict := int(math.Ceil(float64(stats.nFiles) * evictFraction))
		victims := chooseRandom(stats.names, nEvict)
		for _, v := range victims {
			os.Remove(filepath.Join(dir, v))
		}
	}

	injectProb := clip((1.0-usage)/(1.0-e.params.EvictThrottleLWM), 0, 1)
	return injectProb, nil
}

func chooseRandom(names []string, n int) []string {
	if n >= len(names) {
		return names
	}
	if n <= 0 {
		return nil
	}
	idx := rand.Perm(len(names))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = names[j]
	}
	return out
}

// Run drives the eviction loop until ctx is cancelled. Each pass scans one
// sub-directory round-robin, publishes inject_prob, and sleeps for
// evict_period * inject_prob / n_dirs before the next (spec.md §4.1.2,
// step 5). On error the loop backs off at least 5 minutes with admission
// disabled (step 6).
func (e *evictor) Run(ctx context.Context) {
	dirIndex := 0
	for {
		if !e.custodianCheck() {
			e.readPublishedInjectProb()
			select {
			case <-ctx.Done():
				return
			case <-e.clk.After(10 * time.Second):
				continue
			}
		}

		prob, err := e.runOneShard(dirIndex)
		if err != nil {
			if e.log != nil {
				e.log.Errorf("diskcache: eviction scan of shard %d failed: %v", dirIndex, err)
			}
			e.setInjectProb(0)
			e.publishInjectProb(0)
			select {
			case <-ctx.Done():
				return
			case <-e.clk.After(5 * time.Minute):
			}
			continue
		}

		e.setInjectProb(prob)
		e.publishInjectProb(prob)

		dirIndex = (dirIndex + 1) % e.layout.numDirs
		sleep := time.Duration(float64(e.params.Period) * prob / float64(e.layout.numDirs))
		select {
		case <-ctx.Done():
			return
		case <-e.clk.After(sleep):
		}
	}
}
