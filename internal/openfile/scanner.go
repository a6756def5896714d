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

package openfile

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/specialino"
)

// Handle identifies one registration, handed back to the caller to store in
// the kernel file-handle field and presented again on Release/ExpireNow.
type Handle uint64

// record is the map-side half of the scanner's two coupled structures
// (spec.md §4.3).
type record struct {
	ino      fuseops.InodeID
	handle   Handle
	refcount int
	item     *pqItem // nil when not currently queued
}

// RefreshResult is what GetAttrFresh reports back for one ino.
type RefreshResult struct {
	Validator uint64
	Errno     int32
	Expires   time.Time
}

// GetAttrFresh fetches fresh attributes for ino with max_stale=0 (spec.md
// §4.3 step 2). Supplied by internal/fs, which owns the attribute pipeline.
type GetAttrFresh func(ino fuseops.InodeID) (RefreshResult, error)

// UpdateValidator stores newValidator for ino, returning the prior value;
// supplied by the inode map.
type UpdateValidator func(ino fuseops.InodeID, newValidator uint64) (old uint64, err error)

// NotifyInvalidate issues the kernel "invalidate inode content" call
// (range 0..0), dispatched through a one-goroutine pool so the scanner
// never re-enters a filesystem op handler or blocks on a kernel round-trip
// while holding its mutex (spec.md §4.3).
type NotifyInvalidate func(ino fuseops.InodeID)

var nextHandle atomic.Uint64

// Scanner implements register/release/expire_now and the background
// refresh loop described in spec.md §4.3.
type Scanner struct {
	clk  clock.Clock
	log  *logger.Logger
	stats *specialino.Stats

	getAttrFresh    GetAttrFresh
	updateValidator UpdateValidator
	notify          NotifyInvalidate

	mu      sync.Mutex
	byInode map[fuseops.InodeID]*record
	pq      pqueue
	wake    chan struct{}

	notifyCh chan fuseops.InodeID
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a Scanner. Call Run in its own goroutine to start the
// background loop, and Stop to shut it down.
func New(clk clock.Clock, log *logger.Logger, stats *specialino.Stats, getAttrFresh GetAttrFresh, updateValidator UpdateValidator, notify NotifyInvalidate) *Scanner {
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Scanner{
		clk:             clk,
		log:             log,
		stats:           stats,
		getAttrFresh:    getAttrFresh,
		updateValidator: updateValidator,
		notify:          notify,
		byInode:         make(map[fuseops.InodeID]*record),
		wake:            make(chan struct{}, 1),
		notifyCh:        make(chan fuseops.InodeID, 64),
		done:            make(chan struct{}),
	}
	go s.notifyWorker()
	return s
}

func (s *Scanner) notifyWorker() {
	for {
		select {
		case ino := <-s.notifyCh:
			if s.notify != nil {
				s.notify(ino)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Scanner) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// clampExpires applies the 750ms floor (spec.md §4.3), counting an expiry
// that is already in the past in OfPqStaleCtors.
func (s *Scanner) clampExpires(expires time.Time) time.Time {
	now := s.clk.Now()
	if s.stats != nil && expires.Before(now) {
		s.stats.OfPqStaleCtors.Add(1)
	}
	floor := now.Add(noSoonerThan)
	if expires.Before(floor) {
		return floor
	}
	return expires
}

// Register increments ino's refcount and inserts or updates its queue
// entry, returning a handle the caller stores as the kernel file-handle
// field (spec.md §4.3).
func (s *Scanner) Register(ino fuseops.InodeID, expires time.Time) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	clamped := s.clampExpires(expires)

	r, ok := s.byInode[ino]
	if !ok {
		r = &record{ino: ino, handle: Handle(nextHandle.Add(1))}
		s.byInode[ino] = r
	}
	r.refcount++

	if r.item == nil {
		item := &pqItem{ino: ino, expires: clamped}
		heap.Push(&s.pq, item)
		r.item = item
	} else if r.item.expires != clamped {
		r.item.expires = clamped
		heap.Fix(&s.pq, r.item.index)
	}

	if s.pq.Len() > 0 && s.pq[0] == r.item {
		s.signalWake()
	}
	return r.handle
}

// Release decrements ino's refcount; at zero it is removed from both
// structures (spec.md §4.3).
func (s *Scanner) Release(ino fuseops.InodeID, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byInode[ino]
	if !ok || r.handle != h {
		return
	}
	s.decrefLocked(r)
}

func (s *Scanner) decrefLocked(r *record) {
	r.refcount--
	if r.refcount > 0 {
		return
	}
	if r.item != nil && r.item.index >= 0 {
		heap.Remove(&s.pq, r.item.index)
	}
	delete(s.byInode, r.ino)
}

// ExpireNow sets ino's queue entry to expire immediately and wakes the
// scanner; called by the read path when a chunk's validator is newer than
// the cached inode's (spec.md §4.3, §4.7).
func (s *Scanner) ExpireNow(ino fuseops.InodeID, h Handle) {
	s.mu.Lock()
	r, ok := s.byInode[ino]
	if !ok || r.handle != h {
		s.mu.Unlock()
		return
	}
	if s.stats != nil {
		s.stats.OfImmediateExpirations.Add(1)
	}
	if r.item != nil && r.item.index >= 0 {
		r.item.expires = time.Time{} // zero value sorts before everything
		heap.Fix(&s.pq, r.item.index)
	}
	s.mu.Unlock()
	s.signalWake()
}

// nextWait returns how long to wait before the next scan, and whether
// there is anything queued at all.
func (s *Scanner) nextWait() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pq.Len() == 0 {
		return 0, false
	}
	until := s.pq[0].expires.Sub(s.clk.Now())
	if until < 0 {
		until = 0
	}
	// the extra slack gives clock skew and in-flight swr refreshes time to
	// finish before we cycle again (spec.md §4.3).
	return until + noSoonerThan, true
}

// Run drives the scanner loop until Stop is called. Spurious wakeups are
// tolerated — scan() just does nothing and the loop waits again (spec.md
// §4.3).
func (s *Scanner) Run() {
	for {
		wait, have := s.nextWait()
		var timer <-chan time.Time
		if have {
			timer = s.clk.After(wait)
		}
		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-timer:
		}
		if s.isDone() {
			return
		}
		if s.stats != nil {
			s.stats.OfWakeups.Add(1)
		}
		s.scan()
	}
}

func (s *Scanner) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Stop shuts the scanner down; Run and the notify worker both exit.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// scan pops expired entries and refreshes each, following the five steps of
// spec.md §4.3's "Scanner loop".
func (s *Scanner) scan() {
	now := s.clk.Now()
	for {
		s.mu.Lock()
		if s.pq.Len() == 0 || s.pq[0].expires.After(now) {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.pq).(*pqItem)
		ino := item.ino
		r, ok := s.byInode[ino]
		if !ok || r.item != item {
			// release() already tore this entry down concurrently.
			s.mu.Unlock()
			continue
		}
		r.item = nil
		r.refcount++ // pin the entry across the unlocked fetch below
		s.mu.Unlock()

		s.refreshOne(ino, r)
	}
}

func (s *Scanner) refreshOne(ino fuseops.InodeID, r *record) {
	result, err := s.getAttrFresh(ino)
	mustNotify := false
	fetchFailed := err != nil

	if s.stats != nil {
		s.stats.OfGetattrs.Add(1)
	}

	if err != nil {
		if s.stats != nil {
			s.stats.OfThrowingGetattrs.Add(1)
		}
		if s.log != nil {
			s.log.Warnf("openfile: fresh getattr failed for ino=%d: %v", ino, err)
		}
		mustNotify = true
	} else if result.Errno != 0 {
		if s.stats != nil {
			s.stats.OfFailedGetattrs.Add(1)
		}
		fetchFailed = true
		mustNotify = true
	} else {
		old, uerr := s.updateValidator(ino, result.Validator)
		if uerr != nil {
			// Non-monotonic validator: the server is confused. Treat like a
			// fetch error rather than corrupt our own state (spec.md §4.3).
			if s.log != nil {
				s.log.Warnf("openfile: %v", uerr)
			}
			fetchFailed = true
			mustNotify = true
		} else {
			mustNotify = old != result.Validator
		}
	}

	if mustNotify {
		if s.stats != nil {
			s.stats.OfNotifyInvals.Add(1)
		}
		select {
		case s.notifyCh <- ino:
		default:
			if s.log != nil {
				s.log.Warnf("openfile: notify queue full, dropping invalidate for ino=%d", ino)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byInode[ino]
	if !ok || cur != r {
		return
	}
	if r.refcount--; r.refcount == 0 {
		delete(s.byInode, ino)
		return
	}
	if fetchFailed {
		// Dropped from the queue until the next register/expire_now
		// (spec.md §4.3 step 4).
		return
	}

	if s.stats != nil {
		s.stats.OfPqReinserted.Add(1)
	}
	item := &pqItem{ino: ino, expires: s.clampExpires(result.Expires)}
	if r.item != nil && r.item.index >= 0 {
		// Rare: register() re-added this ino while we were fetching.
		if s.stats != nil {
			s.stats.OfPqScanraces.Add(1)
		}
		heap.Remove(&s.pq, r.item.index)
	}
	heap.Push(&s.pq, item)
	r.item = item
}

// Report renders a short human-readable summary, mirroring the original's
// openfile_report() (spec.md §9).
func (s *Scanner) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("ofpq_size: %d\nofmap_size: %d\n", s.pq.Len(), len(s.byInode))
}
