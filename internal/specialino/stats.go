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

// Package specialino implements the small reserved inodes backed by
// in-process content (spec.md §4.6): a statistics snapshot, a
// configuration snapshot, an ioctl sink, and a server-statistics passthrough.
package specialino

import (
	"fmt"
	"sync/atomic"
)

// Stats holds the process's running counters. Field names carry over the
// open-file scanner's counter naming from the original implementation
// (spec.md §4.3, §9) so the statistics snapshot special inode reads the
// same way an operator of the original system would expect.
type Stats struct {
	OfWakeups              atomic.Uint64
	OfGetattrs             atomic.Uint64
	OfFailedGetattrs       atomic.Uint64
	OfThrowingGetattrs     atomic.Uint64
	OfNotifyInvals         atomic.Uint64
	OfPqStaleCtors         atomic.Uint64
	OfPqReinserted         atomic.Uint64
	OfPqScanraces          atomic.Uint64
	OfImmediateExpirations atomic.Uint64

	EstaleMismatches atomic.Uint64
	EstaleRecoveries atomic.Uint64

	DcEvictionDirscans atomic.Uint64
	DcEvictions        atomic.Uint64

	BackendRequests atomic.Uint64
	BackendRetries  atomic.Uint64
	BackendErrors   atomic.Uint64
}

// Snapshot renders every counter as "name value\n" lines, the layout the
// statistics special inode serves on read (spec.md §4.6).
func (s *Stats) Snapshot() []byte {
	var out []byte
	add := func(name string, v uint64) {
		out = append(out, []byte(fmt.Sprintf("%s %d\n", name, v))...)
	}
	add("of_wakeups", s.OfWakeups.Load())
	add("of_getattrs", s.OfGetattrs.Load())
	add("of_failed_getattrs", s.OfFailedGetattrs.Load())
	add("of_throwing_getattrs", s.OfThrowingGetattrs.Load())
	add("of_notify_invals", s.OfNotifyInvals.Load())
	add("of_pq_stale_ctors", s.OfPqStaleCtors.Load())
	add("of_pq_reinserted", s.OfPqReinserted.Load())
	add("of_pq_scanraces", s.OfPqScanraces.Load())
	add("of_immediate_expirations", s.OfImmediateExpirations.Load())
	add("estale_mismatches", s.EstaleMismatches.Load())
	add("estale_recoveries", s.EstaleRecoveries.Load())
	add("dc_eviction_dirscans", s.DcEvictionDirscans.Load())
	add("dc_evictions", s.DcEvictions.Load())
	add("backend_requests", s.BackendRequests.Load())
	add("backend_retries", s.BackendRetries.Load())
	add("backend_errors", s.BackendErrors.Load())
	return out
}
