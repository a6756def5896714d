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

// Package openfile is the open-file scanner (spec.md §4.3): a priority
// queue of open inodes ordered by attribute expiration, backed by a
// background goroutine that periodically refreshes the soonest-to-expire
// entries and notifies the kernel when their content has changed.
//
// The original implementation paired a std::map with a std::multiset
// acting as a priority queue; container/heap is the idiomatic Go
// replacement for the multiset half of that pair.
package openfile

import (
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// noSoonerThan is the floor below which a queue entry is never scheduled to
// re-expire, even if the reply that produced it was already stale (spec.md
// §4.3): "the 750ms floor prevents a stale reply from repeatedly jumping to
// the front and spinning the scanner."
const noSoonerThan = 750 * time.Millisecond

// pqItem is one entry in the expiration-ordered heap.
type pqItem struct {
	ino     fuseops.InodeID
	expires time.Time
	index   int // maintained by container/heap
}

type pqueue []*pqItem

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool { return q[i].expires.Before(q[j].expires) }
func (q pqueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *pqueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
