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

// Package diskcache is the content-addressed on-disk cache layer of the
// backend pipeline (spec.md §4.1.2): sub-directory sharding, atomic
// write-then-rename storage, admission control, a background eviction
// thread, optional custodian election for multi-process sharing, and a
// bounded background-refresh pool.
package diskcache

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// chooseHexDigits picks k, the number of leading hex digits used to name
// sub-directories, targeting ~1000 files per sub-directory at maxFiles
// (spec.md §4.1.2). Clipped to [1,4].
func chooseHexDigits(maxFiles int64) int {
	if maxFiles <= 0 {
		return 1
	}
	k := int(math.Floor(math.Log(float64(maxFiles)/1000.0) / math.Log(16)))
	if k < 1 {
		k = 1
	}
	if k > 4 {
		k = 4
	}
	return k
}

// detectHexDigits scans root for pre-existing "0"*k sub-directories to
// recover k across restarts; returns 0 if none are found.
func detectHexDigits(root string) int {
	for k := 1; k <= 4; k++ {
		name := fmt.Sprintf("%0*x", k, 0)
		if fi, err := os.Stat(filepath.Join(root, name)); err == nil && fi.IsDir() {
			return k
		}
	}
	return 0
}

// layout describes the sharding scheme in force for one cache root.
type layout struct {
	root       string
	hexDigits  int
	numDirs    int
}

func newLayout(root string, maxFiles int64) (*layout, error) {
	k := detectHexDigits(root)
	if k == 0 {
		k = chooseHexDigits(maxFiles)
	}
	l := &layout{root: root, hexDigits: k, numDirs: 1 << uint(4*k)}
	if err := l.ensureSubdirs(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *layout) ensureSubdirs() error {
	for i := 0; i < l.numDirs; i++ {
		name := fmt.Sprintf("%0*x", l.hexDigits, i)
		if err := os.MkdirAll(filepath.Join(l.root, name), 0755); err != nil {
			return fmt.Errorf("diskcache: creating shard %s: %w", name, err)
		}
	}
	return nil
}

// pathFor returns the on-disk path for a cache key, splitting its hex
// representation into a shard directory and a filename as described in
// spec.md §4.1.2 ("the remaining digits form the filename").
func (l *layout) pathFor(key uint64) string {
	hexKey := fmt.Sprintf("%016x", key)
	shard := hexKey[:l.hexDigits]
	file := hexKey[l.hexDigits:]
	return filepath.Join(l.root, shard, file)
}

func (l *layout) shardDir(i int) string {
	return filepath.Join(l.root, fmt.Sprintf("%0*x", l.hexDigits, i))
}
