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

// Package inode is the inode map (spec.md §4.2): the kernel-facing
// lookup/forget refcounting table that lets the filesystem translate
// between fuseops.InodeID and (parent, name, validator) triples.
package inode

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jacobsa/fuse/fuseops"
)

// RootInodeID is the sentinel parent of the mount root itself, matching
// fuseops.RootInodeID (1).
const RootInodeID = fuseops.RootInodeID

// Genesis computes the inode identity invariant of spec.md §8:
// I == hash64(name(I), parent(I), estale_cookie_at_last_lookup(I)). Root and
// special inodes are exempt from this invariant (spec.md §4.4) and never go
// through Genesis.
func Genesis(name string, parent fuseops.InodeID, estaleCookie uint64) fuseops.InodeID {
	d := xxhash.New()
	_, _ = d.WriteString(name)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(parent))
	binary.LittleEndian.PutUint64(buf[8:], estaleCookie)
	_, _ = d.Write(buf[:])
	return fuseops.InodeID(d.Sum64())
}

// record is one inode map entry: the kernel-visible lookup refcount plus
// enough identity to reconstruct a full path (spec.md §4.2).
type record struct {
	name      string
	parent    fuseops.InodeID
	validator uint64
	refcount  int64
}

// Map is the inode map. The zero value is not usable; use New.
type Map struct {
	mu          sync.Mutex
	byInode     map[fuseops.InodeID]*record
	protoMinor  int
}

// New builds a Map seeded with the mount root at RootInodeID. protoMinor
// selects validator-update semantics (spec.md §4.2: monotonicity enforced
// at protocol >= 7.2, i.e. minor >= 2).
func New(protoMinor int) *Map {
	m := &Map{
		byInode:    make(map[fuseops.InodeID]*record),
		protoMinor: protoMinor,
	}
	m.byInode[RootInodeID] = &record{name: "", parent: 0, validator: 1, refcount: 1}
	return m
}

// Remember records one kernel lookup of (parent, name) as ino with the
// given validator, incrementing its refcount (spec.md §4.2). If ino is
// already present, its (parent, name) must match; a mismatch is an error
// the caller should treat as EINVAL — a sign that two distinct paths hashed
// to the same inode identity.
func (m *Map) Remember(parent fuseops.InodeID, name string, ino fuseops.InodeID, validator uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byInode[ino]
	if !ok {
		m.byInode[ino] = &record{name: name, parent: parent, validator: validator, refcount: 1}
		return nil
	}
	if r.name != name || r.parent != parent {
		return fmt.Errorf("inode: remember(parent=%d, name=%q, ino=%d) conflicts with existing (parent=%d, name=%q)",
			parent, name, ino, r.parent, r.name)
	}
	r.refcount++
	return nil
}

// Forget decrements ino's refcount by n; at zero the entry is erased
// (spec.md §4.2). Forgetting an unknown or already-zero inode is logged by
// the caller, not treated as fatal — matching the original's "complain and
// continue" behavior for a kernel protocol violation that can't be
// recovered from locally.
func (m *Map) Forget(ino fuseops.InodeID, n uint64) (found bool, hadUnderflow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byInode[ino]
	if !ok {
		return false, false
	}
	r.refcount -= int64(n)
	if r.refcount < 0 {
		r.refcount = 0
		hadUnderflow = true
	}
	if r.refcount == 0 {
		delete(m.byInode, ino)
	}
	return true, hadUnderflow
}

// LookupValidator returns ino's stored validator.
func (m *Map) LookupValidator(ino fuseops.InodeID) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byInode[ino]
	if !ok {
		return 0, false
	}
	return r.validator, true
}

// UpdateValidator stores newValidator for ino and returns the old value. At
// protocol minor <= 1 it's stored unconditionally. At minor >= 2,
// monotonicity is required: a newValidator smaller than the stored value is
// a protocol violation by the server (spec.md §4.2) and is reported as an
// error without modifying the stored value.
func (m *Map) UpdateValidator(ino fuseops.InodeID, newValidator uint64) (old uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byInode[ino]
	if !ok {
		return 0, fmt.Errorf("inode: update_validator(%d): no such inode", ino)
	}
	old = r.validator
	if m.protoMinor <= 1 {
		r.validator = newValidator
		return old, nil
	}
	if newValidator < r.validator {
		return old, fmt.Errorf("inode: update_validator(%d): new validator %d is less than cached validator %d, server is confused",
			ino, newValidator, r.validator)
	}
	r.validator = newValidator
	return old, nil
}

// InodeToParentName returns ino's (parent, name).
func (m *Map) InodeToParentName(ino fuseops.InodeID) (parent fuseops.InodeID, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byInode[ino]
	if !ok {
		return 0, "", fmt.Errorf("inode: %d not found", ino)
	}
	return r.parent, r.name, nil
}

// fullname must be called with m.mu held, and never on the root itself —
// the two call sites below short-circuit that case before recursing.
func (m *Map) fullname(r *record) (string, error) {
	if r.parent == RootInodeID {
		return "/" + r.name, nil
	}
	p, ok := m.byInode[r.parent]
	if !ok {
		return "", fmt.Errorf("inode: couldn't find parent %d in inode map", r.parent)
	}
	pname, err := m.fullname(p)
	if err != nil {
		return "", err
	}
	return pname + "/" + r.name, nil
}

// InodeToFullPath reconstructs the full path of ino by walking parent
// links. The root's own path is "" (spec.md §4.2, "the root's parent lookup
// short-circuits").
func (m *Map) InodeToFullPath(ino fuseops.InodeID) (string, error) {
	if ino == RootInodeID {
		return "", nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byInode[ino]
	if !ok {
		return "", fmt.Errorf("inode: %d not found", ino)
	}
	return m.fullname(r)
}

// InodeToFullPathValidator is InodeToFullPath plus the inode's validator in
// one locked pass, avoiding a second lock round-trip on the read hot path.
func (m *Map) InodeToFullPathValidator(ino fuseops.InodeID) (path string, validator uint64, err error) {
	if ino == RootInodeID {
		return "", 1, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byInode[ino]
	if !ok {
		return "", 0, fmt.Errorf("inode: %d not found", ino)
	}
	path, err = m.fullname(r)
	return path, r.validator, err
}

// Count returns the number of live entries, for the statistics special
// inode (spec.md §4.6).
func (m *Map) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byInode)
}
