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

package specialino

import (
	"github.com/jacobsa/fuse/fuseops"
)

// Reserved low-numbered inodes, one past the mount root (spec.md §4.6).
const (
	StatsInodeID  fuseops.InodeID = fuseops.RootInodeID + 1
	ConfigInodeID fuseops.InodeID = fuseops.RootInodeID + 2
	IoctlInodeID  fuseops.InodeID = fuseops.RootInodeID + 3
	ServerStatsInodeID fuseops.InodeID = fuseops.RootInodeID + 4
)

// Names as they appear in the mount root's directory listing.
const (
	StatsName       = ".fs123_stats"
	ConfigName      = ".fs123_config"
	IoctlName       = ".fs123_ioctl"
	ServerStatsName = ".fs123_server_stats"
)

// Entry describes one special inode: its identity, POSIX mode, and a
// generator for the content materialized on open (spec.md §4.6, "on open,
// content is materialized into a per-handle buffer").
type Entry struct {
	Inode fuseops.InodeID
	Name  string
	Mode  uint32 // permission bits only; regular-file type is implied
	Generate func() ([]byte, error)
}

const (
	modeWorldReadable = 0444
	modeOwnerOnly      = 0400
)

// ServerStatsFetcher retrieves the server-side statistics blob via a
// dedicated backend request (spec.md §4.6).
type ServerStatsFetcher func() ([]byte, error)

// IoctlHandler dispatches a parsed runtime-reconfiguration request (spec.md
// §6, "Runtime reconfiguration") written to the ioctl special file.
type IoctlHandler func(value []byte) error

// Registry builds the table of special inodes looked up by LookupByName and
// enumerated by ListAll.
type Registry struct {
	stats   *Stats
	config  func() []byte
	ioctl   IoctlHandler
	server  ServerStatsFetcher
	byName  map[string]*Entry
	byInode map[fuseops.InodeID]*Entry
}

// NewRegistry builds the fixed set of special inodes. configSnapshot renders
// the current configuration; ioctl applies a runtime-reconfiguration value;
// serverStats fetches the server-side statistics blob.
func NewRegistry(stats *Stats, configSnapshot func() []byte, ioctl IoctlHandler, serverStats ServerStatsFetcher) *Registry {
	r := &Registry{
		stats:   stats,
		config:  configSnapshot,
		ioctl:   ioctl,
		server:  serverStats,
		byName:  make(map[string]*Entry),
		byInode: make(map[fuseops.InodeID]*Entry),
	}

	entries := []*Entry{
		{Inode: StatsInodeID, Name: StatsName, Mode: modeWorldReadable, Generate: func() ([]byte, error) { return stats.Snapshot(), nil }},
		{Inode: ConfigInodeID, Name: ConfigName, Mode: modeWorldReadable, Generate: func() ([]byte, error) { return configSnapshot(), nil }},
		{Inode: IoctlInodeID, Name: IoctlName, Mode: modeOwnerOnly, Generate: func() ([]byte, error) { return nil, nil }},
		{Inode: ServerStatsInodeID, Name: ServerStatsName, Mode: modeWorldReadable, Generate: serverStats},
	}
	for _, e := range entries {
		r.byName[e.Name] = e
		r.byInode[e.Inode] = e
	}
	return r
}

// LookupByName returns the special entry for name at the mount root, if
// any. This is the short-circuit in spec.md §4.6: "lookup of a special name
// at the root returns the special inode without touching the backend."
func (r *Registry) LookupByName(name string) (*Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// ByInode returns the special entry for a known special inode ID.
func (r *Registry) ByInode(ino fuseops.InodeID) (*Entry, bool) {
	e, ok := r.byInode[ino]
	return e, ok
}

// IsSpecial reports whether ino is one of the reserved special inodes.
func (r *Registry) IsSpecial(ino fuseops.InodeID) bool {
	_, ok := r.byInode[ino]
	return ok
}

// ListAll returns every special entry, in a stable order, for readdir to
// append after real directory content (spec.md §4.6).
func (r *Registry) ListAll() []*Entry {
	return []*Entry{
		r.byInode[StatsInodeID],
		r.byInode[ConfigInodeID],
		r.byInode[IoctlInodeID],
		r.byInode[ServerStatsInodeID],
	}
}

// Write handles a write to the ioctl special inode: the value is handed to
// the configured IoctlHandler.
func (r *Registry) Write(ino fuseops.InodeID, value []byte) error {
	if ino != IoctlInodeID {
		return nil
	}
	if r.ioctl == nil {
		return nil
	}
	return r.ioctl(value)
}
