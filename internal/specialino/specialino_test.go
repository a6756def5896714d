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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *Stats) {
	stats := &Stats{}
	cfg := func() []byte { return []byte("base-urls=[http://x]\n") }
	var lastIoctl []byte
	ioctl := func(v []byte) error { lastIoctl = v; return nil }
	server := func() ([]byte, error) { return []byte("server-stats\n"), nil }
	return NewRegistry(stats, cfg, ioctl, server), stats
}

func TestLookupByNameFindsAllSpecials(t *testing.T) {
	r, _ := newTestRegistry()

	for _, name := range []string{StatsName, ConfigName, IoctlName, ServerStatsName} {
		e, ok := r.LookupByName(name)
		require.True(t, ok, "expected %s to be registered", name)
		assert.Equal(t, name, e.Name)
	}

	_, ok := r.LookupByName("not-special")
	assert.False(t, ok)
}

func TestByInodeAndIsSpecial(t *testing.T) {
	r, _ := newTestRegistry()

	assert.True(t, r.IsSpecial(StatsInodeID))
	assert.True(t, r.IsSpecial(ServerStatsInodeID))
	assert.False(t, r.IsSpecial(StatsInodeID+100))

	e, ok := r.ByInode(ConfigInodeID)
	require.True(t, ok)
	assert.Equal(t, ConfigName, e.Name)
}

func TestListAllReturnsAllFourInStableOrder(t *testing.T) {
	r, _ := newTestRegistry()

	all := r.ListAll()
	require.Len(t, all, 4)
	assert.Equal(t, StatsInodeID, all[0].Inode)
	assert.Equal(t, ConfigInodeID, all[1].Inode)
	assert.Equal(t, IoctlInodeID, all[2].Inode)
	assert.Equal(t, ServerStatsInodeID, all[3].Inode)
}

func TestStatsEntryGeneratesLiveSnapshot(t *testing.T) {
	r, stats := newTestRegistry()
	stats.BackendRequests.Store(3)

	e, ok := r.LookupByName(StatsName)
	require.True(t, ok)

	b, err := e.Generate()
	require.NoError(t, err)
	assert.Contains(t, string(b), "backend_requests 3")
}

func TestConfigEntryGeneratesConfigSnapshot(t *testing.T) {
	r, _ := newTestRegistry()

	e, ok := r.LookupByName(ConfigName)
	require.True(t, ok)

	b, err := e.Generate()
	require.NoError(t, err)
	assert.Contains(t, string(b), "base-urls")
}

func TestWriteDispatchesToIoctlHandlerOnly(t *testing.T) {
	var received []byte
	stats := &Stats{}
	r := NewRegistry(stats, func() []byte { return nil }, func(v []byte) error {
		received = v
		return nil
	}, nil)

	require.NoError(t, r.Write(IoctlInodeID, []byte("reload")))
	assert.Equal(t, []byte("reload"), received)

	// Writing to a non-ioctl inode is a silent no-op.
	require.NoError(t, r.Write(StatsInodeID, []byte("ignored")))
}

func TestWriteWithNilIoctlHandlerIsNoop(t *testing.T) {
	r := NewRegistry(&Stats{}, func() []byte { return nil }, nil, nil)
	assert.NoError(t, r.Write(IoctlInodeID, []byte("anything")))
}

func TestWritePropagatesIoctlError(t *testing.T) {
	wantErr := errors.New("bad value")
	r := NewRegistry(&Stats{}, func() []byte { return nil }, func([]byte) error { return wantErr }, nil)

	assert.ErrorIs(t, r.Write(IoctlInodeID, []byte("x")), wantErr)
}

func TestStatsSnapshotFormatsAllCounters(t *testing.T) {
	s := &Stats{}
	s.OfWakeups.Store(1)
	s.EstaleMismatches.Store(2)
	s.DcEvictions.Store(3)

	snap := string(s.Snapshot())
	assert.Contains(t, snap, "of_wakeups 1\n")
	assert.Contains(t, snap, "estale_mismatches 2\n")
	assert.Contains(t, snap, "dc_evictions 3\n")
	assert.Contains(t, snap, "backend_errors 0\n")
}
