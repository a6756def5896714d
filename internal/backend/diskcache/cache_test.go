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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs123/gofs123/internal/backend"
	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/reqrep"
)

func newTestCache(t *testing.T, upstream backend.Backend, clk clock.Clock) *Cache {
	t.Helper()
	c, err := New(Config{Root: t.TempDir(), MaxFiles: 1000}, upstream, clk, nil)
	require.NoError(t, err)
	return c
}

func upstreamSnapshot(now time.Time, ttl time.Duration, content string) reqrep.Reply {
	return reqrep.Reply{
		Content:     []byte(content),
		LastRefresh: now,
		Expires:     now.Add(ttl),
	}
}

func TestRefreshMissPersistsAndServesFromUpstream(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(1000, 0))
	var calls atomic.Int32
	upstream := backend.Func(func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
		calls.Add(1)
		*reply = upstreamSnapshot(clk.Now(), time.Minute, "hello")
		return true, nil
	})
	c := newTestCache(t, upstream, clk)

	req := reqrep.NewReq("/a/b", reqrep.Defaults{})
	var reply reqrep.Reply
	refreshed, err := c.Refresh(context.Background(), &req, &reply)

	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "hello", string(reply.Content))
	assert.EqualValues(t, 1, calls.Load())
}

func TestRefreshServesFreshEntryWithoutCallingUpstream(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(1000, 0))
	var calls atomic.Int32
	upstream := backend.Func(func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
		calls.Add(1)
		*reply = upstreamSnapshot(clk.Now(), time.Minute, "v1")
		return true, nil
	})
	c := newTestCache(t, upstream, clk)
	req := reqrep.NewReq("/a/b", reqrep.Defaults{})

	var first reqrep.Reply
	_, err := c.Refresh(context.Background(), &req, &first)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	var second reqrep.Reply
	refreshed, err := c.Refresh(context.Background(), &req, &second)
	require.NoError(t, err)
	assert.True(t, refreshed, "a fresh hit is reported as refreshed, with the cached reply copied out")
	assert.Equal(t, "v1", string(second.Content))
	assert.EqualValues(t, 1, calls.Load(), "upstream must not be called again for a fresh hit")
}

func TestRefreshForcesUpstreamWhenNoCacheSet(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(1000, 0))
	var calls atomic.Int32
	upstream := backend.Func(func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
		calls.Add(1)
		*reply = upstreamSnapshot(clk.Now(), time.Minute, "v1")
		return true, nil
	})
	c := newTestCache(t, upstream, clk)
	req := reqrep.NewReq("/a/b", reqrep.Defaults{})

	var first reqrep.Reply
	_, err := c.Refresh(context.Background(), &req, &first)
	require.NoError(t, err)

	req.NoCache = true
	var second reqrep.Reply
	_, err = c.Refresh(context.Background(), &req, &second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "NoCache must force a fresh upstream call even on a fresh entry")
}

func TestRefreshExpiredEntrySynchronouslyRefreshes(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(1000, 0))
	var calls atomic.Int32
	upstream := backend.Func(func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
		n := calls.Add(1)
		content := "v1"
		if n > 1 {
			content = "v2"
		}
		*reply = upstreamSnapshot(clk.Now(), time.Minute, content)
		return true, nil
	})
	c := newTestCache(t, upstream, clk)
	req := reqrep.NewReq("/a/b", reqrep.Defaults{})

	var first reqrep.Reply
	_, err := c.Refresh(context.Background(), &req, &first)
	require.NoError(t, err)

	clk.AdvanceTime(2 * time.Minute) // past Expires and any swr window

	var second reqrep.Reply
	refreshed, err := c.Refresh(context.Background(), &req, &second)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "v2", string(second.Content))
	assert.EqualValues(t, 2, calls.Load())
}

func TestRefreshServesStaleIfErrorOnUpstreamFailure(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(1000, 0))
	var fail atomic.Bool
	upstream := backend.Func(func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
		if fail.Load() {
			return false, errorkind.Transport("get", errorkind.TransportConnectionReset, errors.New("reset"))
		}
		*reply = upstreamSnapshot(clk.Now(), time.Minute, "v1")
		return true, nil
	})
	c := newTestCache(t, upstream, clk)

	req := reqrep.NewReq("/a/b", reqrep.Defaults{})
	req.StaleIfError = 3600 // one hour grace

	var first reqrep.Reply
	_, err := c.Refresh(context.Background(), &req, &first)
	require.NoError(t, err)

	clk.AdvanceTime(2 * time.Minute) // expired, but within the stale-if-error window
	fail.Store(true)

	var second reqrep.Reply
	refreshed, err := c.Refresh(context.Background(), &req, &second)
	require.NoError(t, err, "a stale-if-error-eligible entry must mask the upstream failure")
	assert.True(t, refreshed)
	assert.Equal(t, "v1", string(second.Content))
}

func TestRefreshPropagatesUpstreamErrorWithoutStaleIfError(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(1000, 0))
	wantErr := errorkind.Transport("get", errorkind.TransportConnectionReset, errors.New("reset"))
	upstream := backend.Func(func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
		return false, wantErr
	})
	c := newTestCache(t, upstream, clk)

	req := reqrep.NewReq("/a/b", reqrep.Defaults{})
	var reply reqrep.Reply
	_, err := c.Refresh(context.Background(), &req, &reply)
	assert.ErrorIs(t, err, wantErr)
}
