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

package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/reqrep"
)

type fakeRefresher struct {
	calls atomic.Int32
	fn    func(n int32) (bool, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
	n := f.calls.Add(1)
	return f.fn(n)
}

func TestRefreshSucceedsOnFirstTry(t *testing.T) {
	inner := &fakeRefresher{fn: func(n int32) (bool, error) { return true, nil }}
	m := New(inner, Policy{Timeout: time.Second}, nil)

	refreshed, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestRefreshPassesThroughWhenTimeoutDisabled(t *testing.T) {
	wantErr := errorkind.Transport("get", errorkind.TransportConnectionReset, errors.New("reset"))
	inner := &fakeRefresher{fn: func(n int32) (bool, error) { return false, wantErr }}
	m := New(inner, Policy{Timeout: 0}, nil)

	_, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
	assert.ErrorIs(t, err, wantErr)
	assert.EqualValues(t, 1, inner.calls.Load(), "Timeout<=0 must disable retries entirely")
}

func TestRefreshDoesNotRetryNonRetryableError(t *testing.T) {
	wantErr := errorkind.Protocol("get", errors.New("bad magic"))
	inner := &fakeRefresher{fn: func(n int32) (bool, error) { return false, wantErr }}
	m := New(inner, Policy{InitialDelay: time.Millisecond, Timeout: time.Second}, nil)

	_, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
	assert.ErrorIs(t, err, wantErr)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestRefreshDoesNotRetryUnclassifiedError(t *testing.T) {
	plain := errors.New("not classified")
	inner := &fakeRefresher{fn: func(n int32) (bool, error) { return false, plain }}
	m := New(inner, Policy{InitialDelay: time.Millisecond, Timeout: time.Second}, nil)

	_, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
	assert.ErrorIs(t, err, plain)
	assert.EqualValues(t, 1, inner.calls.Load())
}

func TestRefreshRetriesRetryableErrorUntilSuccess(t *testing.T) {
	wantErr := errorkind.HTTPStatusErr("get", 503, errors.New("unavailable"))
	inner := &fakeRefresher{fn: func(n int32) (bool, error) {
		if n < 3 {
			return false, wantErr
		}
		return true, nil
	}}
	m := New(inner, Policy{InitialDelay: time.Millisecond, Saturate: 4 * time.Millisecond, Timeout: time.Second}, nil)

	refreshed, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.EqualValues(t, 3, inner.calls.Load())
}

func TestRefreshGivesUpWhenBudgetElapses(t *testing.T) {
	wantErr := errorkind.HTTPStatusErr("get", 503, errors.New("unavailable"))
	inner := &fakeRefresher{fn: func(n int32) (bool, error) { return false, wantErr }}
	m := New(inner, Policy{InitialDelay: 2 * time.Millisecond, Saturate: 4 * time.Millisecond, Timeout: 10 * time.Millisecond}, nil)

	_, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
	assert.ErrorIs(t, err, wantErr)
	assert.Greater(t, inner.calls.Load(), int32(1), "must have retried at least once before the budget elapsed")
}

func TestRefreshRespectsContextCancellation(t *testing.T) {
	wantErr := errorkind.HTTPStatusErr("get", 503, errors.New("unavailable"))
	inner := &fakeRefresher{fn: func(n int32) (bool, error) { return false, wantErr }}
	m := New(inner, Policy{InitialDelay: time.Hour, Timeout: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Refresh(ctx, &reqrep.Req{}, &reqrep.Reply{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshUsesDefaultInitialDelayWhenUnset(t *testing.T) {
	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	wantErr := errorkind.HTTPStatusErr("get", 503, errors.New("unavailable"))
	inner := &fakeRefresher{fn: func(n int32) (bool, error) {
		if n < 2 {
			return false, wantErr
		}
		return true, nil
	}}
	m := New(inner, Policy{Timeout: time.Minute}, clk)

	type result struct {
		refreshed bool
		err       error
	}
	done := make(chan result, 1)
	go func() {
		refreshed, err := m.Refresh(context.Background(), &reqrep.Req{}, &reqrep.Reply{})
		done <- result{refreshed, err}
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.True(t, r.refreshed)
			return
		default:
			clk.AdvanceTime(200 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("Refresh did not complete after advancing the simulated clock past the default 100ms delay")
}
