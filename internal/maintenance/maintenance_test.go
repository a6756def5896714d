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

package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs123/gofs123/internal/logger"
)

type countingNames struct {
	calls atomic.Int32
}

func (c *countingNames) RefreshAll(ctx context.Context) { c.calls.Add(1) }

type countingEvictor struct {
	started chan struct{}
}

func (c *countingEvictor) RunEviction(ctx context.Context) {
	close(c.started)
	<-ctx.Done()
}

type countingSecrets struct {
	calls atomic.Int32
	err   error
}

func (c *countingSecrets) Refresh(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestNewDefaultsInterval(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, time.Minute, s.opts.Interval)
}

func TestNewKeepsExplicitInterval(t *testing.T) {
	s := New(Options{Interval: 5 * time.Second})
	assert.Equal(t, 5*time.Second, s.opts.Interval)
}

func TestRunLaunchesEvictorOnce(t *testing.T) {
	evictor := &countingEvictor{started: make(chan struct{})}
	s := New(Options{Evict: evictor, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-evictor.started:
	case <-time.After(2 * time.Second):
		t.Fatal("RunEviction was never launched")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunTicksNameRefresher(t *testing.T) {
	names := &countingNames{}
	s := New(Options{Names: names, Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return names.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunLogsSecretRefreshErrorWithoutStoppingSupervisor(t *testing.T) {
	secrets := &countingSecrets{err: errors.New("rotate failed")}
	s := New(Options{Secrets: secrets, Interval: 20 * time.Millisecond, Log: logger.New("test")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return secrets.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done, "a failing refresh must not terminate the supervisor")
}

func TestRunWithNoWorkersReturnsWhenCanceled(t *testing.T) {
	s := New(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx)
	assert.NoError(t, err)
}
