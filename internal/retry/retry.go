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

// Package retry implements the top-level retry/delay wrapper described in
// spec.md §4.5: a Backend decorator that classifies errors structurally
// (never by string matching, per spec.md §9) and retries with exponential
// backoff up to a total time budget.
package retry

import (
	"context"
	"time"

	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/reqrep"
)

// Refresher matches the one-operation interface every backend layer
// exposes (spec.md §4.1).
type Refresher interface {
	Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (refreshed bool, err error)
}

// Policy configures the backoff schedule.
type Policy struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// Saturate is the ceiling the doubling delay never exceeds.
	Saturate time.Duration
	// Timeout is the total elapsed budget across all attempts. Zero
	// disables retries entirely (spec.md §4.5).
	Timeout time.Duration
}

// Manager wraps an inner Refresher with the retry policy.
type Manager struct {
	Inner  Refresher
	Policy Policy
	Clock  clock.Clock
}

// New builds a Manager. clk may be nil, in which case clock.RealClock{} is
// used.
func New(inner Refresher, policy Policy, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{Inner: inner, Policy: policy, Clock: clk}
}

// Refresh retries m.Inner.Refresh on retryable errors until the error is
// classified non-retryable, the policy's total budget elapses, or it
// succeeds. The calling op handler blocks for the entire retry window
// (spec.md §4.5); there is no cancellation primitive beyond ctx.
func (m *Manager) Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
	if m.Policy.Timeout <= 0 {
		return m.Inner.Refresh(ctx, req, reply)
	}

	start := m.Clock.Now()
	delay := m.Policy.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for {
		refreshed, err := m.Inner.Refresh(ctx, req, reply)
		if err == nil {
			return refreshed, nil
		}

		kerr, ok := errorkind.As(err)
		if !ok || !kerr.Retryable() {
			return refreshed, err
		}

		elapsed := m.Clock.Now().Sub(start)
		if elapsed >= m.Policy.Timeout {
			return refreshed, err
		}

		remaining := m.Policy.Timeout - elapsed
		wait := delay
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return refreshed, ctx.Err()
		case <-m.Clock.After(wait):
		}

		delay *= 2
		if delay > m.Policy.Saturate && m.Policy.Saturate > 0 {
			delay = m.Policy.Saturate
		}
	}
}

var _ Refresher = (*Manager)(nil)
