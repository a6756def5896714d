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

package config

import "sync/atomic"

// Reloader holds the live Config behind an atomic pointer so the ioctl
// handler (spec.md §6, "runtime reconfiguration") can swap in a new value
// without taking a lock that read-path goroutines would contend on.
type Reloader struct {
	ptr atomic.Pointer[Config]
}

// NewReloader builds a Reloader seeded with initial.
func NewReloader(initial Config) *Reloader {
	r := &Reloader{}
	r.ptr.Store(&initial)
	return r
}

// Load returns the current Config. Safe for concurrent use with Store.
func (r *Reloader) Load() Config {
	return *r.ptr.Load()
}

// Store installs next as the current Config.
func (r *Reloader) Store(next Config) {
	r.ptr.Store(&next)
}

// Patch reads the current Config, applies mutate to a copy, and installs
// the result. mutate should only touch the runtime-reconfigurable subset
// named in spec.md §6 (timeouts, retry parameters, eviction thresholds,
// cache tag, diagnostic flags, log destinations, peer set).
func (r *Reloader) Patch(mutate func(*Config)) {
	cur := r.Load()
	mutate(&cur)
	r.Store(cur)
}
