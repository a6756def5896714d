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

// Package reqrep holds the in-memory value objects exchanged between the
// backend pipeline layers: requests for a URL stem and the replies that
// come back, along with their freshness math and content-addressed
// hashing.
package reqrep

import (
	"github.com/cespare/xxhash/v2"
)

// NoMaxStale is the "unspecified" sentinel for Req.MaxStale.
const NoMaxStale = -1

// Req describes a single backend lookup: a URL stem plus the
// cache-control knobs the caller wants applied to it.
//
// The zero value is not meaningful; use NewReq.
type Req struct {
	// Stem is the URL path plus query, excluding the base URL.
	Stem string

	// NoCache forces a synchronous full refresh; no layer may answer from
	// its own cache when this is set.
	NoCache bool

	// MaxStale is NoMaxStale (unspecified) or a non-negative number of
	// seconds the caller will accept a reply past its expiration.
	MaxStale int64

	// StaleIfError is the number of seconds a stale reply may be served
	// when upstream is unreachable. Zero means "use the process default".
	StaleIfError int64

	// PastStaleWhileRevalidate extends the reply's own
	// stale-while-revalidate window by this many seconds.
	PastStaleWhileRevalidate int64

	// CacheTag lets a client invalidate its own private disk cache by
	// incrementing this counter; it participates in cache-key derivation.
	CacheTag uint32
}

// Defaults holds the process-wide defaults referenced by spec.md §3 for
// StaleIfError and PastStaleWhileRevalidate.
type Defaults struct {
	StaleIfError             int64
	PastStaleWhileRevalidate int64
}

// NewReq builds a Req with NoMaxStale and the supplied process defaults.
func NewReq(stem string, d Defaults) Req {
	return Req{
		Stem:                     stem,
		MaxStale:                 NoMaxStale,
		StaleIfError:             d.StaleIfError,
		PastStaleWhileRevalidate: d.PastStaleWhileRevalidate,
	}
}

// CacheKey returns the 64-bit, non-cryptographic hash of the request used
// to address the disk cache and the background-refresh de-dup set. seed
// binds the key to a particular base URL, per spec.md §4.1.2, so that
// multiple client processes sharing a base URL share cache entries and
// those with different base URLs do not collide.
func (r Req) CacheKey(seed uint64) uint64 {
	d := xxhash.NewWithSeed(seed)
	_, _ = d.WriteString(r.Stem)
	if r.CacheTag != 0 {
		var buf [4]byte
		buf[0] = byte(r.CacheTag)
		buf[1] = byte(r.CacheTag >> 8)
		buf[2] = byte(r.CacheTag >> 16)
		buf[3] = byte(r.CacheTag >> 24)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Hash64 computes the spec's generic 64-bit non-cryptographic hash of an
// arbitrary byte string (used directly where no base-URL seed applies,
// e.g. consistent-hash ring positions).
func Hash64(b []byte) uint64 {
	return xxhash.Sum64(b)
}
