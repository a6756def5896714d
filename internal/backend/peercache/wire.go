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

package peercache

import (
	"net/url"
	"strconv"

	"github.com/fs123/gofs123/internal/reqrep"
)

// peerPath is the embedded HTTP server's single route. The stem itself
// travels as a query parameter since it may contain slashes and query
// characters of its own (spec.md §4.1.3).
const peerPath = "/peercache/fetch"

// hdrPeerRequest marks a request as peer-to-peer rather than
// client-originated, so a handler could in principle refuse to forward it
// again; this package never does that (the ring always resolves to the
// node's own local pipeline on the peer side), but the header is kept for
// loop detection during operational debugging.
const hdrPeerRequest = "X-Fs123-Peer"

func encodeReq(req *reqrep.Req) url.Values {
	v := url.Values{}
	v.Set("stem", req.Stem)
	if req.NoCache {
		v.Set("no_cache", "1")
	}
	v.Set("max_stale", strconv.FormatInt(req.MaxStale, 10))
	v.Set("stale_if_error", strconv.FormatInt(req.StaleIfError, 10))
	v.Set("past_swr", strconv.FormatInt(req.PastStaleWhileRevalidate, 10))
	if req.CacheTag != 0 {
		v.Set("cache_tag", strconv.FormatUint(uint64(req.CacheTag), 10))
	}
	return v
}

func decodeReq(v url.Values) reqrep.Req {
	maxStale, _ := strconv.ParseInt(v.Get("max_stale"), 10, 64)
	staleIfError, _ := strconv.ParseInt(v.Get("stale_if_error"), 10, 64)
	pastSWR, _ := strconv.ParseInt(v.Get("past_swr"), 10, 64)
	cacheTag, _ := strconv.ParseUint(v.Get("cache_tag"), 10, 32)
	return reqrep.Req{
		Stem:                     v.Get("stem"),
		NoCache:                  v.Get("no_cache") == "1",
		MaxStale:                 maxStale,
		StaleIfError:             staleIfError,
		PastStaleWhileRevalidate: pastSWR,
		CacheTag:                 uint32(cacheTag),
	}
}
