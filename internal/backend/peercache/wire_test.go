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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fs123/gofs123/internal/reqrep"
)

func TestEncodeDecodeReqRoundTrips(t *testing.T) {
	req := &reqrep.Req{
		Stem:                     "/a/b?x=1",
		NoCache:                  true,
		MaxStale:                 30,
		StaleIfError:             60,
		PastStaleWhileRevalidate: 10,
		CacheTag:                 7,
	}

	got := decodeReq(encodeReq(req))
	assert.Equal(t, *req, got)
}

func TestEncodeDecodeReqZeroValueDefaults(t *testing.T) {
	req := &reqrep.Req{Stem: "/x"}

	got := decodeReq(encodeReq(req))
	assert.Equal(t, "/x", got.Stem)
	assert.False(t, got.NoCache)
	assert.Zero(t, got.CacheTag)
}

func TestDecodeReqHandlesMissingFieldsAsZero(t *testing.T) {
	got := decodeReq(nil)
	assert.Equal(t, "", got.Stem)
	assert.Zero(t, got.MaxStale)
	assert.Zero(t, got.CacheTag)
}
