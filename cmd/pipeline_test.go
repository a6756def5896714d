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

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/config"
	"github.com/fs123/gofs123/internal/logger"
)

func TestFirstOrEmpty(t *testing.T) {
	assert.Equal(t, "", firstOrEmpty(nil))
	assert.Equal(t, "", firstOrEmpty([]string{}))
	assert.Equal(t, "http://a", firstOrEmpty([]string{"http://a", "http://b"}))
}

func TestRenderConfigIncludesKeyFields(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURLs = []string{"http://origin"}
	cfg.ChunkSizeBytes = 65536
	cfg.ProtocolMinor = 2
	cfg.DiskCache.Dir = "/var/cache/fs123"
	cfg.PeerCache.Enabled = true

	out := string(renderConfig(&cfg))
	assert.Contains(t, out, "http://origin")
	assert.Contains(t, out, "chunk-size-bytes=65536")
	assert.Contains(t, out, "protocol-minor=2")
	assert.Contains(t, out, "disk-cache.dir=/var/cache/fs123")
	assert.Contains(t, out, "peer-cache.enabled=true")
}

func TestBuildPipelineWithoutOptionalLayers(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURLs = []string{"http://origin"}

	p, err := buildPipeline(&cfg, clock.RealClock{}, logger.New("test"))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.client)
	assert.Nil(t, p.diskCache, "no disk-cache dir configured")
	assert.Nil(t, p.peerServer, "peer caching disabled by default")
	assert.NotNil(t, p.top)
	assert.NotNil(t, p.specials)
	assert.Same(t, p.top, p.local)
}

func TestBuildPipelineSkipsRetryWhenTimeoutZero(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURLs = []string{"http://origin"}
	cfg.Retry.Timeout = 0

	p, err := buildPipeline(&cfg, clock.RealClock{}, logger.New("test"))
	require.NoError(t, err)
	assert.Same(t, p.client, p.top,
		"with Retry.Timeout unset, top must be the bare client, not a retry wrapper")
}

func TestNewPeerServerNilWithoutListenAddr(t *testing.T) {
	cfg := config.Default()
	srv := newPeerServer(&cfg, nil, logger.New("test"))
	assert.Nil(t, srv)
}
