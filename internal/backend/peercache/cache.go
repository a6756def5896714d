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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fs123/gofs123/internal/backend"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/reqrep"
)

// Config holds the knobs for a Cache.
type Config struct {
	// RequestTimeout bounds one peer-to-peer HTTP round trip.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Second
	}
	return c
}

// Cache is the distributed peer-cache backend.Backend (spec.md §4.1.3). A
// request whose stem hashes to this node is answered directly by local;
// everything else is forwarded, over one HTTP hop, to the peer the ring
// names. Composing Cache in front of or behind a disk cache in the
// pipeline is what distinguishes the "diskcache-in-front" and
// "diskcache-behind" topologies — this type is agnostic to which.
type Cache struct {
	cfg   Config
	ring  *Ring
	local backend.Backend
	http  *http.Client
	log   *logger.Logger
}

// New builds a Cache. local answers requests that hash to this node; ring
// resolves every other request to the peer responsible for it.
func New(cfg Config, ring *Ring, local backend.Backend, log *logger.Logger) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		cfg:   cfg,
		ring:  ring,
		local: local,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		log:   log,
	}
}

var _ backend.Backend = (*Cache)(nil)

// Refresh implements backend.Backend.
func (c *Cache) Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
	peer, ok := c.ring.RouteFor(req.Stem)
	if !ok || peer.ID == c.ring.self {
		return c.local.Refresh(ctx, req, reply)
	}
	return c.fetchFromPeer(ctx, peer, req, reply)
}

func (c *Cache) fetchFromPeer(ctx context.Context, peer Peer, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
	url := fmt.Sprintf("%s%s?%s", peer.Addr, peerPath, encodeReq(req).Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, errorkind.Transport("peercache.Refresh", errorkind.TransportUnknown, err)
	}
	httpReq.Header.Set(hdrPeerRequest, "1")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if c.log != nil {
			c.log.Warnf("peercache: request to peer %s for stem %q failed: %v", peer.Addr, req.Stem, err)
		}
		return false, errorkind.Transport("peercache.Refresh", errorkind.TransportConnectionReset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errorkind.HTTPStatusErr("peercache.Refresh", resp.StatusCode, fmt.Errorf("peer %s returned %d", peer.Addr, resp.StatusCode))
	}

	parsed, err := reqrep.Deserialize(resp.Body)
	if err != nil {
		return false, errorkind.Protocol("peercache.Refresh", err)
	}
	*reply = *parsed
	return true, nil
}
