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
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/fs123/gofs123/internal/backend"
	"github.com/fs123/gofs123/internal/backend/diskcache"
	"github.com/fs123/gofs123/internal/backend/httpclient"
	"github.com/fs123/gofs123/internal/backend/peercache"
	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/config"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/maintenance"
	"github.com/fs123/gofs123/internal/reqrep"
	"github.com/fs123/gofs123/internal/retry"
	"github.com/fs123/gofs123/internal/specialino"
)

// pipeline bundles everything Mount needs to run and tear down the
// file system cleanly: the assembled backend.Backend stack, the special
// inode registry and stats block wired into it, and the optional peer
// listener.
type pipeline struct {
	client     *httpclient.Client
	top        backend.Backend // the fully wrapped pipeline handed to internal/fs
	local      backend.Backend // this node's own pipeline, wrapped by the peer server
	diskCache  *diskcache.Cache
	peerServer *http.Server // nil if peer caching is disabled

	stats    *specialino.Stats
	specials *specialino.Registry
}

// buildPipeline wires the backend pipeline in the order spec.md §4.1
// describes: httpclient at the bottom, the retry manager immediately
// above it, then the disk cache (if cfg.DiskCache.Dir is set), and, if
// peer caching is enabled, the distributed peer cache on top, answering
// this node's own slice from the disk cache (or from the layer below it
// when there is no disk cache). The peer cache is placed above the disk
// cache whatever cfg.PeerCache.DiskCacheInFront says; that setting does
// not change the order.
func buildPipeline(cfg *config.Config, clk clock.Clock, log *logger.Logger) (*pipeline, error) {
	stats := &specialino.Stats{}

	client := httpclient.New(httpclient.Config{
		BaseURLs:        cfg.BaseURLs,
		ConnectTimeout:  cfg.ConnectTimeout,
		TransferTimeout: cfg.TransferTimeout,
		MaxRedirects:    cfg.MaxRedirects,
		InsecureTLS:     cfg.InsecureTLS,
		UserAgent:       cfg.UserAgent,
	}, clk, logger.New("httpclient"))

	var top backend.Backend = client
	if cfg.Retry.Timeout > 0 {
		top = retry.New(client, retry.Policy{
			InitialDelay: cfg.Retry.InitialDelay,
			Saturate:     cfg.Retry.Saturate,
			Timeout:      cfg.Retry.Timeout,
		}, clk)
	}

	hashSeed := reqrep.Hash64([]byte(firstOrEmpty(cfg.BaseURLs)))

	var dc *diskcache.Cache
	if cfg.DiskCache.Dir != "" {
		var err error
		dc, err = diskcache.New(diskcache.Config{
			Root:             cfg.DiskCache.Dir,
			HashSeed:         hashSeed,
			MaxFiles:         cfg.DiskCache.MaxFiles,
			MaxBytes:         cfg.DiskCache.MaxMB * 1_000_000,
			EvictTargetFrac:  cfg.DiskCache.EvictFraction,
			EvictLWM:         cfg.DiskCache.EvictLoPct / 100,
			EvictThrottleLWM: cfg.DiskCache.EvictHiPct / 100,
			EvictPeriod:      cfg.DiskCache.EvictPeriod,
		}, top, clk, logger.New("diskcache"))
		if err != nil {
			return nil, fmt.Errorf("diskcache.New: %w", err)
		}
	}

	p := &pipeline{client: client, diskCache: dc, stats: stats}

	local := top
	if dc != nil && !cfg.PeerCache.Enabled {
		local = dc
	}

	switch {
	case !cfg.PeerCache.Enabled:
		p.top = local
		p.local = local

	case cfg.PeerCache.DiskCacheInFront && dc != nil:
		ring, peerBackend := buildRing(cfg, dc, logger.New("peercache"))
		p.top = peerBackend
		p.local = dc
		p.peerServer = newPeerServer(cfg, dc, logger.New("peerserver"))
		_ = ring

	default:
		base := top
		if dc != nil {
			base = dc
		}
		ring, peerBackend := buildRing(cfg, base, logger.New("peercache"))
		p.top = peerBackend
		p.local = base
		p.peerServer = newPeerServer(cfg, base, logger.New("peerserver"))
		_ = ring
	}

	p.specials = specialino.NewRegistry(stats, func() []byte { return renderConfig(cfg) }, nil, nil)

	return p, nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// buildRing constructs the consistent-hash ring and the peercache.Cache
// that routes requests across it, binding local as the backend answering
// this node's own 1/N slice (spec.md §4.1.3).
func buildRing(cfg *config.Config, local backend.Backend, log *logger.Logger) (*peercache.Ring, backend.Backend) {
	self := uuid.New()
	ring := peercache.NewRing(self)

	peers := make([]peercache.Peer, 0, len(cfg.PeerCache.Peers))
	for _, addr := range cfg.PeerCache.Peers {
		peers = append(peers, peercache.Peer{ID: uuid.New(), Addr: addr})
	}
	ring.SetPeers(peers, cfg.PeerCache.ListenAddr)

	c := peercache.New(peercache.Config{}, ring, local, log)
	return ring, c
}

func newPeerServer(cfg *config.Config, local backend.Backend, log *logger.Logger) *http.Server {
	if cfg.PeerCache.ListenAddr == "" {
		return nil
	}
	srv := peercache.NewServer(local, log)
	return &http.Server{Addr: cfg.PeerCache.ListenAddr, Handler: srv.Handler()}
}

// renderConfig is the generator behind the ".fs123_config" special inode
// (spec.md §4.6): a plain-text dump of the active configuration.
func renderConfig(cfg *config.Config) []byte {
	return []byte(fmt.Sprintf(
		"base-urls=%v\nchunk-size-bytes=%d\nprotocol-minor=%d\ndisk-cache.dir=%s\npeer-cache.enabled=%v\n",
		cfg.BaseURLs, cfg.ChunkSizeBytes, cfg.ProtocolMinor, cfg.DiskCache.Dir, cfg.PeerCache.Enabled))
}

// startMaintenance launches the background upkeep supervisor (spec.md §5).
func startMaintenance(p *pipeline, cfg *config.Config, log *logger.Logger) *maintenance.Supervisor {
	opts := maintenance.Options{
		Names: p.client.NameCache(),
		Log:   log,
	}
	if p.diskCache != nil {
		opts.Evict = p.diskCache
	}
	return maintenance.New(opts)
}

// listenPeerServer starts p.peerServer in the background, returning a
// stop function. No-op if peer caching is disabled.
func listenPeerServer(p *pipeline, log *logger.Logger) (stop func(), err error) {
	if p.peerServer == nil {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", p.peerServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("peer server listen: %w", err)
	}
	go func() {
		if serveErr := p.peerServer.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Errorf("peer server: %v", serveErr)
		}
	}()
	return func() { _ = p.peerServer.Close() }, nil
}
