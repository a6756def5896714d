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
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fs123/gofs123/internal/backend"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/reqrep"
)

// Server is the embedded peer-to-peer HTTP endpoint (spec.md §4.1.3). It
// answers a forwarded request by running it through local, this node's
// own authoritative pipeline (disk cache wrapping the HTTP backend) —
// never through a Cache, so a request forwarded to this node can never be
// forwarded again. That asymmetry is the loop prevention: the ring only
// ever takes one hop.
type Server struct {
	local backend.Backend
	log   *logger.Logger
}

// NewServer builds a peer server backed by local, the receiving node's own
// disk-cache/HTTP pipeline.
func NewServer(local backend.Backend, log *logger.Logger) *Server {
	return &Server{local: local, log: log}
}

// Handler returns the http.Handler to mount on the node's peer listener.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(peerPath, s.handleFetch).Methods(http.MethodGet)
	return r
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	req := decodeReq(r.URL.Query())
	var reply reqrep.Reply

	_, err := s.local.Refresh(r.Context(), &req, &reply)
	if err != nil {
		status := http.StatusBadGateway
		if kerr, ok := errorkind.As(err); ok && kerr.Kind == errorkind.KindHTTPStatus {
			status = kerr.HTTPStatus
		}
		if s.log != nil {
			s.log.Warnf("peercache: serving forwarded stem %q failed: %v", req.Stem, err)
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if werr := reply.Serialize(w); werr != nil && s.log != nil {
		s.log.Warnf("peercache: writing reply for stem %q: %v", req.Stem, werr)
	}
}
