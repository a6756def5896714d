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

// Package backend defines the one-operation interface shared by every
// layer of the backend pipeline (spec.md §4.1): HTTP client, disk cache,
// optional distributed peer cache, and the retry manager.
package backend

import (
	"context"

	"github.com/fs123/gofs123/internal/reqrep"
)

// Backend is implemented by every pipeline layer.
//
// Refresh returns true iff reply was overwritten with fresh data from
// upstream; false iff upstream validated the reply's existing etag and
// only its timing fields were updated; or an error of a categorized kind
// (internal/errorkind), leaving reply in a valid-but-unspecified state.
//
// A layer must not return false when req.NoCache is set — it must force a
// full refresh. If reply is already fresh and req.NoCache is false, a
// layer may short-circuit and return false without calling upstream.
type Backend interface {
	Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (refreshed bool, err error)
}

// Func adapts a plain function to the Backend interface.
type Func func(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error)

func (f Func) Refresh(ctx context.Context, req *reqrep.Req, reply *reqrep.Reply) (bool, error) {
	return f(ctx, req, reply)
}
