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

package fs

import (
	"fmt"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/reqrep"
	"github.com/fs123/gofs123/internal/wire"
)

// StatFS serves the "/s" reply as a statvfs (spec.md §4.8).
func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) (err error) {
	req := reqrep.NewReq(fs.statvfsStem(), fs.reqDefaults)
	var reply reqrep.Reply
	if _, berr := fs.backend.Refresh(op.Context(), &req, &reply); berr != nil {
		if fs.stats != nil {
			fs.stats.BackendErrors.Add(1)
		}
		return toFuseErr(berr)
	}
	if fs.stats != nil {
		fs.stats.BackendRequests.Add(1)
	}
	if reply.Errno != 0 {
		return toFuseErr(errorkind.Posix("fs.StatFS", int(reply.Errno), fmt.Errorf("backend errno %d", reply.Errno)))
	}

	sv, perr := wire.ParseStatvfs(reply.Content)
	if perr != nil {
		return toFuseErr(errorkind.Protocol("fs.StatFS", perr))
	}

	op.BlockSize = uint32(sv.Bsize)
	op.Blocks = sv.Blocks
	op.BlocksFree = sv.Bfree
	op.BlocksAvailable = sv.Bavail
	op.IoSize = uint32(sv.Bsize)
	op.Inodes = sv.Files
	op.InodesFree = sv.Ffree
	return nil
}
