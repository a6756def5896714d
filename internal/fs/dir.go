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
	"context"
	"fmt"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/inode"
	"github.com/fs123/gofs123/internal/reqrep"
	"github.com/fs123/gofs123/internal/wire"
)

// dirHandle buffers one directory's listing, paginating through the
// backend's "/d" chunks (spec.md §6) and, for the mount root, appending
// the special-inode entries once the server-side listing is exhausted
// (spec.md §4.6).
//
// INVARIANT: entries[i+1].Offset == entries[i].Offset + 1
// INVARIANT: if len(entries) > 0, entriesOffset + 1 == entries[0].Offset
type dirHandle struct {
	fs   *FileSystem
	ino  fuseops.InodeID
	path string

	mu            sync.Mutex
	entries       []fuseops.Dirent
	entriesOffset fuseops.DirOffset

	serverOffset     int64
	serverEOF        bool
	specialsAppended bool
}

func (dh *dirHandle) done() bool {
	if dh.ino != inode.RootInodeID {
		return dh.serverEOF
	}
	return dh.serverEOF && dh.specialsAppended
}

func (dh *dirHandle) reset() {
	dh.entries = nil
	dh.entriesOffset = 0
	dh.serverOffset = 0
	dh.serverEOF = false
	dh.specialsAppended = false
}

// directoryEntryType maps the POSIX d_type values the backend serializes
// (spec.md §6's "/d" body) onto the dirent type constants jacobsa/fuse
// expects in its wire-format directory entries.
func directoryEntryType(dtype uint8) fuseutil.DirentType {
	switch dtype {
	case 4: // DT_DIR
		return fuseutil.DT_Directory
	case 10: // DT_LNK
		return fuseutil.DT_Link
	case 8: // DT_REG
		return fuseutil.DT_File
	default:
		return fuseutil.DT_Unknown
	}
}

// fill fetches one more server chunk (or, at the root once the server is
// exhausted, the special-inode tail) and appends it to entries.
func (dh *dirHandle) fill(ctx context.Context) error {
	if !dh.serverEOF {
		return dh.fillFromServer(ctx)
	}
	if dh.ino == inode.RootInodeID && !dh.specialsAppended {
		dh.appendSpecials()
	}
	return nil
}

func (dh *dirHandle) fillFromServer(ctx context.Context) error {
	req := reqrep.NewReq(dh.fs.dirStem(dh.path, dh.serverOffset), dh.fs.reqDefaults)
	var reply reqrep.Reply
	if _, err := dh.fs.backend.Refresh(ctx, &req, &reply); err != nil {
		if dh.fs.stats != nil {
			dh.fs.stats.BackendErrors.Add(1)
		}
		return err
	}
	if dh.fs.stats != nil {
		dh.fs.stats.BackendRequests.Add(1)
	}
	if reply.Errno != 0 {
		return errorkind.Posix("fs.ReadDir", int(reply.Errno), fmt.Errorf("backend errno %d for %s", reply.Errno, dh.path))
	}

	wireEntries, err := wire.ParseDirChunk(reply.Content)
	if err != nil {
		return errorkind.Protocol("fs.ReadDir", err)
	}

	nextOffset := fuseops.DirOffset(len(dh.entries)) + dh.entriesOffset
	for _, we := range wireEntries {
		ino := inode.Genesis(we.Name, dh.ino, we.EstaleCookie)
		nextOffset++
		dh.entries = append(dh.entries, fuseops.Dirent{
			Offset: nextOffset,
			Inode:  ino,
			Name:   we.Name,
			Type:   directoryEntryType(we.DType),
		})
	}

	dh.serverOffset = reply.NextChunkOffset
	dh.serverEOF = reply.NextChunkEOF
	return nil
}

// appendSpecials adds the fixed special-inode entries after the server's
// own listing is exhausted (spec.md §4.6: "special inodes appended after
// real directory content at the root").
func (dh *dirHandle) appendSpecials() {
	nextOffset := fuseops.DirOffset(len(dh.entries)) + dh.entriesOffset
	for _, e := range dh.fs.specials.ListAll() {
		nextOffset++
		dh.entries = append(dh.entries, fuseops.Dirent{
			Offset: nextOffset,
			Inode:  e.Inode,
			Name:   e.Name,
			Type:   fuseutil.DT_File,
		})
	}
	dh.specialsAppended = true
}

// ReadDir serves op.Dst..op.Size worth of dirents starting at op.Offset,
// fetching more server chunks as needed (spec.md §6). A zero offset is
// treated as a rewind: gcsfuse's own dirHandle.ReadDir makes the same
// assumption, since FUSE gives no way to intercept seekdir/rewinddir
// directly.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) (err error) {
	v, ok := fs.lookupHandle(op.Handle)
	if !ok {
		return toFuseErr(errorkind.Posix("fs.ReadDir", errorkind.EIO, fmt.Errorf("unknown dir handle %d", op.Handle)))
	}
	dh, ok := v.(*dirHandle)
	if !ok {
		return toFuseErr(errorkind.Posix("fs.ReadDir", errorkind.EIO, fmt.Errorf("handle %d is not a directory handle", op.Handle)))
	}

	dh.mu.Lock()
	defer dh.mu.Unlock()

	if op.Offset == 0 {
		dh.reset()
	}
	if op.Offset < dh.entriesOffset {
		return toFuseErr(errorkind.Posix("fs.ReadDir", errorkind.EINVAL, fmt.Errorf("offset %d precedes buffered window starting at %d", op.Offset, dh.entriesOffset)))
	}

	index := int(op.Offset - dh.entriesOffset)
	if index > len(dh.entries) {
		return toFuseErr(errorkind.Posix("fs.ReadDir", errorkind.EINVAL, fmt.Errorf("offset %d past buffered window", op.Offset)))
	}

	for index == len(dh.entries) && !dh.done() {
		if ferr := dh.fill(op.Context()); ferr != nil {
			return toFuseErr(ferr)
		}
	}

	buf := make([]byte, 0, op.Size)
	for i := index; i < len(dh.entries); i++ {
		tmp := make([]byte, op.Size-len(buf))
		n := fuseutil.WriteDirent(tmp, dh.entries[i])
		if n == 0 {
			break
		}
		buf = append(buf, tmp[:n]...)
	}
	op.Data = buf
	return nil
}
