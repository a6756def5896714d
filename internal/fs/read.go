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

	"github.com/jacobsa/fuse/fuseops"

	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/reqrep"
	"github.com/fs123/gofs123/internal/wire"
)

// ReadFile serves op.Dst for op.Handle, either straight from a special
// inode's buffered content or through readChunk for a real file (spec.md
// §4.7).
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) (err error) {
	v, ok := fs.lookupHandle(op.Handle)
	if !ok {
		return toFuseErr(errorkind.Posix("fs.ReadFile", errorkind.EIO, fmt.Errorf("unknown file handle %d", op.Handle)))
	}
	fh, ok := v.(*fileHandleState)
	if !ok {
		return toFuseErr(errorkind.Posix("fs.ReadFile", errorkind.EIO, fmt.Errorf("handle %d is not a file handle", op.Handle)))
	}

	if fh.specialContent != nil {
		op.Data = sliceAt(fh.specialContent, op.Offset, op.Size)
		return nil
	}

	data, err := fs.readChunk(op.Context(), fh, op.Offset, op.Size)
	if err != nil {
		return toFuseErr(err)
	}
	op.Data = data
	return nil
}

// sliceAt returns content[offset:offset+size], clamped to content's bounds.
func sliceAt(content []byte, offset int64, size int) []byte {
	if offset < 0 || offset >= int64(len(content)) {
		return nil
	}
	end := offset + int64(size)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end]
}

// readChunk serves [offset, offset+size) of fh's path (spec.md §4.7).
// Chunks are fetched whole and chunk-aligned, as in the original
// implementation's fs123_read: chunknum = offset/chunksize, off0 =
// offset%chunksize. A read wholly inside one chunk issues exactly one "/f"
// fetch; a read whose [offset, offset+size) spills past the chunk boundary
// issues a second fetch for the next chunk and stitches the two payloads
// together (spec.md §8: "Read crossing exactly one chunk boundary issues
// exactly two chunk fetches; fully within one chunk issues exactly one").
func (fs *FileSystem) readChunk(ctx context.Context, fh *fileHandleState, offset int64, size int) ([]byte, error) {
	if int64(size) > fs.chunkSizeBytes {
		return nil, errorkind.Posix("fs.ReadFile", errorkind.EINVAL, fmt.Errorf("read size %d exceeds chunk size %d", size, fs.chunkSizeBytes))
	}
	chunkSize := fs.chunkSizeBytes

	chunknum := offset / chunkSize
	off0 := offset % chunkSize
	len0 := int64(size)
	if chunkSize-off0 < len0 {
		len0 = chunkSize - off0
	}
	start0 := chunknum * chunkSize

	content0, err := fs.fetchFileChunk(ctx, fh, start0, false)
	if err != nil {
		return nil, err
	}

	if off0 > int64(len(content0)) {
		return nil, nil // read starts past EOF
	}
	shortRead := int64(len(content0)) < chunkSize
	end0 := off0 + len0
	if end0 > int64(len(content0)) {
		end0 = int64(len(content0))
	}
	part0 := content0[off0:end0]

	if shortRead || int64(len(part0)) == int64(size) {
		return part0, nil
	}

	// The read spills into the next chunk: fetch it and stitch.
	nleft := int64(size) - int64(len(part0))
	start1 := (chunknum + 1) * chunkSize
	content1, err := fs.fetchFileChunk(ctx, fh, start1, false)
	if err != nil {
		return nil, err
	}
	len1 := nleft
	if int64(len(content1)) < len1 {
		len1 = int64(len(content1))
	}

	out := make([]byte, 0, len(part0)+int(len1))
	out = append(out, part0...)
	out = append(out, content1[:len1]...)
	return out, nil
}

// fetchFileChunk issues one "/f" request for the whole chunk starting at
// chunkStart and, at protocol >= 7.2, reconciles the chunk's validator
// against the cached one for fh.ino, retrying once with no_cache on a stale
// read. A chunk whose validator is newer updates the inode map and forces
// the scanner to re-check attributes immediately (ExpireNow), since content
// changed without a getattr telling us so. At protocol < 7.2 chunks carry
// no validator at all; the reply is served as-is.
func (fs *FileSystem) fetchFileChunk(ctx context.Context, fh *fileHandleState, chunkStart int64, noCache bool) ([]byte, error) {
	req := reqrep.NewReq(fs.fileStem(fh.path, chunkStart, fs.chunkSizeBytes), fs.reqDefaults)
	req.NoCache = noCache

	var reply reqrep.Reply
	if _, err := fs.backend.Refresh(ctx, &req, &reply); err != nil {
		if fs.stats != nil {
			fs.stats.BackendErrors.Add(1)
		}
		return nil, err
	}
	if fs.stats != nil {
		fs.stats.BackendRequests.Add(1)
	}
	if reply.Errno != 0 {
		return nil, errorkind.Posix("fs.ReadFile", int(reply.Errno), fmt.Errorf("backend errno %d for %s", reply.Errno, fh.path))
	}

	if fs.protoMinor < 2 {
		return reply.Content, nil
	}

	chunk, err := wire.ParseFileChunk(reply.Content)
	if err != nil {
		return nil, errorkind.Protocol("fs.ReadFile", err)
	}

	cached, haveCached := fs.inodes.LookupValidator(fh.ino)
	switch {
	case haveCached && chunk.Validator < cached:
		if noCache {
			return nil, errorkind.Consistency("fs.ReadFile", fmt.Errorf("chunk validator %d older than cached %d after no-cache retrieval", chunk.Validator, cached))
		}
		return fs.fetchFileChunk(ctx, fh, chunkStart, true)
	case haveCached && chunk.Validator > cached:
		if _, uerr := fs.inodes.UpdateValidator(fh.ino, chunk.Validator); uerr != nil && fs.log != nil {
			fs.log.Warnf("fs: %v", uerr)
		}
		fs.openFiles.ExpireNow(fh.ino, fh.ofHandle)
	}

	return chunk.Payload, nil
}
