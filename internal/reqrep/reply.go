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

package reqrep

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ContentEncoding distinguishes a plaintext reply body from an
// authenticated-encryption variant. The cryptographic primitives
// themselves are an external collaborator (spec.md §1); this package only
// carries the tag.
type ContentEncoding uint8

const (
	EncodingIdentity ContentEncoding = iota
	EncodingAEAD
)

// InvalidErrno marks a Reply that has never been populated.
const InvalidErrno = -1

// DiskCacheMagic and DiskCacheTrailerMagic bracket the on-disk record
// (spec.md §3, "header ... trailing magic").
const (
	DiskCacheMagic        uint32 = 0xf123ca00
	DiskCacheTrailerMagic uint32 = 0xf123ca01
)

// Reply is the in-memory value object returned by every backend layer's
// Refresh call. See spec.md §3 for the field-level invariants, reproduced
// in the methods below.
type Reply struct {
	// Errno is -1 (uninitialized), 0 (success), or a positive POSIX errno
	// reported by the server.
	Errno int32

	// Content is the (decrypted, if applicable) response body.
	Content []byte

	// Encoding records whether Content came off the wire encrypted.
	Encoding ContentEncoding

	// Expires, LastRefresh and StaleWhileRevalidate are the cache-control
	// timing fields. Expires = LastRefresh + max_age is an invariant
	// maintained by whoever populates the Reply (the HTTP backend layer),
	// not recomputed lazily here, so that a Reply loaded from disk keeps
	// the exact value it was written with.
	Expires             time.Time
	LastRefresh         time.Time
	StaleWhileRevalidate time.Duration

	// Etag64 is the strong validator usable as an If-None-Match value.
	Etag64 uint64

	// EstaleCookie is the server-generated per-inode identity token. It
	// must be zero whenever Errno != 0.
	EstaleCookie uint64

	// MonotonicValidator is embedded in content for file/attribute replies
	// at protocol >= 7.2 (spec.md §3); parsed out by the caller and stored
	// here for convenience once extracted.
	MonotonicValidator uint64

	// NextChunkOffset and NextChunkEOF carry directory-listing pagination
	// state (spec.md §3).
	NextChunkOffset int64
	NextChunkEOF    bool

	// Checksum is a non-cryptographic checksum of Content, sufficient for
	// corruption detection (spec.md §3, §8 round-trip law).
	Checksum uint64

	// SourceURL is the full URL the reply was fetched from; persisted in
	// the disk-cache trailer so external scanners can identify entries.
	SourceURL string
}

// Invalid reports whether the Reply has never been populated.
func (r *Reply) Invalid() bool { return r.Errno == InvalidErrno }

// Valid reports the opposite of Invalid; a "valid" reply may still carry a
// non-zero server errno (e.g. ENOENT), it just isn't the zero/uninitialized
// value.
func (r *Reply) Valid() bool { return r.Errno != InvalidErrno }

// Age returns now - LastRefresh. May be negative on clock skew.
func (r *Reply) Age(now time.Time) time.Duration { return now.Sub(r.LastRefresh) }

// TTL returns Expires - now. May be negative.
func (r *Reply) TTL(now time.Time) time.Duration { return r.Expires.Sub(now) }

// Fresh reports valid && now < Expires.
func (r *Reply) Fresh(now time.Time) bool {
	return r.Valid() && now.Before(r.Expires)
}

// ComputeChecksum hashes Content with the same non-cryptographic function
// used for URL/inode hashing, satisfying the §8 invariant
// hash(R.content) == R.content_checksum.
func (r *Reply) ComputeChecksum() uint64 {
	return xxhash.Sum64(r.Content)
}

// SetChecksum stores ComputeChecksum() into r.Checksum.
func (r *Reply) SetChecksum() { r.Checksum = r.ComputeChecksum() }

// VerifyChecksum reports whether r.Checksum matches the content actually
// present.
func (r *Reply) VerifyChecksum() bool { return r.Checksum == r.ComputeChecksum() }

// ErrCorrupt is returned by Deserialize when any structural check fails;
// callers must treat this exactly like a cache miss and unlink the file
// (spec.md §4.1.2 "Deserialization").
var ErrCorrupt = errors.New("reqrep: corrupt disk-cache record")

// diskHeader is the fixed-size region at the front of a serialized Reply.
// It alone is rewritten by the disk cache's "update-expiration fast path"
// on a 304 response (spec.md §4.1.2), so its layout must never change
// shape without a version bump.
type diskHeader struct {
	Magic                uint32
	Errno                int32
	Encoding             uint8
	NextChunkEOF         uint8
	_                    [2]byte // padding, keeps the struct a stable fixed width
	Expires              int64
	LastRefresh          int64
	StaleWhileRevalidate int64
	Etag64               uint64
	EstaleCookie         uint64
	NextChunkOffset      int64
	Checksum             uint64
	ContentLength        int64
}

const diskHeaderSize = 4 + 4 + 1 + 1 + 2 + 8*7 + 8

// Serialize writes the disk-cache file layout described in spec.md §3:
// header, content, URL, URL length, trailing magic. The header is a
// fixed-size region at offset 0, which RewriteHeader can later overwrite
// in place without touching the rest.
func (r *Reply) Serialize(w io.Writer) error {
	if r.Checksum == 0 && len(r.Content) > 0 {
		r.SetChecksum()
	}

	hdr := diskHeader{
		Magic:                DiskCacheMagic,
		Errno:                r.Errno,
		Encoding:             uint8(r.Encoding),
		Expires:              r.Expires.UnixNano(),
		LastRefresh:          r.LastRefresh.UnixNano(),
		StaleWhileRevalidate: int64(r.StaleWhileRevalidate),
		Etag64:               r.Etag64,
		EstaleCookie:         r.EstaleCookie,
		NextChunkOffset:      r.NextChunkOffset,
		Checksum:             r.Checksum,
		ContentLength:        int64(len(r.Content)),
	}
	if r.NextChunkEOF {
		hdr.NextChunkEOF = 1
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("reqrep: writing header: %w", err)
	}
	if _, err := w.Write(r.Content); err != nil {
		return fmt.Errorf("reqrep: writing content: %w", err)
	}
	urlLen := uint32(len(r.SourceURL))
	if _, err := io.WriteString(w, r.SourceURL); err != nil {
		return fmt.Errorf("reqrep: writing source url: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, urlLen); err != nil {
		return fmt.Errorf("reqrep: writing url length: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, DiskCacheTrailerMagic); err != nil {
		return fmt.Errorf("reqrep: writing trailer magic: %w", err)
	}
	return nil
}

// Deserialize parses the layout written by Serialize. Any structural
// inconsistency (bad magic, checksum mismatch, truncated content) returns
// ErrCorrupt; the caller is expected to unlink the backing file.
func Deserialize(r io.Reader) (*Reply, error) {
	var hdr diskHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}
	if hdr.Magic != DiskCacheMagic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorrupt, hdr.Magic)
	}
	if hdr.ContentLength < 0 {
		return nil, fmt.Errorf("%w: negative content length", ErrCorrupt)
	}

	content := make([]byte, hdr.ContentLength)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("%w: reading content: %v", ErrCorrupt, err)
	}

	var urlLen uint32
	// The URL bytes precede their own length prefix in the on-disk layout
	// (spec.md §3), so buffer the remainder and split from the tail.
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading trailer: %v", ErrCorrupt, err)
	}
	if len(rest) < 8 {
		return nil, fmt.Errorf("%w: truncated trailer", ErrCorrupt)
	}
	tailMagicOff := len(rest) - 4
	lenOff := tailMagicOff - 4
	trailerMagic := binary.LittleEndian.Uint32(rest[tailMagicOff:])
	if trailerMagic != DiskCacheTrailerMagic {
		return nil, fmt.Errorf("%w: bad trailer magic %x", ErrCorrupt, trailerMagic)
	}
	urlLen = binary.LittleEndian.Uint32(rest[lenOff:tailMagicOff])
	if int(urlLen) != lenOff {
		return nil, fmt.Errorf("%w: url length mismatch", ErrCorrupt)
	}

	reply := &Reply{
		Errno:                hdr.Errno,
		Content:              content,
		Encoding:             ContentEncoding(hdr.Encoding),
		Expires:              time.Unix(0, hdr.Expires).UTC(),
		LastRefresh:          time.Unix(0, hdr.LastRefresh).UTC(),
		StaleWhileRevalidate: time.Duration(hdr.StaleWhileRevalidate),
		Etag64:               hdr.Etag64,
		EstaleCookie:         hdr.EstaleCookie,
		NextChunkOffset:      hdr.NextChunkOffset,
		NextChunkEOF:         hdr.NextChunkEOF != 0,
		Checksum:             hdr.Checksum,
		SourceURL:            string(rest[:lenOff]),
	}
	if !reply.VerifyChecksum() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return reply, nil
}

// RewriteHeader overwrites only the fixed-size header region of an
// already-serialized record in place — the disk cache's "update-expiration
// fast path" for 304 responses (spec.md §4.1.2), which must not touch
// content.
func (r *Reply) RewriteHeader(w io.WriterAt) error {
	hdr := diskHeader{
		Magic:                DiskCacheMagic,
		Errno:                r.Errno,
		Encoding:             uint8(r.Encoding),
		Expires:              r.Expires.UnixNano(),
		LastRefresh:          r.LastRefresh.UnixNano(),
		StaleWhileRevalidate: int64(r.StaleWhileRevalidate),
		Etag64:               r.Etag64,
		EstaleCookie:         r.EstaleCookie,
		NextChunkOffset:      r.NextChunkOffset,
		Checksum:             r.Checksum,
		ContentLength:        int64(len(r.Content)),
	}
	if r.NextChunkEOF {
		hdr.NextChunkEOF = 1
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	_, err := w.WriteAt(buf.Bytes(), 0)
	return err
}
