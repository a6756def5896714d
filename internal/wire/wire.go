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

// Package wire decodes the reply body layouts described in spec.md §6: the
// attribute blob, directory chunks, file chunks, and statvfs replies, plus
// the netstring framing shared by several of them.
//
// The spec documents these bodies as "whitespace-separated fixed-order
// integer fields" without pinning the exact field list (the original
// implementation scans straight into a platform struct stat, whose member
// order is libc-specific and not a sensible Go target). This package fixes
// a concrete, documented field order; see DESIGN.md.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReadNetstring reads one djb netstring ("<len>:<payload>,") from r.
func ReadNetstring(r *bufio.Reader) ([]byte, error) {
	lenStr, err := r.ReadString(':')
	if err != nil {
		return nil, fmt.Errorf("wire: reading netstring length: %w", err)
	}
	lenStr = strings.TrimSuffix(lenStr, ":")
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("wire: bad netstring length %q", lenStr)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: reading netstring payload: %w", err)
	}
	trailer := make([]byte, 1)
	if _, err := io.ReadFull(r, trailer); err != nil || trailer[0] != ',' {
		return nil, fmt.Errorf("wire: netstring missing trailing comma")
	}
	return buf, nil
}

// WriteNetstring appends the netstring encoding of payload to buf.
func WriteNetstring(buf []byte, payload []byte) []byte {
	buf = strconv.AppendInt(buf, int64(len(payload)), 10)
	buf = append(buf, ':')
	buf = append(buf, payload...)
	buf = append(buf, ',')
	return buf
}

// Stat is the decoded form of an "/a" reply body's leading stat blob
// (spec.md §6). The estale cookie travels in the fs123-estale-cookie
// response header, not in this body, so it has no field here.
type Stat struct {
	Mode  os.FileMode
	Size  uint64
	Nlink uint64
	Uid   uint32
	Gid   uint32
	Mtime time.Time
}

// ParseAttr decodes an "/a" reply body: "<serialized-stat>\n<validator>"
// (protocol >=7.1), where the stat blob is
// "<mode> <size> <nlink> <uid> <gid> <mtime_sec> <mtime_nsec>".
func ParseAttr(body []byte) (Stat, uint64, error) {
	line, rest, ok := cutLine(body)
	if !ok {
		return Stat{}, 0, fmt.Errorf("wire: attr reply missing validator line")
	}
	fields := strings.Fields(line)
	if len(fields) < 7 {
		return Stat{}, 0, fmt.Errorf("wire: attr reply has %d fields, want >=7", len(fields))
	}
	modeBits, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing mode: %w", err)
	}
	size, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing size: %w", err)
	}
	nlink, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing nlink: %w", err)
	}
	uid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing uid: %w", err)
	}
	gid, err := strconv.ParseUint(fields[4], 10, 32)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing gid: %w", err)
	}
	mtimeSec, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing mtime_sec: %w", err)
	}
	mtimeNsec, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing mtime_nsec: %w", err)
	}

	validator, err := strconv.ParseUint(strings.TrimSpace(string(rest)), 10, 64)
	if err != nil {
		return Stat{}, 0, fmt.Errorf("wire: parsing validator: %w", err)
	}

	return Stat{
		Mode:  os.FileMode(modeBits),
		Size:  size,
		Nlink: nlink,
		Uid:   uint32(uid),
		Gid:   uint32(gid),
		Mtime: time.Unix(mtimeSec, mtimeNsec).UTC(),
	}, validator, nil
}

func cutLine(body []byte) (line string, rest []byte, ok bool) {
	i := indexByte(body, '\n')
	if i < 0 {
		return "", nil, false
	}
	return string(body[:i]), body[i+1:], true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// DirEntry is one decoded directory-chunk entry (spec.md §6's "/d" body).
type DirEntry struct {
	Name         string
	DType        uint8
	EstaleCookie uint64
}

// ParseDirChunk decodes a "/d" reply body: repeated
// "<netstring-name> <d_type> <estale_cookie>" entries.
func ParseDirChunk(body []byte) ([]DirEntry, error) {
	r := bufio.NewReader(strings.NewReader(string(body)))
	var entries []DirEntry
	for {
		if _, err := r.Peek(1); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		name, err := ReadNetstring(r)
		if err != nil {
			return nil, fmt.Errorf("wire: dir entry name: %w", err)
		}
		if err := skipOneSpace(r); err != nil {
			return nil, err
		}
		dtype, err := readDecimalField(r)
		if err != nil {
			return nil, fmt.Errorf("wire: dir entry d_type: %w", err)
		}
		cookie, err := readDecimalField(r)
		if err != nil {
			return nil, fmt.Errorf("wire: dir entry estale_cookie: %w", err)
		}
		entries = append(entries, DirEntry{Name: string(name), DType: uint8(dtype), EstaleCookie: cookie})
	}
	return entries, nil
}

func skipOneSpace(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != ' ' {
		return fmt.Errorf("wire: expected space, got %q", b)
	}
	return nil
}

// readDecimalField reads digits up to the next whitespace, consuming
// exactly one trailing whitespace byte (space or newline) if present.
func readDecimalField(r *bufio.Reader) (uint64, error) {
	var digits []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(digits) > 0 {
				break
			}
			return 0, err
		}
		if b == ' ' || b == '\n' {
			break
		}
		digits = append(digits, b)
	}
	return strconv.ParseUint(string(digits), 10, 64)
}

// FileChunk is the decoded form of an "/f" reply body at protocol >= 7.2.
type FileChunk struct {
	Validator uint64
	Payload   []byte
}

// ParseFileChunk decodes an "/f" reply body:
// "<netstring-framed-decimal-validator><payload-bytes>" (spec.md §6, §4.7).
func ParseFileChunk(body []byte) (FileChunk, error) {
	r := bufio.NewReader(strings.NewReader(string(body)))
	validatorBytes, err := ReadNetstring(r)
	if err != nil {
		return FileChunk{}, fmt.Errorf("wire: file chunk validator: %w", err)
	}
	validator, err := strconv.ParseUint(string(validatorBytes), 10, 64)
	if err != nil {
		return FileChunk{}, fmt.Errorf("wire: parsing validator: %w", err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return FileChunk{}, fmt.Errorf("wire: reading payload: %w", err)
	}
	return FileChunk{Validator: validator, Payload: payload}, nil
}

// Statvfs is the decoded form of an "/s" reply body.
type Statvfs struct {
	Bsize   uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	NameLen uint64
}

// ParseStatvfs decodes an "/s" reply body: whitespace-separated integers in
// the order Bsize, Blocks, Bfree, Bavail, Files, Ffree, NameLen.
func ParseStatvfs(body []byte) (Statvfs, error) {
	fields := strings.Fields(string(body))
	if len(fields) < 7 {
		return Statvfs{}, fmt.Errorf("wire: statvfs reply has %d fields, want >=7", len(fields))
	}
	vals := make([]uint64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return Statvfs{}, fmt.Errorf("wire: parsing statvfs field %d: %w", i, err)
		}
		vals[i] = v
	}
	return Statvfs{
		Bsize: vals[0], Blocks: vals[1], Bfree: vals[2], Bavail: vals[3],
		Files: vals[4], Ffree: vals[5], NameLen: vals[6],
	}, nil
}
