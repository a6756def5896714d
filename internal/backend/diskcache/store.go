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

package diskcache

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"syscall"

	"github.com/fs123/gofs123/internal/reqrep"
)

// load deserializes the reply stored at path. A missing file is reported as
// (nil, nil); any structural inconsistency unlinks the file and is also
// reported as (nil, nil) — both are a cache miss to the caller (spec.md
// §4.1.2 "Deserialization").
func load(path string) (*reqrep.Reply, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	reply, err := reqrep.Deserialize(f)
	if err != nil {
		if errors.Is(err, reqrep.ErrCorrupt) {
			os.Remove(path)
			return nil, nil
		}
		return nil, err
	}
	return reply, nil
}

// store serializes reply to path atomically: write to path+".new", fsync,
// rename. O_CREAT|O_EXCL on the temp file means a concurrent writer for the
// same key loses the race and simply skips (spec.md §4.1.2).
func store(path string, reply *reqrep.Reply) error {
	tmp := path + ".new"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREAT|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}

	if err := reply.Serialize(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// rewriteHeader implements the "update-expiration fast path" for 304
// responses: only the fixed-size header region is rewritten, leaving
// content untouched (spec.md §4.1.2).
func rewriteHeader(path string, reply *reqrep.Reply) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return reply.RewriteHeader(f)
}

// isReadOnlyFSError reports whether err indicates the cache's backing
// filesystem has gone read-only (spec.md §4.1.2, "Error classification for
// EROFS"), via structured error inspection rather than string matching.
func isReadOnlyFSError(err error) bool {
	return errors.Is(err, syscall.EROFS)
}

// admit reports whether a new entry should be accepted for insertion, per
// the current admission probability (spec.md §4.1.2, "Admission
// probability").
func admit(prob float64) bool {
	if prob >= 1 {
		return true
	}
	if prob <= 0 {
		return false
	}
	return rand.Float64() < prob
}

var errAdmissionRejected = fmt.Errorf("diskcache: admission rejected by current inject_prob")
