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

import "fmt"

// sigil is the fixed URL marker the original implementation scans for when
// trimming a logged URL down to its base ("Ignore everything after the
// /fs123 sigil."). Paired with the protocol minor version it forms the
// second path component of spec.md §6's "<base>/<sigil>/<opcode>/<path>"
// layout.
func (fs *FileSystem) sigil() string {
	return fmt.Sprintf("/fs123/7.%d", fs.protoMinor)
}

func (fs *FileSystem) attrStem(path string) string {
	return fs.sigil() + "/a" + path
}

func (fs *FileSystem) dirStem(path string, chunkOffset int64) string {
	return fmt.Sprintf("%s/d%s?offset=%d", fs.sigil(), path, chunkOffset)
}

func (fs *FileSystem) fileStem(path string, offset int64, size int64) string {
	return fmt.Sprintf("%s/f%s?offset=%d&size=%d&chunksize=%d", fs.sigil(), path, offset, size, fs.chunkSizeBytes)
}

func (fs *FileSystem) symlinkStem(path string) string {
	return fs.sigil() + "/l" + path
}

func (fs *FileSystem) statvfsStem() string {
	return fs.sigil() + "/s/"
}
