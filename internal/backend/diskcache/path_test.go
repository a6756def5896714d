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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseHexDigitsIsClipped(t *testing.T) {
	assert.Equal(t, 1, chooseHexDigits(0))
	assert.Equal(t, 1, chooseHexDigits(-5))
	assert.Equal(t, 1, chooseHexDigits(1000))
	assert.GreaterOrEqual(t, chooseHexDigits(100_000_000), 1)
	assert.LessOrEqual(t, chooseHexDigits(100_000_000), 4)
}

func TestDetectHexDigitsEmptyRoot(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, 0, detectHexDigits(root))
}

func TestDetectHexDigitsFindsExistingShards(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "00"), 0755))

	assert.Equal(t, 2, detectHexDigits(root))
}

func TestNewLayoutCreatesAllShards(t *testing.T) {
	root := t.TempDir()
	l, err := newLayout(root, 1000)
	require.NoError(t, err)

	for i := 0; i < l.numDirs; i++ {
		fi, statErr := os.Stat(l.shardDir(i))
		require.NoError(t, statErr)
		assert.True(t, fi.IsDir())
	}
}

func TestNewLayoutRecoversHexDigitsAcrossRestart(t *testing.T) {
	root := t.TempDir()
	first, err := newLayout(root, 100_000_000) // would pick k>1 from scratch
	require.NoError(t, err)

	second, err := newLayout(root, 1000) // would pick k=1 from scratch
	require.NoError(t, err)

	assert.Equal(t, first.hexDigits, second.hexDigits,
		"a pre-existing shard layout on disk must be recovered, not re-derived from maxFiles")
}

func TestPathForSplitsShardAndFilename(t *testing.T) {
	root := t.TempDir()
	l, err := newLayout(root, 1000)
	require.NoError(t, err)

	p := l.pathFor(0x0123456789abcdef)
	assert.True(t, len(filepath.Base(p))+l.hexDigits == 16)
	assert.Contains(t, p, root)
}

func TestPathForIsDeterministic(t *testing.T) {
	root := t.TempDir()
	l, err := newLayout(root, 1000)
	require.NoError(t, err)

	assert.Equal(t, l.pathFor(42), l.pathFor(42))
	assert.NotEqual(t, l.pathFor(42), l.pathFor(43))
}
