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

package inode

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisIsDeterministicAndDistinguishesInputs(t *testing.T) {
	a := Genesis("foo", 1, 7)
	b := Genesis("foo", 1, 7)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, Genesis("bar", 1, 7), "different name must hash differently")
	assert.NotEqual(t, a, Genesis("foo", 2, 7), "different parent must hash differently")
	assert.NotEqual(t, a, Genesis("foo", 1, 8), "different estale cookie must hash differently")
}

func TestNewSeedsRoot(t *testing.T) {
	m := New(1)
	assert.Equal(t, 1, m.Count())

	v, ok := m.LookupValidator(RootInodeID)
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)
}

func TestRememberNewInodeThenRepeatedLookupBumpsRefcount(t *testing.T) {
	m := New(1)
	ino := Genesis("a", RootInodeID, 1)

	require.NoError(t, m.Remember(RootInodeID, "a", ino, 5))
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 99))

	v, ok := m.LookupValidator(ino)
	require.True(t, ok)
	assert.Equal(t, uint64(5), v, "a repeated Remember must not overwrite the stored validator")
}

func TestRememberConflictingIdentityIsError(t *testing.T) {
	m := New(1)
	ino := Genesis("a", RootInodeID, 1)

	require.NoError(t, m.Remember(RootInodeID, "a", ino, 5))
	err := m.Remember(RootInodeID, "b", ino, 5)
	assert.Error(t, err)
}

func TestForgetDecrementsAndErasesAtZero(t *testing.T) {
	m := New(1)
	ino := Genesis("a", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 1))
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 1)) // refcount 2

	found, underflow := m.Forget(ino, 1)
	assert.True(t, found)
	assert.False(t, underflow)
	_, ok := m.LookupValidator(ino)
	assert.True(t, ok, "refcount 1 remaining, entry must survive")

	found, underflow = m.Forget(ino, 1)
	assert.True(t, found)
	assert.False(t, underflow)
	_, ok = m.LookupValidator(ino)
	assert.False(t, ok, "refcount reached zero, entry must be erased")
}

func TestForgetUnknownInodeNotFound(t *testing.T) {
	m := New(1)
	found, underflow := m.Forget(fuseops.InodeID(999999), 1)
	assert.False(t, found)
	assert.False(t, underflow)
}

func TestForgetUnderflowClampsToZero(t *testing.T) {
	m := New(1)
	ino := Genesis("a", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 1))

	found, underflow := m.Forget(ino, 5)
	assert.True(t, found)
	assert.True(t, underflow)
	_, ok := m.LookupValidator(ino)
	assert.False(t, ok)
}

func TestUpdateValidatorMonotonicAtProtocolMinor2(t *testing.T) {
	m := New(2)
	ino := Genesis("a", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 10))

	old, err := m.UpdateValidator(ino, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), old)

	v, _ := m.LookupValidator(ino)
	assert.Equal(t, uint64(20), v)

	_, err = m.UpdateValidator(ino, 5)
	assert.Error(t, err, "a decreasing validator at minor>=2 is a protocol violation")
	v, _ = m.LookupValidator(ino)
	assert.Equal(t, uint64(20), v, "a rejected update must not modify the stored value")
}

func TestUpdateValidatorUnconstrainedAtProtocolMinor1(t *testing.T) {
	m := New(1)
	ino := Genesis("a", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 10))

	_, err := m.UpdateValidator(ino, 3)
	assert.NoError(t, err, "monotonicity is only enforced at minor>=2")
	v, _ := m.LookupValidator(ino)
	assert.Equal(t, uint64(3), v)
}

func TestUpdateValidatorUnknownInode(t *testing.T) {
	m := New(2)
	_, err := m.UpdateValidator(fuseops.InodeID(42), 1)
	assert.Error(t, err)
}

func TestInodeToParentName(t *testing.T) {
	m := New(1)
	ino := Genesis("a", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 1))

	parent, name, err := m.InodeToParentName(ino)
	require.NoError(t, err)
	assert.Equal(t, fuseops.InodeID(RootInodeID), parent)
	assert.Equal(t, "a", name)

	_, _, err = m.InodeToParentName(fuseops.InodeID(12345))
	assert.Error(t, err)
}

func TestInodeToFullPathWalksParents(t *testing.T) {
	m := New(1)
	dir := Genesis("dir", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "dir", dir, 1))
	child := Genesis("child", dir, 1)
	require.NoError(t, m.Remember(dir, "child", child, 1))

	rootPath, err := m.InodeToFullPath(RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, "", rootPath)

	dirPath, err := m.InodeToFullPath(dir)
	require.NoError(t, err)
	assert.Equal(t, "/dir", dirPath)

	childPath, err := m.InodeToFullPath(child)
	require.NoError(t, err)
	assert.Equal(t, "/dir/child", childPath)
}

func TestInodeToFullPathValidatorMatchesSeparateCalls(t *testing.T) {
	m := New(1)
	dir := Genesis("dir", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "dir", dir, 42))

	path, validator, err := m.InodeToFullPathValidator(dir)
	require.NoError(t, err)
	assert.Equal(t, "/dir", path)
	assert.Equal(t, uint64(42), validator)

	rootPath, rootValidator, err := m.InodeToFullPathValidator(RootInodeID)
	require.NoError(t, err)
	assert.Equal(t, "", rootPath)
	assert.Equal(t, uint64(1), rootValidator)
}

func TestCountTracksLiveEntries(t *testing.T) {
	m := New(1)
	assert.Equal(t, 1, m.Count())

	ino := Genesis("a", RootInodeID, 1)
	require.NoError(t, m.Remember(RootInodeID, "a", ino, 1))
	assert.Equal(t, 2, m.Count())

	m.Forget(ino, 1)
	assert.Equal(t, 1, m.Count())
}
