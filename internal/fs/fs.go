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

// Package fs is the fuseops.FileSystem implementation (spec.md §4, §6):
// the op handlers that translate kernel requests into backend pipeline
// fetches, using the inode map, attribute cache, symlink cache, open-file
// scanner and special-inode registry to maintain the consistency
// invariants of spec.md §4.2-§4.4.
//
// The file system is read-only (spec.md §1 Non-goals: "write operations
// of any kind"). FileSystem embeds fuseutil.NotImplementedFileSystem so
// every write op (MkDir, CreateFile, CreateSymlink, RmDir, Unlink,
// WriteFile, SyncFile, FlushFile, SetInodeAttributes) falls through to
// that embedded type's ENOSYS default rather than needing an explicit
// stub here, mirroring the teacher's own embedding even though the
// teacher overrides a few of these for GCS's partial write support.
package fs

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/fs123/gofs123/internal/attrcache"
	"github.com/fs123/gofs123/internal/backend"
	"github.com/fs123/gofs123/internal/clock"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/inode"
	"github.com/fs123/gofs123/internal/logger"
	"github.com/fs123/gofs123/internal/openfile"
	"github.com/fs123/gofs123/internal/reqrep"
	"github.com/fs123/gofs123/internal/specialino"
	"github.com/fs123/gofs123/internal/symlinkcache"
)

// KernelInvalidator issues kernel cache-invalidation primitives. Supplied
// by the cmd layer, which owns the live mounted file system and is the
// only place able to reach the fuse.Server's invalidation methods. May be
// nil, in which case invalidation is skipped (the kernel cache simply
// expires on its own schedule instead).
type KernelInvalidator interface {
	InvalidateEntry(parent fuseops.InodeID, name string) error
	InvalidateInode(ino fuseops.InodeID) error
}

// Options bundles the dependencies and policy knobs FileSystem needs,
// mirroring the teacher's ServerConfig pattern (fs/fs.go's ServerConfig).
type Options struct {
	Backend     backend.Backend
	ReqDefaults reqrep.Defaults

	ProtocolMinor  int
	ChunkSizeBytes int64

	IgnoreEstaleMismatch bool

	Uid, Gid           uint32
	FileMode, DirMode  os.FileMode

	Clock    clock.Clock
	Log      *logger.Logger
	Stats    *specialino.Stats
	Specials *specialino.Registry

	Invalidator KernelInvalidator
}

// fileHandleState is the per-open-file bookkeeping stored in fs.handles,
// keyed by the fuseops.HandleID minted in OpenFile.
type fileHandleState struct {
	ino  fuseops.InodeID
	path string

	// ofHandle is set only for regular (non-special) files: the
	// registration token handed back by the open-file scanner (spec.md
	// §4.3), presented again on release.
	ofHandle openfile.Handle

	// specialContent is non-nil for a special inode (spec.md §4.6):
	// content materialized once at open time and served from this buffer
	// for the life of the handle.
	specialContent []byte
}

// FileSystem implements fuseutil.FileSystem's read-only subset (spec.md
// §4, §6).
//
// LOCK ORDERING: fs.mu guards only the handles/nextHandleID bookkeeping
// below; the inode map, attribute cache, symlink cache and open-file
// scanner each own their own lock and are never held across a backend
// round trip, following the teacher's "don't acquire file system locks
// before [long-running operations]" rule (fs/fs.go's LOCK ORDERING
// comment).
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	backend     backend.Backend
	reqDefaults reqrep.Defaults

	protoMinor     int
	chunkSizeBytes int64

	ignoreEstaleMismatch bool

	uid, gid           uint32
	fileMode, dirMode  os.FileMode

	clk      clock.Clock
	log      *logger.Logger
	stats    *specialino.Stats
	specials *specialino.Registry

	invalidator KernelInvalidator

	inodes    *inode.Map
	attrCache *attrcache.Cache
	symlinks  *symlinkcache.Cache
	openFiles *openfile.Scanner

	mu           sync.Mutex
	handles      map[fuseops.HandleID]interface{}
	nextHandleID fuseops.HandleID

	rootCookieMu sync.Mutex
	rootCookie   uint64
}

// New builds a FileSystem from opts. The caller must arrange for a
// goroutine running fs.Run (the open-file scanner's Run loop)
// and must call Stop at shutdown.
func New(opts Options) *FileSystem {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	fs := &FileSystem{
		backend:              opts.Backend,
		reqDefaults:          opts.ReqDefaults,
		protoMinor:           opts.ProtocolMinor,
		chunkSizeBytes:       opts.ChunkSizeBytes,
		ignoreEstaleMismatch: opts.IgnoreEstaleMismatch,
		uid:                  opts.Uid,
		gid:                  opts.Gid,
		fileMode:             opts.FileMode,
		dirMode:              opts.DirMode,
		clk:                  clk,
		log:                  opts.Log,
		stats:                opts.Stats,
		specials:             opts.Specials,
		invalidator:          opts.Invalidator,
		inodes:               inode.New(opts.ProtocolMinor),
		attrCache:            attrcache.New(clk),
		symlinks:             symlinkcache.New(clk),
		handles:              make(map[fuseops.HandleID]interface{}),
		nextHandleID:         1,
	}

	fs.openFiles = openfile.New(clk, opts.Log, opts.Stats, fs.scannerGetAttrFresh, fs.inodes.UpdateValidator, fs.scannerNotify)

	return fs
}

// Run starts the open-file scanner's background loop; call in its own
// goroutine. Stop shuts it down.
func (fs *FileSystem) Run()  { fs.openFiles.Run() }
func (fs *FileSystem) Stop() { fs.openFiles.Stop() }

func (fs *FileSystem) scannerNotify(ino fuseops.InodeID) {
	if fs.invalidator == nil {
		return
	}
	if err := fs.invalidator.InvalidateInode(ino); err != nil && fs.log != nil {
		fs.log.Warnf("fs: invalidate inode %d failed: %v", ino, err)
	}
}

// toFuseErr translates an errorkind.Error into the syscall.Errno sentinel
// jacobsa/fuse expects an op handler to return (gcsfuse returns bare
// fuse.ENOSYS etc, itself a syscall.Errno alias, from every handler in
// fs/fs.go).
func toFuseErr(err error) error {
	if err == nil {
		return nil
	}
	if kerr, ok := errorkind.As(err); ok {
		errno := kerr.Errno
		if errno == 0 {
			errno = errorkind.EIO
		}
		return syscall.Errno(errno)
	}
	return syscall.EIO
}

// pathForInode resolves ino to its full slash-rooted path, special-casing
// the root (whose inode.Map path is "" per spec.md §4.2).
func (fs *FileSystem) pathForInode(ino fuseops.InodeID) (string, error) {
	if ino == inode.RootInodeID {
		return "/", nil
	}
	return fs.inodes.InodeToFullPath(ino)
}

// pathFor joins parent's path with a child name, special-casing the root
// so that a root child is "/name" rather than "//name" with a doubled
// separator.
func (fs *FileSystem) pathFor(parent fuseops.InodeID, name string) (string, error) {
	if parent == inode.RootInodeID {
		return "/" + name, nil
	}
	parentPath, err := fs.inodes.InodeToFullPath(parent)
	if err != nil {
		return "", err
	}
	return parentPath + "/" + name, nil
}

func (fs *FileSystem) allocHandle(v interface{}) fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := fs.nextHandleID
	fs.nextHandleID++
	fs.handles[h] = v
	return h
}

func (fs *FileSystem) lookupHandle(h fuseops.HandleID) (interface{}, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.handles[h]
	return v, ok
}

func (fs *FileSystem) dropHandle(h fuseops.HandleID) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.handles, h)
}

// Init is a no-op: there is no bucket/connection handshake the way the
// teacher's ServerConfig needs one (fs/fs.go's NewFileSystem), since the
// backend pipeline is already fully constructed by the time FileSystem is
// built.
func (fs *FileSystem) Init(op *fuseops.InitOp) error { return nil }

// LookUpInode resolves (op.Parent, op.Name) into a child inode, consulting
// the special-inode registry, the attribute cache, and finally the
// backend pipeline (spec.md §4.2, §4.4, §4.6).
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) (err error) {
	entry, ferr := fs.lookupChild(op.Context(), op.Parent, op.Name)
	if ferr != nil {
		return toFuseErr(ferr)
	}
	op.Entry = entry
	return nil
}

// GetInodeAttributes refreshes op.Inode's attributes, including the
// ESTALE-class inode-identity verification of spec.md §4.4.
func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) (err error) {
	attr, expires, _, ferr := fs.refreshAttrByIno(op.Context(), op.Inode, false)
	if ferr != nil {
		return toFuseErr(ferr)
	}
	op.Attributes = attr
	op.AttributesExpiration = expires
	return nil
}

// ForgetInode decrements op.Inode's lookup refcount (spec.md §4.2).
// Special inodes and the root are never Remembered in the inode map, so a
// "not found" here for one of those is expected and silent.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) (err error) {
	if op.Inode == inode.RootInodeID || fs.specials.IsSpecial(op.Inode) {
		return nil
	}
	found, underflow := fs.inodes.Forget(op.Inode, op.N)
	if fs.log != nil {
		if underflow {
			fs.log.Warnf("fs: forget underflow for inode %d", op.Inode)
		}
		if !found {
			fs.log.Warnf("fs: forget for unknown inode %d", op.Inode)
		}
	}
	return nil
}

// OpenDir allocates a dirHandle for op.Inode (spec.md §4.6's directory
// listing, including the root's appended special-inode entries).
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) (err error) {
	path, perr := fs.pathForInode(op.Inode)
	if perr != nil {
		return toFuseErr(errorkind.Posix("fs.OpenDir", errorkind.ENOENT, perr))
	}
	dh := &dirHandle{fs: fs, ino: op.Inode, path: path}
	op.Handle = fs.allocHandle(dh)
	return nil
}

// ReleaseDirHandle discards the dirHandle for op.Handle.
func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) (err error) {
	fs.dropHandle(op.Handle)
	return nil
}

// OpenFile registers op.Inode with the open-file scanner (spec.md §4.3),
// or, for a special inode, materializes its content once up front (spec.md
// §4.6).
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) (err error) {
	if special, ok := fs.specials.ByInode(op.Inode); ok {
		content, gerr := special.Generate()
		if gerr != nil {
			return toFuseErr(errorkind.Posix("fs.OpenFile", errorkind.EIO, gerr))
		}
		op.Handle = fs.allocHandle(&fileHandleState{ino: op.Inode, specialContent: content})
		return nil
	}

	path, perr := fs.inodes.InodeToFullPath(op.Inode)
	if perr != nil {
		return toFuseErr(errorkind.Posix("fs.OpenFile", errorkind.ENOENT, perr))
	}
	ofHandle := fs.openFiles.Register(op.Inode, fs.clk.Now())
	op.Handle = fs.allocHandle(&fileHandleState{ino: op.Inode, path: path, ofHandle: ofHandle})
	return nil
}

// ReleaseFileHandle releases op.Handle's open-file scanner registration,
// if any (special-inode handles have none).
func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) (err error) {
	v, ok := fs.lookupHandle(op.Handle)
	fs.dropHandle(op.Handle)
	if !ok {
		return nil
	}
	fh, ok := v.(*fileHandleState)
	if ok && fh.specialContent == nil {
		fs.openFiles.Release(fh.ino, fh.ofHandle)
	}
	return nil
}

// ReadSymlink serves op.Inode's target from the symlink cache or the
// backend's "/l" opcode (spec.md §6).
func (fs *FileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) (err error) {
	if target, ok := fs.symlinks.Get(op.Inode); ok {
		op.Target = target
		return nil
	}

	parent, name, perr := fs.inodes.InodeToParentName(op.Inode)
	if perr != nil {
		return toFuseErr(errorkind.Posix("fs.ReadSymlink", errorkind.ENOENT, perr))
	}
	path, perr := fs.pathFor(parent, name)
	if perr != nil {
		return toFuseErr(errorkind.Posix("fs.ReadSymlink", errorkind.ENOENT, perr))
	}

	req := reqrep.NewReq(fs.symlinkStem(path), fs.reqDefaults)
	var reply reqrep.Reply
	if _, rerr := fs.backend.Refresh(op.Context(), &req, &reply); rerr != nil {
		return toFuseErr(rerr)
	}
	if reply.Errno != 0 {
		return toFuseErr(errorkind.Posix("fs.ReadSymlink", int(reply.Errno), fmt.Errorf("backend errno %d", reply.Errno)))
	}

	target := string(reply.Content)
	fs.symlinks.Put(op.Inode, target, reply.Expires)
	op.Target = target
	return nil
}
