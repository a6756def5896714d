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
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/fs123/gofs123/internal/attrcache"
	"github.com/fs123/gofs123/internal/errorkind"
	"github.com/fs123/gofs123/internal/inode"
	"github.com/fs123/gofs123/internal/openfile"
	"github.com/fs123/gofs123/internal/reqrep"
	"github.com/fs123/gofs123/internal/specialino"
	"github.com/fs123/gofs123/internal/wire"
)

// attrResult is the parsed, already-converted form of one "/a" reply.
type attrResult struct {
	attr         fuseops.InodeAttributes
	validator    uint64
	estaleCookie uint64
	expires      time.Time
}

// fetchAttr issues the "/a" request for path and decodes it, storing the
// decoded validator back into reply.MonotonicValidator per that field's
// documented convention (reqrep.Reply doc comment).
func (fs *FileSystem) fetchAttr(ctx context.Context, path string, noCache bool) (attrResult, error) {
	req := reqrep.NewReq(fs.attrStem(path), fs.reqDefaults)
	req.NoCache = noCache

	var reply reqrep.Reply
	if _, err := fs.backend.Refresh(ctx, &req, &reply); err != nil {
		if fs.stats != nil {
			fs.stats.BackendErrors.Add(1)
		}
		return attrResult{}, err
	}
	if fs.stats != nil {
		fs.stats.BackendRequests.Add(1)
	}
	if reply.Errno != 0 {
		return attrResult{}, errorkind.Posix("fs.fetchAttr", int(reply.Errno), fmt.Errorf("backend errno %d for %s", reply.Errno, path))
	}

	stat, validator, err := wire.ParseAttr(reply.Content)
	if err != nil {
		return attrResult{}, errorkind.Protocol("fs.fetchAttr", err)
	}
	reply.MonotonicValidator = validator

	attr := fuseops.InodeAttributes{
		Size:  stat.Size,
		Nlink: stat.Nlink,
		Mode:  stat.Mode,
		Atime: stat.Mtime,
		Mtime: stat.Mtime,
		Ctime: stat.Mtime,
		Uid:   stat.Uid,
		Gid:   stat.Gid,
	}
	return attrResult{attr: attr, validator: validator, estaleCookie: reply.EstaleCookie, expires: reply.Expires}, nil
}

// lookupChild implements LookUpInode's semantics (spec.md §4.2, §4.4,
// §4.6): a special name at the root short-circuits to its fixed inode; an
// ordinary child computes its identity via inode.Genesis and records the
// kernel's lookup in the inode map regardless of whether the attribute
// itself came from cache.
func (fs *FileSystem) lookupChild(ctx context.Context, parent fuseops.InodeID, name string) (fuseops.ChildInodeEntry, error) {
	if parent == inode.RootInodeID {
		if special, ok := fs.specials.LookupByName(name); ok {
			return fs.specialChildEntry(special), nil
		}
	}

	if e, ok := fs.attrCache.Get(parent, name); ok {
		if err := fs.inodes.Remember(parent, name, e.Ino, 0); err != nil {
			return fuseops.ChildInodeEntry{}, errorkind.Posix("fs.LookUpInode", errorkind.EINVAL, err)
		}
		return fuseops.ChildInodeEntry{
			Child:                e.Ino,
			Attributes:           e.Attr,
			AttributesExpiration: e.Expires,
			EntryExpiration:      e.Expires,
		}, nil
	}

	path, err := fs.pathFor(parent, name)
	if err != nil {
		return fuseops.ChildInodeEntry{}, errorkind.Posix("fs.LookUpInode", errorkind.ENOENT, err)
	}
	res, err := fs.fetchAttr(ctx, path, false)
	if err != nil {
		return fuseops.ChildInodeEntry{}, err
	}

	ino := inode.Genesis(name, parent, res.estaleCookie)
	if err := fs.inodes.Remember(parent, name, ino, res.validator); err != nil {
		return fuseops.ChildInodeEntry{}, errorkind.Posix("fs.LookUpInode", errorkind.EINVAL, err)
	}
	fs.attrCache.Put(parent, name, attrcache.Entry{Attr: res.attr, Ino: ino, EstaleCookie: res.estaleCookie, Expires: res.expires})

	return fuseops.ChildInodeEntry{
		Child:                ino,
		Attributes:           res.attr,
		AttributesExpiration: res.expires,
		EntryExpiration:      res.expires,
	}, nil
}

// refreshAttrByIno implements GetInodeAttributes and the open-file
// scanner's periodic refresh (spec.md §4.3, §4.4): re-fetch attributes for
// an already-known inode and verify its identity is still intact.
func (fs *FileSystem) refreshAttrByIno(ctx context.Context, ino fuseops.InodeID, noCache bool) (fuseops.InodeAttributes, time.Time, uint64, error) {
	if special, ok := fs.specials.ByInode(ino); ok {
		return fs.specialAttr(special), fs.clk.Now().Add(farFutureWindow), 0, nil
	}
	if ino == inode.RootInodeID {
		return fs.refreshRootAttr(ctx, noCache)
	}

	parent, name, err := fs.inodes.InodeToParentName(ino)
	if err != nil {
		return fuseops.InodeAttributes{}, time.Time{}, 0, errorkind.Posix("fs.GetInodeAttributes", errorkind.ENOENT, err)
	}

	if !noCache {
		if e, ok := fs.attrCache.Get(parent, name); ok && e.Ino == ino {
			return e.Attr, e.Expires, 0, nil
		}
	}

	path, err := fs.pathFor(parent, name)
	if err != nil {
		return fuseops.InodeAttributes{}, time.Time{}, 0, errorkind.Posix("fs.GetInodeAttributes", errorkind.ENOENT, err)
	}
	res, err := fs.fetchAttr(ctx, path, noCache)
	if err != nil {
		return fuseops.InodeAttributes{}, time.Time{}, 0, err
	}

	candidate := inode.Genesis(name, parent, res.estaleCookie)
	if candidate != ino {
		return fs.handleEstaleMismatch(ctx, ino, parent, name, path, noCache, res)
	}

	if _, uerr := fs.inodes.UpdateValidator(ino, res.validator); uerr != nil && fs.log != nil {
		fs.log.Warnf("fs: %v", uerr)
	}
	fs.attrCache.Put(parent, name, attrcache.Entry{Attr: res.attr, Ino: ino, EstaleCookie: res.estaleCookie, Expires: res.expires})
	return res.attr, res.expires, res.validator, nil
}

// farFutureWindow is the attribute-expiration horizon handed back for
// special inodes, which never go stale on their own (spec.md §4.6).
const farFutureWindow = 10 * 365 * 24 * time.Hour

// refreshRootAttr fetches the mount root's attributes and enforces the
// root's estale-cookie exemption (spec.md §4.4): the root never goes
// through inode.Genesis, but its first observed cookie is stashed and
// compared on every subsequent refresh.
func (fs *FileSystem) refreshRootAttr(ctx context.Context, noCache bool) (fuseops.InodeAttributes, time.Time, uint64, error) {
	res, err := fs.fetchAttr(ctx, "/", noCache)
	if err != nil {
		return fuseops.InodeAttributes{}, time.Time{}, 0, err
	}

	fs.rootCookieMu.Lock()
	switch {
	case fs.rootCookie == 0:
		fs.rootCookie = res.estaleCookie
	case res.estaleCookie != 0 && res.estaleCookie != fs.rootCookie:
		fs.rootCookieMu.Unlock()
		if fs.stats != nil {
			fs.stats.EstaleMismatches.Add(1)
		}
		if !fs.ignoreEstaleMismatch {
			return fuseops.InodeAttributes{}, time.Time{}, 0, errorkind.Consistency("fs.GetInodeAttributes", fmt.Errorf("root estale cookie changed"))
		}
		fs.rootCookieMu.Lock()
		fs.rootCookie = res.estaleCookie
	}
	fs.rootCookieMu.Unlock()

	if _, uerr := fs.inodes.UpdateValidator(inode.RootInodeID, res.validator); uerr != nil && fs.log != nil {
		fs.log.Warnf("fs: %v", uerr)
	}
	return res.attr, res.expires, res.validator, nil
}

// handleEstaleMismatch implements spec.md §4.4's recovery sequence. When
// ignore_estale_mismatch (spec.md §6) is set, the mismatch is only counted:
// the already-fetched res is returned as-is and no further fetch is issued
// (cookie_mismatch's short-circuit). Otherwise one no_cache retry checks
// whether the mismatch was just a stale proxy-cache read; if it still
// mismatches, the kernel dentry is invalidated, a forced no_cache attribute
// fetch flushes any stale copy out of the disk/peer cache layers below (its
// result discarded, beflush's role), and the attribute cache entry is
// erased before failing with ESTALE.
func (fs *FileSystem) handleEstaleMismatch(ctx context.Context, ino fuseops.InodeID, parent fuseops.InodeID, name, path string, alreadyNoCache bool, res attrResult) (fuseops.InodeAttributes, time.Time, uint64, error) {
	if fs.stats != nil {
		fs.stats.EstaleMismatches.Add(1)
	}

	if fs.ignoreEstaleMismatch {
		return res.attr, res.expires, res.validator, nil
	}

	if !alreadyNoCache {
		retried, err := fs.fetchAttr(ctx, path, true)
		if err == nil {
			if inode.Genesis(name, parent, retried.estaleCookie) == ino {
				if fs.stats != nil {
					fs.stats.EstaleRecoveries.Add(1)
				}
				if _, uerr := fs.inodes.UpdateValidator(ino, retried.validator); uerr != nil && fs.log != nil {
					fs.log.Warnf("fs: %v", uerr)
				}
				fs.attrCache.Put(parent, name, attrcache.Entry{Attr: retried.attr, Ino: ino, EstaleCookie: retried.estaleCookie, Expires: retried.expires})
				return retried.attr, retried.expires, retried.validator, nil
			}
		}
	}

	if fs.invalidator != nil {
		if err := fs.invalidator.InvalidateEntry(parent, name); err != nil && fs.log != nil {
			fs.log.Warnf("fs: invalidate entry %q failed: %v", name, err)
		}
	}
	// Force a no-cache fetch purely to flush any stale copy sitting in the
	// disk/peer cache layers below; its result is discarded.
	if _, err := fs.fetchAttr(ctx, path, true); err != nil && fs.log != nil {
		fs.log.Warnf("fs: flush fetch for %q failed: %v", name, err)
	}
	fs.attrCache.Erase(parent, name)
	return fuseops.InodeAttributes{}, time.Time{}, 0, errorkind.Consistency("fs.GetInodeAttributes", fmt.Errorf("inode %d identity mismatch for %s", ino, name))
}

// scannerGetAttrFresh adapts refreshAttrByIno to the open-file scanner's
// GetAttrFresh callback shape (spec.md §4.3 step 2: "getattr with
// max_stale=0"), reporting a backend errno through RefreshResult rather
// than as a Go error so the scanner can distinguish a genuine fetch
// failure from a server-reported ENOENT.
func (fs *FileSystem) scannerGetAttrFresh(ino fuseops.InodeID) (openfile.RefreshResult, error) {
	_, expires, validator, err := fs.refreshAttrByIno(context.Background(), ino, true)
	if err != nil {
		if kerr, ok := errorkind.As(err); ok && kerr.Kind == errorkind.KindPosix {
			return openfile.RefreshResult{Errno: int32(kerr.Errno), Expires: fs.clk.Now()}, nil
		}
		return openfile.RefreshResult{}, err
	}
	return openfile.RefreshResult{Validator: validator, Expires: expires}, nil
}

// specialAttr synthesizes attributes for a special inode (spec.md §4.6).
func (fs *FileSystem) specialAttr(e *specialino.Entry) fuseops.InodeAttributes {
	content, _ := e.Generate()
	return fuseops.InodeAttributes{
		Size:  uint64(len(content)),
		Nlink: 1,
		Mode:  os.FileMode(e.Mode),
		Uid:   fs.uid,
		Gid:   fs.gid,
	}
}

// specialChildEntry is the LookUpInode-shaped counterpart of specialAttr.
func (fs *FileSystem) specialChildEntry(e *specialino.Entry) fuseops.ChildInodeEntry {
	expires := fs.clk.Now().Add(farFutureWindow)
	return fuseops.ChildInodeEntry{
		Child:                e.Inode,
		Attributes:           fs.specialAttr(e),
		AttributesExpiration: expires,
		EntryExpiration:      expires,
	}
}
