// Copyright 2026 bfind Authors
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

// Package walk implements a breadth-first file-tree walk.
//
// The walk avoids re-traversal by opening directories relative to cached
// ancestor descriptors.  Since the number of open file descriptors is
// limited, the dircache keeps a priority heap of open entries ordered by
// depth and reference count, so the most useful ancestors stay open.  The
// dirqueue is a plain FIFO of directories left to explore, which is what
// makes the traversal breadth-first.
package walk

import (
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Visit tells the callback whether a directory is being entered or left.
type Visit int

const (
	VisitPre Visit = iota
	VisitPost
)

// Action is the callback's verdict on the current file.
type Action int

const (
	// Continue proceeds to the next entry.
	Continue Action = iota
	// SkipSiblings skips the remaining entries of the current directory.
	SkipSiblings
	// SkipSubtree does not descend into the current entry.
	SkipSubtree
	// Stop terminates the walk cleanly.
	Stop
)

// Flags control the traversal.
type Flags int

const (
	// FollowRoots resolves symlinks for root paths only (-H).
	FollowRoots Flags = 1 << iota
	// FollowAll resolves every symlink (-L).
	FollowAll
	// Depth enables post-order visits of directories.
	Depth
	// StatAll stats every file unconditionally.
	StatAll
	// XDev keeps the walk on the starting filesystem.
	XDev
	// DetectCycles checks directories against their ancestor chain.
	DetectCycles
	// Recover reports per-directory errors through the callback instead
	// of aborting the walk.
	Recover
)

// File is the metadata record passed to the callback.  It is only valid for
// the duration of the call; callbacks must not retain it.
type File struct {
	// Path is the file's path as seen from the walk root.
	Path string
	// Root is the start path this file was found under.
	Root string
	// NameOff is the offset of the basename within Path.
	NameOff int
	// Depth is 0 for a root, +1 per descent.
	Depth int
	// Type is the file's kind, or TypeError when Err is set.
	Type Type
	// Visit distinguishes pre-order from post-order callbacks.
	Visit Visit
	// Err is the traversal error that produced a TypeError record.
	Err error

	// AnchorFD and RelPath locate the file for the *at() syscall family.
	// AnchorFD is unix.AT_FDCWD when no ancestor descriptor is cached.
	AnchorFD int
	RelPath  string
	// AtFlags is 0 or unix.AT_SYMLINK_NOFOLLOW, depending on the follow
	// policy in effect at this depth.
	AtFlags int

	statBuf *unix.Stat_t
}

// Name returns the basename of the file.
func (f *File) Name() string {
	return f.Path[f.NameOff:]
}

// StatBuf returns the cached stat result, or nil if the file has not been
// stat'd yet.
func (f *File) StatBuf() *unix.Stat_t {
	return f.statBuf
}

// Stat returns the file's stat result, performing the syscall on first use.
// The result honors AtFlags, so symlinks are followed exactly when the walk
// would follow them.
func (f *File) Stat() (*unix.Stat_t, error) {
	if f.statBuf != nil {
		return f.statBuf, nil
	}

	var st unix.Stat_t
	if err := fstatat(f.AnchorFD, f.RelPath, &st, f.AtFlags); err != nil {
		return nil, err
	}
	f.statBuf = &st
	f.Type = ModeType(uint32(st.Mode))
	return f.statBuf, nil
}

// VisitFunc is invoked once per visited path (twice for directories when
// Depth is set).  Returning a non-nil error aborts the walk.
type VisitFunc func(f *File) (Action, error)

type status int

const (
	// statusCurrent: the path buffer holds the current entry.
	statusCurrent status = iota
	// statusChild: the path buffer holds a child of the current entry.
	statusChild
	// statusGC: entries are being garbage collected (post-order).
	statusGC
)

type walker struct {
	fn    VisitFunc
	flags Flags

	// err is the first fatal error, preserved across unwinding.
	err error

	cache   *dircache
	queue   *dirqueue
	current *cacheEntry
	last    *cacheEntry
	stream  *dirStream
	status  status

	root string
	path []byte

	file    File
	statbuf unix.Stat_t
}

// Walk breadth-first traverses the tree rooted at root, invoking fn on every
// file.  nOpenFD bounds the number of directory descriptors the walk may
// keep open.
func Walk(root string, fn VisitFunc, nOpenFD int, flags Flags) error {
	if nOpenFD < 2 {
		return syscall.EMFILE
	}

	w := &walker{
		fn:    fn,
		flags: flags,
		// -1 to account for the dup()'d reading descriptor
		cache: newDircache(nOpenFD - 1),
		queue: newDirqueue(),
		root:  root,
	}
	defer w.teardown()

	return w.run()
}

func (w *walker) run() error {
	// Handle the root itself first.
	w.pathConcat(w.root)
	w.initBuffers(false, TypeUnknown)

	act, err := w.handlePath()
	if err != nil {
		return w.err
	}
	switch act {
	case SkipSubtree, Stop:
		return w.err
	}

	if w.file.Type != TypeDir {
		return w.err
	}

	// Now start the breadth-first search.
	w.current = w.add(w.root)

	for w.current != nil {
		w.buildPath()

		var derr error
		stream, oerr := w.cache.open(w.current, string(w.path))
		if oerr != nil {
			derr = oerr
		} else {
			w.stream = stream
			out, rerr := w.readEntries()
			if out != keepGoing {
				return w.err
			}
			derr = rerr
			if derr == nil {
				derr = w.closedir()
			}
		}

		if derr != nil {
			w.closedir()
			w.pathTrim()
			w.initBuffers(false, TypeUnknown)
			w.setError(derr)

			act, err := w.handlePath()
			if err != nil {
				return w.err
			}
			if act == Stop {
				return w.err
			}
		}

		act, err := w.pop(true)
		if err != nil {
			return w.err
		}
		if act == Stop {
			return w.err
		}
	}

	return w.err
}

type walkOutcome int

const (
	// keepGoing: the directory was read (or skipped); proceed to GC.
	keepGoing walkOutcome = iota
	// stopWalk: the callback asked for clean termination.
	stopWalk
	// failWalk: a fatal error was recorded in w.err.
	failWalk
)

// readEntries expands the current directory.  A non-nil error return is a
// per-directory readdir error to be routed through the recovery path.
func (w *walker) readEntries() (walkOutcome, error) {
	for {
		name, typ, ok, rerr := w.stream.next()
		if rerr != nil {
			return keepGoing, rerr
		}
		if !ok {
			return keepGoing, nil
		}

		if name == "." || name == ".." {
			continue
		}

		w.pathConcat(name)
		w.initBuffers(true, typ)

		act, err := w.handlePath()
		if err != nil {
			return failWalk, nil
		}
		switch act {
		case SkipSiblings:
			return keepGoing, nil
		case SkipSubtree:
			continue
		case Stop:
			return stopWalk, nil
		}

		if w.file.Type == TypeDir {
			if w.flags&XDev != 0 && w.file.statBuf != nil && w.file.statBuf.Dev != w.current.dev {
				continue
			}
			w.push(name)
		}
	}
}

func (w *walker) teardown() {
	w.closedir()
	for w.current != nil {
		w.pop(false)
	}
}

// buildPath recomputes the path buffer up to the current entry, reusing the
// prefix shared with the previously built path.
func (w *walker) buildPath() {
	e := w.current
	pathlen := e.nameOff + len(e.name)
	w.path = resize(w.path, pathlen)

	// Only rebuild the part of the path that changes.
	last := w.last
	for last != nil && last.depth > e.depth {
		last = last.parent
	}

	// Build the path backwards.
	for e != last {
		copy(w.path[e.nameOff:], e.name)
		if last != nil && last.depth == e.depth {
			last = last.parent
		}
		e = e.parent
	}

	w.last = w.current
}

// pathConcat appends a subpath to the current directory's path.
func (w *walker) pathConcat(sub string) {
	nameOff := 0
	if w.current != nil {
		nameOff = w.current.nameOff + len(w.current.name)
	}

	w.status = statusChild
	w.path = append(w.path[:nameOff], sub...)
}

// pathTrim cuts the path buffer back to the current entry.
func (w *walker) pathTrim() {
	cur := w.current

	var length int
	if cur.depth == 0 {
		// Use exactly the string passed to Walk, including any
		// trailing slashes.
		length = len(w.root)
	} else {
		length = cur.nameOff + len(cur.name)
		if len(cur.name) > 1 {
			// Trim the trailing slash.
			length--
			w.last = cur.parent
		}
	}
	w.path = w.path[:length]

	if w.status == statusChild {
		w.status = statusCurrent
	}
}

func (w *walker) closedir() error {
	s := w.stream
	w.stream = nil
	if s != nil {
		return s.Close()
	}
	return nil
}

// setError turns the current record into an error record.
func (w *walker) setError(err error) {
	w.file.Err = err
	w.file.Type = TypeError

	if w.flags&Recover == 0 && w.err == nil {
		w.err = err
	}
}

// initBuffers fills the metadata record for the current path.  haveDirent
// tells whether typ came from the directory stream.
func (w *walker) initBuffers(haveDirent bool, typ Type) {
	f := &w.file
	f.Path = string(w.path)
	f.Root = w.root
	f.Err = nil
	if w.status == statusGC {
		f.Visit = VisitPost
	} else {
		f.Visit = VisitPre
	}
	f.statBuf = nil
	f.AnchorFD = unix.AT_FDCWD
	relStart := 0

	cur := w.current
	if cur != nil {
		f.NameOff = cur.nameOff
		f.Depth = cur.depth

		if w.status == statusChild {
			f.NameOff += len(cur.name)
			f.Depth++

			f.AnchorFD = cur.fd
			relStart = f.NameOff
		} else {
			_, fd, rel := w.cache.base(cur, f.Path)
			f.AnchorFD = fd
			relStart = len(f.Path) - len(rel)
		}
	} else {
		f.Depth = 0
	}

	if f.Depth == 0 {
		// Compute the name offset for root paths like "foo/bar".
		f.NameOff = basenameOff(f.Path)
	}
	f.RelPath = f.Path[relStart:]

	f.Type = TypeUnknown
	if haveDirent {
		f.Type = typ
	} else if w.status != statusChild {
		f.Type = TypeDir
	}

	follow := w.flags&FollowAll != 0 || (f.Depth == 0 && w.flags&FollowRoots != 0)
	if follow {
		f.AtFlags = 0
	} else {
		f.AtFlags = unix.AT_SYMLINK_NOFOLLOW
	}

	detectCycles := w.flags&DetectCycles != 0 && w.status == statusChild
	xdev := w.flags&XDev != 0

	if w.flags&StatAll != 0 ||
		f.Type == TypeUnknown ||
		(f.Type == TypeLink && follow) ||
		(f.Type == TypeDir && (detectCycles || xdev)) {
		err := w.statCurrent(f)
		if err == syscall.ENOENT && follow {
			// Could be a broken symlink, retry without following.
			f.AtFlags = unix.AT_SYMLINK_NOFOLLOW
			err = w.statCurrent(f)
		}
		if err != nil {
			w.setError(err)
			return
		}

		if f.Type == TypeDir && detectCycles {
			dev, ino := f.statBuf.Dev, f.statBuf.Ino
			for e := cur; e != nil; e = e.parent {
				if dev == e.dev && ino == e.ino {
					w.setError(syscall.ELOOP)
					return
				}
			}
		}
	}
}

// statCurrent stats into the walker-owned buffer, shared by every record.
func (w *walker) statCurrent(f *File) error {
	if err := fstatat(f.AnchorFD, f.RelPath, &w.statbuf, f.AtFlags); err != nil {
		return err
	}
	f.statBuf = &w.statbuf
	f.Type = ModeType(uint32(w.statbuf.Mode))
	return nil
}

// handlePath invokes the callback on the current record.
func (w *walker) handlePath() (Action, error) {
	// Never give the callback an error record unless Recover is set.
	if w.file.Type == TypeError && w.flags&Recover == 0 {
		return Stop, w.err
	}

	act, err := w.fn(&w.file)
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		return Stop, err
	}

	switch act {
	case Continue, SkipSiblings, SkipSubtree, Stop:
		return act, nil
	default:
		if w.err == nil {
			w.err = syscall.EINVAL
		}
		return Stop, syscall.EINVAL
	}
}

// add creates a cache entry under the current one, seeding its cycle
// fingerprint from the record's stat result when available.
func (w *walker) add(name string) *cacheEntry {
	e := w.cache.add(w.current, name)
	if sb := w.file.statBuf; sb != nil {
		e.dev, e.ino = sb.Dev, sb.Ino
	}
	return e
}

// push enqueues a child directory for later expansion.
func (w *walker) push(name string) {
	w.queue.push(w.add(name))
}

// gc walks up the parent chain releasing references.  Ancestors whose count
// reaches zero fire their post-order callback (when enabled) and are freed.
func (w *walker) gc(entry *cacheEntry, invoke bool) (Action, error) {
	ret := Continue
	var retErr error

	if w.flags&Depth == 0 {
		invoke = false
	}

	if entry != nil && invoke {
		w.buildPath()
	}

	w.status = statusGC

	for entry != nil {
		w.cache.decref(entry)
		if entry.refcount > 0 {
			w.last = entry
			break
		}

		if invoke {
			w.current = entry
			w.pathTrim()
			w.initBuffers(false, TypeUnknown)

			act, err := w.handlePath()
			switch {
			case err != nil:
				ret, retErr = Stop, err
				invoke = false
			case act == Stop:
				ret = Stop
				invoke = false
			}
		}

		parent := entry.parent
		w.cache.free(entry)
		entry = parent
	}

	return ret, retErr
}

// pop garbage-collects the current chain and takes the next directory off
// the frontier.
func (w *walker) pop(invoke bool) (Action, error) {
	act, err := w.gc(w.current, invoke)
	w.current = w.queue.pop()
	w.status = statusCurrent
	return act, err
}

func resize(buf []byte, n int) []byte {
	if n <= cap(buf) {
		return buf[:n]
	}
	grown := make([]byte, n, 2*n)
	copy(grown, buf)
	return grown
}

func basenameOff(path string) int {
	return strings.LastIndexByte(path, '/') + 1
}

func fstatat(fd int, path string, st *unix.Stat_t, flags int) error {
	for {
		err := unix.Fstatat(fd, path, st, flags)
		if err == syscall.EINTR {
			continue
		}
		return err
	}
}
