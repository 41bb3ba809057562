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

package walk

import (
	"math"
	"syscall"

	"golang.org/x/sys/unix"
)

// A cacheEntry tracks one directory encountered during the walk.  Entries
// form a tree via non-owning parent links; refcount reaches zero only once
// every descendant has been garbage collected.
type cacheEntry struct {
	parent *cacheEntry

	depth    int
	refcount int

	// heapIdx is the entry's position in the cache heap, valid while
	// fd >= 0.
	heapIdx int
	// fd is an open directory descriptor, or -1.
	fd int

	// dev and ino identify the directory for cycle detection.  They stay
	// at the sentinel value until the directory is first stat'd.
	dev uint64
	ino uint64

	// nameOff is the offset of name within the full path.  name always
	// ends with a slash so path segments concatenate directly.
	nameOff int
	name    string
}

const noIdent = math.MaxUint64

// dircache keeps a bounded set of open directory descriptors, ordered so
// that the entry closed first under pressure is the deepest one with the
// fewest live references.
type dircache struct {
	// heap is a min-heap of open entries: depth descending, then
	// refcount ascending.
	heap     []*cacheEntry
	capacity int
}

func newDircache(capacity int) *dircache {
	return &dircache{
		heap:     make([]*cacheEntry, 0, capacity),
		capacity: capacity,
	}
}

// heapOrdered reports whether parent may stay above child in the heap.
func heapOrdered(parent, child *cacheEntry) bool {
	if parent.depth != child.depth {
		return parent.depth > child.depth
	}
	return parent.refcount <= child.refcount
}

func (c *dircache) heapMove(e *cacheEntry, i int) {
	c.heap[i] = e
	e.heapIdx = i
}

func (c *dircache) bubbleUp(e *cacheEntry) {
	i := e.heapIdx
	for i > 0 {
		pi := (i - 1) / 2
		parent := c.heap[pi]
		if heapOrdered(parent, e) {
			break
		}
		c.heapMove(parent, i)
		i = pi
	}
	c.heapMove(e, i)
}

func (c *dircache) bubbleDown(e *cacheEntry) {
	i := e.heapIdx
	for {
		ci := 2*i + 1
		if ci >= len(c.heap) {
			break
		}
		child := c.heap[ci]

		if ri := ci + 1; ri < len(c.heap) {
			if right := c.heap[ri]; !heapOrdered(child, right) {
				ci = ri
				child = right
			}
		}

		if heapOrdered(e, child) {
			break
		}
		c.heapMove(child, i)
		i = ci
	}
	c.heapMove(e, i)
}

func (c *dircache) incref(e *cacheEntry) {
	e.refcount++
	if e.fd >= 0 {
		c.bubbleDown(e)
	}
}

func (c *dircache) decref(e *cacheEntry) {
	e.refcount--
	if e.fd >= 0 {
		c.bubbleUp(e)
	}
}

// push places a freshly opened entry on the heap.
func (c *dircache) push(e *cacheEntry) {
	e.heapIdx = len(c.heap)
	c.heap = append(c.heap, e)
	c.bubbleUp(e)
}

// pop closes an entry's descriptor and removes it from the heap.
func (c *dircache) pop(e *cacheEntry) {
	unix.Close(e.fd)
	e.fd = -1

	last := len(c.heap) - 1
	i := e.heapIdx
	e.heapIdx = -1

	end := c.heap[last]
	c.heap = c.heap[:last]
	if i != last {
		c.heapMove(end, i)
		c.bubbleDown(end)
	}
}

// add allocates an entry for name under parent, taking a reference on the
// parent.  A trailing slash is appended to the stored name if missing.
func (c *dircache) add(parent *cacheEntry, name string) *cacheEntry {
	if name == "" || name[len(name)-1] != '/' {
		name += "/"
	}

	e := &cacheEntry{
		parent:  parent,
		fd:      -1,
		dev:     noIdent,
		ino:     noIdent,
		heapIdx: -1,
		name:    name,
	}

	if parent != nil {
		e.depth = parent.depth + 1
		e.nameOff = parent.nameOff + len(parent.name)
		c.incref(parent)
	}

	e.refcount = 1
	return e
}

// base finds the nearest ancestor of e with an open descriptor.  It returns
// that ancestor along with the (fd, path) pair to use with the *at() family
// of syscalls; with no open ancestor the pair is (AT_FDCWD, fullPath).
func (c *dircache) base(e *cacheEntry, fullPath string) (*cacheEntry, int, string) {
	b := e.parent
	for b != nil && b.fd < 0 {
		b = b.parent
	}

	if b == nil {
		return nil, unix.AT_FDCWD, fullPath
	}
	return b, b.fd, fullPath[b.nameOff+len(b.name):]
}

// shouldRetry handles EMFILE by evicting one entry (never save) and
// shrinking the cache capacity.  It reports whether the caller should retry
// the failed operation.
func (c *dircache) shouldRetry(err error, save *cacheEntry) bool {
	if err != syscall.EMFILE || len(c.heap) <= 1 {
		return false
	}

	// Too many open files, shrink the cache
	victim := c.heap[0]
	if victim == save {
		victim = c.heap[1]
	}
	c.pop(victim)
	c.capacity = len(c.heap)
	return true
}

// open opens e's directory and returns a stream over its entries.  The
// descriptor is duplicated for the stream so the cached fd survives the
// stream's close and keeps serving relative opens.
func (c *dircache) open(e *cacheEntry, fullPath string) (*dirStream, error) {
	if len(c.heap) == c.capacity {
		c.pop(c.heap[0])
	}

	base, atFD, atPath := c.base(e, fullPath)

	fd, err := openatDir(atFD, atPath)
	if err != nil && c.shouldRetry(err, base) {
		fd, err = openatDir(atFD, atPath)
	}
	if err != nil {
		return nil, err
	}

	e.fd = fd
	c.push(e)

	dup, err := dupCloexec(e.fd)
	if err != nil && c.shouldRetry(err, e) {
		dup, err = dupCloexec(e.fd)
	}
	if err != nil {
		return nil, err
	}

	return newDirStream(dup), nil
}

// free releases an entry whose refcount has dropped to zero.
func (c *dircache) free(e *cacheEntry) {
	if e.fd >= 0 {
		c.pop(e)
	}
}

func openatDir(atFD int, path string) (int, error) {
	for {
		fd, err := unix.Openat(atFD, path, unix.O_RDONLY|unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
		if err == syscall.EINTR {
			continue
		}
		return fd, err
	}
}

func dupCloexec(fd int) (int, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(dup)
	return dup, nil
}
