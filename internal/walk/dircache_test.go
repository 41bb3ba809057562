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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDircacheAdd(t *testing.T) {
	t.Parallel()

	c := newDircache(4)

	root := c.add(nil, "root")
	assert.Equal(t, "root/", root.name, "names get a trailing slash")
	assert.Equal(t, 0, root.depth)
	assert.Equal(t, 0, root.nameOff)
	assert.Equal(t, 1, root.refcount)
	assert.Equal(t, -1, root.fd)

	child := c.add(root, "sub/")
	assert.Equal(t, "sub/", child.name)
	assert.Equal(t, 1, child.depth)
	assert.Equal(t, len("root/"), child.nameOff)
	assert.Equal(t, 2, root.refcount, "children take a reference on the parent")

	c.decref(root)
	assert.Equal(t, 1, root.refcount)
}

func TestDircacheBase(t *testing.T) {
	t.Parallel()

	c := newDircache(4)
	root := c.add(nil, "a")
	mid := c.add(root, "b")
	leaf := c.add(mid, "c")

	t.Run("no open ancestor", func(t *testing.T) {
		base, fd, rel := c.base(leaf, "a/b/c")
		assert.Nil(t, base)
		assert.Equal(t, unix.AT_FDCWD, fd)
		assert.Equal(t, "a/b/c", rel)
	})

	t.Run("nearest open ancestor wins", func(t *testing.T) {
		root.fd = 42
		defer func() { root.fd = -1 }()

		base, fd, rel := c.base(leaf, "a/b/c")
		assert.Same(t, root, base)
		assert.Equal(t, 42, fd)
		assert.Equal(t, "b/c", rel)
	})
}

func TestDircacheOpenAndEvict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a/b"), 0o755))

	c := newDircache(1)

	root := c.add(nil, dir)
	stream, err := c.open(root, dir+"/")
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.GreaterOrEqual(t, root.fd, 0, "fd stays cached after the stream closes")
	assert.Len(t, c.heap, 1)

	// Opening a second directory with capacity 1 evicts the root.
	a := c.add(root, "a")
	stream, err = c.open(a, dir+"/a/")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, -1, root.fd, "root evicted under pressure")
	assert.GreaterOrEqual(t, a.fd, 0)
	assert.Len(t, c.heap, 1)

	c.free(a)
	assert.Equal(t, -1, a.fd)
	assert.Empty(t, c.heap)
}

func TestDircacheHeapOrder(t *testing.T) {
	t.Parallel()

	// Deeper entries with fewer references sort first, so they are the
	// first closed under descriptor pressure.
	shallow := &cacheEntry{depth: 1, refcount: 1, fd: 1}
	deep := &cacheEntry{depth: 3, refcount: 5, fd: 1}
	assert.True(t, heapOrdered(deep, shallow))
	assert.False(t, heapOrdered(shallow, deep))

	few := &cacheEntry{depth: 2, refcount: 1, fd: 1}
	many := &cacheEntry{depth: 2, refcount: 9, fd: 1}
	assert.True(t, heapOrdered(few, many))
	assert.False(t, heapOrdered(many, few))
}

func TestDirqueue(t *testing.T) {
	t.Parallel()

	t.Run("fifo", func(t *testing.T) {
		t.Parallel()
		q := newDirqueue()

		a := &cacheEntry{}
		b := &cacheEntry{}
		q.push(a)
		q.push(b)

		assert.Same(t, a, q.pop())
		assert.Same(t, b, q.pop())
		assert.Nil(t, q.pop())
	})

	t.Run("grows past initial capacity", func(t *testing.T) {
		t.Parallel()
		q := newDirqueue()

		entries := make([]*cacheEntry, 3*dirqueueMinCap)
		for i := range entries {
			entries[i] = &cacheEntry{depth: i}
			q.push(entries[i])
		}

		for i := range entries {
			assert.Same(t, entries[i], q.pop(), "index %d", i)
		}
		assert.Nil(t, q.pop())
	})

	t.Run("wraps around", func(t *testing.T) {
		t.Parallel()
		q := newDirqueue()

		// Force head past zero, then wrap the tail.
		for i := 0; i < dirqueueMinCap/2; i++ {
			q.push(&cacheEntry{})
		}
		for i := 0; i < dirqueueMinCap/2; i++ {
			require.NotNil(t, q.pop())
		}

		entries := make([]*cacheEntry, dirqueueMinCap)
		for i := range entries {
			entries[i] = &cacheEntry{depth: i}
			q.push(entries[i])
		}
		for i := range entries {
			assert.Same(t, entries[i], q.pop())
		}
	})
}
