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

package expr

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"bfind/internal/walk"
)

// matches reports which paths under root satisfy the test expression.
func matches(t *testing.T, root string, test *Expr, flags walk.Flags) []string {
	t.Helper()

	qb := newQueryBuilder(root)
	qb.q.Flags = flags
	e := qb.b.And(test, NewPrintAction(nil, "-print"))

	out, _ := qb.run(t, e)

	var rels []string
	for _, line := range lines(out) {
		rel, err := filepath.Rel(root, line)
		require.NoError(t, err)
		rels = append(rels, rel)
	}
	return rels
}

func TestEvalPerm(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "rw"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "rwx"), nil, 0o755))

	t.Run("exact", func(t *testing.T) {
		t.Parallel()
		got := matches(t, root, NewPermTest(ModeExact, 0o644, 0o644, "-perm", "644"), 0)
		assert.Equal(t, []string{"rw"}, got)
	})

	t.Run("all bits", func(t *testing.T) {
		t.Parallel()
		got := matches(t, root, NewPermTest(ModeAll, 0o100, 0o100, "-perm", "-u+x"), 0)
		assert.Contains(t, got, "rwx")
		assert.Contains(t, got, ".", "the root directory is executable")
		assert.NotContains(t, got, "rw")
	})

	t.Run("any bits", func(t *testing.T) {
		t.Parallel()
		got := matches(t, root, NewPermTest(ModeAny, 0o111, 0o111, "-perm", "/a+x"), 0)
		assert.Contains(t, got, "rwx")
		assert.NotContains(t, got, "rw")
	})
}

func TestEvalOwnership(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))

	uid := int64(os.Getuid())
	gid := int64(os.Getgid())

	assert.Len(t, matches(t, root, NewCmpTest(TestUID, CmpExact, uid, "-uid"), 0), 2)
	assert.Len(t, matches(t, root, NewCmpTest(TestGID, CmpExact, gid, "-gid"), 0), 2)
	assert.Empty(t, matches(t, root, NewCmpTest(TestUID, CmpGreater, uid, "-uid"), 0))
}

func TestEvalSamefile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	target := filepath.Join(root, "target")
	require.NoError(t, os.WriteFile(target, nil, 0o644))
	require.NoError(t, os.Link(target, filepath.Join(root, "hardlink")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "other"), nil, 0o644))

	var st unix.Stat_t
	require.NoError(t, unix.Stat(target, &st))

	got := matches(t, root, NewSamefileTest(st.Dev, st.Ino, "-samefile", "target"), 0)
	assert.ElementsMatch(t, []string{"target", "hardlink"}, got)
}

func TestEvalTime(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "new"), nil, 0o644))

	var now unix.Timespec
	require.NoError(t, unix.ClockGettime(unix.CLOCK_REALTIME, &now))

	t.Run("recent file modified within a minute", func(t *testing.T) {
		t.Parallel()
		// -mmin -1
		test := NewTimeTest(walk.TimeModify, Minutes, CmpLess, 1, now, "-mmin", "-1")
		got := matches(t, root, test, 0)
		assert.Contains(t, got, "new")
	})

	t.Run("nothing modified days ago", func(t *testing.T) {
		t.Parallel()
		// -mtime +1
		test := NewTimeTest(walk.TimeModify, Days, CmpGreater, 1, now, "-mtime", "+1")
		assert.Empty(t, matches(t, root, test, 0))
	})

	t.Run("newer than an old reference", func(t *testing.T) {
		t.Parallel()
		old := unix.Timespec{Sec: 1000000}
		test := NewNewerTest(walk.TimeModify, old, "-newer", "epoch")
		got := matches(t, root, test, 0)
		assert.Contains(t, got, "new")
	})
}

func TestEvalRegexAnchoring(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "abc"), nil, 0o644))

	t.Run("partial match is not enough", func(t *testing.T) {
		t.Parallel()
		re := regexp.MustCompile(`abc`)
		assert.Empty(t, matches(t, root, NewRegexTest(re, "-regex", "abc"), 0))
	})

	t.Run("whole-path match", func(t *testing.T) {
		t.Parallel()
		re := regexp.MustCompile(`.*abc`)
		got := matches(t, root, NewRegexTest(re, "-regex", ".*abc"), 0)
		assert.Equal(t, []string{"abc"}, got)
	})
}

func TestEvalLname(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "target.txt"), nil, 0o644))
	require.NoError(t, os.Symlink("target.txt", filepath.Join(root, "link")))

	got := matches(t, root, NewFnmatchTest(TestLname, "*.txt", 0, "-lname", "*.txt"), 0)
	assert.Equal(t, []string{"link"}, got)
}

func TestEvalXType(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), nil, 0o644))
	require.NoError(t, os.Symlink("file", filepath.Join(root, "link")))

	t.Run("without follow, xtype sees the target", func(t *testing.T) {
		t.Parallel()
		got := matches(t, root, NewTypeTest(TestXType, walk.TypeRegular, "-xtype", "f"), 0)
		assert.ElementsMatch(t, []string{"file", "link"}, got)
	})

	t.Run("with follow, xtype sees the link", func(t *testing.T) {
		t.Parallel()
		got := matches(t, root, NewTypeTest(TestXType, walk.TypeLink, "-xtype", "l"),
			walk.FollowAll)
		assert.Equal(t, []string{"link"}, got)
	})
}

func TestEvalAccess(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))

	got := matches(t, root, NewAccessTest(int64(unix.R_OK), "-readable"), 0)
	assert.Contains(t, got, "f")
}

func TestEvalPrint0(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))

	qb := newQueryBuilder(root)
	out, code := qb.run(t, NewPrint0Action(nil, "-print0"))
	assert.Equal(t, 0, code)

	parts := strings.Split(out, "\x00")
	require.Len(t, parts, 3, "two paths, each NUL-terminated")
	assert.Equal(t, root, parts[0])
	assert.Equal(t, filepath.Join(root, "f"), parts[1])
	assert.Empty(t, parts[2])
}

func TestEvalLs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("hello"), 0o644))

	var now unix.Timespec
	require.NoError(t, unix.ClockGettime(unix.CLOCK_REALTIME, &now))

	qb := newQueryBuilder(filepath.Join(root, "f"))
	out, code := qb.run(t, NewLsAction(nil, now, "-ls"))
	assert.Equal(t, 0, code)

	assert.Regexp(t, `^\s*\d+\s+\d+ -rw-r--r--\s+1 `, out)
	assert.Contains(t, out, " 5 ")
	assert.Contains(t, out, filepath.Join(root, "f"))
}

func TestEvalDepthTest(t *testing.T) {
	t.Parallel()

	root := buildTree(t, "a/b/c")

	got := matches(t, root, NewCmpTest(TestDepth, CmpExact, 1, "-depth", "1"), 0)
	assert.Equal(t, []string{"a"}, got)
}

func TestEvalQuitShortCircuitsOperators(t *testing.T) {
	t.Parallel()

	root := buildTree(t, "a", "b")
	qb := newQueryBuilder(root)

	// (-quit , -print): the comma must not evaluate -print once quit is
	// set.
	e := qb.b.Comma(
		NewAction(ActionQuit, "-quit"),
		NewPrintAction(nil, "-print"),
	)

	out, code := qb.run(t, e)
	assert.Equal(t, 0, code)
	assert.Empty(t, lines(out))
}
