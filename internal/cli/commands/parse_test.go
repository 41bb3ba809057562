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

package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfind/internal/config"
	"bfind/internal/expr"
	"bfind/internal/walk"
)

func parseArgs(t *testing.T, args ...string) *expr.Query {
	t.Helper()
	q, err := Parse(args, nil)
	require.NoError(t, err)
	return q
}

func TestParseRoots(t *testing.T) {
	t.Parallel()

	t.Run("defaults to dot", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t)
		assert.Equal(t, []string{"."}, q.Roots)
	})

	t.Run("collects leading paths", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "/tmp", "/var", "-type", "d")
		assert.Equal(t, []string{"/tmp", "/var"}, q.Roots)
	})

	t.Run("paths may interleave with the expression", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "/tmp", "-type", "d", "/var")
		assert.Equal(t, []string{"/tmp", "/var"}, q.Roots)
	})

	t.Run("forced root via -f", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-f", "-weird-name")
		assert.Equal(t, []string{"-weird-name"}, q.Roots)
	})
}

func TestParseImplicitPrint(t *testing.T) {
	t.Parallel()

	t.Run("added when no action", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-type", "f")

		require.Equal(t, expr.OpAnd, q.Expr.Kind())
		assert.Equal(t, expr.TestType, q.Expr.Lhs().Kind())
		assert.Equal(t, expr.ActionPrint, q.Expr.Rhs().Kind())
	})

	t.Run("bare print stays a single action", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-print")
		assert.Equal(t, expr.ActionPrint, q.Expr.Kind())
	})

	t.Run("not duplicated around explicit print", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "(", "-name", "a", "-or", "-name", "b", ")", "-and", "-print")

		// One print node, guarded by the disjunction.
		require.Equal(t, expr.OpAnd, q.Expr.Kind())
		assert.Equal(t, expr.OpOr, q.Expr.Lhs().Kind())
		assert.Equal(t, expr.ActionPrint, q.Expr.Rhs().Kind())
	})

	t.Run("empty expression becomes plain print", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "/tmp")
		assert.Equal(t, expr.ActionPrint, q.Expr.Kind())
	})
}

func TestParseOperators(t *testing.T) {
	t.Parallel()

	t.Run("or binds looser than and", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-name", "a", "-o", "-name", "b", "-print")

		require.Equal(t, expr.OpOr, q.Expr.Kind())
		assert.Equal(t, expr.TestName, q.Expr.Lhs().Kind())
		assert.Equal(t, expr.OpAnd, q.Expr.Rhs().Kind())
	})

	t.Run("negation", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "!", "-hidden", "-print")

		require.Equal(t, expr.OpAnd, q.Expr.Kind())
		assert.Equal(t, expr.OpNot, q.Expr.Lhs().Kind())
	})

	t.Run("comma", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-print", ",", "-print0")
		assert.Equal(t, expr.OpComma, q.Expr.Kind())
	})

	t.Run("unbalanced paren", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]string{"(", "-print"}, nil)
		assert.Error(t, err)
	})

	t.Run("trailing operator", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]string{"-print", "-a"}, nil)
		assert.Error(t, err)
	})
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	t.Run("follow modes", func(t *testing.T) {
		t.Parallel()

		q := parseArgs(t, "-H")
		assert.Equal(t, walk.FollowRoots, q.Flags&walk.FollowRoots)

		q = parseArgs(t, "-L")
		assert.NotZero(t, q.Flags&walk.FollowAll)
		assert.NotZero(t, q.Flags&walk.DetectCycles)

		// -P resets an earlier -L.
		q = parseArgs(t, "-L", "-P")
		assert.Zero(t, q.Flags&(walk.FollowAll|walk.FollowRoots|walk.DetectCycles))
	})

	t.Run("depth flag", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-depth")
		assert.NotZero(t, q.Flags&walk.Depth)
	})

	t.Run("depth with argument is a test", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-depth", "+2")
		assert.Zero(t, q.Flags&walk.Depth)
		require.Equal(t, expr.OpAnd, q.Expr.Kind())
		assert.Equal(t, expr.TestDepth, q.Expr.Lhs().Kind())
	})

	t.Run("depth limits", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-mindepth", "1", "-maxdepth", "3")
		assert.Equal(t, 1, q.MinDepth)
		assert.Equal(t, 3, q.MaxDepth)
	})

	t.Run("xdev", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-xdev")
		assert.NotZero(t, q.Flags&walk.XDev)
	})

	t.Run("ignore readdir races", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-ignore_readdir_race")
		assert.True(t, q.IgnoreRaces)

		q = parseArgs(t, "-ignore_readdir_race", "-noignore_readdir_race")
		assert.False(t, q.IgnoreRaces)
	})

	t.Run("optimization levels", func(t *testing.T) {
		t.Parallel()

		q := parseArgs(t, "-O0")
		assert.Equal(t, 0, q.OptLevel)

		q = parseArgs(t, "-O2")
		assert.Equal(t, 2, q.OptLevel)

		q = parseArgs(t, "-Ofast")
		assert.Equal(t, 4, q.OptLevel)

		_, err := Parse([]string{"-Onope"}, nil)
		assert.Error(t, err)
	})

	t.Run("delete implies depth", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-delete")
		assert.NotZero(t, q.Flags&walk.Depth)
		assert.Equal(t, expr.ActionDelete, q.Expr.Kind())
	})
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for name, args := range map[string][]string{
		"unknown predicate": {"-frobnicate"},
		"missing value":     {"-name"},
		"bad type letter":   {"-type", "x"},
		"uncombined types":  {"-type", "fd"},
		"bad size unit":     {"-size", "10q"},
		"bad size integer":  {"-size", "lots"},
		"bad perm":          {"-perm", "u~w"},
		"bad regex":         {"-regex", "("},
		"missing exec term": {"-exec", "echo", "{}"},
		"negative maxdepth": {"-maxdepth", "-1"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(args, nil)
			assert.Error(t, err, "args %v", args)
		})
	}
}

func TestParseHelpVersion(t *testing.T) {
	t.Parallel()

	_, err := Parse([]string{"-help"}, nil)
	assert.ErrorIs(t, err, ErrHelp)

	_, err = Parse([]string{"--help"}, nil)
	assert.ErrorIs(t, err, ErrHelp)

	_, err = Parse([]string{"-version"}, nil)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestParseTypeMask(t *testing.T) {
	t.Parallel()

	q := parseArgs(t, "-type", "f,d", "-print")
	require.Equal(t, expr.OpAnd, q.Expr.Kind())
	assert.Equal(t, expr.TestType, q.Expr.Lhs().Kind())
}

func TestParseExec(t *testing.T) {
	t.Parallel()

	t.Run("per-file", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-exec", "echo", "{}", ";")
		assert.Equal(t, expr.ActionExec, q.Expr.Kind(), "exec suppresses the implicit print")
	})

	t.Run("batched", func(t *testing.T) {
		t.Parallel()
		q := parseArgs(t, "-exec", "echo", "{}", "+")
		assert.Equal(t, expr.ActionExec, q.Expr.Kind())
	})

	t.Run("plus without braces is not a terminator", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]string{"-exec", "echo", "+"}, nil)
		assert.Error(t, err)
	})
}

func TestParseNewer(t *testing.T) {
	t.Parallel()

	ref := filepath.Join(t.TempDir(), "ref")
	require.NoError(t, os.WriteFile(ref, nil, 0o644))

	q := parseArgs(t, "-newer", ref, "-print")
	require.Equal(t, expr.OpAnd, q.Expr.Kind())
	assert.Equal(t, expr.TestNewer, q.Expr.Lhs().Kind())

	_, err := Parse([]string{"-newer", filepath.Join(t.TempDir(), "gone")}, nil)
	assert.Error(t, err)
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	level := 1
	q, err := Parse(nil, &config.Settings{OptLevel: &level, Follow: "always"})
	require.NoError(t, err)

	assert.Equal(t, 1, q.OptLevel)
	assert.NotZero(t, q.Flags&walk.FollowAll)
}

func TestParseModeString(t *testing.T) {
	t.Parallel()

	for mode, want := range map[string][2]uint32{
		"644":     {0o644, 0o644},
		"0":       {0, 0},
		"u+w":     {0o200, 0o200},
		"a+x":     {0o111, 0o111},
		"+x":      {0o111, 0o111},
		"u+X":     {0, 0o100},
		"ug+rw":   {0o660, 0o660},
		"u=rw":    {0o600, 0o600},
		"a+t":     {0o1000, 0o1000},
		"u+s":     {0o4000, 0o4000},
		"g+s":     {0o2000, 0o2000},
		"u+w,g+r": {0o240, 0o240},
		"u=g":     {0, 0},
	} {
		fileMode, dirMode, err := parseModeString(mode)
		require.NoError(t, err, "mode %q", mode)
		assert.Equal(t, want[0], fileMode, "file mode for %q", mode)
		assert.Equal(t, want[1], dirMode, "dir mode for %q", mode)
	}

	for _, bad := range []string{"", "u", "u~w", "8777", "77777", "u+w,"} {
		_, _, err := parseModeString(bad)
		assert.Error(t, err, "mode %q", bad)
	}
}

func TestParseFprintEndToEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0o644))
	sink := filepath.Join(t.TempDir(), "out")

	q := parseArgs(t, root, "-type", "f", "-fprint", sink)
	assert.Equal(t, 1, q.NSinks)

	code := q.Run()
	q.CloseSinks()
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(sink)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "f")+"\n", string(data))
}
