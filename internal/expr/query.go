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
	"io"
	"math"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"bfind/internal/colors"
	"bfind/internal/mtab"
	"bfind/internal/walk"
)

// Debug selects debugging output categories (-D).
type Debug int

const (
	// DebugOpt traces optimizer rewrites.
	DebugOpt Debug = 1 << iota
	// DebugRates collects and dumps per-node evaluation statistics.
	DebugRates
	// DebugStat traces stat() calls.
	DebugStat
	// DebugTree dumps the parsed expression tree.
	DebugTree
)

// Query is a fully parsed invocation: where to walk, how to walk it, and
// the expression to evaluate at every file.
type Query struct {
	Roots []string
	Flags walk.Flags

	OptLevel int
	Debug    Debug

	MinDepth, MaxDepth int

	// IgnoreRaces suppresses ENOENT errors below the roots, for trees
	// that mutate mid-walk.
	IgnoreRaces bool

	Expr *Expr

	Out *colors.Printer
	Err *colors.Printer

	Mtab *mtab.Table

	// NSinks counts file descriptors held open by -fprint sinks, which
	// shrink the walker's descriptor budget.
	NSinks int
	// Sinks holds those files for closing after the walk.
	Sinks []io.Closer

	// XargsSafe rejects paths that xargs would mangle.
	XargsSafe bool
}

// CloseSinks closes every -fprint-family output file.
func (q *Query) CloseSinks() {
	for _, s := range q.Sinks {
		s.Close()
	}
}

// callbackArgs threads the mutable evaluation results through the walk.
type callbackArgs struct {
	q    *Query
	ret  int
	quit bool
}

// Run walks every root and evaluates the expression, returning the
// program's exit status.
func (q *Query) Run() int {
	if q.Expr == nil {
		return 0
	}

	if q.OptLevel >= 4 && q.Expr == False {
		logrus.Debug("-O4: skipping evaluation of top-level -false")
		return 0
	}

	if q.Debug&DebugTree != 0 {
		logrus.Debugf("tree: %s", q.Expr)
	}

	nOpenFD := inferFDLimit(q.NSinks)

	args := callbackArgs{q: q}
	for _, root := range q.Roots {
		if args.quit {
			break
		}
		if err := walk.Walk(root, args.visit, nOpenFD, q.Flags|walk.Recover); err != nil {
			args.ret = 1
			q.Err.Errorf("'%s': %v\n", root, err)
		}
	}

	if q.Expr.finishExec(q) != 0 {
		args.ret = 1
	}

	if q.Debug&DebugRates != 0 {
		q.Expr.dumpRates(0)
	}

	return args.ret
}

// visit is the walker callback: gate by depth and phase, then evaluate.
func (a *callbackArgs) visit(f *walk.File) (walk.Action, error) {
	q := a.q

	s := evalState{
		file:   f,
		q:      q,
		action: walk.Continue,
		ret:    &a.ret,
		quit:   &a.quit,
	}

	if f.Type == walk.TypeError {
		if !s.shouldIgnore(f.Err) {
			a.ret = 1
			q.Err.Errorf("'%s': %v\n", f.Path, f.Err)
		}
		return walk.SkipSubtree, nil
	}

	if q.XargsSafe && strings.ContainsAny(f.Path, " \t\n'\"\\") {
		a.ret = 1
		q.Err.Errorf("'%s': path is not safe for xargs\n", f.Path)
		return walk.SkipSubtree, nil
	}

	if f.Depth >= q.MaxDepth {
		s.action = walk.SkipSubtree
	}

	// In -depth mode, directories are handled on the post-order visit.
	expected := walk.VisitPre
	if q.Flags&walk.Depth != 0 && f.Type == walk.TypeDir && f.Depth < q.MaxDepth {
		expected = walk.VisitPost
	}

	if f.Visit == expected && f.Depth >= q.MinDepth && f.Depth <= q.MaxDepth {
		evalNode(q.Expr, &s)
	}

	if q.Debug&DebugStat != 0 && f.StatBuf() != nil {
		logrus.WithFields(logrus.Fields{
			"path":     f.Path,
			"relpath":  f.RelPath,
			"anchored": f.AnchorFD != unix.AT_FDCWD,
			"nofollow": f.AtFlags == unix.AT_SYMLINK_NOFOLLOW,
		}).Debug("stat")
	}

	return s.action, nil
}

// finishExec flushes every pending batched -exec in the tree.
func (e *Expr) finishExec(q *Query) int {
	ret := 0
	if e.cmd != nil {
		if err := e.cmd.Finish(); err != nil {
			q.Err.Errorf("%v\n", err)
			ret = 1
		}
	}
	if e.lhs != nil && e.lhs.finishExec(q) != 0 {
		ret = 1
	}
	if e.rhs != nil && e.rhs.finishExec(q) != 0 {
		ret = 1
	}
	return ret
}

// dumpRates prints per-node evaluation statistics to the debug log.
func (e *Expr) dumpRates(depth int) {
	logrus.Debugf("rates: %*s%s: %d evaluations, %d successes, %v elapsed",
		2*depth, "", e.summary(), e.evaluations, e.successes, e.elapsed)
	if e.lhs != nil {
		e.lhs.dumpRates(depth + 1)
	}
	if e.rhs != nil {
		e.rhs.dumpRates(depth + 1)
	}
}

// summary is the node's own token form, without operands.
func (e *Expr) summary() string {
	switch e.kind {
	case OpNot:
		return "!"
	case OpAnd:
		return "-a"
	case OpOr:
		return "-o"
	case OpComma:
		return ","
	default:
		return e.String()
	}
}

// DefaultMaxDepth is the -maxdepth value meaning "unbounded".
const DefaultMaxDepth = math.MaxInt32

// inferFDLimit derives the walker's descriptor budget from the process
// limit, minus the standard streams, any inherited descriptors, the output
// sinks, and one spare for the -empty test.
func inferFDLimit(nSinks int) int {
	ret := 4096

	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err == nil {
		if rl.Cur != unix.RLIM_INFINITY && rl.Cur < uint64(math.MaxInt32) {
			ret = int(rl.Cur)
		}
	}

	// 3 for the standard streams.
	nOpen := 3 + nSinks

	// Check /dev/fd for the real count, in case we inherited more.
	if entries, err := os.ReadDir("/dev/fd"); err == nil {
		// Account for the descriptor ReadDir itself used.
		nOpen = len(entries) - 1
	}

	// One extra for -empty.
	reserved := nOpen + 1

	if ret > reserved {
		ret -= reserved
	} else {
		ret = 1
	}
	return ret
}
