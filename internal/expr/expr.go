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

// Package expr holds the expression tree a query evaluates at every visited
// file: tests, actions, and short-circuit boolean operators.
//
// Trees are simplified as they are built.  The Builder's constructors apply
// constant folding, De Morgan rewrites and purity-based elimination, gated
// by the optimization level, so that the evaluator only ever sees the
// simplified form.
package expr

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"bfind/internal/colors"
	"bfind/internal/printf"
	"bfind/internal/spawn"
	"bfind/internal/walk"
)

// Kind discriminates expression nodes.
type Kind int

const (
	// Operators
	OpNot Kind = iota
	OpAnd
	OpOr
	OpComma

	// Constants
	KindTrue
	KindFalse

	// Tests (pure)
	TestAccess
	TestDepth
	TestEmpty
	TestFSType
	TestGID
	TestHidden
	TestInum
	TestLinks
	TestLname
	TestName
	TestNewer
	TestNoGroup
	TestNoUser
	TestPath
	TestPerm
	TestRegex
	TestSamefile
	TestSize
	TestSparse
	TestTime
	TestType
	TestUID
	TestUsed
	TestXType

	// Actions (impure)
	ActionDelete
	ActionExec
	ActionLs
	ActionNoHidden
	ActionPrint
	ActionPrint0
	ActionPrintf
	ActionPrune
	ActionQuit
)

// Cmp is an integer comparison mode: n, -n, +n.
type Cmp int

const (
	CmpExact Cmp = iota
	CmpLess
	CmpGreater
)

// ModeCmp is the -perm comparison mode.
type ModeCmp int

const (
	ModeExact ModeCmp = iota
	// ModeAll matches when all target bits are set (-mode).
	ModeAll
	// ModeAny matches when any target bit is set (/mode).
	ModeAny
)

// TimeUnit scales a time comparison.
type TimeUnit int

const (
	Minutes TimeUnit = iota
	Days
)

// SizeUnit scales a -size comparison; sizes round up to the unit.
type SizeUnit int

const (
	SizeBlocks SizeUnit = iota
	SizeBytes
	SizeWords
	SizeKB
	SizeMB
	SizeGB
	SizeTB
	SizePB
)

// Expr is one node of the expression tree.  Operand links are exclusively
// owned; the optimizer rewrites trees by transferring them.
type Expr struct {
	kind Kind

	lhs, rhs *Expr

	// args holds the original command-line tokens, for diagnostics.
	args []string

	pure        bool
	alwaysTrue  bool
	alwaysFalse bool

	// Evaluation statistics, for -D rates.
	evaluations int64
	successes   int64
	elapsed     time.Duration

	// Per-test payload.
	num        int64
	str        string
	matchFlags int
	re         *regexp.Regexp
	format     *printf.Format
	cmp        Cmp
	refTime    unix.Timespec
	timeField  walk.TimeField
	timeUnit   TimeUnit
	sizeUnit   SizeUnit
	modeCmp    ModeCmp
	fileMode   uint32
	dirMode    uint32
	dev, ino   uint64
	typeMask   walk.Type
	out        *colors.Printer
	cmd        *spawn.Template
}

// Singleton leaves.  They are shared; the Builder never frees or rewrites
// them.
var (
	True  = &Expr{kind: KindTrue, args: []string{"-true"}, pure: true, alwaysTrue: true}
	False = &Expr{kind: KindFalse, args: []string{"-false"}, pure: true, alwaysFalse: true}
)

// NewTest makes a pure leaf.
func NewTest(kind Kind, args ...string) *Expr {
	return &Expr{kind: kind, args: args, pure: true}
}

// NewAction makes an impure leaf.  Action leaves never carry the always-true
// flag: -exec, -ok and -nohidden can evaluate to false.
func NewAction(kind Kind, args ...string) *Expr {
	return &Expr{kind: kind, args: args}
}

// Kind returns the node's discriminator.
func (e *Expr) Kind() Kind {
	return e.kind
}

// Lhs returns the left operand, or nil for leaves and unary nodes.
func (e *Expr) Lhs() *Expr {
	return e.lhs
}

// Rhs returns the right operand, or nil for leaves.
func (e *Expr) Rhs() *Expr {
	return e.rhs
}

// FixupOutput attaches out to printing actions that were parsed before the
// final colour mode was known.  Actions with an explicit sink keep it.
func (e *Expr) FixupOutput(out *colors.Printer) {
	switch e.kind {
	case ActionPrint, ActionPrint0, ActionPrintf, ActionLs:
		if e.out == nil {
			e.out = out
		}
	}
}

// Pure reports whether evaluating the node has no observable effect.
func (e *Expr) Pure() bool {
	return e.pure
}

// NewFnmatchTest builds -name/-path/-lname style glob tests.  matchFlags
// are fnmatch flags (e.g. fnmatch.FNM_CASEFOLD for the -i variants).
func NewFnmatchTest(kind Kind, pattern string, matchFlags int, args ...string) *Expr {
	e := NewTest(kind, args...)
	e.str = pattern
	e.matchFlags = matchFlags
	return e
}

// NewRegexTest builds -regex/-iregex.  Matches are anchored to the whole
// path at evaluation time.
func NewRegexTest(re *regexp.Regexp, args ...string) *Expr {
	e := NewTest(TestRegex, args...)
	e.re = re
	return e
}

// NewTypeTest builds -type/-xtype with a mask of acceptable kinds.
func NewTypeTest(kind Kind, mask walk.Type, args ...string) *Expr {
	e := NewTest(kind, args...)
	e.typeMask = mask
	return e
}

// NewPermTest builds -perm.  fileMode and dirMode may differ because of the
// symbolic X permission.
func NewPermTest(cmp ModeCmp, fileMode, dirMode uint32, args ...string) *Expr {
	e := NewTest(TestPerm, args...)
	e.modeCmp = cmp
	e.fileMode = fileMode
	e.dirMode = dirMode
	return e
}

// NewCmpTest builds integer-comparison tests: -uid, -gid, -inum, -links,
// -depth and friends.
func NewCmpTest(kind Kind, cmp Cmp, n int64, args ...string) *Expr {
	e := NewTest(kind, args...)
	e.cmp = cmp
	e.num = n
	return e
}

// NewSizeTest builds -size; sizes round up to the unit before comparing.
func NewSizeTest(cmp Cmp, n int64, unit SizeUnit, args ...string) *Expr {
	e := NewCmpTest(TestSize, cmp, n, args...)
	e.sizeUnit = unit
	return e
}

// NewTimeTest builds -amin/-atime/-cmin/... against a reference time.
func NewTimeTest(field walk.TimeField, unit TimeUnit, cmp Cmp, n int64, ref unix.Timespec, args ...string) *Expr {
	e := NewCmpTest(TestTime, cmp, n, args...)
	e.timeField = field
	e.timeUnit = unit
	e.refTime = ref
	return e
}

// NewNewerTest builds -newer/-anewer/-cnewer against a reference file's
// timestamp.
func NewNewerTest(field walk.TimeField, ref unix.Timespec, args ...string) *Expr {
	e := NewTest(TestNewer, args...)
	e.timeField = field
	e.refTime = ref
	return e
}

// NewUsedTest builds -used (days between access and status change).
func NewUsedTest(cmp Cmp, n int64, args ...string) *Expr {
	return NewCmpTest(TestUsed, cmp, n, args...)
}

// NewAccessTest builds -readable/-writable/-executable with an R_OK-style
// mask.
func NewAccessTest(mask int64, args ...string) *Expr {
	e := NewTest(TestAccess, args...)
	e.num = mask
	return e
}

// NewFSTypeTest builds -fstype.
func NewFSTypeTest(fstype string, args ...string) *Expr {
	e := NewTest(TestFSType, args...)
	e.str = fstype
	return e
}

// NewSamefileTest builds -samefile against a resolved (dev, ino) pair.
func NewSamefileTest(dev, ino uint64, args ...string) *Expr {
	e := NewTest(TestSamefile, args...)
	e.dev = dev
	e.ino = ino
	return e
}

// NewPrintAction builds -print/-fprint writing to out.
func NewPrintAction(out *colors.Printer, args ...string) *Expr {
	e := NewAction(ActionPrint, args...)
	e.out = out
	return e
}

// NewPrint0Action builds -print0/-fprint0.
func NewPrint0Action(out *colors.Printer, args ...string) *Expr {
	e := NewAction(ActionPrint0, args...)
	e.out = out
	return e
}

// NewPrintfAction builds -printf/-fprintf with a compiled format.
func NewPrintfAction(out *colors.Printer, format *printf.Format, args ...string) *Expr {
	e := NewAction(ActionPrintf, args...)
	e.out = out
	e.format = format
	return e
}

// NewLsAction builds -ls/-fls; now anchors the "recent" time window.
func NewLsAction(out *colors.Printer, now unix.Timespec, args ...string) *Expr {
	e := NewAction(ActionLs, args...)
	e.out = out
	e.refTime = now
	return e
}

// NewExecAction builds -exec/-execdir/-ok/-okdir around a subprocess
// template.
func NewExecAction(cmd *spawn.Template, args ...string) *Expr {
	e := NewAction(ActionExec, args...)
	e.cmd = cmd
	return e
}

// String renders the expression in parsed form, for -D tree dumps.
func (e *Expr) String() string {
	switch e.kind {
	case OpNot:
		return "(! " + e.rhs.String() + ")"
	case OpAnd:
		return "(-a " + e.lhs.String() + " " + e.rhs.String() + ")"
	case OpOr:
		return "(-o " + e.lhs.String() + " " + e.rhs.String() + ")"
	case OpComma:
		return "(, " + e.lhs.String() + " " + e.rhs.String() + ")"
	default:
		return "(" + strings.Join(e.args, " ") + ")"
	}
}

// Builder constructs operator nodes, simplifying as it goes.  Level 0
// disables all rewrites.
type Builder struct {
	Level int
}

func (b *Builder) debugOpt(level int, format string, args ...any) {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.Debugf("-O%d: %s", level, fmt.Sprintf(format, args...))
	}
}

func newUnary(kind Kind, rhs *Expr, args []string) *Expr {
	return &Expr{kind: kind, rhs: rhs, args: args, pure: rhs.pure}
}

func newBinary(kind Kind, lhs, rhs *Expr, args []string) *Expr {
	return &Expr{kind: kind, lhs: lhs, rhs: rhs, args: args, pure: lhs.pure && rhs.pure}
}

// Not builds !rhs.
func (b *Builder) Not(rhs *Expr) *Expr {
	if b.Level >= 1 {
		switch {
		case rhs == True:
			b.debugOpt(1, "constant propagation: (! %s) <==> %s", rhs, False)
			return False
		case rhs == False:
			b.debugOpt(1, "constant propagation: (! %s) <==> %s", rhs, True)
			return True
		case rhs.kind == OpNot:
			b.debugOpt(1, "double negation: (! %s) <==> %s", rhs, rhs.rhs)
			return rhs.rhs
		case (rhs.kind == OpAnd || rhs.kind == OpOr) &&
			(rhs.lhs.kind == OpNot || rhs.rhs.kind == OpNot):
			// De Morgan's laws, when they move a ! closer to a leaf.
			b.debugOpt(1, "De Morgan's laws: (! %s)", rhs)
			lhs := b.Not(rhs.lhs)
			inner := b.Not(rhs.rhs)
			if rhs.kind == OpOr {
				return b.And(lhs, inner)
			}
			return b.Or(lhs, inner)
		}
	}

	e := newUnary(OpNot, rhs, []string{"!"})
	e.alwaysTrue = rhs.alwaysFalse
	e.alwaysFalse = rhs.alwaysTrue
	return e
}

// And builds (lhs -a rhs).
func (b *Builder) And(lhs, rhs *Expr) *Expr {
	if b.Level >= 1 {
		switch {
		case lhs == True:
			b.debugOpt(1, "conjunction elimination: (-a %s %s) <==> %s", lhs, rhs, rhs)
			return rhs
		case rhs == True:
			b.debugOpt(1, "conjunction elimination: (-a %s %s) <==> %s", lhs, rhs, lhs)
			return lhs
		case lhs.alwaysFalse:
			b.debugOpt(1, "short-circuit: (-a %s %s) <==> %s", lhs, rhs, lhs)
			return lhs
		case b.Level >= 2 && rhs.alwaysFalse && lhs.pure:
			b.debugOpt(2, "purity: (-a %s %s) <==> %s", lhs, rhs, rhs)
			return rhs
		case lhs.kind == OpNot && rhs.kind == OpNot:
			b.debugOpt(1, "De Morgan's laws: (-a %s %s)", lhs, rhs)
			return b.Not(b.Or(lhs.rhs, rhs.rhs))
		}
	}

	e := newBinary(OpAnd, lhs, rhs, []string{"-a"})
	e.alwaysTrue = lhs.alwaysTrue && rhs.alwaysTrue
	e.alwaysFalse = lhs.alwaysFalse || rhs.alwaysFalse
	return e
}

// Or builds (lhs -o rhs).
func (b *Builder) Or(lhs, rhs *Expr) *Expr {
	if b.Level >= 1 {
		switch {
		case lhs.alwaysTrue:
			b.debugOpt(1, "short-circuit: (-o %s %s) <==> %s", lhs, rhs, lhs)
			return lhs
		case lhs == False:
			b.debugOpt(1, "disjunctive syllogism: (-o %s %s) <==> %s", lhs, rhs, rhs)
			return rhs
		case rhs == False:
			b.debugOpt(1, "disjunctive syllogism: (-o %s %s) <==> %s", lhs, rhs, lhs)
			return lhs
		case b.Level >= 2 && rhs.alwaysTrue && lhs.pure:
			b.debugOpt(2, "purity: (-o %s %s) <==> %s", lhs, rhs, rhs)
			return rhs
		case lhs.kind == OpNot && rhs.kind == OpNot:
			b.debugOpt(1, "De Morgan's laws: (-o %s %s)", lhs, rhs)
			return b.Not(b.And(lhs.rhs, rhs.rhs))
		}
	}

	e := newBinary(OpOr, lhs, rhs, []string{"-o"})
	e.alwaysTrue = lhs.alwaysTrue || rhs.alwaysTrue
	e.alwaysFalse = lhs.alwaysFalse && rhs.alwaysFalse
	return e
}

// Comma builds (lhs , rhs); the left result is discarded.
func (b *Builder) Comma(lhs, rhs *Expr) *Expr {
	if b.Level >= 1 {
		if lhs.kind == OpNot {
			b.debugOpt(1, "ignored result: (, %s %s) <==> (, %s %s)", lhs, rhs, lhs.rhs, rhs)
			lhs = lhs.rhs
		}

		if b.Level >= 2 && lhs.pure {
			b.debugOpt(2, "purity: (, %s %s) <==> %s", lhs, rhs, rhs)
			return rhs
		}
	}

	e := newBinary(OpComma, lhs, rhs, []string{","})
	e.alwaysTrue = rhs.alwaysTrue
	e.alwaysFalse = rhs.alwaysFalse
	return e
}

// OptimizeWhole applies the top-level rewrites after the full expression
// (including any implicit -print) has been built.
func (b *Builder) OptimizeWhole(e *Expr) *Expr {
	if b.Level >= 2 {
		// A pure right operand of a top-level -a/-o/, cannot affect
		// anything observable.
		for (e.kind == OpAnd || e.kind == OpOr || e.kind == OpComma) && e.rhs.pure {
			b.debugOpt(2, "top-level purity: %s <==> %s", e, e.lhs)
			e = e.lhs
		}
	}

	if b.Level >= 4 && e.pure && e != False {
		b.debugOpt(4, "top-level purity: %s <==> %s", e, False)
		e = False
	}

	return e
}
