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
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"

	"github.com/danwakefield/fnmatch"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"bfind/internal/colors"
	"bfind/internal/expr"
	"bfind/internal/printf"
	"bfind/internal/spawn"
	"bfind/internal/walk"
)

// literalFn parses one test, action, flag or option.  Flags and options
// evaluate to -true.
type literalFn func(p *parser, arg string) (*expr.Expr, error)

// literals maps predicate names (sans leading dash) to their parsers.
// -O<N> and -newerXY are matched by prefix in parseLiteral.
var literals map[string]literalFn

func init() {
	literals = map[string]literalFn{
		"D": func(p *parser, arg string) (*expr.Expr, error) { return p.parseDebug(arg) },
		"E": func(p *parser, arg string) (*expr.Expr, error) {
			// Regexes are always RE2 syntax; -E is accepted for
			// command-line compatibility.
			p.advance(1)
			return expr.True, nil
		},
		"P": func(p *parser, arg string) (*expr.Expr, error) { return p.parseFollow(0) },
		"H": func(p *parser, arg string) (*expr.Expr, error) { return p.parseFollow(walk.FollowRoots) },
		"L": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseFollow(walk.FollowAll | walk.DetectCycles)
		},
		"follow": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseFollow(walk.FollowAll | walk.DetectCycles)
		},
		"X": func(p *parser, arg string) (*expr.Expr, error) {
			p.q.XargsSafe = true
			p.advance(1)
			return expr.True, nil
		},
		"f": func(p *parser, arg string) (*expr.Expr, error) {
			path, err := p.value(arg)
			if err != nil {
				return nil, fmt.Errorf("%s requires a path", arg)
			}
			p.q.Roots = append(p.q.Roots, path)
			return expr.True, nil
		},

		"color":   func(p *parser, arg string) (*expr.Expr, error) { return p.parseColor(colors.Always) },
		"nocolor": func(p *parser, arg string) (*expr.Expr, error) { return p.parseColor(colors.Never) },
		"daystart": func(p *parser, arg string) (*expr.Expr, error) {
			p.daystart()
			p.advance(1)
			return expr.True, nil
		},
		"d": func(p *parser, arg string) (*expr.Expr, error) { return p.parseDepthFlag() },
		"depth": func(p *parser, arg string) (*expr.Expr, error) {
			if len(p.args) > 1 && looksLikeICmp(p.args[1]) {
				return p.parseTestICmp(expr.TestDepth, arg)
			}
			return p.parseDepthFlag()
		},
		"maxdepth": func(p *parser, arg string) (*expr.Expr, error) { return p.parseDepthLimit(arg, false) },
		"mindepth": func(p *parser, arg string) (*expr.Expr, error) { return p.parseDepthLimit(arg, true) },
		"mount":    func(p *parser, arg string) (*expr.Expr, error) { return p.parseMount() },
		"x":        func(p *parser, arg string) (*expr.Expr, error) { return p.parseMount() },
		"xdev":     func(p *parser, arg string) (*expr.Expr, error) { return p.parseMount() },
		"ignore_readdir_race": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseIgnoreRaces(true)
		},
		"noignore_readdir_race": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseIgnoreRaces(false)
		},
		"noleaf": func(p *parser, arg string) (*expr.Expr, error) {
			// Always behaves as if -noleaf were set.
			p.advance(1)
			return expr.True, nil
		},
		"regextype": func(p *parser, arg string) (*expr.Expr, error) {
			// Only RE2 is supported; the value is accepted and
			// ignored for command-line compatibility.
			if _, err := p.value(arg); err != nil {
				return nil, err
			}
			return expr.True, nil
		},
		"warn":   func(p *parser, arg string) (*expr.Expr, error) { p.advance(1); return expr.True, nil },
		"nowarn": func(p *parser, arg string) (*expr.Expr, error) { p.advance(1); return expr.True, nil },

		"help":     func(p *parser, arg string) (*expr.Expr, error) { return nil, ErrHelp },
		"-help":    func(p *parser, arg string) (*expr.Expr, error) { return nil, ErrHelp },
		"version":  func(p *parser, arg string) (*expr.Expr, error) { return nil, ErrVersion },
		"-version": func(p *parser, arg string) (*expr.Expr, error) { return nil, ErrVersion },

		"true":  func(p *parser, arg string) (*expr.Expr, error) { p.advance(1); return expr.True, nil },
		"false": func(p *parser, arg string) (*expr.Expr, error) { p.advance(1); return expr.False, nil },

		"amin": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseACMTime(arg, walk.TimeAccess, expr.Minutes)
		},
		"atime": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseACMTime(arg, walk.TimeAccess, expr.Days)
		},
		"cmin": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseACMTime(arg, walk.TimeChange, expr.Minutes)
		},
		"ctime": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseACMTime(arg, walk.TimeChange, expr.Days)
		},
		"mmin": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseACMTime(arg, walk.TimeModify, expr.Minutes)
		},
		"mtime": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseACMTime(arg, walk.TimeModify, expr.Days)
		},

		"anewer": func(p *parser, arg string) (*expr.Expr, error) { return p.parseACNewer(arg, walk.TimeAccess) },
		"cnewer": func(p *parser, arg string) (*expr.Expr, error) { return p.parseACNewer(arg, walk.TimeChange) },
		"mnewer": func(p *parser, arg string) (*expr.Expr, error) { return p.parseACNewer(arg, walk.TimeModify) },
		"newer":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseACNewer(arg, walk.TimeModify) },
		"used":   func(p *parser, arg string) (*expr.Expr, error) { return p.parseTestICmp(expr.TestUsed, arg) },

		"empty": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewTest(expr.TestEmpty, arg), nil
		},
		"hidden": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewTest(expr.TestHidden, arg), nil
		},
		"sparse": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewTest(expr.TestSparse, arg), nil
		},
		"nogroup": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewTest(expr.TestNoGroup, arg), nil
		},
		"nouser": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewTest(expr.TestNoUser, arg), nil
		},

		"executable": func(p *parser, arg string) (*expr.Expr, error) { return p.parseAccess(arg, unix.X_OK) },
		"readable":   func(p *parser, arg string) (*expr.Expr, error) { return p.parseAccess(arg, unix.R_OK) },
		"writable":   func(p *parser, arg string) (*expr.Expr, error) { return p.parseAccess(arg, unix.W_OK) },

		"fstype": func(p *parser, arg string) (*expr.Expr, error) { return p.parseFSType(arg) },

		"gid":   func(p *parser, arg string) (*expr.Expr, error) { return p.parseGroup(arg) },
		"group": func(p *parser, arg string) (*expr.Expr, error) { return p.parseGroup(arg) },
		"uid":   func(p *parser, arg string) (*expr.Expr, error) { return p.parseUser(arg) },
		"user":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseUser(arg) },

		"inum":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseTestICmp(expr.TestInum, arg) },
		"links": func(p *parser, arg string) (*expr.Expr, error) { return p.parseTestICmp(expr.TestLinks, arg) },

		"name":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseFnmatch(expr.TestName, arg, false) },
		"iname": func(p *parser, arg string) (*expr.Expr, error) { return p.parseFnmatch(expr.TestName, arg, true) },
		"path":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseFnmatch(expr.TestPath, arg, false) },
		"ipath": func(p *parser, arg string) (*expr.Expr, error) { return p.parseFnmatch(expr.TestPath, arg, true) },
		"wholename": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseFnmatch(expr.TestPath, arg, false)
		},
		"iwholename": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseFnmatch(expr.TestPath, arg, true)
		},
		"lname":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseFnmatch(expr.TestLname, arg, false) },
		"ilname": func(p *parser, arg string) (*expr.Expr, error) { return p.parseFnmatch(expr.TestLname, arg, true) },

		"regex":  func(p *parser, arg string) (*expr.Expr, error) { return p.parseRegex(arg, false) },
		"iregex": func(p *parser, arg string) (*expr.Expr, error) { return p.parseRegex(arg, true) },

		"perm":     func(p *parser, arg string) (*expr.Expr, error) { return p.parsePerm(arg) },
		"samefile": func(p *parser, arg string) (*expr.Expr, error) { return p.parseSamefile(arg) },
		"size":     func(p *parser, arg string) (*expr.Expr, error) { return p.parseSize(arg) },
		"type":     func(p *parser, arg string) (*expr.Expr, error) { return p.parseType(arg, expr.TestType) },
		"xtype":    func(p *parser, arg string) (*expr.Expr, error) { return p.parseType(arg, expr.TestXType) },

		"delete": func(p *parser, arg string) (*expr.Expr, error) {
			// -delete implies -depth so directories are emptied first.
			p.q.Flags |= walk.Depth
			p.action()
			p.advance(1)
			return expr.NewAction(expr.ActionDelete, arg), nil
		},
		"exec":    func(p *parser, arg string) (*expr.Expr, error) { return p.parseExec(arg, 0) },
		"execdir": func(p *parser, arg string) (*expr.Expr, error) { return p.parseExec(arg, spawn.Chdir) },
		"ok":      func(p *parser, arg string) (*expr.Expr, error) { return p.parseExec(arg, spawn.Confirm) },
		"okdir": func(p *parser, arg string) (*expr.Expr, error) {
			return p.parseExec(arg, spawn.Confirm|spawn.Chdir)
		},

		"ls":      func(p *parser, arg string) (*expr.Expr, error) { return p.parseLs(arg, false) },
		"fls":     func(p *parser, arg string) (*expr.Expr, error) { return p.parseLs(arg, true) },
		"print":   func(p *parser, arg string) (*expr.Expr, error) { return p.parsePrint(arg, false) },
		"fprint":  func(p *parser, arg string) (*expr.Expr, error) { return p.parsePrint(arg, true) },
		"print0":  func(p *parser, arg string) (*expr.Expr, error) { return p.parsePrint0(arg, false) },
		"fprint0": func(p *parser, arg string) (*expr.Expr, error) { return p.parsePrint0(arg, true) },
		"printf":  func(p *parser, arg string) (*expr.Expr, error) { return p.parsePrintf(arg, false) },
		"fprintf": func(p *parser, arg string) (*expr.Expr, error) { return p.parsePrintf(arg, true) },

		"prune": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewAction(expr.ActionPrune, arg), nil
		},
		"quit": func(p *parser, arg string) (*expr.Expr, error) {
			p.action()
			p.advance(1)
			return expr.NewAction(expr.ActionQuit, arg), nil
		},
		"nohidden": func(p *parser, arg string) (*expr.Expr, error) {
			p.advance(1)
			return expr.NewAction(expr.ActionNoHidden, arg), nil
		},
	}
}

// action records that an action which cancels the implicit -print was
// parsed: the output actions, the -exec family, -delete and -quit.
func (p *parser) action() {
	p.implicitPrint = false
}

// looksLikeICmp reports whether an argument could be an integer comparison.
func looksLikeICmp(s string) bool {
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// parseICmpPrefix splits "N", "-N" or "+N" into a comparison mode, the
// value, and any trailing suffix.
func parseICmpPrefix(s string) (expr.Cmp, int64, string, error) {
	cmp := expr.CmpExact
	rest := s
	switch {
	case strings.HasPrefix(rest, "-"):
		cmp = expr.CmpLess
		rest = rest[1:]
	case strings.HasPrefix(rest, "+"):
		cmp = expr.CmpGreater
		rest = rest[1:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return cmp, 0, "", fmt.Errorf("'%s' is not a valid integer", s)
	}

	n, err := strconv.ParseInt(rest[:i], 10, 64)
	if err != nil {
		return cmp, 0, "", fmt.Errorf("'%s' is not a valid integer", s)
	}
	return cmp, n, rest[i:], nil
}

func parseICmp(s string) (expr.Cmp, int64, error) {
	cmp, n, rest, err := parseICmpPrefix(s)
	if err == nil && rest != "" {
		err = fmt.Errorf("'%s' is not a valid integer", s)
	}
	return cmp, n, err
}

func (p *parser) parseTestICmp(kind expr.Kind, arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	cmp, n, err := parseICmp(value)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	if kind == expr.TestUsed {
		return expr.NewUsedTest(cmp, n, arg, value), nil
	}
	return expr.NewCmpTest(kind, cmp, n, arg, value), nil
}

func (p *parser) parseFollow(flags walk.Flags) (*expr.Expr, error) {
	p.q.Flags &^= walk.FollowRoots | walk.FollowAll | walk.DetectCycles
	p.q.Flags |= flags
	p.advance(1)
	return expr.True, nil
}

func (p *parser) parseDebug(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, fmt.Errorf("%s needs a flag", arg)
	}

	for _, flag := range strings.Split(value, ",") {
		switch flag {
		case "opt":
			p.q.Debug |= expr.DebugOpt
		case "rates":
			p.q.Debug |= expr.DebugRates
		case "stat":
			p.q.Debug |= expr.DebugStat
		case "tree":
			p.q.Debug |= expr.DebugTree
		case "all":
			p.q.Debug |= expr.DebugOpt | expr.DebugRates | expr.DebugStat | expr.DebugTree
		default:
			fmt.Fprintf(os.Stderr, "warning: unrecognized debug flag '%s'\n", flag)
		}
	}

	if p.q.Debug != 0 {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return expr.True, nil
}

func (p *parser) parseOptLevel(arg string) (*expr.Expr, error) {
	level := 0
	if arg == "-Ofast" {
		level = 4
	} else {
		n, err := strconv.Atoi(arg[2:])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("'%s' is not a valid optimization level", arg)
		}
		level = n
	}

	if level > 4 {
		fmt.Fprintf(os.Stderr, "warning: %s is the same as -O4\n", arg)
		level = 4
	}

	p.q.OptLevel = level
	p.b.Level = level
	p.advance(1)
	return expr.True, nil
}

func (p *parser) parseColor(mode colors.Mode) (*expr.Expr, error) {
	p.colorMode = mode
	p.advance(1)
	return expr.True, nil
}

func (p *parser) parseDepthFlag() (*expr.Expr, error) {
	p.q.Flags |= walk.Depth
	p.advance(1)
	return expr.True, nil
}

func (p *parser) parseDepthLimit(arg string, isMin bool) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%s %s: not a valid depth", arg, value)
	}

	if isMin {
		p.q.MinDepth = n
	} else {
		p.q.MaxDepth = n
	}
	return expr.True, nil
}

func (p *parser) parseMount() (*expr.Expr, error) {
	p.q.Flags |= walk.XDev
	p.advance(1)
	return expr.True, nil
}

func (p *parser) parseIgnoreRaces(on bool) (*expr.Expr, error) {
	p.q.IgnoreRaces = on
	p.advance(1)
	return expr.True, nil
}

func (p *parser) parseACMTime(arg string, field walk.TimeField, unit expr.TimeUnit) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	cmp, n, err := parseICmp(value)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	return expr.NewTimeTest(field, unit, cmp, n, p.now, arg, value), nil
}

func (p *parser) parseACNewer(arg string, field walk.TimeField) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(value, &st); err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	return expr.NewNewerTest(field, st.Mtim, arg, value), nil
}

// parseNewerXY handles the -newerXY prefix form: compare field X of the
// candidate against field Y of the reference file.
func (p *parser) parseNewerXY(arg string) (*expr.Expr, error) {
	name := strings.TrimPrefix(arg, "-")
	if len(name) != 7 {
		return nil, fmt.Errorf("expected -newerXY; found %s", arg)
	}

	var field walk.TimeField
	switch name[5] {
	case 'a':
		field = walk.TimeAccess
	case 'c':
		field = walk.TimeChange
	case 'm':
		field = walk.TimeModify
	case 'B':
		return nil, fmt.Errorf("%s: file birth times ('B') are not supported", arg)
	default:
		return nil, fmt.Errorf("%s: for -newerXY, X should be 'a', 'c', or 'm'", arg)
	}

	if name[6] == 't' {
		return nil, fmt.Errorf("%s: explicit reference times ('t') are not supported", arg)
	}

	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(value, &st); err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	var ref unix.Timespec
	switch name[6] {
	case 'a':
		ref = st.Atim
	case 'c':
		ref = st.Ctim
	case 'm':
		ref = st.Mtim
	case 'B':
		return nil, fmt.Errorf("%s: file birth times ('B') are not supported", arg)
	default:
		return nil, fmt.Errorf("%s: for -newerXY, Y should be 'a', 'c', or 'm'", arg)
	}

	return expr.NewNewerTest(field, ref, arg, value), nil
}

func (p *parser) parseAccess(arg string, mask uint32) (*expr.Expr, error) {
	p.advance(1)
	return expr.NewAccessTest(int64(mask), arg), nil
}

func (p *parser) parseFSType(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	p.mtab()
	return expr.NewFSTypeTest(value, arg, value), nil
}

func (p *parser) parseGroup(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	if g, lerr := user.LookupGroup(value); lerr == nil {
		gid, _ := strconv.ParseInt(g.Gid, 10, 64)
		return expr.NewCmpTest(expr.TestGID, expr.CmpExact, gid, arg, value), nil
	}

	if looksLikeICmp(value) {
		cmp, n, err := parseICmp(value)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", arg, value, err)
		}
		return expr.NewCmpTest(expr.TestGID, cmp, n, arg, value), nil
	}

	return nil, fmt.Errorf("%s %s: no such group", arg, value)
}

func (p *parser) parseUser(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	if u, lerr := user.Lookup(value); lerr == nil {
		uid, _ := strconv.ParseInt(u.Uid, 10, 64)
		return expr.NewCmpTest(expr.TestUID, expr.CmpExact, uid, arg, value), nil
	}

	if looksLikeICmp(value) {
		cmp, n, err := parseICmp(value)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", arg, value, err)
		}
		return expr.NewCmpTest(expr.TestUID, cmp, n, arg, value), nil
	}

	return nil, fmt.Errorf("%s %s: no such user", arg, value)
}

func (p *parser) parseFnmatch(kind expr.Kind, arg string, casefold bool) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	flags := 0
	if casefold {
		flags = fnmatch.FNM_CASEFOLD
	}
	return expr.NewFnmatchTest(kind, value, flags, arg, value), nil
}

func (p *parser) parseRegex(arg string, icase bool) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	pattern := value
	if icase {
		pattern = "(?i)" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	return expr.NewRegexTest(re, arg, value), nil
}

func (p *parser) parsePerm(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	mode := value
	cmp := expr.ModeExact
	switch {
	case strings.HasPrefix(mode, "-"):
		cmp = expr.ModeAll
		mode = mode[1:]
	case strings.HasPrefix(mode, "/"):
		cmp = expr.ModeAny
		mode = mode[1:]
	}

	fileMode, dirMode, err := parseModeString(mode)
	if err != nil {
		return nil, fmt.Errorf("'%s' is an invalid mode", value)
	}

	return expr.NewPermTest(cmp, fileMode, dirMode, arg, value), nil
}

func (p *parser) parseSamefile(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(value, &st); err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	return expr.NewSamefileTest(st.Dev, st.Ino, arg, value), nil
}

func (p *parser) parseSize(arg string) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	cmp, n, rest, err := parseICmpPrefix(value)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", arg, value, err)
	}

	var unit expr.SizeUnit
	switch rest {
	case "", "b":
		unit = expr.SizeBlocks
	case "c":
		unit = expr.SizeBytes
	case "w":
		unit = expr.SizeWords
	case "k":
		unit = expr.SizeKB
	case "M":
		unit = expr.SizeMB
	case "G":
		unit = expr.SizeGB
	case "T":
		unit = expr.SizeTB
	case "P":
		unit = expr.SizePB
	default:
		return nil, fmt.Errorf("%s %s: expected a size unit (one of bcwkMGTP); found '%s'",
			arg, value, rest)
	}

	return expr.NewSizeTest(cmp, n, unit, arg, value), nil
}

func (p *parser) parseType(arg string, kind expr.Kind) (*expr.Expr, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, err
	}

	var mask walk.Type
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case 'b':
			mask |= walk.TypeBlock
		case 'c':
			mask |= walk.TypeChar
		case 'd':
			mask |= walk.TypeDir
		case 'D':
			mask |= walk.TypeDoor
		case 'p':
			mask |= walk.TypeFIFO
		case 'f':
			mask |= walk.TypeRegular
		case 'l':
			mask |= walk.TypeLink
		case 's':
			mask |= walk.TypeSocket
		default:
			return nil, fmt.Errorf("%s %s: unknown type flag '%c' (expected one of [bcdpflsD])",
				arg, value, value[i])
		}

		i++
		if i == len(value) {
			break
		}
		if value[i] != ',' {
			return nil, fmt.Errorf("%s %s: types must be comma-separated", arg, value)
		}
		if i == len(value)-1 {
			return nil, fmt.Errorf("%s %s: expected a type flag", arg, value)
		}
	}
	if mask == 0 {
		return nil, fmt.Errorf("%s %s: expected a type flag", arg, value)
	}

	return expr.NewTypeTest(kind, mask, arg, value), nil
}

func (p *parser) parseExec(arg string, flags spawn.Flags) (*expr.Expr, error) {
	rest := p.args[1:]

	end := -1
	for i, a := range rest {
		if a == ";" {
			end = i
			break
		}
		if a == "+" && i > 0 && rest[i-1] == "{}" {
			flags |= spawn.Batch
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("expected a ';' or '+' terminating %s", arg)
	}

	argv := rest[:end]
	tmpl, err := spawn.New(argv, flags)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", arg, err)
	}

	p.action()
	tokens := append([]string{arg}, rest[:end+1]...)
	p.advance(end + 2)
	return expr.NewExecAction(tmpl, tokens...), nil
}

func (p *parser) parsePrint(arg string, toFile bool) (*expr.Expr, error) {
	p.action()

	if !toFile {
		p.advance(1)
		// The stdout sink is attached after parsing, once the colour
		// mode is final.
		return expr.NewPrintAction(nil, arg), nil
	}

	out, value, err := p.openSink(arg)
	if err != nil {
		return nil, err
	}
	return expr.NewPrintAction(out, arg, value), nil
}

func (p *parser) parsePrint0(arg string, toFile bool) (*expr.Expr, error) {
	p.action()

	if !toFile {
		p.advance(1)
		return expr.NewPrint0Action(nil, arg), nil
	}

	out, value, err := p.openSink(arg)
	if err != nil {
		return nil, err
	}
	return expr.NewPrint0Action(out, arg, value), nil
}

func (p *parser) parsePrintf(arg string, toFile bool) (*expr.Expr, error) {
	p.action()

	var out *colors.Printer
	tokens := []string{arg}

	var format string
	if toFile {
		sink, value, err := p.openSink(arg)
		if err != nil {
			return nil, err
		}
		out = sink
		tokens = append(tokens, value)

		// openSink consumed "-fprintf FILE"; the format is next.
		if len(p.args) == 0 {
			return nil, fmt.Errorf("%s needs a format", arg)
		}
		format = p.args[0]
		p.advance(1)
	} else {
		var err error
		format, err = p.value(arg)
		if err != nil {
			return nil, err
		}
	}
	tokens = append(tokens, format)

	var fstypes printf.FSTyper
	if t := p.mtab(); t != nil {
		fstypes = t
	}

	compiled, err := printf.Compile(format, fstypes)
	if err != nil {
		return nil, err
	}

	return expr.NewPrintfAction(out, compiled, tokens...), nil
}

func (p *parser) parseLs(arg string, toFile bool) (*expr.Expr, error) {
	p.action()

	if !toFile {
		p.advance(1)
		return expr.NewLsAction(nil, p.now, arg), nil
	}

	out, value, err := p.openSink(arg)
	if err != nil {
		return nil, err
	}
	return expr.NewLsAction(out, p.now, arg, value), nil
}

// openSink opens the FILE argument of the -f* action family.  Sinks never
// colourize.
func (p *parser) openSink(arg string) (*colors.Printer, string, error) {
	value, err := p.value(arg)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Create(value)
	if err != nil {
		return nil, "", fmt.Errorf("'%s': %w", value, err)
	}

	p.q.NSinks++
	p.q.Sinks = append(p.q.Sinks, f)
	return colors.NewPrinter(f, colors.Never), value, nil
}

// parseModeString parses a chmod-style symbolic mode (or an octal one).
// The file and directory modes differ only for the X permission.
func parseModeString(mode string) (fileMode, dirMode uint32, err error) {
	if mode == "" {
		return 0, 0, fmt.Errorf("empty mode")
	}

	if mode[0] >= '0' && mode[0] <= '9' {
		n, perr := strconv.ParseUint(mode, 8, 32)
		if perr != nil || n > 0o7777 {
			return 0, 0, fmt.Errorf("invalid octal mode")
		}
		return uint32(n), uint32(n), nil
	}

	// The same grammar as chmod(1):
	//
	// MODE : CLAUSE ["," CLAUSE]*
	// CLAUSE : WHO* ACTION+
	// ACTION : OP PERM* | OP PERMCOPY
	for _, clause := range strings.Split(mode, ",") {
		i := 0

		var who uint32
	whoLoop:
		for ; i < len(clause); i++ {
			switch clause[i] {
			case 'u':
				who |= 0o700
			case 'g':
				who |= 0o070
			case 'o':
				who |= 0o007
			case 'a':
				who |= 0o777
			default:
				break whoLoop
			}
		}
		if who == 0 {
			who = 0o777
		}

		if i == len(clause) {
			return 0, 0, fmt.Errorf("expected an action")
		}

		for i < len(clause) {
			op := clause[i]
			if op != '+' && op != '-' && op != '=' {
				return 0, 0, fmt.Errorf("expected an operator")
			}
			i++

			var fileChange, dirChange uint32

			if i < len(clause) && (clause[i] == 'u' || clause[i] == 'g' || clause[i] == 'o') {
				// PERMCOPY (e.g. u=g) has no effect for -perm.
				i++
			} else {
			permLoop:
				for ; i < len(clause); i++ {
					switch clause[i] {
					case 'r':
						fileChange |= who & 0o444
						dirChange |= who & 0o444
					case 'w':
						fileChange |= who & 0o222
						dirChange |= who & 0o222
					case 'x':
						fileChange |= who & 0o111
						dirChange |= who & 0o111
					case 'X':
						dirChange |= who & 0o111
					case 's':
						if who&0o700 != 0 {
							fileChange |= uint32(unix.S_ISUID)
							dirChange |= uint32(unix.S_ISUID)
						}
						if who&0o070 != 0 {
							fileChange |= uint32(unix.S_ISGID)
							dirChange |= uint32(unix.S_ISGID)
						}
					case 't':
						fileChange |= uint32(unix.S_ISVTX)
						dirChange |= uint32(unix.S_ISVTX)
					default:
						break permLoop
					}
				}
			}

			switch op {
			case '=':
				fileMode &^= who
				dirMode &^= who
				fallthrough
			case '+':
				fileMode |= fileChange
				dirMode |= dirChange
			case '-':
				fileMode &^= fileChange
				dirMode &^= dirChange
			}
		}
	}

	return fileMode, dirMode, nil
}
