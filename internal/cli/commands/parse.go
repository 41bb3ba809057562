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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"bfind/internal/colors"
	"bfind/internal/config"
	"bfind/internal/expr"
	"bfind/internal/mtab"
	"bfind/internal/walk"
)

// Sentinels for arguments that print and exit instead of walking.
var (
	ErrHelp    = errors.New("help requested")
	ErrVersion = errors.New("version requested")
)

// parser turns find-style argv into a Query.
//
// The grammar, as in find(1):
//
//	EXPR   : CLAUSE | EXPR "," CLAUSE
//	CLAUSE : TERM | CLAUSE "-o" TERM
//	TERM   : FACTOR | TERM ["-a"] FACTOR
//	FACTOR : "(" EXPR ")" | "!" FACTOR | LITERAL
//
// Paths, flags and options may appear interleaved with the expression.
type parser struct {
	args []string

	q *expr.Query
	b *expr.Builder

	// implicitPrint is cleared by every action that calls action().
	implicitPrint bool

	// now anchors time comparisons; -daystart rewinds it to midnight.
	now unix.Timespec

	// colorMode is resolved into the output printers after parsing.
	colorMode colors.Mode
}

// Parse builds a Query from command-line arguments, applying defaults from
// the user's settings file first.
func Parse(args []string, defaults *config.Settings) (*expr.Query, error) {
	q := &expr.Query{
		OptLevel: 3,
		MaxDepth: expr.DefaultMaxDepth,
		Err:      colors.NewPrinter(os.Stderr, colors.Auto),
	}

	p := &parser{
		args:          args,
		q:             q,
		implicitPrint: true,
		colorMode:     colors.Auto,
	}

	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err == nil {
		p.now = ts
	}

	p.applyDefaults(defaults)

	e, err := p.parseWholeExpr()
	if err != nil {
		return nil, err
	}

	// The builder was seeded by option parsing; resolve the sinks now
	// that -color/-nocolor are known.
	q.Out = colors.NewPrinter(os.Stdout, p.colorMode)
	p.fixupSinks(e)

	q.Expr = e
	if len(q.Roots) == 0 {
		q.Roots = []string{"."}
	}

	return q, nil
}

func (p *parser) applyDefaults(defaults *config.Settings) {
	if defaults == nil {
		return
	}
	if defaults.OptLevel != nil {
		p.q.OptLevel = *defaults.OptLevel
	}
	switch defaults.Color {
	case "always":
		p.colorMode = colors.Always
	case "never":
		p.colorMode = colors.Never
	}
	switch defaults.Follow {
	case "roots":
		p.q.Flags |= walk.FollowRoots
	case "always":
		p.q.Flags |= walk.FollowAll | walk.DetectCycles
	}
}

// fixupSinks attaches the stdout printer to every -print-family node that
// was parsed before the colour mode was final.
func (p *parser) fixupSinks(e *expr.Expr) {
	if e == nil {
		return
	}
	e.FixupOutput(p.q.Out)
	p.fixupSinks(e.Lhs())
	p.fixupSinks(e.Rhs())
}

func (p *parser) peek() (string, bool) {
	if len(p.args) == 0 {
		return "", false
	}
	return p.args[0], true
}

func (p *parser) advance(n int) []string {
	taken := p.args[:n]
	p.args = p.args[n:]
	return taken
}

// value consumes the argument of a unary predicate.
func (p *parser) value(arg string) (string, error) {
	if len(p.args) < 2 {
		return "", fmt.Errorf("%s needs a value", arg)
	}
	v := p.args[1]
	p.advance(2)
	return v, nil
}

// skipPaths consumes any consecutive non-predicate arguments as root paths.
func (p *parser) skipPaths() {
	for len(p.args) > 0 {
		arg := p.args[0]

		switch arg {
		case "(", ")", "!", ",":
			return
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			return
		}

		p.q.Roots = append(p.q.Roots, arg)
		p.advance(1)
	}
}

// parseWholeExpr parses everything, wraps the implicit -print, and runs the
// top-level optimizer pass.
func (p *parser) parseWholeExpr() (*expr.Expr, error) {
	// The builder needs the optimization level, which -O can change, so
	// options are applied before their optimizations matter: -O is
	// positional in practice and documented to come first.
	p.b = &expr.Builder{Level: p.q.OptLevel}

	p.skipPaths()

	e := expr.True
	if len(p.args) > 0 {
		var err error
		e, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}

	if arg, ok := p.peek(); ok {
		return nil, fmt.Errorf("unexpected argument '%s'", arg)
	}

	p.b.Level = p.q.OptLevel

	if p.implicitPrint {
		print := expr.NewPrintAction(nil, "-print")
		e = p.b.And(e, print)
	}

	return p.b.OptimizeWhole(e), nil
}

// parseExpr parses the "," level.
func (p *parser) parseExpr() (*expr.Expr, error) {
	e, err := p.parseClause()
	if err != nil {
		return nil, err
	}

	for {
		p.skipPaths()

		arg, ok := p.peek()
		if !ok || arg != "," {
			return e, nil
		}
		p.advance(1)

		rhs, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		e = p.b.Comma(e, rhs)
	}
}

// parseClause parses the -o level.
func (p *parser) parseClause() (*expr.Expr, error) {
	e, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		p.skipPaths()

		arg, ok := p.peek()
		if !ok || (arg != "-o" && arg != "-or") {
			return e, nil
		}
		p.advance(1)

		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		e = p.b.Or(e, rhs)
	}
}

// parseTerm parses the -a level, including the implicit conjunction.
func (p *parser) parseTerm() (*expr.Expr, error) {
	e, err := p.parseFactor()
	if err != nil {
		return nil, err
	}

	for {
		p.skipPaths()

		arg, ok := p.peek()
		if !ok {
			return e, nil
		}

		switch arg {
		case "-o", "-or", ",", ")":
			return e, nil
		case "-a", "-and":
			p.advance(1)
		}

		rhs, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		e = p.b.And(e, rhs)
	}
}

func (p *parser) parseFactor() (*expr.Expr, error) {
	p.skipPaths()

	arg, ok := p.peek()
	if !ok {
		return nil, errors.New("expression terminated prematurely")
	}

	switch arg {
	case "(":
		p.advance(1)

		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		p.skipPaths()
		if arg, ok := p.peek(); !ok || arg != ")" {
			return nil, errors.New("expected a ')'")
		}
		p.advance(1)
		return e, nil

	case "!", "-not":
		p.advance(1)

		factor, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return p.b.Not(factor), nil

	default:
		return p.parseLiteral()
	}
}

// parseLiteral dispatches a single test, action, flag or option.
func (p *parser) parseLiteral() (*expr.Expr, error) {
	arg := p.args[0]
	name := strings.TrimPrefix(arg, "-")

	if fn, ok := literals[name]; ok {
		return fn(p, arg)
	}

	// Prefix literals: -O<N> and -newerXY.
	if strings.HasPrefix(name, "O") {
		return p.parseOptLevel(arg)
	}
	if strings.HasPrefix(name, "newer") && name != "newer" {
		return p.parseNewerXY(arg)
	}

	return nil, fmt.Errorf("expected a predicate; found '%s'", arg)
}

// mtab lazily parses the mount table for -fstype and %F.
func (p *parser) mtab() *mtab.Table {
	if p.q.Mtab == nil {
		t, err := mtab.Parse()
		if err != nil {
			logrus.Debugf("mount table: %v", err)
			return nil
		}
		p.q.Mtab = t
	}
	return p.q.Mtab
}

// daystart snaps the reference time to the upcoming local midnight.
func (p *parser) daystart() {
	t := time.Unix(p.now.Sec, p.now.Nsec)
	if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || p.now.Nsec != 0 {
		t = t.AddDate(0, 0, 1)
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	p.now = unix.Timespec{Sec: midnight.Unix()}
}
