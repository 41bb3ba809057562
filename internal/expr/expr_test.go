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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pureLeaf makes a distinguishable pure test node.
func pureLeaf(name string) *Expr {
	return NewTest(TestHidden, name)
}

// impureLeaf makes a distinguishable action node.
func impureLeaf(name string) *Expr {
	return NewAction(ActionPrint, name)
}

func TestOptimizerConstantFolding(t *testing.T) {
	t.Parallel()
	b := &Builder{Level: 1}

	t.Run("not true is false", func(t *testing.T) {
		assert.Same(t, False, b.Not(True))
	})

	t.Run("not false is true", func(t *testing.T) {
		assert.Same(t, True, b.Not(False))
	})

	t.Run("double negation cancels", func(t *testing.T) {
		leaf := pureLeaf("-hidden")
		assert.Same(t, leaf, b.Not(b.Not(leaf)))
	})

	t.Run("conjunction elimination", func(t *testing.T) {
		leaf := pureLeaf("-hidden")
		assert.Same(t, leaf, b.And(True, leaf))
		assert.Same(t, leaf, b.And(leaf, True))
	})

	t.Run("conjunction short-circuit", func(t *testing.T) {
		leaf := pureLeaf("-hidden")
		assert.Same(t, False, b.And(False, leaf))
	})

	t.Run("disjunctive syllogism", func(t *testing.T) {
		leaf := pureLeaf("-hidden")
		assert.Same(t, leaf, b.Or(False, leaf))
		assert.Same(t, leaf, b.Or(leaf, False))
		assert.Same(t, True, b.Or(True, leaf))
	})
}

func TestOptimizerDeMorgan(t *testing.T) {
	t.Parallel()
	b := &Builder{Level: 1}

	t.Run("not-and of negations becomes or", func(t *testing.T) {
		x := pureLeaf("x")
		y := pureLeaf("y")

		// (!x -a !y) <==> !(x -o y)
		e := b.And(b.Not(x), b.Not(y))
		require.Equal(t, OpNot, e.Kind())
		require.Equal(t, OpOr, e.Rhs().Kind())
		assert.Same(t, x, e.Rhs().Lhs())
		assert.Same(t, y, e.Rhs().Rhs())
	})

	t.Run("not over or pushes inward", func(t *testing.T) {
		x := pureLeaf("x")
		y := pureLeaf("y")

		// !(!x -o y) <==> (x -a !y)
		e := b.Not(b.Or(b.Not(x), y))
		require.Equal(t, OpAnd, e.Kind())
		assert.Same(t, x, e.Lhs())
		require.Equal(t, OpNot, e.Rhs().Kind())
		assert.Same(t, y, e.Rhs().Rhs())
	})
}

func TestOptimizerPurity(t *testing.T) {
	t.Parallel()

	t.Run("pure lhs dropped when rhs forces false", func(t *testing.T) {
		b := &Builder{Level: 2}
		assert.Same(t, False, b.And(pureLeaf("x"), False))
	})

	t.Run("impure lhs kept when rhs forces false", func(t *testing.T) {
		b := &Builder{Level: 2}
		action := impureLeaf("-print")
		e := b.And(action, False)
		require.Equal(t, OpAnd, e.Kind())
		assert.Same(t, action, e.Lhs())
	})

	t.Run("kept below level 2", func(t *testing.T) {
		b := &Builder{Level: 1}
		e := b.And(pureLeaf("x"), False)
		assert.Equal(t, OpAnd, e.Kind())
	})

	t.Run("pure comma lhs dropped", func(t *testing.T) {
		b := &Builder{Level: 2}
		leaf := pureLeaf("y")
		assert.Same(t, leaf, b.Comma(pureLeaf("x"), leaf))
	})

	t.Run("impure or rhs not dropped for always-true lhs heuristics", func(t *testing.T) {
		// (-type f -o -print) must keep both operands: actions never
		// carry the always-true flag.
		b := &Builder{Level: 3}
		e := b.Or(pureLeaf("-type"), impureLeaf("-print"))
		assert.Equal(t, OpOr, e.Kind())
	})
}

func TestOptimizerTopLevel(t *testing.T) {
	t.Parallel()

	t.Run("pure tail stripped", func(t *testing.T) {
		b := &Builder{Level: 2}
		action := impureLeaf("-print")
		e := b.And(action, pureLeaf("x"))
		require.Equal(t, OpAnd, e.Kind())

		opt := b.OptimizeWhole(e)
		assert.Same(t, action, opt)
	})

	t.Run("fully pure expression becomes false at O4", func(t *testing.T) {
		b := &Builder{Level: 4}
		e := b.And(pureLeaf("x"), pureLeaf("y"))
		assert.Same(t, False, b.OptimizeWhole(e))
	})

	t.Run("pure expression kept below O4", func(t *testing.T) {
		b := &Builder{Level: 3}
		e := pureLeaf("x")
		assert.Same(t, e, b.OptimizeWhole(e))
	})

	t.Run("idempotent", func(t *testing.T) {
		b := &Builder{Level: 3}
		e := b.And(impureLeaf("-print"), pureLeaf("x"))
		once := b.OptimizeWhole(e)
		assert.Same(t, once, b.OptimizeWhole(once))
	})
}

func TestExprFlags(t *testing.T) {
	t.Parallel()
	b := &Builder{Level: 0}

	t.Run("purity propagates", func(t *testing.T) {
		pure := b.And(pureLeaf("x"), pureLeaf("y"))
		assert.True(t, pure.Pure())

		mixed := b.And(pureLeaf("x"), impureLeaf("-print"))
		assert.False(t, mixed.Pure())
	})

	t.Run("always flags propagate through operators", func(t *testing.T) {
		e := b.And(True, True)
		assert.True(t, e.alwaysTrue)
		assert.False(t, e.alwaysFalse)

		e = b.And(True, False)
		assert.False(t, e.alwaysTrue)
		assert.True(t, e.alwaysFalse)

		e = b.Or(False, True)
		assert.True(t, e.alwaysTrue)

		e = b.Not(True)
		assert.True(t, e.alwaysFalse)

		e = b.Comma(True, False)
		assert.True(t, e.alwaysFalse)
		assert.False(t, e.alwaysTrue)
	})
}

func TestExprString(t *testing.T) {
	t.Parallel()
	b := &Builder{Level: 0}

	e := b.And(b.Not(NewTest(TestName, "-name", "*.go")), NewAction(ActionPrint, "-print"))
	assert.Equal(t, "(-a (! (-name *.go)) (-print))", e.String())
}
