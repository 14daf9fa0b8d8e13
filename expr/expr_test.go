package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/expr"
)

func TestNumberEqualityAcrossWidth(t *testing.T) {
	a := expr.Float(2.0)
	b := expr.Int(2)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestConstantFoldingPreservesEquality(t *testing.T) {
	folded := expr.AddE(expr.Int(2), expr.Int(3))
	direct := expr.Int(5)
	assert.True(t, folded.Equal(direct))
}

func TestIdentityShortCircuits(t *testing.T) {
	x := expr.Var("x")
	assert.True(t, expr.AddE(x, expr.Int(0)).Equal(x))
	assert.True(t, expr.MulE(x, expr.Int(1)).Equal(x))
	assert.True(t, expr.MulE(x, expr.Int(0)).Equal(expr.Int(0)))
	assert.True(t, expr.SubE(x, x).Equal(expr.Int(0)))
	assert.True(t, expr.MulE(expr.Int(1), x).Equal(x))
	assert.True(t, expr.DivE(expr.Int(0), x).Equal(expr.Int(0)))
}

// TestDivByZeroLiteralStaysSymbolic guards against a regression where
// constant-folding ran ahead of the zero-divisor check and panicked via
// big.Rat.Quo instead of producing a symbolic div node.
func TestDivByZeroLiteralStaysSymbolic(t *testing.T) {
	out := expr.Binary(expr.Div, expr.Int(5), expr.Int(0))
	op, l, r, ok := out.Op()
	require.True(t, ok)
	assert.Equal(t, expr.Div, op)
	assert.True(t, l.Equal(expr.Int(5)))
	assert.True(t, r.Equal(expr.Int(0)))
}

func TestHashConsistentWithEqual(t *testing.T) {
	x := expr.Var("x")
	y := expr.Var("y")
	a := expr.AddE(x, y)
	b := expr.AddE(expr.Var("x"), expr.Var("y"))
	require.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	c := expr.AddE(y, x)
	assert.False(t, a.Equal(c), "operand order matters for plain binary add")
}

func TestSubstitutePreservesSharing(t *testing.T) {
	x := expr.Var("x")
	shared := expr.MulE(x, x)
	tree := expr.AddE(shared, shared)

	y := expr.Var("y")
	out := tree.Substitute(map[string]*expr.Expr{"x": y})
	op, l, r, _ := out.Op()
	assert.Equal(t, expr.Add, op)
	assert.True(t, l.Equal(r), "both occurrences of the shared subexpression should substitute identically")
	assert.True(t, l.Equal(expr.MulE(y, y)))

	// A numeric substitution folds at construction all the way up:
	// 3*3 -> 9, then 9+9 -> 18.
	assert.True(t, tree.Substitute(map[string]*expr.Expr{"x": expr.Int(3)}).Equal(expr.Int(18)))
}

func TestCallRejectsEmptyName(t *testing.T) {
	_, err := expr.Call("", nil, expr.Int(1))
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

func TestCallRejectsNilArgument(t *testing.T) {
	_, err := expr.Call("sin", nil, nil)
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

func TestDraftPublishFoldsLikeDirectConstruction(t *testing.T) {
	d := expr.NewBinaryDraft(expr.Mul)
	d.SetKid(0, expr.Int(0))
	d.SetKid(1, expr.Var("x"))
	out, err := d.Publish()
	require.NoError(t, err)
	assert.True(t, out.Equal(expr.Int(0)))
}

func TestDraftPublishRejectsUnsetOperand(t *testing.T) {
	d := expr.NewBinaryDraft(expr.Add)
	d.SetKid(0, expr.Int(1))
	_, err := d.Publish()
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

func TestStringRendersInfix(t *testing.T) {
	x, y := expr.Var("x"), expr.Var("y")
	e := expr.MulE(expr.AddE(x, y), expr.Int(2))
	assert.Equal(t, "(x + y) * 2", e.String())
}
