package decompose_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/taylorjet/decompose"
	"github.com/njchilds90/taylorjet/expr"
	"github.com/njchilds90/taylorjet/funcreg"
	"github.com/njchilds90/taylorjet/ir"
)

func TestSeedIndicesMatchInputOrder(t *testing.T) {
	x, y := expr.Var("x"), expr.Var("y")
	states := []decompose.State{
		{Name: "x", RHS: expr.Int(6)},
		{Name: "y", RHS: expr.AddE(x, y)},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, 0, prog.StateIndex["x"])
	assert.Equal(t, 1, prog.StateIndex["y"])
	assert.Equal(t, decompose.NodeState, prog.Nodes[0].Kind)
	assert.Equal(t, decompose.NodeState, prog.Nodes[1].Kind)
}

func TestEveryNodeReferencesOnlyEarlierIndices(t *testing.T) {
	x, y := expr.Var("x"), expr.Var("y")
	states := []decompose.State{
		{Name: "x", RHS: expr.MulE(x, y)},
		{Name: "y", RHS: expr.MulE(y, x)},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)

	for k, n := range prog.Nodes {
		switch n.Kind {
		case decompose.NodeBinary:
			assertEarlier(t, k, n.Lhs)
			assertEarlier(t, k, n.Rhs)
		case decompose.NodeCall:
			for _, a := range n.Args {
				assertEarlier(t, k, a)
			}
			if n.CompanionU >= 0 {
				assert.NotEqual(t, k, n.CompanionU)
			}
		case decompose.NodeAlias:
			assert.Less(t, n.AliasOf, k)
		}
	}
}

func assertEarlier(t *testing.T, k int, op ir.Operand) {
	t.Helper()
	if op.Kind == ir.OperandU {
		assert.Less(t, op.U, k, "node %d reads a u-index that has not been assigned yet", k)
	}
}

func TestCommonSubexpressionCollapsesAcrossRHS(t *testing.T) {
	// fac = x*y appears verbatim in both states' RHS; the decomposer must
	// recognize them as the same u-node regardless of processing order
	// (tie-breaking, exercised directly by the N-body builder).
	x, y := expr.Var("x"), expr.Var("y")
	shared := expr.MulE(x, y)
	states := []decompose.State{
		{Name: "x", RHS: expr.AddE(shared, expr.Int(1))},
		{Name: "y", RHS: expr.SubE(expr.MulE(x, y), expr.Int(1))},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)

	var sharedU = -1
	for k, n := range prog.Nodes {
		if n.Kind == decompose.NodeBinary && n.Op == expr.Mul {
			if sharedU == -1 {
				sharedU = k
			} else {
				t.Fatalf("expected a single mul(x,y) node, found a second at %d (first at %d)", k, sharedU)
			}
		}
	}
	assert.NotEqual(t, -1, sharedU, "mul(x,y) node not found")
}

func TestDecomposeRejectsEmptyStateName(t *testing.T) {
	_, err := decompose.Decompose([]decompose.State{{Name: "", RHS: expr.Int(0)}}, funcreg.NewRegistry())
	require.Error(t, err)
}

func TestDecomposeRejectsFreeVariable(t *testing.T) {
	states := []decompose.State{
		{Name: "x", RHS: expr.Var("ghost")},
	}
	_, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.Error(t, err)
}

func TestSinAllocatesCosCompanion(t *testing.T) {
	x := expr.Var("x")
	sinExpr, err := expr.Call("sin", nil, x)
	require.NoError(t, err)
	states := []decompose.State{
		{Name: "x", RHS: sinExpr},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)

	var sinNode *decompose.Node
	for i := range prog.Nodes {
		if prog.Nodes[i].Kind == decompose.NodeCall && prog.Nodes[i].FuncName == "sin" {
			sinNode = &prog.Nodes[i]
		}
	}
	require.NotNil(t, sinNode)
	require.GreaterOrEqual(t, sinNode.CompanionU, 0)
	companion := prog.Nodes[sinNode.CompanionU]
	assert.Equal(t, "cos", companion.FuncName)
}

func TestTimeVariableBecomesTimeOperand(t *testing.T) {
	states := []decompose.State{
		{Name: "x", RHS: expr.Var("t")},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)
	leaf := prog.Nodes[prog.DerivIndex[0]]
	assert.Equal(t, ir.OperandTime, leaf.Lhs.Kind)
}

func TestStateNamesAreSorted(t *testing.T) {
	states := []decompose.State{
		{Name: "zeta", RHS: expr.Int(0)},
		{Name: "alpha", RHS: expr.Int(0)},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, prog.StateNames())
}

func TestGroupsByShapeSeparatesBinaryFromCall(t *testing.T) {
	x := expr.Var("x")
	sinExpr, err := expr.Call("sin", nil, x)
	require.NoError(t, err)
	states := []decompose.State{
		{Name: "x", RHS: expr.AddE(sinExpr, expr.Int(1))},
	}
	prog, err := decompose.Decompose(states, funcreg.NewRegistry())
	require.NoError(t, err)

	groups := prog.GroupsByShape()
	total := 0
	for _, idxs := range groups {
		total += len(idxs)
	}
	assert.Equal(t, len(prog.Nodes), total, "every node must land in exactly one shape group")
	assert.Contains(t, groups, "call:sin/1")
	assert.Contains(t, groups, "call:cos/1") // sin's companion
}
