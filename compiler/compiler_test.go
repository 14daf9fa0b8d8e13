package compiler_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/compiler"
	"github.com/njchilds90/taylorjet/decompose"
	"github.com/njchilds90/taylorjet/expr"
)

func TestCompileRoundTripMatchesDirectPipeline(t *testing.T) {
	x, y := expr.Var("x"), expr.Var("y")
	states := []decompose.State{
		{Name: "x", RHS: expr.Int(6)},
		{Name: "y", RHS: expr.AddE(x, y)},
	}
	jet, err := compiler.Compile(states, compiler.Options{Symbol: "f", Order: 1, Batch: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, jet.NStates)
	assert.GreaterOrEqual(t, jet.NTape, jet.NStates)

	tape := jet.NewTape()
	require.NoError(t, jet.SeedStates(tape, []float64{2, 3}))
	pars := make([]float64, 1)
	jet.Fn(tape, pars, []float64{0})

	// A first worked example: order 1, batch 1, initial (2,3)
	// -> the state slice of the jet is (2, 3, 6, 5).
	order0 := tape[0 : jet.NStates*jet.Batch]
	order1 := tape[jet.NTape*jet.Batch : jet.NTape*jet.Batch+jet.NStates*jet.Batch]
	assert.Equal(t, []float64{2, 3}, order0)
	assert.Equal(t, []float64{6, 5}, order1)
}

func TestCompileAggregatesAllValidationFailures(t *testing.T) {
	_, err := compiler.Compile(nil, compiler.Options{Symbol: "", Order: -1, Batch: 0})
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
	// multierr joins every independent failure into one message.
	msg := err.Error()
	assert.Contains(t, msg, "symbol must not be empty")
	assert.Contains(t, msg, "at least one state is required")
	assert.Contains(t, msg, "order must be >= 0")
	assert.Contains(t, msg, "batch must be >= 1")
}

func TestCompileSeedStatesRejectsWrongLength(t *testing.T) {
	states := []decompose.State{{Name: "x", RHS: expr.Int(1)}}
	jet, err := compiler.Compile(states, compiler.Options{Symbol: "f", Order: 0, Batch: 1})
	require.NoError(t, err)
	tape := jet.NewTape()
	err = jet.SeedStates(tape, []float64{1, 2, 3})
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

func TestCompilePropagatesDecomposeErrors(t *testing.T) {
	states := []decompose.State{{Name: "x", RHS: expr.Var("ghost")}}
	_, err := compiler.Compile(states, compiler.Options{Symbol: "f", Order: 0, Batch: 1})
	require.Error(t, err)
}

func TestCompileIsDeterministicAcrossCalls(t *testing.T) {
	newStates := func() []decompose.State {
		x, y := expr.Var("x"), expr.Var("y")
		return []decompose.State{
			{Name: "x", RHS: expr.Int(6)},
			{Name: "y", RHS: expr.AddE(x, y)},
		}
	}
	jetA, err := compiler.Compile(newStates(), compiler.Options{Symbol: "f", Order: 2, Batch: 1})
	require.NoError(t, err)
	jetB, err := compiler.Compile(newStates(), compiler.Options{Symbol: "f", Order: 2, Batch: 1})
	require.NoError(t, err)

	// Fn is a closure over the recorded program, not itself comparable;
	// everything else should match exactly between two independent
	// compilations of the same system.
	if diff := cmp.Diff(jetA, jetB, cmpopts.IgnoreFields(compiler.CompiledJet{}, "Fn")); diff != "" {
		t.Errorf("compiling the same system twice produced different metadata (-first +second):\n%s", diff)
	}
}
