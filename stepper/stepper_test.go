package stepper_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/compiler"
	"github.com/njchilds90/taylorjet/decompose"
	"github.com/njchilds90/taylorjet/expr"
	"github.com/njchilds90/taylorjet/ir"
	"github.com/njchilds90/taylorjet/stepper"
)

func exponentialJet(t *testing.T, order int) *compiler.CompiledJet {
	t.Helper()
	x := expr.Var("x")
	jet, err := compiler.Compile([]decompose.State{{Name: "x", RHS: x}}, compiler.Options{
		Symbol: "expsys", Order: order, Batch: 1,
	})
	require.NoError(t, err)
	return jet
}

func TestNewRejectsLowOrder(t *testing.T) {
	jet := exponentialJet(t, 1)
	_, err := stepper.New(jet, []float64{1}, stepper.Options{})
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

func TestNewRejectsCompactModeMismatch(t *testing.T) {
	jet := exponentialJet(t, 2)
	_, err := stepper.New(jet, []float64{1}, stepper.Options{CompactMode: true})
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

func TestNewRejectsHighAccuracyOnBinary64(t *testing.T) {
	jet := exponentialJet(t, 2)
	_, err := stepper.New(jet, []float64{1}, stepper.Options{HighAccuracy: true})
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.InvalidArg))
}

// TestStepAdvancesExponentialForward exercises dot x = x: the polynomial's
// own coefficients (c_n = x0/n!) are always positive for x0>0, so the
// convergence-radius estimate is well-defined and Step must both advance
// time forward and grow the state.
func TestStepAdvancesExponentialForward(t *testing.T) {
	jet := exponentialJet(t, 4)
	s, err := stepper.New(jet, []float64{1}, stepper.Options{})
	require.NoError(t, err)

	h, err := s.Step()
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Greater(t, h[0], 0.0)
	assert.InDelta(t, h[0], s.Time()[0], 1e-15)
	assert.Greater(t, s.State()[0], 1.0)
}

// TestStepHonorsUpperBound exercises the clip-to-upper-bound rule: a jet
// whose natural step would overshoot the bound is clamped exactly to it.
func TestStepHonorsUpperBound(t *testing.T) {
	jet := exponentialJet(t, 4)
	s, err := stepper.New(jet, []float64{1}, stepper.Options{UpperBound: 1e-12})
	require.NoError(t, err)
	h, err := s.Step()
	require.NoError(t, err)
	assert.InDelta(t, 1e-12, h[0], 1e-20)
	assert.InDelta(t, 1e-12, s.Time()[0], 1e-20)
}

// TestStepReversesUnderNegativeDirection exercises backward integration:
// Direction=-1 must produce a negative step and a decreasing time.
func TestStepReversesUnderNegativeDirection(t *testing.T) {
	jet := exponentialJet(t, 4)
	s, err := stepper.New(jet, []float64{1}, stepper.Options{Direction: -1})
	require.NoError(t, err)
	h, err := s.Step()
	require.NoError(t, err)
	assert.Less(t, h[0], 0.0)
	assert.Less(t, s.Time()[0], 0.0)
}

// fakeStepJet lets NumericalFailure be triggered deterministically without
// depending on any particular ODE's numerics.
func fakeStepJet(fn ir.JetFunc) *compiler.CompiledJet {
	return &compiler.CompiledJet{
		Symbol: "fake", Order: 2, Batch: 1, Precision: ir.Binary64,
		NStates: 1, NTape: 1, Fn: fn,
	}
}

func TestStepReportsNumericalFailureAndLeavesStateUncommitted(t *testing.T) {
	jet := fakeStepJet(func(tape, pars, time []float64) {
		tape[0] = 1        // order 0, c0
		tape[1] = 1        // order 1, c1
		tape[2] = math.NaN() // order 2, c2 -- corrupts the radius estimate
	})
	s, err := stepper.New(jet, []float64{1}, stepper.Options{})
	require.NoError(t, err)

	_, err = s.Step()
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.NumericalFailure))
	assert.Equal(t, []float64{1}, s.State())
	assert.Equal(t, []float64{0}, s.Time())
}

func TestRunStopsAtPredicate(t *testing.T) {
	jet := exponentialJet(t, 4)
	s, err := stepper.New(jet, []float64{1}, stepper.Options{})
	require.NoError(t, err)

	steps := 0
	err = s.Run(func(*stepper.Stepper) bool {
		steps++
		return steps > 3
	})
	require.NoError(t, err)
	assert.Equal(t, 4, steps)
	assert.Greater(t, s.Time()[0], 0.0)
}
