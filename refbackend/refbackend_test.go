package refbackend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/ir"
	"github.com/njchilds90/taylorjet/refbackend"
)

func TestDefineJetAndLookupRoundTrip(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 2)
	require.NoError(t, err)

	err = mb.DefineJet("double", 1, 1, func(order int, e ir.Emitter) error {
		switch order {
		case 0:
			e.StoreTape(0, 0, e.LoadParam(0))
		case 1:
			two := e.ConstSplat(2)
			e.StoreTape(1, 0, e.BinOp(ir.OpMul, two, e.LoadTape(0, 0)))
		}
		return nil
	})
	require.NoError(t, err)

	mod, err := mb.Finalize()
	require.NoError(t, err)
	fn, ok := mod.Lookup("double")
	require.True(t, ok)

	tape := make([]float64, 2*1*2) // (order+1) x N x B
	pars := []float64{3, 4}        // P=1 x B=2
	time := []float64{0, 0}
	fn(tape, pars, time)

	assert.Equal(t, []float64{3, 4}, tape[0:2])
	assert.Equal(t, []float64{6, 8}, tape[2:4])
}

func TestLookupUnknownSymbolFails(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)
	mod, err := mb.Finalize()
	require.NoError(t, err)
	_, ok := mod.Lookup("nope")
	assert.False(t, ok)
}

func TestDefineJetRejectsDuplicateSymbol(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)
	body := func(order int, e ir.Emitter) error { return nil }
	require.NoError(t, mb.DefineJet("f", 0, 1, body))
	err = mb.DefineJet("f", 0, 1, body)
	assert.Error(t, err)
}

func TestRecordingErrorSurfacesAtDefineJet(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)
	err = mb.DefineJet("f", 0, 1, func(order int, e ir.Emitter) error {
		_, ok := e.CallExternal("sigmoid", e.ConstSplat(0))
		if !ok {
			return taylorjet.New(taylorjet.BackendFailure, "no sigmoid external symbol, as intended")
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, taylorjet.Is(err, taylorjet.BackendFailure))
}

func TestPairwiseSumMatchesPlainSum(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)

	err = mb.DefineJet("sum5", 0, 6, func(order int, e ir.Emitter) error {
		terms := make([]ir.Value, 0, 5)
		for i := 0; i < 5; i++ {
			terms = append(terms, e.LoadParam(i))
		}
		sum, err := e.PairwiseSum(terms)
		if err != nil {
			return err
		}
		e.StoreTape(0, 0, sum)
		return nil
	})
	require.NoError(t, err)

	mod, err := mb.Finalize()
	require.NoError(t, err)
	fn, ok := mod.Lookup("sum5")
	require.True(t, ok)

	tape := make([]float64, 1*6*1)
	pars := []float64{1, 2, 3, 4, 5}
	fn(tape, pars, []float64{0})
	assert.Equal(t, 15.0, tape[0])
}

func TestExternalSigmoidUnsupportedByDesign(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)
	var sawFallback bool
	err = mb.DefineJet("f", 0, 1, func(order int, e ir.Emitter) error {
		_, ok := e.CallExternal("sigmoid", e.ConstSplat(0))
		sawFallback = !ok
		e.StoreTape(0, 0, e.ConstSplat(0))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sawFallback, "sigmoid must be absent so funcreg's own fallback path runs")
}

func TestDisassembleRendersOneTextBlockPerOrder(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)
	err = mb.DefineJet("double", 1, 1, func(order int, e ir.Emitter) error {
		switch order {
		case 0:
			e.StoreTape(0, 0, e.LoadParam(0))
		case 1:
			two := e.ConstSplat(2)
			e.StoreTape(1, 0, e.BinOp(ir.OpMul, two, e.LoadTape(0, 0)))
		}
		return nil
	})
	require.NoError(t, err)
	mod, err := mb.Finalize()
	require.NoError(t, err)

	d, ok := mod.(refbackend.Disassembler)
	require.True(t, ok, "refbackend modules must implement Disassembler")
	text, err := d.Disassemble("double")
	require.NoError(t, err)
	assert.Contains(t, text, "TEXT order0(SB)")
	assert.Contains(t, text, "TEXT order1(SB)")
	assert.Contains(t, text, "MULSD")

	_, err = d.Disassemble("nope")
	assert.Error(t, err)
}

func TestExternalExpMatchesMath(t *testing.T) {
	builder := refbackend.New()
	mb, err := builder.NewModule("m", ir.Binary64, 1)
	require.NoError(t, err)
	err = mb.DefineJet("expzero", 0, 1, func(order int, e ir.Emitter) error {
		v, ok := e.CallExternal("exp", e.LoadParam(0))
		require.True(t, ok)
		e.StoreTape(0, 0, v)
		return nil
	})
	require.NoError(t, err)
	mod, err := mb.Finalize()
	require.NoError(t, err)
	fn, _ := mod.Lookup("expzero")
	tape := make([]float64, 1)
	pars := []float64{0}
	fn(tape, pars, []float64{0})
	assert.InDelta(t, 1.0, tape[0], 1e-12)
}
