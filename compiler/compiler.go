// Package compiler wires the pipeline together: decompose the RHS list,
// drive codegen.Generate against a chosen JIT host, and hand back a
// resolved jet function plus the tape layout the caller needs to drive it.
package compiler

import (
	"go.uber.org/multierr"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/codegen"
	"github.com/njchilds90/taylorjet/decompose"
	"github.com/njchilds90/taylorjet/funcreg"
	"github.com/njchilds90/taylorjet/ir"
	"github.com/njchilds90/taylorjet/refbackend"
)

// Options configures one Compile call. Backend and Registry default to
// refbackend.New() and a fresh funcreg.NewRegistry() when left nil, so a
// caller that only wants the reference implementation can omit both.
type Options struct {
	Symbol    string
	Order     int
	Batch     int
	Precision ir.Precision
	Compact   bool
	Backend   ir.Builder
	Registry  *funcreg.Registry
}

// CompiledJet is the resolved result of one Compile call: the callable jet
// function plus the shape of the tape it expects, since a caller allocating
// `(order+1) x nTape x batch` floats needs NTape and can't derive it from
// the ODE system alone (it includes scratch u-nodes beyond the states).
type CompiledJet struct {
	Symbol    string
	Order     int
	Batch     int
	Precision ir.Precision
	Compact   bool
	NStates   int
	NTape     int
	Fn        ir.JetFunc
}

// NewTape allocates a zeroed tape of the shape this jet expects.
func (c *CompiledJet) NewTape() []float64 {
	return make([]float64, (c.Order+1)*c.NTape*c.Batch)
}

// SeedStates writes init (NStates*Batch values, lane-interleaved per
// into row 0 of tape, leaving the scratch u-nodes at zero.
func (c *CompiledJet) SeedStates(tape, init []float64) error {
	want := c.NStates * c.Batch
	if len(init) != want {
		return taylorjet.New(taylorjet.InvalidArg, "compiler: SeedStates expected %d values, got %d", want, len(init))
	}
	copy(tape[:want], init)
	return nil
}

// Compile validates opts, decomposes states against the registry, and
// generates one jet symbol against the backend, aggregating every
// construction-time validation failure with multierr (§7 stratum 1) rather
// than stopping at the first one.
func Compile(states []decompose.State, opts Options) (*CompiledJet, error) {
	var errs error
	if opts.Symbol == "" {
		errs = multierr.Append(errs, taylorjet.New(taylorjet.InvalidArg, "compiler: symbol must not be empty"))
	}
	if len(states) == 0 {
		errs = multierr.Append(errs, taylorjet.New(taylorjet.InvalidArg, "compiler: at least one state is required"))
	}
	if opts.Order < 0 {
		errs = multierr.Append(errs, taylorjet.New(taylorjet.InvalidArg, "compiler: order must be >= 0, got %d", opts.Order))
	}
	if opts.Batch <= 0 {
		errs = multierr.Append(errs, taylorjet.New(taylorjet.InvalidArg, "compiler: batch must be >= 1, got %d", opts.Batch))
	}
	if errs != nil {
		return nil, errs
	}

	registry := opts.Registry
	if registry == nil {
		registry = funcreg.NewRegistry()
	}
	backend := opts.Backend
	if backend == nil {
		backend = refbackend.New()
	}

	prog, err := decompose.Decompose(states, registry)
	if err != nil {
		return nil, err
	}

	mod, err := codegen.Generate(backend, prog, registry, codegen.Options{
		Symbol:    opts.Symbol,
		Order:     opts.Order,
		Batch:     opts.Batch,
		Precision: opts.Precision,
		Compact:   opts.Compact,
	})
	if err != nil {
		return nil, err
	}

	fn, ok := mod.Lookup(opts.Symbol)
	if !ok {
		return nil, taylorjet.New(taylorjet.BackendFailure, "compiler: backend finalized without symbol %q", opts.Symbol)
	}

	return &CompiledJet{
		Symbol:    opts.Symbol,
		Order:     opts.Order,
		Batch:     opts.Batch,
		Precision: opts.Precision,
		Compact:   opts.Compact,
		NStates:   prog.NStates,
		NTape:     len(prog.Nodes),
		Fn:        fn,
	}, nil
}
