// Package ir defines the thin façade the code generator (package codegen)
// drives, and the contract any JIT host must satisfy to be an admissible
// backend: types, constants, loads/stores, arithmetic, calls to named
// externals, and the function-pointer handoff.
// The core treats the concrete backend as an external collaborator; this
// package only pins down the interface. Package refbackend is one
// admissible implementation.
package ir

// Precision selects the target floating-point width. Each selection
// produces a distinct jet symbol; mixing precisions across calls is
// forbidden.
type Precision int

const (
	Binary64 Precision = iota
	Binary80
	Binary128
)

func (p Precision) String() string {
	switch p {
	case Binary64:
		return "binary64"
	case Binary80:
		return "binary80"
	case Binary128:
		return "binary128"
	default:
		return "unknown-precision"
	}
}

// BinOp enumerates the elementary arithmetic operations the façade
// exposes to emit Taylor recurrences and recurrence-derived code.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
)

// JetFunc is the compiled entry point:
//
//	void jet_<name>(FP* tape, FP* pars, FP* time)
//
// Go has no function-pointer-by-symbol-name ABI to target, so the compiled
// step routine is realized here as a Go closure over the emitted step
// program; Module.Lookup is this repository's stand-in for resolving a
// compiled symbol.
//
// tape is (order+1) x N x B contiguous float64 values; pars is P x B;
// time is B lane values.
type JetFunc func(tape, pars, time []float64)

// Value is an opaque handle to a vector (width B) IR value produced by a
// Builder/Emitter. Concrete backends define their own underlying type;
// codegen never inspects it beyond passing it back to the Emitter that
// produced it.
type Value interface {
	// Width reports the SIMD batch width this value carries one lane per.
	Width() int
}

// Emitter is the per-function façade a ModuleBuilder hands the code
// generator while it is building one order-n kernel. All operations are
// vectorized across the batch width B fixed at module construction.
type Emitter interface {
	// ConstSplat returns a width-B vector with every lane set to v,
	// rounded to the module's target precision.
	ConstSplat(v float64) Value
	// LoadTape reads row `order` of u-index `u` from the tape.
	LoadTape(order, u int) Value
	// StoreTape writes row `order` of u-index `u` of the tape.
	StoreTape(order, u int, v Value)
	// LoadParam reads the width-B vector at parameter index idx from the
	// read-only parameter array.
	LoadParam(idx int) Value
	// LoadTime reads the width-B current-time vector.
	LoadTime() Value
	// BinOp applies an elementwise binary arithmetic operation.
	BinOp(op BinOp, a, b Value) Value
	// Neg negates every lane.
	Neg(a Value) Value
	// PairwiseSum reduces terms with a balanced binary-tree of additions
	// depth ceil(log2 k) for k > 2 terms, a straight
	// single '+' for <= 2, the odd leftover in a level carried forward
	// unchanged.
	PairwiseSum(terms []Value) (Value, error)
	// CallExternal invokes a named external math symbol elementwise. ok
	// is false when the backend has no such symbol at the module's
	// target precision; the caller (a funcreg.Behavior's codegen hook) is
	// responsible for the unrolled-scalar-and-cast fallback in that case.
	CallExternal(name string, args ...Value) (result Value, ok bool)
}

// ModuleBuilder accumulates one or more jet function definitions before
// being finalized into a resolvable Module.
type ModuleBuilder interface {
	// DefineJet declares the entry point jet_<symbol> with decomposition
	// size nTape. body is invoked once per Taylor order 0..order
	// (inclusive) with an Emitter scoped to that order's kernel; bodies
	// are expected to call StoreTape exactly once per u-index they are
	// responsible for.
	DefineJet(symbol string, order, nTape int, body func(order int, e Emitter) error) error
	// Finalize optimizes (if applicable) and returns the resolvable
	// module, or a BackendFailure if the host refused a construct.
	Finalize() (Module, error)
}

// Module is a finalized, resolvable compilation unit.
type Module interface {
	// Lookup resolves symbol to a callable jet function.
	Lookup(symbol string) (JetFunc, bool)
}

// Builder is the entry point into the JIT host: given a precision and
// batch width, start a fresh module. Any backend satisfying this contract
// is admissible.
type Builder interface {
	NewModule(name string, prec Precision, batch int) (ModuleBuilder, error)
}
