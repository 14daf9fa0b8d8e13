// Package stepper implements the adaptive Taylor-series step controller:
// given a compiled jet, estimate a convergence radius from its highest two
// coefficient norms, pick a step size from a truncation-error bound, and
// roll the polynomial forward with Horner's scheme.
package stepper

import (
	"math"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/compiler"
	"github.com/njchilds90/taylorjet/ir"
)

// Options configures a Stepper. CompactMode and HighAccuracy are recorded
// for agreement-checking only — both are really properties of how the jet
// itself was compiled (codegen.Options.Compact, and the Binary80/Binary128
// precision tags refbackend widens its pairwise sums for), not something a
// runtime stepper can retrofit onto an already-compiled jet.
type Options struct {
	Tol          float64
	CompactMode  bool
	HighAccuracy bool
	Pars         []float64
	Time         []float64
	Direction    float64
	UpperBound   float64
}

// Stepper advances one compiled jet's state by repeated adaptive steps. It
// is not safe for concurrent use: it owns the tape workspace and the
// current state/time vectors.
type Stepper struct {
	jet       *compiler.CompiledJet
	tape      []float64
	pars      []float64
	time      []float64
	tol       float64
	direction float64
	upper     float64
	hasUpper  bool
}

// New builds a Stepper seeded with init (NStates*Batch values,
// lane-interleaved).
func New(jet *compiler.CompiledJet, init []float64, opts Options) (*Stepper, error) {
	if jet == nil {
		return nil, taylorjet.New(taylorjet.InvalidArg, "stepper: jet must not be nil")
	}
	// rho_{O-1} requires O-1 >= 1 so its -1/m exponent is defined.
	if jet.Order < 2 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "stepper: jet order must be >= 2 to estimate a convergence radius, got %d", jet.Order)
	}
	if opts.CompactMode != jet.Compact {
		return nil, taylorjet.New(taylorjet.InvalidArg, "stepper: CompactMode=%v does not match how the jet was compiled (Compact=%v)", opts.CompactMode, jet.Compact)
	}
	if opts.HighAccuracy && jet.Precision == ir.Binary64 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "stepper: HighAccuracy requires a jet compiled at Binary80 or Binary128, got Binary64")
	}

	tape := jet.NewTape()
	if err := jet.SeedStates(tape, init); err != nil {
		return nil, err
	}

	time := opts.Time
	if time == nil {
		time = make([]float64, jet.Batch)
	} else if len(time) != jet.Batch {
		return nil, taylorjet.New(taylorjet.InvalidArg, "stepper: time must have %d lanes, got %d", jet.Batch, len(time))
	}
	timeCopy := make([]float64, jet.Batch)
	copy(timeCopy, time)

	tol := opts.Tol
	if tol == 0 {
		tol = epsilonFor(jet.Precision)
	}
	direction := opts.Direction
	if direction == 0 {
		direction = 1
	}

	return &Stepper{
		jet:       jet,
		tape:      tape,
		pars:      opts.Pars,
		time:      timeCopy,
		tol:       tol,
		direction: direction,
		upper:     opts.UpperBound,
		hasUpper:  opts.UpperBound != 0,
	}, nil
}

// Time returns the current per-lane time, owned by the Stepper — callers
// must copy it before mutating.
func (s *Stepper) Time() []float64 { return s.time }

// State returns a fresh copy of the current state row (row 0, the first
// NStates*Batch tape entries).
func (s *Stepper) State() []float64 {
	n := s.jet.NStates * s.jet.Batch
	out := make([]float64, n)
	copy(out, s.tape[:n])
	return out
}

// Step evaluates the jet at the current state and time, picks a per-lane
// step size from the truncation-error bound, rolls the Taylor polynomial
// forward via Horner's scheme, and commits the result. It returns the
// signed step taken in each lane. On NumericalFailure neither the state nor
// the time is modified.
func (s *Stepper) Step() ([]float64, error) {
	jet := s.jet
	order, batch, nTape, nStates := jet.Order, jet.Batch, jet.NTape, jet.NStates

	jet.Fn(s.tape, s.pars, s.time)

	h := make([]float64, batch)
	for lane := 0; lane < batch; lane++ {
		rho, err := convergenceRadius(s.tape, nTape, nStates, batch, order, lane)
		if err != nil {
			return nil, err
		}
		step := rho * math.Exp(-(math.Log(1/s.tol)+2)/float64(2*order-1)) * s.direction
		if s.hasUpper {
			remaining := s.upper - s.time[lane]
			if (s.direction > 0 && step > remaining) || (s.direction < 0 && step < remaining) {
				step = remaining
			}
		}
		h[lane] = step
	}

	newState := make([]float64, nStates*batch)
	for u := 0; u < nStates; u++ {
		for lane := 0; lane < batch; lane++ {
			v := horner(s.tape, nTape, batch, order, u, lane, h[lane])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, taylorjet.New(taylorjet.NumericalFailure, "stepper: non-finite result rolling state u[%d] lane %d forward", u, lane)
			}
			newState[u*batch+lane] = v
		}
	}

	copy(s.tape[:nStates*batch], newState)
	for lane := 0; lane < batch; lane++ {
		s.time[lane] += h[lane]
	}
	return h, nil
}

// Run calls Step until pred reports done, checking pred only between steps
// (never mid-step), or until a step fails.
func (s *Stepper) Run(pred func(*Stepper) bool) error {
	for !pred(s) {
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

func convergenceRadius(tape []float64, nTape, nStates, batch, order, lane int) (float64, error) {
	rhoPrev, err := invRootNorm(tape, nTape, nStates, batch, order-1, lane)
	if err != nil {
		return 0, err
	}
	rhoCur, err := invRootNorm(tape, nTape, nStates, batch, order, lane)
	if err != nil {
		return 0, err
	}
	return math.Min(rhoPrev, rhoCur), nil
}

// invRootNorm computes (max_i |c_m(state_i)|)^(-1/m), the per-order radius
// estimate feeding the convergence-radius step.
func invRootNorm(tape []float64, nTape, nStates, batch, m, lane int) (float64, error) {
	var maxAbs float64
	for u := 0; u < nStates; u++ {
		v := math.Abs(tape[(m*nTape+u)*batch+lane])
		if v > maxAbs {
			maxAbs = v
		}
	}
	if maxAbs <= 0 {
		return 0, taylorjet.New(taylorjet.NumericalFailure, "stepper: non-positive convergence radius estimate at order %d, lane %d", m, lane)
	}
	return math.Pow(maxAbs, -1/float64(m)), nil
}

func horner(tape []float64, nTape, batch, order, u, lane int, h float64) float64 {
	at := func(n int) float64 { return tape[(n*nTape+u)*batch+lane] }
	acc := at(order)
	for n := order - 1; n >= 0; n-- {
		acc = acc*h + at(n)
	}
	return acc
}

// epsilonFor returns the rounding unit of the target precision, used as
// the default truncation tolerance.
func epsilonFor(p ir.Precision) float64 {
	switch p {
	case ir.Binary80:
		return 1.0842021724855044e-19 // 2^-63: x87 extended's 64-bit mantissa
	case ir.Binary128:
		return 1.925929944387236e-34 // 2^-112: IEEE binary128's 113-bit mantissa
	default:
		return 2.220446049250313e-16 // 2^-52: IEEE binary64
	}
}
