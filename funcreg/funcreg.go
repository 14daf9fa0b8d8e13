// Package funcreg implements the function registry:
// polymorphic, named math functions exposing a capability set (symbolic
// derivative, scalar/batch numeric evaluation, IR codegen, and Taylor
// recurrences in unrolled and compact form). Any capability may be
// unimplemented; invoking it then fails with taylorjet.NotImplemented,
// carrying the function's display name.
package funcreg

import (
	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/expr"
	"github.com/njchilds90/taylorjet/ir"
)

// DiffFunc computes the symbolic first-order derivative of f(args) with
// respect to the named variable. This is the single ∂f/∂x capability
// the registry exposes; it is not used to derive higher Taylor orders —
// those come from TaylorCoeff's numeric recurrences instead (arbitrary-
// order differentiation-by-rewriting is an explicit non-goal).
type DiffFunc func(args []*expr.Expr, wrt string) (*expr.Expr, error)

// EvalScalarFunc evaluates f at a single double-precision point.
type EvalScalarFunc func(args []float64) (float64, error)

// EvalBatchFunc evaluates f across a batch of lanes; args[i] is the
// width-B vector of argument i.
type EvalBatchFunc func(args [][]float64) ([]float64, error)

// CodegenFunc emits IR computing f(args) — used directly by the order-0
// ("taylor_init") kernel.
type CodegenFunc func(e ir.Emitter, args []ir.Value) (ir.Value, error)

// TaylorCoeffFunc emits IR for the order-n Taylor coefficient of u_out =
// f(args) given the tape rows 0..n of args and rows 0..n-1 of u_out
// (args precede u_out in u-order, so their row n is already written in
// the same order pass), plus (for functions with a
// companion node such as sin/cos, the paired companion's u-index;
// companionU is -1 when the function has none).
type TaylorCoeffFunc func(e ir.Emitter, order, uOut int, args []ir.Operand, companionU int) error

// Behavior is a function's polymorphic capability set.
type Behavior struct {
	name          string
	arity         int // 0 means variable arity
	companionName string

	diff                DiffFunc
	evalScalar          EvalScalarFunc
	evalBatch           EvalBatchFunc
	codegenAt           CodegenFunc
	taylorCoeffUnrolled TaylorCoeffFunc
	taylorCoeffCompact  TaylorCoeffFunc
}

// Name satisfies expr.Behavior.
func (b *Behavior) Name() string { return b.name }

// Arity reports the expected argument count, or 0 for variable arity.
func (b *Behavior) Arity() int { return b.arity }

// CompanionName reports the paired function this one needs allocated
// alongside it in the decomposition (e.g. sin needs cos), and whether one
// exists at all.
func (b *Behavior) CompanionName() (string, bool) {
	return b.companionName, b.companionName != ""
}

// DiffWRT invokes the symbolic-derivative capability.
func (b *Behavior) DiffWRT(args []*expr.Expr, wrt string) (*expr.Expr, error) {
	if b.diff == nil {
		return nil, taylorjet.NewForFunc(taylorjet.NotImplemented, b.name, "diff_wrt not implemented")
	}
	return b.diff(args, wrt)
}

// EvalScalar invokes the scalar numeric evaluator.
func (b *Behavior) EvalScalar(args []float64) (float64, error) {
	if b.evalScalar == nil {
		return 0, taylorjet.NewForFunc(taylorjet.NotImplemented, b.name, "eval_scalar not implemented")
	}
	return b.evalScalar(args)
}

// EvalBatch invokes the batch numeric evaluator.
func (b *Behavior) EvalBatch(args [][]float64) ([]float64, error) {
	if b.evalBatch == nil {
		return nil, taylorjet.NewForFunc(taylorjet.NotImplemented, b.name, "eval_batch not implemented")
	}
	return b.evalBatch(args)
}

// CodegenAt invokes the IR-codegen capability (used for order-0 init).
func (b *Behavior) CodegenAt(e ir.Emitter, args []ir.Value) (ir.Value, error) {
	if b.codegenAt == nil {
		return nil, taylorjet.NewForFunc(taylorjet.NotImplemented, b.name, "codegen_at not implemented")
	}
	return b.codegenAt(e, args)
}

// TaylorCoeffUnrolled invokes the order-n recurrence in its unrolled
// (one call site per u-node) form.
func (b *Behavior) TaylorCoeffUnrolled(e ir.Emitter, order, uOut int, args []ir.Operand, companionU int) error {
	if b.taylorCoeffUnrolled == nil {
		return taylorjet.NewForFunc(taylorjet.NotImplemented, b.name, "taylor_coeff (unrolled) not implemented")
	}
	return b.taylorCoeffUnrolled(e, order, uOut, args, companionU)
}

// TaylorCoeffCompact invokes the order-n recurrence in its compact
// (shared-helper) form.
func (b *Behavior) TaylorCoeffCompact(e ir.Emitter, order, uOut int, args []ir.Operand, companionU int) error {
	if b.taylorCoeffCompact == nil {
		return taylorjet.NewForFunc(taylorjet.NotImplemented, b.name, "taylor_coeff (compact) not implemented")
	}
	return b.taylorCoeffCompact(e, order, uOut, args, companionU)
}

// Registry holds the set of known function behaviors, seeded with the
// builtins and extensible via Register.
type Registry struct {
	funcs map[string]*Behavior
}

// NewRegistry builds a registry pre-populated with the builtin functions:
// sin, cos, exp, log, pow, sqrt, square, tan, asin, acos, atan, sinh,
// cosh, tanh, asinh, acosh, atanh, erf, sigmoid, time.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]*Behavior)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a function behavior. It rejects a nil behavior
// or an empty display name; argument-count validation happens at the
// registry's other edges (EvalNum, TaylorDiff), before any dispatch to the
// behavior.
func (r *Registry) Register(b *Behavior) error {
	if b == nil || b.name == "" {
		return taylorjet.New(taylorjet.InvalidArg, "cannot register a function with an empty display name")
	}
	r.funcs[b.name] = b
	return nil
}

// Lookup resolves a function by display name.
func (r *Registry) Lookup(name string) (*Behavior, error) {
	b, ok := r.funcs[name]
	if !ok {
		return nil, taylorjet.NewForFunc(taylorjet.InvalidArg, name, "unknown function")
	}
	return b, nil
}

// EvalNum is the registry-edge wrapper around a behavior's scalar
// evaluator: it validates arity before dispatching.
func (r *Registry) EvalNum(name string, args []float64) (float64, error) {
	b, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	if b.arity > 0 && len(args) != b.arity {
		return 0, taylorjet.NewForFunc(taylorjet.InvalidArg, name, "eval_num: want %d argument(s), got %d", b.arity, len(args))
	}
	return b.EvalScalar(args)
}

// TaylorDiff is the registry-edge wrapper around a behavior's order-n
// recurrence: it validates order and batch before dispatching.
func (r *Registry) TaylorDiff(name string, order, batch int, compact bool, e ir.Emitter, uOut int, args []ir.Operand, companionU int) error {
	if order <= 0 {
		return taylorjet.New(taylorjet.InvalidArg, "taylor_diff: order must be >= 1, got %d", order)
	}
	if batch <= 0 {
		return taylorjet.New(taylorjet.InvalidArg, "taylor_diff: batch must be >= 1, got %d", batch)
	}
	b, err := r.Lookup(name)
	if err != nil {
		return err
	}
	if compact {
		return b.TaylorCoeffCompact(e, order, uOut, args, companionU)
	}
	return b.TaylorCoeffUnrolled(e, order, uOut, args, companionU)
}
