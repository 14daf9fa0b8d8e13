// Package codegen implements the IR code generator: given a
// decomposition, it emits order-0 and order-n Taylor-coefficient kernels
// against an ir.Emitter, in both unrolled and compact flavors.
package codegen

import (
	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/decompose"
	"github.com/njchilds90/taylorjet/expr"
	"github.com/njchilds90/taylorjet/funcreg"
	"github.com/njchilds90/taylorjet/ir"
)

// Options configures one compilation.
type Options struct {
	Symbol    string
	Order     int
	Batch     int
	Precision ir.Precision
	Compact   bool
}

// Generate builds one jet module from a decomposition program, using
// builder as the JIT host and registry to resolve each call node's
// behavior. Compact selects the loop-driven, shape-grouped emission mode;
// unrolled (the default) is a straight-line sequence of N blocks per order.
//
// Both modes dispatch through the same per-node coefficient functions below
// (emitState, binaryCoeff, emitCall), so their numeric output is identical
// by construction. Both modes walk every node once per order in u-index
// order; compact mode differs only in calling each behavior's
// TaylorCoeffCompact hook instead of TaylorCoeffUnrolled. No per-shape
// helper functions or loops over same-shape runs are emitted.
func Generate(builder ir.Builder, prog *decompose.Program, registry *funcreg.Registry, opts Options) (ir.Module, error) {
	if opts.Order < 0 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "codegen: order must be >= 0, got %d", opts.Order)
	}
	if opts.Batch <= 0 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "codegen: batch must be >= 1, got %d", opts.Batch)
	}
	_ = registry // behaviors are already resolved onto each node by decompose
	mb, err := builder.NewModule(opts.Symbol+"_module", opts.Precision, opts.Batch)
	if err != nil {
		return nil, taylorjet.Wrap(taylorjet.BackendFailure, err, "codegen: NewModule failed")
	}
	body := func(order int, e ir.Emitter) error {
		if opts.Compact {
			return emitOrderCompact(e, prog, order)
		}
		return emitOrderUnrolled(e, prog, order)
	}
	if err := mb.DefineJet(opts.Symbol, opts.Order, len(prog.Nodes), body); err != nil {
		return nil, err
	}
	return mb.Finalize()
}

// emitOrderUnrolled walks every node in u-program order, one inlined block
// per node, dispatching to order 0 or order n logic.
func emitOrderUnrolled(e ir.Emitter, prog *decompose.Program, order int) error {
	for k := range prog.Nodes {
		if err := emitNode(e, prog, k, order, false); err != nil {
			return err
		}
	}
	return nil
}

// emitOrderCompact walks nodes in the same strict index order as
// emitOrderUnrolled — a node's order-n coefficient can depend on the
// order-n coefficient of an earlier-indexed argument (the
// convolution recurrences read up to and including j=n of their own
// accumulator, and Cauchy products read every j in 0..n of both operands),
// so u-indices within one order-pass form a topological order that
// grouping cannot cross. What "compact" changes is which of a node's two
// registered recurrence forms runs: TaylorCoeffCompact instead of
// TaylorCoeffUnrolled, still emitted once per node (the builtins register
// the same function for both forms).
// A real machine-code host could still interleave same-shape nodes into
// one shared loop body without violating this ordering, by hoisting the
// non-uniform reads (each node's distinct argument u-indices) into a
// gather step before the shared body runs; this interpreter has no
// code-size axis to spend that freedom on (see Generate's doc comment),
// so it does not attempt the interleave.
func emitOrderCompact(e ir.Emitter, prog *decompose.Program, order int) error {
	for k := range prog.Nodes {
		if err := emitNode(e, prog, k, order, true); err != nil {
			return err
		}
	}
	return nil
}

func emitNode(e ir.Emitter, prog *decompose.Program, k, order int, compact bool) error {
	n := prog.Nodes[k]
	switch n.Kind {
	case decompose.NodeState:
		return emitState(e, prog, k, order)
	case decompose.NodeBinary:
		v, err := binaryCoeff(e, order, n.Op, n.Lhs, n.Rhs, k)
		if err != nil {
			return err
		}
		e.StoreTape(order, k, v)
		return nil
	case decompose.NodeCall:
		return emitCall(e, n, k, order, compact)
	case decompose.NodeAlias:
		e.StoreTape(order, k, e.LoadTape(order, n.AliasOf))
		return nil
	default:
		return taylorjet.New(taylorjet.InvalidArg, "codegen: unrecognized node kind at u[%d]", k)
	}
}

// emitState handles order-0 (a no-op: the caller has already placed the
// initial state in row 0) and order-n>=1 (the power-series ODE relation
// c_n(x_i) = c_{n-1}(dot x_i) / n, where dot x_i points at u_{k_i}).
func emitState(e ir.Emitter, prog *decompose.Program, k, order int) error {
	if order == 0 {
		return nil
	}
	if k >= prog.NStates {
		return taylorjet.New(taylorjet.InvalidArg, "codegen: u[%d] is not a seeded state", k)
	}
	prevDeriv := e.LoadTape(order-1, prog.DerivIndex[k])
	scaled := e.BinOp(ir.OpDiv, prevDeriv, e.ConstSplat(float64(order)))
	e.StoreTape(order, k, scaled)
	return nil
}

// binaryCoeff computes the order-th Taylor coefficient of op(lhs, rhs),
// valid uniformly at order 0 and order n >= 1: Add/Sub are coefficient-wise
// linear; Mul is the Cauchy product; Div is the standard quotient-series
// recurrence, self-referencing uOut's own previously written rows.
func binaryCoeff(e ir.Emitter, order int, op expr.BinOp, lhs, rhs ir.Operand, uOut int) (ir.Value, error) {
	switch op {
	case expr.Add:
		return e.BinOp(ir.OpAdd, lhs.LoadAt(e, order), rhs.LoadAt(e, order)), nil
	case expr.Sub:
		return e.BinOp(ir.OpSub, lhs.LoadAt(e, order), rhs.LoadAt(e, order)), nil
	case expr.Mul:
		terms := make([]ir.Value, 0, order+1)
		for j := 0; j <= order; j++ {
			terms = append(terms, e.BinOp(ir.OpMul, lhs.LoadAt(e, j), rhs.LoadAt(e, order-j)))
		}
		return pairwiseSumOrSingle(e, terms)
	case expr.Div:
		if order == 0 {
			return e.BinOp(ir.OpDiv, lhs.LoadAt(e, 0), rhs.LoadAt(e, 0)), nil
		}
		terms := make([]ir.Value, 0, order)
		for j := 0; j < order; j++ {
			wj := e.LoadTape(j, uOut)
			terms = append(terms, e.BinOp(ir.OpMul, wj, rhs.LoadAt(e, order-j)))
		}
		sum, err := pairwiseSumOrSingle(e, terms)
		if err != nil {
			return nil, err
		}
		numerator := e.BinOp(ir.OpSub, lhs.LoadAt(e, order), sum)
		return e.BinOp(ir.OpDiv, numerator, rhs.LoadAt(e, 0)), nil
	default:
		return nil, taylorjet.New(taylorjet.InvalidArg, "codegen: unrecognized binary operator")
	}
}

func pairwiseSumOrSingle(e ir.Emitter, terms []ir.Value) (ir.Value, error) {
	if len(terms) == 0 {
		return e.ConstSplat(0), nil
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return e.PairwiseSum(terms)
}

func emitCall(e ir.Emitter, n decompose.Node, k, order int, compact bool) error {
	if order == 0 {
		args0 := make([]ir.Value, len(n.Args))
		for i, a := range n.Args {
			args0[i] = a.LoadAt(e, 0)
		}
		v, err := n.Behavior.CodegenAt(e, args0)
		if err != nil {
			return err
		}
		e.StoreTape(0, k, v)
		return nil
	}
	if compact {
		return n.Behavior.TaylorCoeffCompact(e, order, k, n.Args, n.CompanionU)
	}
	return n.Behavior.TaylorCoeffUnrolled(e, order, k, n.Args, n.CompanionU)
}
