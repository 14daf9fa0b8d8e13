// Package decompose implements the Taylor decomposer: it
// rewrites a system of (state-variable, rhs-expression) pairs into a
// straight-line sequence of elementary assignments u_k = f_k(u_<k),
// content-addressed so structurally equal subexpressions discovered in
// different right-hand sides collapse to the same u-index (CSE).
package decompose

import (
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/expr"
	"github.com/njchilds90/taylorjet/funcreg"
	"github.com/njchilds90/taylorjet/ir"
)

// NodeKind tags what a Program entry computes.
type NodeKind int

const (
	// NodeState marks one of the first m entries: a seeded state variable.
	NodeState NodeKind = iota
	// NodeBinary is an elementary binary-operator assignment.
	NodeBinary
	// NodeCall is a function-call assignment.
	NodeCall
	// NodeAlias identifies a state's derivative with an existing u-index;
	// it computes nothing of its own at runtime.
	NodeAlias
)

// Node is one entry of the ordered u-program.
type Node struct {
	Kind NodeKind

	// NodeState
	StateName string

	// NodeBinary
	Op  expr.BinOp
	Lhs ir.Operand
	Rhs ir.Operand

	// NodeCall
	FuncName   string
	Behavior   *funcreg.Behavior
	Args       []ir.Operand
	CompanionU int // -1 if the function has no companion

	// NodeAlias: the u-index this state's derivative resolves to.
	AliasOf int
}

// Program is the decomposer's output: the ordered u-program (Nodes[0:NStates]
// are the seeded state variables) plus the per-state index of each
// derivative's final u-index.
type Program struct {
	Nodes      []Node
	NStates    int
	StateIndex map[string]int // state name -> its seed u-index
	DerivIndex []int          // DerivIndex[i] is the u-index dot(state i) aliases
}

// State is one (variable, rhs) input pair, in the caller's declared order.
type State struct {
	Name string
	RHS  *expr.Expr
}

// StateNames returns the program's state names in sorted order, for
// deterministic reporting (map iteration order over StateIndex is not
// stable across runs).
func (p *Program) StateNames() []string {
	names := maps.Keys(p.StateIndex)
	slices.Sort(names)
	return names
}

// shapeKey groups a node by the structural shape compact-mode code sharing
// keys on: the operator for a NodeBinary, the function and arity for a
// NodeCall.
func (p *Program) shapeKey(k int) string {
	n := p.Nodes[k]
	switch n.Kind {
	case NodeState:
		return "state"
	case NodeAlias:
		return "alias"
	case NodeBinary:
		return fmt.Sprintf("binary:%v", n.Op)
	case NodeCall:
		return fmt.Sprintf("call:%s/%d", n.FuncName, len(n.Args))
	default:
		return "unknown"
	}
}

// GroupsByShape buckets every u-index by its node's shape key. It exists
// for diagnostics and reporting — a caller sizing a compact-mode emission
// can see how much of a decomposition would actually share code — and is
// not consulted by Decompose itself.
func (p *Program) GroupsByShape() map[string][]int {
	return lo.GroupBy(lo.Range(len(p.Nodes)), p.shapeKey)
}

type builder struct {
	registry *funcreg.Registry
	nodes    []Node
	interned map[string]int // expr.Key() -> u-index, for non-leaf nodes
	stateIdx map[string]int
	inFlight map[string]bool // expr.Key() currently being interned: guards the otherwise-unreachable cycle case
}

// Decompose builds the ordered u-program for the given states, in the order
// supplied. registry resolves each Call node's function behavior (needed to
// look up companion-node requirements such as sin/cos).
//
// Every state variable is seeded with its own
// u-index up front; walking one state's RHS never needs to resolve
// another's, since a reference to state j always reads j's fixed seed slot.
// Expr is an immutable, construction-time-acyclic DAG (see package expr), so
// CyclicSystem can only arise from the defensive in-flight guard below
// tripping on a pathological companion/argument arrangement — treat it like
// OverflowInSum, which refbackend's pairwise sum never raises.
func Decompose(states []State, registry *funcreg.Registry) (*Program, error) {
	if len(states) == 0 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "decompose: no state variables supplied")
	}
	b := &builder{
		registry: registry,
		interned: make(map[string]int),
		stateIdx: make(map[string]int, len(states)),
		inFlight: make(map[string]bool),
	}

	for i, s := range states {
		if s.Name == "" {
			return nil, taylorjet.New(taylorjet.InvalidArg, "decompose: state %d has an empty name", i)
		}
		if _, dup := b.stateIdx[s.Name]; dup {
			return nil, taylorjet.New(taylorjet.InvalidArg, "decompose: duplicate state name %q", s.Name)
		}
		if s.RHS == nil {
			return nil, taylorjet.New(taylorjet.InvalidArg, "decompose: state %q has a nil rhs", s.Name)
		}
		b.stateIdx[s.Name] = i
		b.nodes = append(b.nodes, Node{Kind: NodeState, StateName: s.Name})
	}

	derivIndex := make([]int, len(states))
	for i, s := range states {
		u, err := b.walk(s.RHS)
		if err != nil {
			return nil, err
		}
		derivIndex[i] = u
	}

	for i := range states {
		b.nodes = append(b.nodes, Node{Kind: NodeAlias, StateName: states[i].Name, AliasOf: derivIndex[i]})
	}

	return &Program{
		Nodes:      b.nodes,
		NStates:    len(states),
		StateIndex: b.stateIdx,
		DerivIndex: derivIndex,
	}, nil
}

// walk post-order interns expr into the u-program, returning its u-index. A
// bare literal/parameter/time RHS (e.g. dot x = 5) is promoted to its own
// trivial u-node so every state's derivative aliases a u-index uniformly.
func (b *builder) walk(e *expr.Expr) (int, error) {
	op, err := b.walkOperand(e)
	if err != nil {
		return 0, err
	}
	if op.Kind != ir.OperandU {
		return b.internLeaf(op)
	}
	return op.U, nil
}

// walkOperand resolves e to an ir.Operand without forcing a u-node for
// literal/parameter/time leaves (only non-leaf nodes are promoted
// and state variables to u-indices).
func (b *builder) walkOperand(e *expr.Expr) (ir.Operand, error) {
	switch e.Kind() {
	case expr.KindNumber:
		n, _ := e.Number()
		f, _ := n.Float64()
		return ir.ConstOperand(f), nil
	case expr.KindParameter:
		idx, _ := e.ParamIndex()
		return ir.ParamOperand(idx), nil
	case expr.KindVariable:
		name, _ := e.VarName()
		if name == "t" || name == "time" {
			return ir.TimeOperand(), nil
		}
		if idx, isState := b.stateIdx[name]; isState {
			return ir.U(idx), nil
		}
		return ir.Operand{}, taylorjet.New(taylorjet.InvalidArg, "decompose: free variable %q is neither a state nor time", name)
	case expr.KindBinary:
		u, err := b.internBinary(e)
		if err != nil {
			return ir.Operand{}, err
		}
		return ir.U(u), nil
	case expr.KindCall:
		u, err := b.internCall(e)
		if err != nil {
			return ir.Operand{}, err
		}
		return ir.U(u), nil
	default:
		return ir.Operand{}, taylorjet.New(taylorjet.InvalidArg, "decompose: unrecognized expression kind %v", e.Kind())
	}
}

func (b *builder) internLeaf(op ir.Operand) (int, error) {
	key := fmt.Sprintf("leaf:%v", op)
	if idx, ok := b.interned[key]; ok {
		return idx, nil
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Kind: NodeBinary, Op: expr.Add, Lhs: op, Rhs: ir.ConstOperand(0)})
	b.interned[key] = idx
	return idx, nil
}

func (b *builder) internBinary(e *expr.Expr) (int, error) {
	if idx, ok := b.interned[e.Key()]; ok {
		return idx, nil
	}
	if b.inFlight[e.Key()] {
		return 0, taylorjet.New(taylorjet.CyclicSystem, "decompose: cyclic reference while expanding %s", e.Key())
	}
	b.inFlight[e.Key()] = true
	defer delete(b.inFlight, e.Key())

	op, lhsE, rhsE, _ := e.Op()
	lhs, err := b.walkOperand(lhsE)
	if err != nil {
		return 0, err
	}
	rhs, err := b.walkOperand(rhsE)
	if err != nil {
		return 0, err
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Kind: NodeBinary, Op: op, Lhs: lhs, Rhs: rhs})
	b.interned[e.Key()] = idx
	return idx, nil
}

func (b *builder) internCall(e *expr.Expr) (int, error) {
	if idx, ok := b.interned[e.Key()]; ok {
		return idx, nil
	}
	if b.inFlight[e.Key()] {
		return 0, taylorjet.New(taylorjet.CyclicSystem, "decompose: cyclic reference while expanding %s", e.Key())
	}
	b.inFlight[e.Key()] = true
	defer delete(b.inFlight, e.Key())

	name, _, argExprs, _ := e.Call()
	behavior, err := b.registry.Lookup(name)
	if err != nil {
		return 0, err
	}
	args := make([]ir.Operand, len(argExprs))
	for i, a := range argExprs {
		op, err := b.walkOperand(a)
		if err != nil {
			return 0, err
		}
		args[i] = op
	}

	// Reserve the primary node's slot before allocating its companion (if
	// any): the companion's back-reference needs this index, and the
	// companion node itself must land at a higher index, so the slot has
	// to exist first and get filled in last.
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{})
	b.interned[e.Key()] = idx

	companionU := -1
	if companionName, hasCompanion := behavior.CompanionName(); hasCompanion {
		companionU, err = b.internCompanion(companionName, idx, args, argExprs)
		if err != nil {
			return 0, err
		}
	}
	b.nodes[idx] = Node{
		Kind: NodeCall, FuncName: name, Behavior: behavior, Args: args, CompanionU: companionU,
	}
	return idx, nil
}

// internCompanion allocates (or reuses) the paired u-node a function like
// sin needs for cos, keyed on a synthetic call key so a later direct use of
// cos(x) in the same system reuses the same slot (tie-breaking,
// extended to companions). args are the already-resolved operands of the
// primary call, reused as-is since the companion shares the same arguments.
func (b *builder) internCompanion(companionName string, primaryU int, args []ir.Operand, argExprs []*expr.Expr) (int, error) {
	companionExpr, err := expr.Call(companionName, nil, argExprs...)
	if err != nil {
		return 0, err
	}
	if idx, ok := b.interned[companionExpr.Key()]; ok {
		return idx, nil
	}
	behavior, err := b.registry.Lookup(companionName)
	if err != nil {
		return 0, err
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Kind: NodeCall, FuncName: companionName, Behavior: behavior, Args: args, CompanionU: primaryU,
	})
	b.interned[companionExpr.Key()] = idx
	return idx, nil
}
