package expr

import "github.com/njchilds90/taylorjet"

// Draft is a freshly-built, mutable temporary used to assemble a Call or
// Binary node incrementally before publishing it as an immutable Expr.
// It is a "mutable argument iterator": arguments can be filled or
// overwritten slot by slot instead of rebuilding a fresh Expr per replaced
// argument. Package decompose does not use it; it resolves arguments to
// ir.Operand values directly. A Draft must never be retained or
// shared past Publish — Publish is the only way to obtain an Expr from it.
type Draft struct {
	kind Kind
	op   BinOp
	name string
	fn   Behavior
	kids [2]*Expr
	args []*Expr
}

// NewBinaryDraft starts a two-operand binary draft.
func NewBinaryDraft(op BinOp) *Draft {
	return &Draft{kind: KindBinary, op: op}
}

// NewCallDraft starts a call draft with arity argument slots, all
// initially nil until SetArg fills them.
func NewCallDraft(name string, fn Behavior, arity int) *Draft {
	return &Draft{kind: KindCall, name: name, fn: fn, args: make([]*Expr, arity)}
}

// SetKid fills operand i (0 or 1) of a binary draft.
func (d *Draft) SetKid(i int, e *Expr) {
	d.kids[i] = e
}

// SetArg fills argument i of a call draft. Mutating the same index twice
// is allowed; only the last write survives, matching an iterator that
// revisits a slot.
func (d *Draft) SetArg(i int, e *Expr) {
	d.args[i] = e
}

// Publish validates and folds the draft into an immutable Expr, applying
// the same construction-time rules as Binary/Call. The Draft must not be
// used again afterwards.
func (d *Draft) Publish() (*Expr, error) {
	switch d.kind {
	case KindBinary:
		if d.kids[0] == nil || d.kids[1] == nil {
			return nil, taylorjet.New(taylorjet.InvalidArg, "binary draft %s has an unset operand", d.op)
		}
		return Binary(d.op, d.kids[0], d.kids[1]), nil
	case KindCall:
		return Call(d.name, d.fn, d.args...)
	default:
		return nil, taylorjet.New(taylorjet.InvalidArg, "draft has no kind set")
	}
}
