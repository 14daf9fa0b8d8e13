// Package expr implements the expression algebra: immutable, value-like
// expression nodes (numbers, variables, parameters, binary operators, and
// named function calls) with structural equality, ordered hashing, and
// substitution.
//
// Expressions form a DAG, never a cycle: children are attached only at
// construction time and a published *Expr is never mutated afterwards.
// Sharing is by Go pointer (and, transitively, by the garbage collector)
// rather than by manual reference counting — see the lifetime note in
// section 3 of SPEC_FULL.md for why that substitution is safe here.
package expr

import (
	"fmt"
	"hash/fnv"
	"math/big"
	"strconv"
	"strings"

	"github.com/njchilds90/taylorjet"
)

// Kind tags the variant an Expr holds.
type Kind uint8

const (
	KindNumber Kind = iota
	KindVariable
	KindParameter
	KindBinary
	KindCall
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindVariable:
		return "variable"
	case KindParameter:
		return "parameter"
	case KindBinary:
		return "binary"
	case KindCall:
		return "call"
	default:
		return "unknown"
	}
}

// BinOp enumerates the binary operators.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	Div
)

func (op BinOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	default:
		return "?"
	}
}

// Behavior is the minimal surface a function's polymorphic behavior object
// must expose so that expressions can compare and hash Call nodes without
// this package depending on the function registry (which itself depends on
// expr to build derivative expressions). funcreg.Behavior satisfies this.
type Behavior interface {
	Name() string
}

// Expr is an immutable expression node. The zero value is not meaningful;
// build expressions with the constructors below.
type Expr struct {
	kind Kind

	num   *big.Rat // KindNumber
	name  string   // KindVariable name, or KindCall display name
	param int      // KindParameter index

	op   BinOp   // KindBinary
	kids [2]*Expr // KindBinary operands

	fn   Behavior // KindCall
	args []*Expr  // KindCall arguments

	key  string
	hash uint64
}

// Kind reports the node's variant.
func (e *Expr) Kind() Kind { return e.kind }

// Number returns the numeric value and true if e is a number leaf.
func (e *Expr) Number() (*big.Rat, bool) {
	if e.kind != KindNumber {
		return nil, false
	}
	return e.num, true
}

// VarName returns the identifier and true if e is a variable leaf.
func (e *Expr) VarName() (string, bool) {
	if e.kind != KindVariable {
		return "", false
	}
	return e.name, true
}

// ParamIndex returns the parameter index and true if e is a parameter leaf.
func (e *Expr) ParamIndex() (int, bool) {
	if e.kind != KindParameter {
		return 0, false
	}
	return e.param, true
}

// Op returns the operator and operands of a binary node.
func (e *Expr) Op() (BinOp, *Expr, *Expr, bool) {
	if e.kind != KindBinary {
		return 0, nil, nil, false
	}
	return e.op, e.kids[0], e.kids[1], true
}

// Call returns the display name, behavior, and arguments of a call node.
func (e *Expr) Call() (string, Behavior, []*Expr, bool) {
	if e.kind != KindCall {
		return "", nil, nil, false
	}
	return e.name, e.fn, e.args, true
}

// Hash returns the structural hash, consistent with Equal.
func (e *Expr) Hash() uint64 { return e.hash }

// Key returns the canonical structural key used by Equal and by the
// decomposer's content-addressed interning table.
func (e *Expr) Key() string { return e.key }

// Equal reports structural equality: two expressions built from equal
// parts compare equal, regardless of which was built first. Constant
// folding at construction means Number(5) and Add(Number(2), Number(3))
// compare equal.
func (e *Expr) Equal(o *Expr) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}
	return e.key == o.key
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// Int builds an integer numeric leaf.
func Int(n int64) *Expr { return Number(new(big.Rat).SetInt64(n)) }

// Frac builds a rational numeric leaf p/q.
func Frac(p, q int64) *Expr { return Number(new(big.Rat).SetFrac64(p, q)) }

// Float builds a numeric leaf from a float64, exact to the float's own
// binary representation (big.Rat.SetFloat64 is exact, never lossy).
func Float(f float64) *Expr {
	r := new(big.Rat).SetFloat64(f)
	if r == nil {
		// NaN/Inf: fall back to the number 0.
		r = new(big.Rat)
	}
	return Number(r)
}

// Number builds a numeric leaf from an arbitrary-precision rational.
// Numbers compare equal across width: Number(2.0) == Number(2).
func Number(r *big.Rat) *Expr {
	key := "num:" + r.RatString()
	return &Expr{kind: KindNumber, num: new(big.Rat).Set(r), key: key, hash: hashKey(key)}
}

// Var builds a variable leaf.
func Var(name string) *Expr {
	key := "var:" + name
	return &Expr{kind: KindVariable, name: name, key: key, hash: hashKey(key)}
}

// Param builds a parameter leaf referencing index idx of the runtime
// parameter array.
func Param(idx int) *Expr {
	key := "par:" + strconv.Itoa(idx)
	return &Expr{kind: KindParameter, param: idx, key: key, hash: hashKey(key)}
}

func isZero(e *Expr) bool { n, ok := e.Number(); return ok && n.Sign() == 0 }
func isOne(e *Expr) bool  { n, ok := e.Number(); return ok && n.Cmp(big.NewRat(1, 1)) == 0 }

// Binary builds a binary operator node, applying constant folding (when
// both operands are numbers) and the identity short-circuits (x+0, x*1,
// x*0, x-x→0, 1*x, 0/x→0) at construction. Division by a known-zero
// literal is never folded numerically; it stays a symbolic div node.
func Binary(op BinOp, a, b *Expr) *Expr {
	if op == Div && isZero(b) {
		return publishBinary(op, a, b)
	}
	if an, ok := a.Number(); ok {
		if bn, ok := b.Number(); ok {
			return Number(foldNumeric(op, an, bn))
		}
	}
	switch op {
	case Add:
		if isZero(a) {
			return b
		}
		if isZero(b) {
			return a
		}
	case Sub:
		if isZero(b) {
			return a
		}
		if a.Equal(b) {
			return Int(0)
		}
	case Mul:
		if isZero(a) || isZero(b) {
			return Int(0)
		}
		if isOne(a) {
			return b
		}
		if isOne(b) {
			return a
		}
	case Div:
		if isZero(a) {
			return Int(0)
		}
		if isOne(b) {
			return a
		}
	}
	return publishBinary(op, a, b)
}

func publishBinary(op BinOp, a, b *Expr) *Expr {
	key := fmt.Sprintf("bin:%s(%s,%s)", op, a.key, b.key)
	return &Expr{kind: KindBinary, op: op, kids: [2]*Expr{a, b}, key: key, hash: hashKey(key)}
}

func foldNumeric(op BinOp, a, b *big.Rat) *big.Rat {
	r := new(big.Rat)
	switch op {
	case Add:
		r.Add(a, b)
	case Sub:
		r.Sub(a, b)
	case Mul:
		r.Mul(a, b)
	case Div:
		r.Quo(a, b) // Binary guards op==Div against a zero b before reaching here.
	}
	return r
}

// AddE, SubE, MulE, DivE are convenience wrappers around Binary.
func AddE(a, b *Expr) *Expr { return Binary(Add, a, b) }
func SubE(a, b *Expr) *Expr { return Binary(Sub, a, b) }
func MulE(a, b *Expr) *Expr { return Binary(Mul, a, b) }
func DivE(a, b *Expr) *Expr { return Binary(Div, a, b) }

// Call builds a function invocation. It fails with InvalidArg if name is
// empty or any argument is nil.
func Call(name string, fn Behavior, args ...*Expr) (*Expr, error) {
	if name == "" {
		return nil, taylorjet.New(taylorjet.InvalidArg, "function call has an empty display name")
	}
	for i, a := range args {
		if a == nil {
			return nil, taylorjet.New(taylorjet.InvalidArg, "function %q: argument %d is nil", name, i)
		}
	}
	return publishCall(name, fn, args), nil
}

func publishCall(name string, fn Behavior, args []*Expr) *Expr {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.key
	}
	key := "call:" + name + "(" + strings.Join(parts, ",") + ")"
	return &Expr{kind: KindCall, name: name, fn: fn, args: append([]*Expr(nil), args...), key: key, hash: hashKey(key)}
}

// String renders the expression in a conventional infix form.
func (e *Expr) String() string {
	switch e.kind {
	case KindNumber:
		if e.num.IsInt() {
			return e.num.Num().String()
		}
		return e.num.RatString()
	case KindVariable:
		return e.name
	case KindParameter:
		return "p[" + strconv.Itoa(e.param) + "]"
	case KindBinary:
		l, r := paren(e.kids[0], e), paren(e.kids[1], e)
		return l + " " + e.op.String() + " " + r
	case KindCall:
		parts := make([]string, len(e.args))
		for i, a := range e.args {
			parts[i] = a.String()
		}
		return e.name + "(" + strings.Join(parts, ", ") + ")"
	default:
		return "<invalid>"
	}
}

func paren(child, parent *Expr) string {
	if child.kind == KindBinary && precedence(child.op) < precedence(parent.op) {
		return "(" + child.String() + ")"
	}
	return child.String()
}

func precedence(op BinOp) int {
	if op == Add || op == Sub {
		return 1
	}
	return 2
}

// Substitute returns a new expression with every variable named in vars
// replaced by its mapped expression. Substitution is persistent (builds a
// fresh DAG) rather than destructive, honoring the immutability invariant;
// a cache keyed by the original node's identity preserves sharing so
// substitution over a DAG stays linear in node count rather than
// exponential in path count.
func (e *Expr) Substitute(vars map[string]*Expr) *Expr {
	cache := make(map[*Expr]*Expr)
	return e.substitute(vars, cache)
}

func (e *Expr) substitute(vars map[string]*Expr, cache map[*Expr]*Expr) *Expr {
	if out, ok := cache[e]; ok {
		return out
	}
	var out *Expr
	switch e.kind {
	case KindNumber, KindParameter:
		out = e
	case KindVariable:
		if repl, ok := vars[e.name]; ok {
			out = repl
		} else {
			out = e
		}
	case KindBinary:
		a := e.kids[0].substitute(vars, cache)
		b := e.kids[1].substitute(vars, cache)
		if a == e.kids[0] && b == e.kids[1] {
			out = e
		} else {
			out = Binary(e.op, a, b)
		}
	case KindCall:
		changed := false
		newArgs := make([]*Expr, len(e.args))
		for i, a := range e.args {
			na := a.substitute(vars, cache)
			newArgs[i] = na
			if na != a {
				changed = true
			}
		}
		if !changed {
			out = e
		} else {
			out = publishCall(e.name, e.fn, newArgs)
		}
	default:
		out = e
	}
	cache[e] = out
	return out
}
