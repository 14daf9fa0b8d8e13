// Package refbackend is an admissible JIT host: given a
// module builder request, it accepts one Emitter call sequence per Taylor
// order, records it as a small flat instruction list, and returns a
// Module whose JetFunc replays those instructions against the caller's
// tape/pars/time buffers.
//
// Go has no supported way to emit and load raw machine code at runtime
// (no cgo-free JIT, no unsafe function-pointer-from-bytes trick that
// survives the garbage collector moving stacks), so "compiling" here means
// building a tiny bytecode program once, at DefineJet time, and interpreting
// it on every call — real bytecode dispatch, not a reinterpretation of the
// closure tree on every step. Any error a jet's construction can raise
// (an unresolved external symbol, a missing capability) surfaces from
// DefineJet, matching the error-free ir.JetFunc signature: by the time a
// caller has a JetFunc in hand, it cannot fail to run.
package refbackend

import (
	"bytes"
	"fmt"
	"math"
	"math/big"

	"github.com/klauspost/asmfmt"

	"github.com/njchilds90/taylorjet"
	"github.com/njchilds90/taylorjet/ir"
)

// New returns a fresh JIT host. Each call to NewModule starts an
// independent module; nothing is shared between them.
func New() ir.Builder { return &hostBuilder{} }

type hostBuilder struct{}

func (hostBuilder) NewModule(name string, prec ir.Precision, batch int) (ir.ModuleBuilder, error) {
	if name == "" {
		return nil, taylorjet.New(taylorjet.InvalidArg, "refbackend: module name is empty")
	}
	if batch <= 0 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "refbackend: batch must be >= 1, got %d", batch)
	}
	return &moduleBuilder{name: name, prec: prec, batch: batch, jets: make(map[string]*jetProgram)}, nil
}

type moduleBuilder struct {
	name  string
	prec  ir.Precision
	batch int
	jets  map[string]*jetProgram
}

// jetProgram is one compiled symbol: a flat instruction list per Taylor
// order, plus the tape width it was compiled against.
type jetProgram struct {
	nTape  int
	orders [][]instr // orders[k] is the program for order k
}

func (mb *moduleBuilder) DefineJet(symbol string, order, nTape int, body func(order int, e ir.Emitter) error) error {
	if symbol == "" {
		return taylorjet.New(taylorjet.InvalidArg, "refbackend: jet symbol is empty")
	}
	if _, dup := mb.jets[symbol]; dup {
		return taylorjet.New(taylorjet.InvalidArg, "refbackend: jet %q already defined in this module", symbol)
	}
	if order < 0 {
		return taylorjet.New(taylorjet.InvalidArg, "refbackend: jet %q has negative order %d", symbol, order)
	}
	if nTape <= 0 {
		return taylorjet.New(taylorjet.InvalidArg, "refbackend: jet %q has non-positive tape width %d", symbol, nTape)
	}

	orders := make([][]instr, order+1)
	for o := 0; o <= order; o++ {
		rec := &recorder{batch: mb.batch}
		if err := body(o, rec); err != nil {
			return taylorjet.Wrap(taylorjet.BackendFailure, err, "refbackend: recording jet %q order %d failed", symbol, o)
		}
		orders[o] = rec.instrs
	}
	mb.jets[symbol] = &jetProgram{nTape: nTape, orders: orders}
	return nil
}

func (mb *moduleBuilder) Finalize() (ir.Module, error) {
	return &module{jets: mb.jets, prec: mb.prec, batch: mb.batch}, nil
}

type module struct {
	jets  map[string]*jetProgram
	prec  ir.Precision
	batch int
}

func (m *module) Lookup(symbol string) (ir.JetFunc, bool) {
	prog, ok := m.jets[symbol]
	if !ok {
		return nil, false
	}
	batch, prec, nTape := m.batch, m.prec, prog.nTape
	return func(tape, pars, time []float64) {
		for order, instrs := range prog.orders {
			execOrder(instrs, tape, pars, time, nTape, order, batch, prec)
		}
	}, true
}

// Disassemble renders symbol's recorded instruction program as
// human-readable pseudo-assembly, one TEXT block per Taylor order — a
// debugging aid, since this host has no real machine code to dump.
// klauspost/asmfmt canonicalizes the output's indentation and operand
// alignment the same way it would a genuine Plan 9 assembly file.
func (m *module) Disassemble(symbol string) (string, error) {
	prog, ok := m.jets[symbol]
	if !ok {
		return "", taylorjet.New(taylorjet.InvalidArg, "refbackend: no jet named %q in this module", symbol)
	}
	var buf bytes.Buffer
	for order, instrs := range prog.orders {
		fmt.Fprintf(&buf, "TEXT order%d(SB), NOSPLIT, $0\n", order)
		for i, in := range instrs {
			fmt.Fprintf(&buf, "\t%s\n", describeInstr(i, in))
		}
		fmt.Fprintln(&buf, "\tRET")
	}
	formatted, err := asmfmt.Format(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", taylorjet.Wrap(taylorjet.BackendFailure, err, "refbackend: formatting disassembly of %q failed", symbol)
	}
	return string(formatted), nil
}

// Disassembler is satisfied by any Module able to render its compiled
// program as text; refbackend's module implements it.
type Disassembler interface {
	Disassemble(symbol string) (string, error)
}

func describeInstr(i int, in instr) string {
	switch in.kind {
	case opConstSplat:
		return fmt.Sprintf("MOVSD $%v, R%d", in.constVal, i)
	case opLoadTape:
		return fmt.Sprintf("MOVSD tape(order=%d,u=%d), R%d", in.loadRow, in.loadU, i)
	case opStoreTape:
		return fmt.Sprintf("MOVSD R%d, tape(order=%d,u=%d)", in.a, in.storeRow, in.loadU)
	case opLoadParam:
		return fmt.Sprintf("MOVSD pars(%d), R%d", in.param, i)
	case opLoadTime:
		return fmt.Sprintf("MOVSD time, R%d", i)
	case opBinOp:
		return fmt.Sprintf("%s R%d, R%d, R%d", binOpMnemonic(in.binOp), in.a, in.b, i)
	case opNeg:
		return fmt.Sprintf("NEGSD R%d, R%d", in.a, i)
	case opPairwiseSum:
		return fmt.Sprintf("PSUM %v, R%d", in.args, i)
	case opCallExternal:
		return fmt.Sprintf("CALL %s(%v), R%d", in.extName, in.args, i)
	default:
		return "NOP"
	}
}

func binOpMnemonic(op ir.BinOp) string {
	switch op {
	case ir.OpAdd:
		return "ADDSD"
	case ir.OpSub:
		return "SUBSD"
	case ir.OpMul:
		return "MULSD"
	case ir.OpDiv:
		return "DIVSD"
	default:
		return "UNKOP"
	}
}

// opKind tags one recorded instruction. Instructions form a linear SSA
// list: an instruction's operands are indices of earlier instructions in
// the same order's program.
type opKind int

const (
	opConstSplat opKind = iota
	opLoadTape
	opStoreTape
	opLoadParam
	opLoadTime
	opBinOp
	opNeg
	opPairwiseSum
	opCallExternal
)

type instr struct {
	kind opKind

	constVal float64     // opConstSplat
	loadRow  int         // opLoadTape
	loadU    int         // opLoadTape / opStoreTape
	storeRow int         // opStoreTape
	param    int         // opLoadParam
	binOp    ir.BinOp    // opBinOp
	a, b     int         // operand instruction indices
	args     []int       // opPairwiseSum / opCallExternal operand list
	extName  string      // opCallExternal
}

// recorder is the recording-phase Emitter: it never touches real data,
// only builds an instr list. recVal indices are positions in that list.
type recorder struct {
	batch  int
	instrs []instr
}

type recVal struct{ idx int }

// Width is never consulted by this codebase (ir.Value's contract only
// requires the handle to flow back into the Emitter that produced it), so
// a placeholder satisfies the interface without carrying real batch state.
func (recVal) Width() int { return 0 }

func (r *recorder) push(in instr) ir.Value {
	r.instrs = append(r.instrs, in)
	return recVal{idx: len(r.instrs) - 1}
}

func (r *recorder) ConstSplat(v float64) ir.Value {
	return r.push(instr{kind: opConstSplat, constVal: v})
}

func (r *recorder) LoadTape(order, u int) ir.Value {
	return r.push(instr{kind: opLoadTape, loadRow: order, loadU: u})
}

func (r *recorder) StoreTape(order, u int, v ir.Value) {
	r.push(instr{kind: opStoreTape, storeRow: order, loadU: u, a: v.(recVal).idx})
}

func (r *recorder) LoadParam(idx int) ir.Value {
	return r.push(instr{kind: opLoadParam, param: idx})
}

func (r *recorder) LoadTime() ir.Value {
	return r.push(instr{kind: opLoadTime})
}

func (r *recorder) BinOp(op ir.BinOp, a, b ir.Value) ir.Value {
	return r.push(instr{kind: opBinOp, binOp: op, a: a.(recVal).idx, b: b.(recVal).idx})
}

func (r *recorder) Neg(a ir.Value) ir.Value {
	return r.push(instr{kind: opNeg, a: a.(recVal).idx})
}

func (r *recorder) PairwiseSum(terms []ir.Value) (ir.Value, error) {
	if len(terms) == 0 {
		return nil, taylorjet.New(taylorjet.InvalidArg, "refbackend: PairwiseSum needs at least one term")
	}
	idxs := make([]int, len(terms))
	for i, t := range terms {
		idxs[i] = t.(recVal).idx
	}
	return r.push(instr{kind: opPairwiseSum, args: idxs}), nil
}

// CallExternal reports ok=false for symbols this host does not carry a
// math-library routine for. sigmoid is deliberately absent (Go's math package has no
// sigmoid) so funcreg's sigmoid behavior exercises its documented
// 1/(1+exp(-x)) fallback rather than this host silently approximating it.
func (r *recorder) CallExternal(name string, args ...ir.Value) (ir.Value, bool) {
	if !externalSupported(name) {
		return nil, false
	}
	idxs := make([]int, len(args))
	for i, a := range args {
		idxs[i] = a.(recVal).idx
	}
	return r.push(instr{kind: opCallExternal, extName: name, args: idxs}), true
}

var externalUnary = map[string]func(float64) float64{
	"exp": math.Exp, "log": math.Log, "sqrt": math.Sqrt,
	"sin": math.Sin, "cos": math.Cos, "sinh": math.Sinh, "cosh": math.Cosh,
	"tanh": math.Tanh, "erf": math.Erf,
	"tan": math.Tan, "asin": math.Asin, "acos": math.Acos, "atan": math.Atan,
	"asinh": math.Asinh, "acosh": math.Acosh, "atanh": math.Atanh,
}

func externalSupported(name string) bool {
	if name == "pow" {
		return true
	}
	_, ok := externalUnary[name]
	return ok
}

// execOrder replays one order's instruction list against the caller's real
// buffers. vals holds one lane-vector per instruction, indexed by SSA
// position; opStoreTape instructions leave their slot unused.
func execOrder(prog []instr, tape, pars, time []float64, n, order, batch int, prec ir.Precision) {
	vals := make([][]float64, len(prog))
	for i, in := range prog {
		switch in.kind {
		case opConstSplat:
			v := make([]float64, batch)
			for l := range v {
				v[l] = in.constVal
			}
			vals[i] = v
		case opLoadTape:
			v := make([]float64, batch)
			copy(v, tapeRow(tape, n, batch, in.loadRow, in.loadU))
			vals[i] = v
		case opStoreTape:
			copy(tapeRow(tape, n, batch, in.storeRow, in.loadU), vals[in.a])
		case opLoadParam:
			v := make([]float64, batch)
			copy(v, paramRow(pars, batch, in.param))
			vals[i] = v
		case opLoadTime:
			v := make([]float64, batch)
			copy(v, time)
			vals[i] = v
		case opBinOp:
			a, b := vals[in.a], vals[in.b]
			v := make([]float64, batch)
			for l := 0; l < batch; l++ {
				v[l] = applyBinOp(in.binOp, a[l], b[l])
			}
			vals[i] = v
		case opNeg:
			a := vals[in.a]
			v := make([]float64, batch)
			for l := range v {
				v[l] = -a[l]
			}
			vals[i] = v
		case opPairwiseSum:
			terms := make([][]float64, len(in.args))
			for j, idx := range in.args {
				terms[j] = vals[idx]
			}
			vals[i] = pairwiseSum(terms, batch, prec)
		case opCallExternal:
			args := make([][]float64, len(in.args))
			for j, idx := range in.args {
				args[j] = vals[idx]
			}
			vals[i] = callExternal(in.extName, args, batch)
		}
	}
}

func tapeRow(tape []float64, n, batch, order, u int) []float64 {
	start := (order*n + u) * batch
	return tape[start : start+batch]
}

func paramRow(pars []float64, batch, idx int) []float64 {
	start := idx * batch
	return pars[start : start+batch]
}

func applyBinOp(op ir.BinOp, a, b float64) float64 {
	switch op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv:
		return a / b
	default:
		return math.NaN()
	}
}

func callExternal(name string, args [][]float64, batch int) []float64 {
	out := make([]float64, batch)
	if name == "pow" {
		for l := 0; l < batch; l++ {
			out[l] = math.Pow(args[0][l], args[1][l])
		}
		return out
	}
	f := externalUnary[name]
	for l := 0; l < batch; l++ {
		out[l] = f(args[0][l])
	}
	return out
}

// pairwiseSum reduces terms lane-by-lane with a balanced binary tree: each
// level pairs adjacent terms, carrying an odd leftover unchanged to the
// next level, so accumulation depth is ceil(log2 k) rather than k-1.
// Precision above Binary64 widens each pairwise addition through
// math/big.Float before rounding back to float64 — the closest this
// backend can come to an extended-precision accumulator, since the jet
// function ABI is fixed to []float64.
func pairwiseSum(terms [][]float64, batch int, prec ir.Precision) []float64 {
	out := make([]float64, batch)
	lane := make([]float64, len(terms))
	for l := 0; l < batch; l++ {
		for i, t := range terms {
			lane[i] = t[l]
		}
		out[l] = pairwiseSumLane(lane, prec)
	}
	return out
}

func pairwiseSumLane(vals []float64, prec ir.Precision) float64 {
	if len(vals) == 0 {
		return 0
	}
	level := vals
	for len(level) > 1 {
		next := make([]float64, 0, (len(level)+1)/2)
		i := 0
		for ; i+1 < len(level); i += 2 {
			next = append(next, addAtPrecision(level[i], level[i+1], prec))
		}
		if i < len(level) {
			next = append(next, level[i])
		}
		level = next
	}
	return level[0]
}

func addAtPrecision(a, b float64, prec ir.Precision) float64 {
	if prec == ir.Binary64 {
		return a + b
	}
	bits := extendedMantissaBits(prec)
	x := new(big.Float).SetPrec(bits).SetFloat64(a)
	y := new(big.Float).SetPrec(bits).SetFloat64(b)
	x.Add(x, y)
	r, _ := x.Float64()
	return r
}

// extendedMantissaBits approximates the mantissa width of the requested
// extended format: 64 bits for x87 double-extended (Binary80), 113 bits
// for IEEE binary128.
func extendedMantissaBits(prec ir.Precision) uint {
	switch prec {
	case ir.Binary80:
		return 64
	case ir.Binary128:
		return 113
	default:
		return 53
	}
}
