// Package ops implements the fixed opcode table of spec.md §4.3: every
// arithmetic/bitwise/compare/flag/memory/control opcode, each with a
// concrete path that never allocates a bit-vector and a symbolic path
// that builds one through the active solver.Session.
package ops

import (
	"fmt"

	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// Op enumerates every ESIL operator, control operators included (the
// evaluator in pkg/esil special-cases If/Else/EndIf/GoTo/Break/Trap/
// Syscall before reaching Do; every other Op is dispatched here).
type Op int

const (
	OpUnknown Op = iota

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpSDiv
	OpMod
	OpSMod

	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpSar
	OpRol
	OpRor

	OpCmpEq
	OpCmpLt
	OpCmpLe
	OpCmpSLt
	OpCmpSLe

	OpZero
	OpCarry
	OpBorrow
	OpParity
	OpOverflow
	OpSign

	OpPeek1
	OpPeek2
	OpPeek4
	OpPeek8
	OpPeek16
	OpPoke1
	OpPoke2
	OpPoke4
	OpPoke8
	OpPoke16
	OpAddressStore
	OpAddressRestore

	OpSPInc
	OpSPDec
	OpCMov

	OpEqual
	OpWeakEqual
	OpNoOperation
	OpDup
	OpPop

	// Control opcodes: recognized here so the tokenizer's string table
	// is total, but executed by pkg/esil, never by Do.
	OpIf
	OpElse
	OpEndIf
	OpGoTo
	OpBreak
	OpTrap
	OpSyscall
)

// names is the canonical ESIL token spelling for every Op, used both to
// build the tokenizer's string table and for the OPS fusion-membership
// set (spec.md §4.1: "OP∈OPS" / "OP=[N] (N∈{1,2,4,8})").
var names = map[string]Op{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "~/": OpSDiv, "%": OpMod, "~%": OpSMod,
	"&": OpAnd, "|": OpOr, "^": OpXor, "!": OpNot,
	"<<": OpShl, ">>": OpShr, ">>>>": OpSar, "<<<": OpRol, ">>>": OpRor,
	"==": OpCmpEq, "<": OpCmpLt, "<=": OpCmpLe, "s<": OpCmpSLt, "s<=": OpCmpSLe,
	"$z": OpZero, "$c": OpCarry, "$b": OpBorrow, "$p": OpParity, "$o": OpOverflow, "$s": OpSign,
	"[1]": OpPeek1, "[2]": OpPeek2, "[4]": OpPeek4, "[8]": OpPeek8, "[16]": OpPeek16,
	"=[1]": OpPoke1, "=[2]": OpPoke2, "=[4]": OpPoke4, "=[8]": OpPoke8, "=[16]": OpPoke16,
	"AddressStore": OpAddressStore, "AddressRestore": OpAddressRestore,
	"SP+": OpSPInc, "SP-": OpSPDec, "cmov": OpCMov,
	"=": OpEqual, ":=": OpWeakEqual, ",": OpNoOperation,
	"DUP": OpDup, "POP": OpPop,
	"?{": OpIf, "}{": OpElse, "}": OpEndIf, "GOTO": OpGoTo, "BREAK": OpBreak,
	"TRAP": OpTrap, "SYSCALL": OpSyscall,
}

// FromString resolves an ESIL token to its Op, or (OpUnknown, false).
func FromString(tok string) (Op, bool) {
	op, ok := names[tok]
	return op, ok
}

// String is the canonical ESIL spelling of op, the inverse of
// FromString (used when an Op is formatted, e.g. in Exec's errors).
func (op Op) String() string {
	for s, o := range names {
		if o == op {
			return s
		}
	}
	return "unknown"
}

// Fusable is the OPS set from spec.md §4.1: operators eligible for the
// `OP=` and `OP=[N]` fused-token expansions. Only binary arithmetic and
// bitwise operators make sense as a read-modify-write.
var Fusable = map[Op]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpSDiv: true, OpMod: true, OpSMod: true,
	OpAnd: true, OpOr: true, OpXor: true,
	OpShl: true, OpShr: true, OpSar: true, OpRol: true, OpRor: true,
}

// PeekOps/PokeOps map a fused width suffix (1,2,4,8) to the
// corresponding Peek/Poke opcode, used by the tokenizer's `OP=[N]`
// expansion (spec.md §4.1).
var PeekOps = map[int]Op{1: OpPeek1, 2: OpPeek2, 4: OpPeek4, 8: OpPeek8}
var PokeOps = map[int]Op{1: OpPoke1, 2: OpPoke2, 4: OpPoke4, 8: OpPoke8}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func signExtend(v uint64, width uint) int64 {
	if width >= 64 {
		return int64(v)
	}
	sign := uint64(1) << (width - 1)
	if v&sign != 0 {
		return int64(v | ^mask(width))
	}
	return int64(v)
}

// binResult is the pair of operands for a binary opcode after width
// unification, tagged with whether either is symbolic.
type binResult struct {
	a, b     value.Value
	symbolic bool
}

func (s *Do) popBin() (binResult, error) {
	b, err := s.st.PopValue()
	if err != nil {
		return binResult{}, err
	}
	a, err := s.st.PopValue()
	if err != nil {
		return binResult{}, err
	}
	a, b = value.Unify(s.st.Solver, a, b)
	return binResult{a: a, b: b, symbolic: a.IsSymbolic() || b.IsSymbolic()}, nil
}

// Do executes a single non-control opcode against st's evaluation
// stack, per spec.md §4.3.
type Do struct {
	st *state.State
}

// New wraps st for opcode execution.
func New(st *state.State) *Do { return &Do{st: st} }

// Exec dispatches op, consuming/producing values on st's stack.
func (d *Do) Exec(op Op) error {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpSDiv, OpMod, OpSMod,
		OpAnd, OpOr, OpXor, OpShl, OpShr, OpSar, OpRol, OpRor,
		OpCmpEq, OpCmpLt, OpCmpLe, OpCmpSLt, OpCmpSLe,
		OpCarry, OpBorrow, OpOverflow:
		return d.binary(op)
	case OpNot, OpZero, OpParity, OpSign:
		return d.unary(op)
	case OpPeek1, OpPeek2, OpPeek4, OpPeek8, OpPeek16:
		return d.peek(widthOf(op))
	case OpPoke1, OpPoke2, OpPoke4, OpPoke8, OpPoke16:
		return d.poke(widthOf(op))
	case OpAddressStore:
		return d.addressStore()
	case OpAddressRestore:
		return d.addressRestore()
	case OpSPInc, OpSPDec:
		return d.spAdjust(op)
	case OpCMov:
		return d.cmov()
	case OpEqual:
		return d.assign(true)
	case OpWeakEqual:
		return d.assign(false)
	case OpNoOperation:
		return nil
	case OpDup:
		return d.dup()
	case OpPop:
		_, err := d.st.PopValue()
		return err
	default:
		return fmt.Errorf("ops: opcode %v is not dispatched through Do", op)
	}
}

func widthOf(op Op) uint {
	switch op {
	case OpPeek1, OpPoke1:
		return 8
	case OpPeek2, OpPoke2:
		return 16
	case OpPeek4, OpPoke4:
		return 32
	case OpPeek8, OpPoke8:
		return 64
	case OpPeek16, OpPoke16:
		return 128
	}
	return 64
}

func (d *Do) binary(op Op) error {
	bin, err := d.popBin()
	if err != nil {
		return err
	}
	w := bin.a.Width
	s := d.st.Solver
	if !bin.symbolic {
		d.st.PushValue(value.Concrete(concreteBinary(op, bin.a.Conc, bin.b.Conc, w), resultWidth(op, w)))
		return nil
	}
	d.st.PushValue(value.Symbolic(symbolicBinary(s, op, bin.a.ToBV(s), bin.b.ToBV(s)), resultWidth(op, w)))
	return nil
}

func resultWidth(op Op, operandWidth uint) uint {
	switch op {
	case OpCmpEq, OpCmpLt, OpCmpLe, OpCmpSLt, OpCmpSLe, OpCarry, OpBorrow, OpOverflow:
		return 1
	default:
		return operandWidth
	}
}

func concreteBinary(op Op, a, b uint64, w uint) uint64 {
	m := mask(w)
	a, b = a&m, b&m
	switch op {
	case OpAdd:
		return (a + b) & m
	case OpSub:
		return (a - b) & m
	case OpMul:
		return (a * b) & m
	case OpDiv:
		if b == 0 {
			return 0
		}
		return (a / b) & m
	case OpSDiv:
		if b == 0 {
			return 0
		}
		return uint64(signExtend(a, w)/signExtend(b, w)) & m
	case OpMod:
		if b == 0 {
			return 0
		}
		return (a % b) & m
	case OpSMod:
		if b == 0 {
			return 0
		}
		return uint64(signExtend(a, w)%signExtend(b, w)) & m
	case OpAnd:
		return a & b
	case OpOr:
		return a | b
	case OpXor:
		return a ^ b
	case OpShl:
		return (a << (b & uint64(w-1))) & m
	case OpShr:
		return (a >> (b & uint64(w-1))) & m
	case OpSar:
		return uint64(signExtend(a, w)>>(b&uint64(w-1))) & m
	case OpRol:
		n := uint(b) % w
		return ((a << n) | (a >> (w - n))) & m
	case OpRor:
		n := uint(b) % w
		return ((a >> n) | (a << (w - n))) & m
	case OpCmpEq:
		return boolBit(a == b)
	case OpCmpLt:
		return boolBit(a < b)
	case OpCmpLe:
		return boolBit(a <= b)
	case OpCmpSLt:
		return boolBit(signExtend(a, w) < signExtend(b, w))
	case OpCmpSLe:
		return boolBit(signExtend(a, w) <= signExtend(b, w))
	case OpCarry:
		result := (a + b) & m
		return boolBit(result < a)
	case OpBorrow:
		return boolBit(a < b)
	case OpOverflow:
		result := (a + b) & m
		signA, signB, signR := a>>(w-1)&1, b>>(w-1)&1, result>>(w-1)&1
		return boolBit(signA == signB && signR != signA)
	}
	return 0
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func symbolicBinary(s solver.Session, op Op, a, b solver.BitVec) solver.BitVec {
	switch op {
	case OpAdd:
		return s.Add(a, b)
	case OpSub:
		return s.Sub(a, b)
	case OpMul:
		return s.Mul(a, b)
	case OpDiv:
		return s.UDiv(a, b)
	case OpSDiv:
		return s.SDiv(a, b)
	case OpMod:
		return s.URem(a, b)
	case OpSMod:
		return s.SRem(a, b)
	case OpAnd:
		return s.And(a, b)
	case OpOr:
		return s.Or(a, b)
	case OpXor:
		return s.Xor(a, b)
	case OpShl:
		return s.Shl(a, b)
	case OpShr:
		return s.LShr(a, b)
	case OpSar:
		return s.AShr(a, b)
	case OpRol:
		w := a.Width()
		left := s.Shl(a, b)
		right := s.LShr(a, s.Sub(s.Const(uint64(w), w), b))
		return s.Or(left, right)
	case OpRor:
		w := a.Width()
		right := s.LShr(a, b)
		left := s.Shl(a, s.Sub(s.Const(uint64(w), w), b))
		return s.Or(left, right)
	case OpCmpEq:
		return s.Eq(a, b)
	case OpCmpLt:
		return s.ULt(a, b)
	case OpCmpLe:
		return s.ULe(a, b)
	case OpCmpSLt:
		return s.SLt(a, b)
	case OpCmpSLe:
		return s.SLe(a, b)
	case OpCarry:
		result := s.Add(a, b)
		return s.ULt(result, a)
	case OpBorrow:
		return s.ULt(a, b)
	case OpOverflow:
		w := a.Width()
		result := s.Add(a, b)
		top := w - 1
		signA := s.Extract(a, top, top)
		signB := s.Extract(b, top, top)
		signR := s.Extract(result, top, top)
		sameSign := s.Eq(signA, signB)
		diffResult := s.Not(s.Eq(signR, signA))
		return s.And(sameSign, diffResult)
	}
	return a
}

func (d *Do) unary(op Op) error {
	v, err := d.st.PopValue()
	if err != nil {
		return err
	}
	w := v.Width
	if !v.IsSymbolic() {
		d.st.PushValue(value.Concrete(concreteUnary(op, v.Conc, w), resultUnaryWidth(op, w)))
		return nil
	}
	s := d.st.Solver
	d.st.PushValue(value.Symbolic(symbolicUnary(s, op, v.ToBV(s), w), resultUnaryWidth(op, w)))
	return nil
}

func resultUnaryWidth(op Op, w uint) uint {
	if op == OpZero || op == OpParity || op == OpSign {
		return 1
	}
	return w
}

func concreteUnary(op Op, v uint64, w uint) uint64 {
	m := mask(w)
	v &= m
	switch op {
	case OpNot:
		return (^v) & m
	case OpZero:
		return boolBit(v == 0)
	case OpParity:
		b := byte(v)
		count := 0
		for i := 0; i < 8; i++ {
			if b&(1<<i) != 0 {
				count++
			}
		}
		return boolBit(count%2 == 0)
	case OpSign:
		return (v >> (w - 1)) & 1
	}
	return 0
}

func symbolicUnary(s solver.Session, op Op, v solver.BitVec, w uint) solver.BitVec {
	switch op {
	case OpNot:
		return s.Not(v)
	case OpZero:
		return s.Eq(v, s.Const(0, w))
	case OpSign:
		return s.Extract(v, w-1, w-1)
	case OpParity:
		low := s.Extract(v, 7, 0)
		acc := s.Extract(low, 0, 0)
		for i := uint(1); i < 8; i++ {
			acc = s.Xor(acc, s.Extract(low, i, i))
		}
		return s.Not(acc)
	}
	return v
}

func (d *Do) peek(width uint) error {
	addr, err := d.resolveAddress()
	if err != nil {
		return err
	}
	d.st.PushValue(d.st.Mem.Pack(d.st.Solver, addr, width))
	return nil
}

func (d *Do) poke(width uint) error {
	addr, err := d.resolveAddress()
	if err != nil {
		return err
	}
	v, err := d.st.PopValue()
	if err != nil {
		return err
	}
	if v.Width != width {
		if !v.IsSymbolic() {
			v = value.Concrete(v.Conc, width)
		} else {
			v = value.Symbolic(d.st.Solver.Extract(v.Sym, width-1, 0), width)
		}
	}
	if d.st.Esil.Condition != nil {
		old := d.st.Mem.Pack(d.st.Solver, addr, width)
		v = guardedWrite(d.st.Solver, d.st.Esil.Condition, v, old)
	}
	d.st.Mem.WriteValue(d.st.Solver, addr, v)
	return nil
}

// guardedWrite folds a store under an active IF/ELSE Condition into
// Conditional(condition, newVal, oldVal), so an in-branch assign/poke
// under a symbolic condition commits only on the branch that reaches it
// rather than unconditionally (radius's processor.rs conditional-write
// semantics for a bare `cond,?{,...,reg,=,}` branch).
func guardedWrite(s solver.Session, cond solver.BitVec, newVal, oldVal value.Value) value.Value {
	newVal, oldVal = value.Unify(s, newVal, oldVal)
	result := s.Conditional(cond, newVal.ToBV(s), oldVal.ToBV(s))
	return value.Symbolic(result, newVal.Width)
}

// resolveAddress implements the AddressStore/AddressRestore addressing
// mode described in spec.md §4.1/DESIGN.md: while the address slot is
// non-empty, Peek/Poke read (without popping) its top entry instead of
// popping the main stack.
func (d *Do) resolveAddress() (uint64, error) {
	if n := len(d.addrSlot()); n > 0 {
		return d.addrSlot()[n-1], nil
	}
	v, err := d.st.PopValue()
	if err != nil {
		return 0, err
	}
	u, ok := v.AsUint64()
	if !ok {
		addr, ok2 := d.st.Solver.Eval(v.Sym)
		if !ok2 {
			return 0, fmt.Errorf("ops: symbolic memory address has no concrete model")
		}
		return addr, nil
	}
	return u, nil
}

// addrSlotField, kept out of pkg/state to avoid widening State's public
// surface for a detail private to ops: the slot is stashed in the
// evaluator's Scratch.PCs-adjacent field via a side table keyed by
// *state.State identity would be fragile across clones, so instead the
// slot lives directly on Scratch (see pkg/state.Scratch.AddrSlot).
func (d *Do) addrSlot() []uint64 { return d.st.Esil.AddrSlot }

func (d *Do) addressStore() error {
	v, err := d.st.PopValue()
	if err != nil {
		return err
	}
	addr, ok := v.AsUint64()
	if !ok {
		resolved, ok2 := d.st.Solver.Eval(v.Sym)
		if !ok2 {
			return fmt.Errorf("ops: symbolic address store has no concrete model")
		}
		addr = resolved
	}
	d.st.Esil.AddrSlot = append(d.st.Esil.AddrSlot, addr)
	return nil
}

func (d *Do) addressRestore() error {
	n := len(d.st.Esil.AddrSlot)
	if n == 0 {
		return fmt.Errorf("ops: AddressRestore with no stored address")
	}
	addr := d.st.Esil.AddrSlot[n-1]
	d.st.Esil.AddrSlot = d.st.Esil.AddrSlot[:n-1]
	d.st.PushValue(value.Concrete(addr, 64))
	return nil
}

func (d *Do) spAdjust(op Op) error {
	v, err := d.st.PopValue()
	if err != nil {
		return err
	}
	sp, ok := d.st.Regs.Lookup("SP")
	if !ok {
		return fmt.Errorf("ops: no SP register declared")
	}
	cur := d.st.Regs.Get(d.st.Solver, sp.Index)
	delta := v
	if op == OpSPDec {
		if !delta.IsSymbolic() {
			delta = value.Concrete((^delta.Conc)+1, delta.Width)
		} else {
			delta = value.Symbolic(d.st.Solver.Sub(d.st.Solver.Const(0, delta.Width), delta.Sym), delta.Width)
		}
	}
	cur, delta = value.Unify(d.st.Solver, cur, delta)
	if !cur.IsSymbolic() && !delta.IsSymbolic() {
		d.st.Regs.Set(d.st.Solver, sp.Index, value.Concrete(cur.Conc+delta.Conc, cur.Width))
	} else {
		sum := d.st.Solver.Add(cur.ToBV(d.st.Solver), delta.ToBV(d.st.Solver))
		d.st.Regs.Set(d.st.Solver, sp.Index, value.Symbolic(sum, cur.Width))
	}
	return nil
}

// cmov implements a conditional move: pops cond, b, a and pushes
// ITE(cond, a, b), leaving the destination assignment to a following
// `=`.
func (d *Do) cmov() error {
	cond, err := d.st.PopValue()
	if err != nil {
		return err
	}
	b, err := d.st.PopValue()
	if err != nil {
		return err
	}
	a, err := d.st.PopValue()
	if err != nil {
		return err
	}
	a, b = value.Unify(d.st.Solver, a, b)
	s := d.st.Solver
	condBool, ok := cond.AsUint64()
	if ok && !a.IsSymbolic() && !b.IsSymbolic() {
		if condBool != 0 {
			d.st.PushValue(a)
		} else {
			d.st.PushValue(b)
		}
		return nil
	}
	result := s.Conditional(cond.ToBV(s), a.ToBV(s), b.ToBV(s))
	d.st.PushValue(value.Symbolic(result, a.Width))
	return nil
}

// assign implements `=` (Equal, a strong store) and `:=` (WeakEqual, a
// store tagged for the dead-flag optimizer but functionally identical
// at execution time — spec.md §4.3/§4.5). Under a symbolic IF/ELSE
// condition either store is guarded via guardedWrite.
func (d *Do) assign(_ bool) error {
	regIndex, err := d.st.PopRegister()
	if err != nil {
		return err
	}
	v, err := d.st.PopValue()
	if err != nil {
		return err
	}
	entry := d.st.Regs.EntryByIndex(regIndex)
	if v.Width != entry.BitWidth {
		v = unifyToWidth(d.st.Solver, v, entry.BitWidth)
	}
	if d.st.Esil.Condition != nil {
		old := d.st.Regs.Get(d.st.Solver, regIndex)
		v = guardedWrite(d.st.Solver, d.st.Esil.Condition, v, old)
	}
	d.st.Regs.Set(d.st.Solver, regIndex, v)
	return nil
}

func unifyToWidth(s solver.Session, v value.Value, width uint) value.Value {
	if v.Width == width {
		return v
	}
	if v.Width < width {
		if !v.IsSymbolic() {
			return value.Concrete(v.Conc, width)
		}
		return value.Symbolic(s.ZeroExtend(v.Sym, width), width)
	}
	if !v.IsSymbolic() {
		return value.Concrete(v.Conc&mask(width), width)
	}
	return value.Symbolic(s.Extract(v.Sym, width-1, 0), width)
}

func (d *Do) dup() error {
	v, err := d.st.PopValue()
	if err != nil {
		return err
	}
	d.st.PushValue(v)
	d.st.PushValue(v)
	return nil
}
