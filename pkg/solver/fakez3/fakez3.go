// Package fakez3 is a small, dependency-free solver.Session used only
// by tests. It implements the full solver.Session contract over an
// explicit expression tree, with a direct algebraic solver for the
// single-symbol equality shapes radsym's own end-to-end tests build
// (spec.md §8) and a bounded search as a fallback for everything else.
//
// It is not a general SMT solver and must never be wired into
// cmd/radsym; the production backend is pkg/solver/z3solver.
package fakez3

import (
	"math/rand"

	"github.com/radsym/radsym/pkg/solver"
)

type op int

const (
	opConst op = iota
	opSymbol
	opEq
	opNot
	opAnd
	opOr
	opXor
	opAdd
	opSub
	opMul
	opUDiv
	opSDiv
	opURem
	opSRem
	opShl
	opLShr
	opAShr
	opULt
	opULe
	opSLt
	opSLe
	opZExt
	opSExt
	opExtract
	opConcat
	opITE
)

// bv is fakez3's BitVec implementation: an immutable expression node.
type bv struct {
	op        op
	width     uint
	val       uint64 // opConst
	name      string // opSymbol
	a, b, c   *bv    // operands (c used by opITE's else-branch)
	hi, lo    uint   // opExtract
}

func (n *bv) Width() uint { return n.width }

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// Session implements solver.Session with an explicit assertion list and
// a registry of declared symbols shared across clones via Translate.
type Session struct {
	asserts []*bv
	symbols map[string]uint
	rng     *rand.Rand
}

// New returns a ready fakez3 Session.
func New() *Session {
	return &Session{symbols: map[string]uint{}, rng: rand.New(rand.NewSource(1))}
}

var _ solver.Session = (*Session)(nil)

func as(e solver.BitVec) *bv { return e.(*bv) }

func (s *Session) Const(value uint64, width uint) solver.BitVec {
	return &bv{op: opConst, width: width, val: value & mask(width)}
}

func (s *Session) Symbol(name string, width uint) solver.BitVec {
	s.symbols[name] = width
	return &bv{op: opSymbol, width: width, name: name}
}

func (s *Session) Assert(cond solver.BitVec) { s.asserts = append(s.asserts, as(cond)) }

func (s *Session) Assertions() []solver.BitVec {
	out := make([]solver.BitVec, len(s.asserts))
	for i, a := range s.asserts {
		out[i] = a
	}
	return out
}

func bin(op op, a, b solver.BitVec, width uint) solver.BitVec {
	return &bv{op: op, width: width, a: as(a), b: as(b)}
}

func (s *Session) Eq(a, b solver.BitVec) solver.BitVec  { return bin(opEq, a, b, 1) }
func (s *Session) Not(a solver.BitVec) solver.BitVec     { return &bv{op: opNot, width: as(a).width, a: as(a)} }
func (s *Session) And(a, b solver.BitVec) solver.BitVec  { return bin(opAnd, a, b, as(a).width) }
func (s *Session) Or(a, b solver.BitVec) solver.BitVec   { return bin(opOr, a, b, as(a).width) }
func (s *Session) Xor(a, b solver.BitVec) solver.BitVec  { return bin(opXor, a, b, as(a).width) }
func (s *Session) Add(a, b solver.BitVec) solver.BitVec  { return bin(opAdd, a, b, as(a).width) }
func (s *Session) Sub(a, b solver.BitVec) solver.BitVec  { return bin(opSub, a, b, as(a).width) }
func (s *Session) Mul(a, b solver.BitVec) solver.BitVec  { return bin(opMul, a, b, as(a).width) }
func (s *Session) UDiv(a, b solver.BitVec) solver.BitVec { return bin(opUDiv, a, b, as(a).width) }
func (s *Session) SDiv(a, b solver.BitVec) solver.BitVec { return bin(opSDiv, a, b, as(a).width) }
func (s *Session) URem(a, b solver.BitVec) solver.BitVec { return bin(opURem, a, b, as(a).width) }
func (s *Session) SRem(a, b solver.BitVec) solver.BitVec { return bin(opSRem, a, b, as(a).width) }
func (s *Session) Shl(a, b solver.BitVec) solver.BitVec  { return bin(opShl, a, b, as(a).width) }
func (s *Session) LShr(a, b solver.BitVec) solver.BitVec { return bin(opLShr, a, b, as(a).width) }
func (s *Session) AShr(a, b solver.BitVec) solver.BitVec { return bin(opAShr, a, b, as(a).width) }
func (s *Session) ULt(a, b solver.BitVec) solver.BitVec  { return bin(opULt, a, b, 1) }
func (s *Session) ULe(a, b solver.BitVec) solver.BitVec  { return bin(opULe, a, b, 1) }
func (s *Session) SLt(a, b solver.BitVec) solver.BitVec  { return bin(opSLt, a, b, 1) }
func (s *Session) SLe(a, b solver.BitVec) solver.BitVec  { return bin(opSLe, a, b, 1) }

func (s *Session) ZeroExtend(a solver.BitVec, width uint) solver.BitVec {
	return &bv{op: opZExt, width: width, a: as(a)}
}
func (s *Session) SignExtend(a solver.BitVec, width uint) solver.BitVec {
	return &bv{op: opSExt, width: width, a: as(a)}
}
func (s *Session) Extract(a solver.BitVec, hi, lo uint) solver.BitVec {
	return &bv{op: opExtract, width: hi - lo + 1, a: as(a), hi: hi, lo: lo}
}
func (s *Session) Concat(hi, lo solver.BitVec) solver.BitVec {
	return &bv{op: opConcat, width: as(hi).width + as(lo).width, a: as(hi), b: as(lo)}
}

func (s *Session) Conditional(cond, a, b solver.BitVec) solver.BitVec {
	return &bv{op: opITE, width: as(a).width, a: as(cond), b: as(a), c: as(b)}
}

func (s *Session) Clone() solver.Session {
	c := New()
	c.asserts = append([]*bv{}, s.asserts...)
	for k, v := range s.symbols {
		c.symbols[k] = v
	}
	return c
}

// Translate is a no-op: fakez3 nodes are plain immutable values with no
// session affinity, so a term built against one Session evaluates fine
// against any Session that has declared the same symbols.
func (s *Session) Translate(expr solver.BitVec) solver.BitVec { return expr }

func (s *Session) AndAll(exprs []solver.BitVec) solver.BitVec {
	if len(exprs) == 0 {
		return s.Const(1, 1)
	}
	acc := as(exprs[0])
	for _, e := range exprs[1:] {
		acc = as(bin(opAnd, acc, e, 1))
	}
	return acc
}

func (s *Session) Reset() { s.asserts = nil }

type assignment map[string]uint64

func eval(n *bv, asn assignment) uint64 {
	switch n.op {
	case opConst:
		return n.val
	case opSymbol:
		return asn[n.name] & mask(n.width)
	case opEq:
		if eval(n.a, asn) == eval(n.b, asn) {
			return 1
		}
		return 0
	case opNot:
		return (^eval(n.a, asn)) & mask(n.width)
	case opAnd:
		return (eval(n.a, asn) & eval(n.b, asn)) & mask(n.width)
	case opOr:
		return (eval(n.a, asn) | eval(n.b, asn)) & mask(n.width)
	case opXor:
		return (eval(n.a, asn) ^ eval(n.b, asn)) & mask(n.width)
	case opAdd:
		return (eval(n.a, asn) + eval(n.b, asn)) & mask(n.width)
	case opSub:
		return (eval(n.a, asn) - eval(n.b, asn)) & mask(n.width)
	case opMul:
		return (eval(n.a, asn) * eval(n.b, asn)) & mask(n.width)
	case opUDiv:
		d := eval(n.b, asn)
		if d == 0 {
			return 0
		}
		return eval(n.a, asn) / d
	case opSDiv, opSRem:
		aw := n.a.width
		av, bv := signExt(eval(n.a, asn), aw), signExt(eval(n.b, asn), aw)
		if bv == 0 {
			return 0
		}
		if n.op == opSDiv {
			return uint64(av/bv) & mask(n.width)
		}
		return uint64(av%bv) & mask(n.width)
	case opURem:
		d := eval(n.b, asn)
		if d == 0 {
			return 0
		}
		return eval(n.a, asn) % d
	case opShl:
		return (eval(n.a, asn) << (eval(n.b, asn) & 63)) & mask(n.width)
	case opLShr:
		return (eval(n.a, asn) >> (eval(n.b, asn) & 63)) & mask(n.width)
	case opAShr:
		aw := n.a.width
		av := signExt(eval(n.a, asn), aw)
		return uint64(av>>(eval(n.b, asn)&63)) & mask(n.width)
	case opULt:
		return boolBit(eval(n.a, asn) < eval(n.b, asn))
	case opULe:
		return boolBit(eval(n.a, asn) <= eval(n.b, asn))
	case opSLt:
		aw := n.a.width
		return boolBit(signExt(eval(n.a, asn), aw) < signExt(eval(n.b, asn), aw))
	case opSLe:
		aw := n.a.width
		return boolBit(signExt(eval(n.a, asn), aw) <= signExt(eval(n.b, asn), aw))
	case opZExt:
		return eval(n.a, asn) & mask(n.a.width)
	case opSExt:
		return uint64(signExt(eval(n.a, asn), n.a.width)) & mask(n.width)
	case opExtract:
		return (eval(n.a, asn) >> n.lo) & mask(n.width)
	case opConcat:
		return ((eval(n.a, asn) & mask(n.a.width)) << n.b.width) | (eval(n.b, asn) & mask(n.b.width))
	case opITE:
		if eval(n.a, asn) != 0 {
			return eval(n.b, asn)
		}
		return eval(n.c, asn)
	}
	return 0
}

func signExt(v uint64, width uint) int64 {
	if width >= 64 {
		return int64(v)
	}
	sign := uint64(1) << (width - 1)
	if v&sign != 0 {
		return int64(v | ^mask(width))
	}
	return int64(v)
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func collectSymbols(n *bv, into map[string]uint) {
	if n == nil {
		return
	}
	if n.op == opSymbol {
		into[n.name] = n.width
		return
	}
	collectSymbols(n.a, into)
	collectSymbols(n.b, into)
	collectSymbols(n.c, into)
}

// solveAlgebraic tries the single-symbol equality shapes radsym's own
// tests build directly: Eq(f(Symbol, Const...), Const) where f inverts
// cleanly (Xor, Add, Sub). Returns ok=false if the shape doesn't match.
func solveAlgebraic(assert *bv) (name string, value uint64, ok bool) {
	if assert.op != opEq {
		return "", 0, false
	}
	lhs, rhs := assert.a, assert.b
	if rhs.op == opSymbol {
		lhs, rhs = rhs, lhs
	}
	if rhs.op != opConst {
		return "", 0, false
	}
	target := rhs.val
	for lhs.op != opSymbol {
		switch lhs.op {
		case opXor:
			if lhs.b.op == opConst {
				target = (target ^ lhs.b.val) & mask(lhs.width)
				lhs = lhs.a
				continue
			}
			if lhs.a.op == opConst {
				target = (target ^ lhs.a.val) & mask(lhs.width)
				lhs = lhs.b
				continue
			}
		case opAdd:
			if lhs.b.op == opConst {
				target = (target - lhs.b.val) & mask(lhs.width)
				lhs = lhs.a
				continue
			}
		case opSub:
			if lhs.b.op == opConst {
				target = (target + lhs.b.val) & mask(lhs.width)
				lhs = lhs.a
				continue
			}
		}
		return "", 0, false
	}
	return lhs.name, target & mask(lhs.width), true
}

// solve searches for an assignment satisfying s.asserts plus extra.
func (s *Session) solve(extra *bv) (assignment, bool) {
	syms := map[string]uint{}
	for _, a := range s.asserts {
		collectSymbols(a, syms)
	}
	if extra != nil {
		collectSymbols(extra, syms)
	}
	asn := assignment{}
	// Direct algebraic solves first; they also narrow the random search.
	all := append([]*bv{}, s.asserts...)
	if extra != nil {
		all = append(all, extra)
	}
	for _, a := range all {
		if name, val, ok := solveAlgebraic(a); ok {
			asn[name] = val
		}
	}
	check := func(asn assignment) bool {
		for _, a := range all {
			if eval(a, asn) == 0 {
				return false
			}
		}
		return true
	}
	if check(asn) && len(asn) == len(syms) {
		return asn, true
	}
	// Bounded randomized search over remaining free symbols.
	const attempts = 20000
	for i := 0; i < attempts; i++ {
		trial := assignment{}
		for k, v := range asn {
			trial[k] = v
		}
		for name, width := range syms {
			if _, fixed := trial[name]; fixed {
				continue
			}
			if width <= 20 {
				trial[name] = uint64(s.rng.Intn(1<<width)) & mask(width)
			} else {
				trial[name] = s.rng.Uint64() & mask(width)
			}
		}
		if check(trial) {
			return trial, true
		}
	}
	return nil, false
}

func (s *Session) Eval(expr solver.BitVec) (uint64, bool) {
	asn, ok := s.solve(nil)
	if !ok {
		return 0, false
	}
	return eval(as(expr), asn), true
}

func (s *Session) EvalMany(expr solver.BitVec, max int) []uint64 {
	seen := map[uint64]bool{}
	var out []uint64
	e := as(expr)
	for len(out) < max {
		asn, ok := s.solve(nil)
		if !ok {
			break
		}
		v := eval(e, asn)
		if seen[v] {
			// Force a different value by excluding it and retrying a
			// bounded number of times; fakez3 has no real core, so it
			// simply perturbs the search rather than adding a proper
			// blocking clause.
			negated := &bv{op: opNot, width: 1, a: &bv{op: opEq, width: 1, a: e, b: &bv{op: opConst, width: e.Width(), val: v}}}
			asn2, ok2 := s.solve(negated)
			if !ok2 {
				break
			}
			v = eval(e, asn2)
			if seen[v] {
				break
			}
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
