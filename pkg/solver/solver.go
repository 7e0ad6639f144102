// Package solver defines the narrow contract radsym needs from an SMT
// backend over the quantifier-free theory of fixed-width bit-vectors.
//
// The engine never talks to a concrete backend directly; it is built
// against this interface so the production z3solver backend and the
// deterministic fakez3 test double are interchangeable.
package solver

import "fmt"

// BitVec is an opaque handle to a term in a Session. Handles from one
// Session must not be used with another without first calling
// Session.Translate.
type BitVec interface {
	// Width returns the bit-vector's width in bits.
	Width() uint
}

// Session is one path's assertion stack plus the means to build and
// evaluate bit-vector terms against it.
type Session interface {
	// Const builds a constant bit-vector of the given width.
	Const(value uint64, width uint) BitVec

	// Symbol builds (or returns, if already declared) a free bit-vector
	// variable of the given name and width.
	Symbol(name string, width uint) BitVec

	// Assert adds a boolean (1-bit) bit-vector as a path constraint.
	Assert(cond BitVec)

	// Assertions returns the session's current assertion set.
	Assertions() []BitVec

	// Eval solves for a single concrete value satisfying the current
	// assertions together with expr's bits, returning ok=false if
	// unsatisfiable.
	Eval(expr BitVec) (value uint64, ok bool)

	// EvalMany returns up to max distinct concrete values for expr
	// consistent with the current assertions.
	EvalMany(expr BitVec, max int) []uint64

	// Conditional builds an if-then-else term: cond is a 1-bit
	// bit-vector, a and b must share a.Width() == b.Width().
	Conditional(cond, a, b BitVec) BitVec

	// Eq and the bitwise/arithmetic builders used by pkg/ops.
	Eq(a, b BitVec) BitVec
	Not(a BitVec) BitVec
	And(a, b BitVec) BitVec
	Or(a, b BitVec) BitVec
	Xor(a, b BitVec) BitVec
	Add(a, b BitVec) BitVec
	Sub(a, b BitVec) BitVec
	Mul(a, b BitVec) BitVec
	UDiv(a, b BitVec) BitVec
	SDiv(a, b BitVec) BitVec
	URem(a, b BitVec) BitVec
	SRem(a, b BitVec) BitVec
	Shl(a, b BitVec) BitVec
	LShr(a, b BitVec) BitVec
	AShr(a, b BitVec) BitVec
	ULt(a, b BitVec) BitVec
	ULe(a, b BitVec) BitVec
	SLt(a, b BitVec) BitVec
	SLe(a, b BitVec) BitVec
	ZeroExtend(a BitVec, width uint) BitVec
	SignExtend(a BitVec, width uint) BitVec
	Extract(a BitVec, hi, lo uint) BitVec
	Concat(hi, lo BitVec) BitVec

	// Clone returns an independent session sharing no mutable state
	// with the receiver; BitVec handles from the parent are not valid
	// in the clone until translated.
	Clone() Session

	// Translate re-materializes expr (built against a different
	// session, typically a parent this session was Cloned from) inside
	// this session.
	Translate(expr BitVec) BitVec

	// AndAll folds a slice of boolean bit-vectors with AND, returning a
	// constant true (all-ones 1-bit) bit-vector for an empty slice.
	AndAll(exprs []BitVec) BitVec

	// Reset clears the assertion stack without discarding declared
	// symbols.
	Reset()
}

// ErrUnsat is returned in error-returning call sites when a query has
// no model; Eval/EvalMany report this via their ok/len=0 returns
// instead, since an unsatisfiable query is an expected, non-fatal
// outcome at report time (spec.md §7).
var ErrUnsat = fmt.Errorf("solver: no satisfiable value")
