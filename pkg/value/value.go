// Package value implements the Value tagged union of spec.md §3: every
// datum flowing through the ESIL stack machine is either a concrete
// 64-bit word or a symbolic bit-vector, each carrying a width and a
// taint mask.
package value

import "github.com/radsym/radsym/pkg/solver"

// Value is either Concrete (Sym == nil) or Symbolic (Sym != nil).
// Width is authoritative for both forms; for a Concrete value Conc is
// pre-masked to Width bits.
type Value struct {
	Sym   solver.BitVec
	Conc  uint64
	Width uint
	Taint uint64
}

func mask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

// Concrete builds a concrete Value of the given width.
func Concrete(v uint64, width uint) Value {
	return Value{Conc: v & mask(width), Width: width}
}

// Symbolic builds a symbolic Value wrapping a solver bit-vector.
func Symbolic(bv solver.BitVec, width uint) Value {
	return Value{Sym: bv, Width: width}
}

// IsSymbolic reports whether v wraps a bit-vector rather than a plain
// concrete word.
func (v Value) IsSymbolic() bool { return v.Sym != nil }

// AsUint64 returns v's concrete word and true, or (0, false) if v is
// symbolic.
func (v Value) AsUint64() (uint64, bool) {
	if v.IsSymbolic() {
		return 0, false
	}
	return v.Conc, true
}

// ToBV materializes v as a bit-vector in the given session, building a
// constant if v is concrete.
func (v Value) ToBV(s solver.Session) solver.BitVec {
	if v.IsSymbolic() {
		return v.Sym
	}
	return s.Const(v.Conc, v.Width)
}

// WithTaint returns v with Taint set, marking a value derived from
// tainted input without making it symbolic.
func (v Value) WithTaint(t uint64) Value {
	v.Taint = t
	return v
}

// Unify widens the narrower of a, b by zero-extension so both share the
// wider of the two widths, per spec.md §3's invariant that every binary
// op operates on matching widths. Concrete/concrete unification is pure
// arithmetic; any symbolic operand routes through the solver's
// ZeroExtend.
func Unify(s solver.Session, a, b Value) (Value, Value) {
	if a.Width == b.Width {
		return a, b
	}
	width := a.Width
	if b.Width > width {
		width = b.Width
	}
	return widen(s, a, width), widen(s, b, width)
}

func widen(s solver.Session, v Value, width uint) Value {
	if v.Width == width {
		return v
	}
	if !v.IsSymbolic() {
		return Concrete(v.Conc, width)
	}
	return Symbolic(s.ZeroExtend(v.Sym, width), width)
}
