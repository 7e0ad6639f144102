// Package builtins ships two example simulated functions — strlen and
// a memset-style stub — grounded in spec.md §8 scenario 4. They are
// sample content, not an exhaustive imported-function library (spec.md
// §1 leaves that library external).
package builtins

import (
	"fmt"

	"github.com/radsym/radsym/pkg/simtab"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// Register installs Strlen and Memset into t under their conventional
// libc names.
func Register(t *simtab.Table) {
	t.Register("strlen", Strlen)
	t.Register("memset", Memset)
}

const runawayGuard = 1 << 20

// Strlen simulates strlen(s): walks bytes from args[0] until a concrete
// NUL. A symbolic byte before any NUL is found makes the result itself
// a fresh symbol rather than guessing a length, so callers that branch
// on the returned length still explore both ways.
func Strlen(st *state.State, args []value.Value) value.Value {
	if len(args) == 0 {
		return value.Concrete(0, 64)
	}
	addr, ok := args[0].AsUint64()
	if !ok {
		return value.Concrete(0, 64)
	}
	for n := uint64(0); n < runawayGuard; n++ {
		b := st.Mem.ReadByte(addr + n)
		if b.IsSymbolic() {
			sym := st.Solver.Symbol(fmt.Sprintf("strlen_len_0x%x", addr), 64)
			return value.Symbolic(sym, 64)
		}
		if b.Conc == 0 {
			return value.Concrete(n, 64)
		}
	}
	return value.Concrete(runawayGuard, 64)
}

// Memset simulates memset(dst, c, n): writes c's low byte to n bytes
// starting at dst, returning dst per the real libc's contract.
func Memset(st *state.State, args []value.Value) value.Value {
	if len(args) < 3 {
		return value.Concrete(0, 64)
	}
	dst, ok := args[0].AsUint64()
	if !ok {
		return args[0]
	}
	n, ok := args[2].AsUint64()
	if !ok {
		return args[0]
	}
	fill := value.Concrete(args[1].Conc&0xff, 8)
	if args[1].IsSymbolic() {
		fill = value.Symbolic(st.Solver.Extract(args[1].Sym, 7, 0), 8)
	}
	for i := uint64(0); i < n; i++ {
		st.Mem.WriteByte(dst+i, fill)
	}
	return args[0]
}
