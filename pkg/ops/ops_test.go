package ops

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsym/radsym/pkg/fsstub"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/solver/fakez3"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

func newTestState(t *testing.T) (*state.State, *fakez3.Session) {
	t.Helper()
	regs := regfile.New()
	regs.Declare("r0", 32)
	regs.Declare("r1", 32)
	regs.Declare("SP", 32)
	sess := fakez3.New()
	return state.New(regs, memory.New(), fsstub.New(), sess), sess
}

func TestBinaryConcreteAdd(t *testing.T) {
	st, _ := newTestState(t)
	d := New(st)
	st.PushValue(value.Concrete(2, 32))
	st.PushValue(value.Concrete(3, 32))
	require.NoError(t, d.Exec(OpAdd))
	got, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Conc)
	require.False(t, got.IsSymbolic())
}

func TestBinarySymbolicAddProducesQueryableResult(t *testing.T) {
	st, sess := newTestState(t)
	d := New(st)
	x := sess.Symbol("x", 32)
	st.PushValue(value.Symbolic(x, 32))
	st.PushValue(value.Concrete(10, 32))
	require.NoError(t, d.Exec(OpAdd))
	got, err := st.PopValue()
	require.NoError(t, err)
	require.True(t, got.IsSymbolic())

	sess.Assert(sess.Eq(x, sess.Const(5, 32)))
	n, ok := sess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(15), n)
}

func TestCarryAndOverflowFlags(t *testing.T) {
	st, _ := newTestState(t)
	d := New(st)

	// 0xffffffff + 1 carries out of 32 bits.
	st.PushValue(value.Concrete(0xffffffff, 32))
	st.PushValue(value.Concrete(1, 32))
	require.NoError(t, d.Exec(OpCarry))
	carry, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, uint64(1), carry.Conc)
	require.Equal(t, uint(1), carry.Width)

	// 0x7fffffff + 1 signed-overflows a 32-bit register.
	st.PushValue(value.Concrete(0x7fffffff, 32))
	st.PushValue(value.Concrete(1, 32))
	require.NoError(t, d.Exec(OpOverflow))
	overflow, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, uint64(1), overflow.Conc)
}

func TestAssignWritesThroughRegisterReference(t *testing.T) {
	st, sess := newTestState(t)
	d := New(st)
	e, ok := st.Regs.Lookup("r0")
	require.True(t, ok)

	st.PushValue(value.Concrete(7, 32))
	st.Push(state.RegisterItem(e.Index))
	require.NoError(t, d.Exec(OpEqual))

	require.Equal(t, uint64(7), st.Regs.Get(sess, e.Index).Conc)
}

func TestPeekPokeRoundTrip(t *testing.T) {
	st, _ := newTestState(t)
	d := New(st)

	st.PushValue(value.Concrete(0xdeadbeef, 32))
	st.PushValue(value.Concrete(0x1000, 64))
	require.NoError(t, d.Exec(OpPoke4))

	st.PushValue(value.Concrete(0x1000, 64))
	require.NoError(t, d.Exec(OpPeek4))
	got, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeef), got.Conc)
}

func TestAddressStoreRestoreScopesRepeatedAccess(t *testing.T) {
	st, _ := newTestState(t)
	d := New(st)

	st.PushValue(value.Concrete(0x2000, 64))
	require.NoError(t, d.Exec(OpAddressStore))

	// Two consecutive peeks under the same stored address must not
	// each consume a stack slot: the address comes from AddrSlot, not
	// from popping the main stack.
	require.NoError(t, d.Exec(OpPeek1))
	v1, err := st.PopValue()
	require.NoError(t, err)
	require.NoError(t, d.Exec(OpPeek1))
	v2, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, v1.Conc, v2.Conc)

	require.NoError(t, d.Exec(OpAddressRestore))
	restored, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), restored.Conc)
}

func TestAssignUnderSymbolicConditionIsGuarded(t *testing.T) {
	st, sess := newTestState(t)
	d := New(st)
	e, ok := st.Regs.Lookup("r0")
	require.True(t, ok)
	st.Regs.Set(sess, e.Index, value.Concrete(99, 32))

	cond := sess.Symbol("cond", 32)
	st.Esil.Condition = sess.Not(sess.Eq(cond, sess.Const(0, 32)))

	st.PushValue(value.Concrete(7, 32))
	st.Push(state.RegisterItem(e.Index))
	require.NoError(t, d.Exec(OpEqual))

	got := st.Regs.Get(sess, e.Index)
	require.True(t, got.IsSymbolic())

	trueSess := sess.Clone()
	trueSess.Assert(trueSess.Eq(cond, trueSess.Const(1, 32)))
	n, ok := trueSess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(7), n)

	falseSess := sess.Clone()
	falseSess.Assert(falseSess.Eq(cond, falseSess.Const(0, 32)))
	n, ok = falseSess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(99), n)
}

func TestPokeUnderSymbolicConditionIsGuarded(t *testing.T) {
	st, sess := newTestState(t)
	d := New(st)
	st.Mem.WriteValue(sess, 0x100, value.Concrete(0xaa, 8))

	cond := sess.Symbol("cond", 32)
	st.Esil.Condition = sess.Not(sess.Eq(cond, sess.Const(0, 32)))

	st.PushValue(value.Concrete(0xbb, 8))
	st.PushValue(value.Concrete(0x100, 64))
	require.NoError(t, d.Exec(OpPoke1))

	got := st.Mem.Pack(sess, 0x100, 8)
	require.True(t, got.IsSymbolic())

	trueSess := sess.Clone()
	trueSess.Assert(trueSess.Eq(cond, trueSess.Const(1, 32)))
	n, ok := trueSess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(0xbb), n)

	falseSess := sess.Clone()
	falseSess.Assert(falseSess.Eq(cond, falseSess.Const(0, 32)))
	n, ok = falseSess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(0xaa), n)
}

func TestCmovPicksBranchByCondition(t *testing.T) {
	st, _ := newTestState(t)
	d := New(st)

	// cmov pops cond, b, a (a pushed first) and yields a when cond != 0.
	st.PushValue(value.Concrete(42, 32))
	st.PushValue(value.Concrete(7, 32))
	st.PushValue(value.Concrete(1, 32))
	require.NoError(t, d.Exec(OpCMov))
	got, err := st.PopValue()
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.Conc)
}
