package esil

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

func newTestRig(t *testing.T) (*Tokenizer, *Evaluator, *state.State, *fakez3.Session) {
	t.Helper()
	regs := regfile.New()
	regs.Declare("r0", 32)
	regs.Declare("r1", 32)
	regs.Declare("r2", 32)
	regs.Declare("pc", 64)
	regs.Alias("PC", "pc")
	sess := fakez3.New()
	st := state.New(regs, memory.New(), fsstub.New(), sess)
	return NewTokenizer(regs), New(Hooks{}), st, sess
}

func run(t *testing.T, tok *Tokenizer, ev *Evaluator, st *state.State, expr string) {
	t.Helper()
	require.NoError(t, ev.Run(st, tok.Tokenize(expr)))
}

func TestSimpleAssignment(t *testing.T) {
	tok, ev, st, sess := newTestRig(t)
	run(t, tok, ev, st, "5,r0,=")
	e, _ := st.Regs.Lookup("r0")
	require.Equal(t, uint64(5), st.Regs.Get(sess, e.Index).Conc)
}

func TestConcreteIfElse(t *testing.T) {
	tok, ev, st, sess := newTestRig(t)
	run(t, tok, ev, st, "1,?{,10,r0,=,}{,20,r0,=,}")
	e, _ := st.Regs.Lookup("r0")
	require.Equal(t, uint64(10), st.Regs.Get(sess, e.Index).Conc)

	run(t, tok, ev, st, "0,?{,10,r0,=,}{,20,r0,=,}")
	require.Equal(t, uint64(20), st.Regs.Get(sess, e.Index).Conc)
}

func TestSymbolicIfElseMergesBothBranches(t *testing.T) {
	tok, ev, st, sess := newTestRig(t)
	e, _ := st.Regs.Lookup("r1")
	cond := sess.Symbol("cond", 32)
	st.Regs.Set(sess, e.Index, value.Symbolic(cond, 32))

	// Branches push a candidate value and leave it on the stack; ENDIF
	// folds the two residual pushes into one ITE value, which the
	// trailing "r0,=" then assigns once. (A direct "r0,=" inside each
	// branch is guarded by the branch condition in pkg/ops as well;
	// this test exercises the stack-merge path.)
	run(t, tok, ev, st, "r1,?{,10,}{,20,},r0,=")

	r0, _ := st.Regs.Lookup("r0")
	got := st.Regs.Get(sess, r0.Index)
	require.True(t, got.IsSymbolic())

	sess.Assert(sess.Eq(cond, sess.Const(1, 32)))
	n, ok := sess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(10), n)
}

func TestGotoJumpsWithinTokenStream(t *testing.T) {
	tok, ev, st, sess := newTestRig(t)
	// Word indices: 0:"5" 1:GOTO 2:"99" 3:r0 4:"=" 5:"1" 6:r1 7:"=".
	// GOTO pops the literal 5 and jumps straight to word index 5,
	// skipping the dead "99,r0,=" assignment entirely.
	words := tok.Tokenize("5,GOTO,99,r0,=,1,r1,=")
	require.NoError(t, ev.Run(st, words))

	r0, _ := st.Regs.Lookup("r0")
	r1, _ := st.Regs.Lookup("r1")
	require.Equal(t, uint64(0), st.Regs.Get(sess, r0.Index).Conc)
	require.Equal(t, uint64(1), st.Regs.Get(sess, r1.Index).Conc)
}

func TestFusedPokeAssignReadModifyWrite(t *testing.T) {
	tok, ev, st, sess := newTestRig(t)
	r0, _ := st.Regs.Lookup("r0")
	st.Regs.Set(sess, r0.Index, value.Concrete(5, 32))

	// mem[0x100] = 1; mem[0x100] += r0 (fused +=[4]); read it back.
	run(t, tok, ev, st, "1,0x100,=[4]")
	run(t, tok, ev, st, "r0,0x100,+=[4]")
	run(t, tok, ev, st, "0x100,[4],r1,=")

	r1, _ := st.Regs.Lookup("r1")
	require.Equal(t, uint64(6), st.Regs.Get(sess, r1.Index).Conc)
}
