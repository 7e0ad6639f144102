package sched_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsym/radsym/pkg/disasm"
	"github.com/radsym/radsym/pkg/esil"
	"github.com/radsym/radsym/pkg/fsstub"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/proc"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/sched"
	"github.com/radsym/radsym/pkg/solver/fakez3"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// fixedDisasm resolves every pc from a fixed map; good enough to drive
// pkg/proc/pkg/sched without a real ISA decoder.
type fixedDisasm struct {
	instrs map[uint64]disasm.Instruction
}

func (d *fixedDisasm) Disassemble(pc uint64, n int) ([]disasm.Instruction, error) {
	instr, ok := d.instrs[pc]
	if !ok {
		return nil, fmt.Errorf("fixedDisasm: no instruction at 0x%x", pc)
	}
	return []disasm.Instruction{instr}, nil
}

func (d *fixedDisasm) DisassembleBytes(pc uint64, data []byte, n int) ([]disasm.Instruction, error) {
	return d.Disassemble(pc, n)
}
func (d *fixedDisasm) CallingConvention(pc uint64) (disasm.CallingConvention, error) {
	return disasm.CallingConvention{}, nil
}
func (d *fixedDisasm) SyscallConvention() (disasm.CallingConvention, error) {
	return disasm.CallingConvention{}, nil
}
func (d *fixedDisasm) Return(pc uint64) (string, error) { return "", nil }
func (d *fixedDisasm) SearchBytes(needle []byte, from, to uint64) (int64, error) {
	return -1, nil
}

// TestBranchMergeRejoinsWithITE covers spec.md §8 scenario 2: a symbolic
// 32-bit value x picks between two branches that each set r0 to a distinct
// constant, both of which reconverge at a registered mergepoint. The
// merged state's r0 must read back as ITE(x<10, 1, 2): asserting x==5
// solves to 1, asserting x==50 solves to 2.
func TestBranchMergeRejoinsWithITE(t *testing.T) {
	dis := &fixedDisasm{instrs: map[uint64]disasm.Instruction{
		// x,10,< picks 0x10 (x<10) or 0x20 (otherwise), merged via ENDIF
		// into one symbolic PC before PC is actually assigned.
		0x0: {Offset: 0x0, Size: 4, Esil: "x,10,<,?{,0x10,}{,0x20,},PC,="},
		// Branches write r0 then fall through to the shared mergepoint.
		0x10: {Offset: 0x10, Size: 0x20, Esil: "1,r0,="},
		0x20: {Offset: 0x20, Size: 0x10, Esil: "2,r0,="},
		0x30: {Offset: 0x30, Size: 4, Esil: "0,r1,="},
		// Never actually evaluated: classify(0x34) resolves to Break
		// before FetchInstruction's decoded tokens would run, but the
		// byte range still has to decode to something.
		0x34: {Offset: 0x34, Size: 4, Esil: ""},
	}}

	regs := regfile.New()
	regs.Declare("r0", 32)
	regs.Declare("r1", 32)
	regs.Declare("x", 32)
	regs.Declare("pc", 64)
	regs.Alias("PC", "pc")

	sess := fakez3.New()
	tok := esil.NewTokenizer(regs)
	p := proc.New(dis, regs, tok, proc.Options{}, nil)
	p.SetMergepoint(0x30)
	p.SetBreakpoint(0x34)

	st := state.New(regs, memory.New(), fsstub.New(), sess)
	xEntry, _ := regs.Lookup("x")
	xSym := sess.Symbol("x", 32)
	regs.Set(sess, xEntry.Index, value.Symbolic(xSym, 32))
	regs.SetPC(sess, value.Concrete(0, 64))

	s := sched.New(p, sched.Options{}, nil)
	s.Enqueue(st)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, s.Broken, 1)
	require.Empty(t, s.Avoided)
	merged := s.Broken[0]

	r0, _ := regs.Lookup("r0")
	got := merged.Regs.Get(merged.Solver, r0.Index)
	require.True(t, got.IsSymbolic())

	lowSess := merged.Solver.Clone()
	lowSess.Assert(lowSess.Eq(xSym, lowSess.Const(5, 32)))
	n, ok := lowSess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(1), n)

	highSess := merged.Solver.Clone()
	highSess.Assert(highSess.Eq(xSym, highSess.Const(50, 32)))
	n, ok = highSess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(2), n)
}
