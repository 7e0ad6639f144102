package proc_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsym/radsym/pkg/disasm"
	"github.com/radsym/radsym/pkg/esil"
	"github.com/radsym/radsym/pkg/fsstub"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/proc"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/solver/fakez3"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// fixedDisasm is a minimal disasm.Disassembler test double: Disassemble
// returns whatever's registered at pc (ignoring n), and DisassembleBytes
// decodes purely from the first byte of data via byOpcode — enough to
// exercise pkg/proc's fetch/classify/self-modify paths without a real
// ISA encoder.
type fixedDisasm struct {
	instrs   map[uint64]disasm.Instruction
	byOpcode map[byte]disasm.Instruction
}

func (d *fixedDisasm) Disassemble(pc uint64, n int) ([]disasm.Instruction, error) {
	instr, ok := d.instrs[pc]
	if !ok {
		return nil, fmt.Errorf("fixedDisasm: no instruction at 0x%x", pc)
	}
	return []disasm.Instruction{instr}, nil
}

func (d *fixedDisasm) DisassembleBytes(pc uint64, data []byte, n int) ([]disasm.Instruction, error) {
	instr, ok := d.byOpcode[data[0]]
	if !ok {
		return nil, fmt.Errorf("fixedDisasm: no instruction for opcode 0x%x", data[0])
	}
	instr.Offset = pc
	instr.Bytes = append([]byte{}, data[:instr.Size]...)
	return []disasm.Instruction{instr}, nil
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

func newTestRig() (*regfile.File, *fakez3.Session, *state.State) {
	regs := regfile.New()
	regs.Declare("r0", 32)
	regs.Declare("pc", 64)
	regs.Alias("PC", "pc")
	sess := fakez3.New()
	st := state.New(regs, memory.New(), fsstub.New(), sess)
	return regs, sess, st
}

// TestReturnUnderflowBreaksWhenNoOtherBreakpoints covers spec.md §8
// scenario 5: stepping a RETN-type instruction with an empty backtrace
// must not fall through into garbage; with no other breakpoints
// registered, the reclassification lands on Break.
func TestReturnUnderflowBreaksWhenNoOtherBreakpoints(t *testing.T) {
	regs, _, st := newTestRig()
	dis := &fixedDisasm{instrs: map[uint64]disasm.Instruction{
		0: {Offset: 0, Size: 4, Esil: "", IsReturn: true},
	}}
	p := proc.New(dis, regs, esil.NewTokenizer(regs), proc.Options{}, nil)

	require.NoError(t, p.ExecuteInstruction(st, 0))
	require.Equal(t, state.Break, st.Status)
}

// TestReturnUnderflowAvoidsWhenOtherBreakpointsExist covers the same
// scenario's other branch: when breakpoints exist elsewhere, an empty-
// backtrace return is reclassified Avoid instead of Break, so the run
// doesn't mistake "no frame to return to" for a breakpoint hit.
func TestReturnUnderflowAvoidsWhenOtherBreakpointsExist(t *testing.T) {
	regs, _, st := newTestRig()
	dis := &fixedDisasm{instrs: map[uint64]disasm.Instruction{
		0: {Offset: 0, Size: 4, Esil: "", IsReturn: true},
	}}
	p := proc.New(dis, regs, esil.NewTokenizer(regs), proc.Options{}, nil)
	p.SetBreakpoint(0x1000)

	require.NoError(t, p.ExecuteInstruction(st, 0))
	require.Equal(t, state.Inactive, st.Status)
}

// TestForceFanoutUsesStagedJumpFail covers spec.md §4.6/§4.7: a
// conditional branch whose Jump/Fail fields are populated stages them
// into state.esil.PCs before the tokens run; with Options.Force set,
// Step must fan out across both staged candidates instead of asking
// the solver, even though the committed PC after evaluation is a
// single symbolic ITE value.
func TestForceFanoutUsesStagedJumpFail(t *testing.T) {
	regs := regfile.New()
	regs.Declare("r0", 32)
	regs.Declare("r1", 32)
	regs.Declare("pc", 64)
	regs.Alias("PC", "pc")
	sess := fakez3.New()
	st := state.New(regs, memory.New(), fsstub.New(), sess)

	dis := &fixedDisasm{instrs: map[uint64]disasm.Instruction{
		0: {Offset: 0, Size: 4, Esil: "r0,r1,==,?{,16,PC,=,}", Jump: 16, Fail: 4},
	}}
	p := proc.New(dis, regs, esil.NewTokenizer(regs), proc.Options{Force: true}, nil)

	r0, _ := regs.Lookup("r0")
	x := sess.Symbol("x", 32)
	regs.Set(sess, r0.Index, value.Symbolic(x, 32))
	r1, _ := regs.Lookup("r1")
	regs.Set(sess, r1.Index, value.Concrete(5, 32))
	regs.SetPC(sess, value.Concrete(0, 64))

	states, err := p.Step(st)
	require.NoError(t, err)
	require.Len(t, states, 2)

	var pcs []uint64
	for _, s := range states {
		v, ok := s.Regs.GetPC(s.Solver).AsUint64()
		require.True(t, ok)
		pcs = append(pcs, v)
	}
	require.ElementsMatch(t, []uint64{16, 4}, pcs)
}

// TestSelfModifyInvalidatesCache covers spec.md §8 scenario 6: a
// decoded instruction is cached, the underlying bytes change, and a
// second fetch under self-modify mode must re-decode rather than
// serve the stale cache entry.
func TestSelfModifyInvalidatesCache(t *testing.T) {
	regs, sess, st := newTestRig()
	dis := &fixedDisasm{byOpcode: map[byte]disasm.Instruction{
		1: {Size: 4, Esil: "1,r0,="},
		2: {Size: 4, Esil: "2,r0,="},
	}}
	p := proc.New(dis, regs, esil.NewTokenizer(regs), proc.Options{SelfModify: true}, nil)

	for i := 0; i < 4; i++ {
		st.Mem.WriteByte(uint64(i), value.Concrete(0, 8))
	}
	st.Mem.WriteByte(0, value.Concrete(1, 8))

	require.NoError(t, p.ExecuteInstruction(st, 0))
	r0, _ := st.Regs.Lookup("r0")
	require.Equal(t, uint64(1), st.Regs.Get(sess, r0.Index).Conc)

	st.Mem.WriteByte(0, value.Concrete(2, 8))
	st.Regs.SetPC(sess, value.Concrete(0, 64))

	require.NoError(t, p.ExecuteInstruction(st, 0))
	require.Equal(t, uint64(2), st.Regs.Get(sess, r0.Index).Conc)
}
