package risa

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsym/radsym/pkg/esil"
	"github.com/radsym/radsym/pkg/fsstub"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/proc"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/solver/fakez3"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/vm"
)

// These helpers assemble raw RiSC-32 words using the exact bit layout
// decode() expects, without depending on any assembler.
func encRRR(opcode, ra, rb, rc uint32) uint32 {
	return opcode<<27 | ra<<22 | rb<<17 | rc
}

func encRRI(opcode, ra, rb, imm17 uint32) uint32 {
	return opcode<<27 | ra<<22 | rb<<17 | (imm17 & 0x1ffff)
}

func encRI(opcode, ra, imm22 uint32) uint32 {
	return opcode<<27 | ra<<22 | (imm22 & 0x3fffff)
}

// oracleProgram exercises every arithmetic/memory/branch opcode risa
// translates to ESIL: ADD, ADDI, NAND, LUI, SW, LW, and a taken BEQ
// that skips a dead instruction.
func oracleProgram() []uint32 {
	return []uint32{
		encRRI(opADDI, 1, 0, 5),   // r1 = 5
		encRRI(opADDI, 2, 0, 7),   // r2 = 7
		encRRR(opADD, 3, 1, 2),    // r3 = r1 + r2
		encRRR(opNAND, 4, 1, 2),   // r4 = ^(r1 & r2)
		encRI(opLUI, 5, 3),        // r5 = 3 << 10
		encRRI(opSW, 3, 0, 100),   // mem[100] = r3
		encRRI(opLW, 6, 0, 100),   // r6 = mem[100]
		encRRI(opBEQ, 1, 1, 1),    // r1 == r1: always taken, skips the next word
		encRRI(opADDI, 7, 0, 999), // dead: skipped by the BEQ above
		encRRI(opADDI, 7, 0, 42),  // r7 = 42, landing pc of the branch
		encRRR(opHALT, 0, 0, 0),
	}
}

// TestOracleAgreesWithPkgVM concretely executes oracleProgram two ways:
// pkg/vm's interpreter loop (the teacher's original semantics) and
// risa's ESIL translation stepped through pkg/proc/pkg/esil. Every
// general-purpose register must end up identical, which is the cheapest
// possible proof that risa's Esil strings mean what pkg/vm's opcode
// switch says they mean.
func TestOracleAgreesWithPkgVM(t *testing.T) {
	words := oracleProgram()

	concrete := new(vm.VM)
	for i, w := range words {
		concrete.M[i] = w
	}
	for {
		ci, err := concrete.Fetch()
		require.NoError(t, err)
		err = concrete.Execute(ci)
		if err != nil {
			require.ErrorIs(t, err, vm.ErrHalted)
			break
		}
	}

	data := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}

	dis := New()
	require.NoError(t, dis.LoadBytes(0, data))

	regs := regfile.New()
	for i := 0; i < 32; i++ {
		regs.Declare(fmt.Sprintf("r%d", i), 32)
	}
	regs.Declare("pc", 32)
	regs.Alias("PC", "pc")

	sess := fakez3.New()
	st := state.New(regs, memory.New(), fsstub.New(), sess)

	tok := esil.NewTokenizer(regs)
	p := proc.New(dis, regs, tok, proc.Options{}, nil)

	// HALT's Esil is "BREAK", a token no-op that only stops the current
	// instruction's own evaluation rather than flipping st.Status, so
	// the loop is bounded to the program's ten real instructions
	// instead of running until some terminal status appears.
	for i := 0; i < 10; i++ {
		states, err := p.Step(st)
		require.NoError(t, err)
		require.Len(t, states, 1)
		st = states[0]
	}

	for i := 0; i < 32; i++ {
		e, ok := regs.Lookup(fmt.Sprintf("r%d", i))
		require.True(t, ok)
		got, isConcrete := regs.Get(sess, e.Index).AsUint64()
		require.True(t, isConcrete, "r%d is unexpectedly symbolic", i)
		require.Equal(t, uint64(concrete.GPR[i]), got, "r%d mismatch", i)
	}
}
