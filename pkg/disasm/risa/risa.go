// Package risa ("RISC-ish ESIL adapter") is radsym's concrete
// Disassembler backend, grounded on bassosimone/risc32's RiSC-32
// instruction encoding (pkg/vm's opcode/bit-field layout). Unlike the
// teacher, risa never executes an instruction concretely: Disassemble's
// whole job is to emit the ESIL token string pkg/esil interprets
// (spec.md §4.10). pkg/vm itself survives as a concrete oracle used to
// cross-check that translation in risa_oracle_test.go.
package risa

import (
	"encoding/binary"
	"fmt"

	"github.com/radsym/radsym/pkg/disasm"
)

// Opcode values, identical to bassosimone/risc32's asm.Opcode* constants.
const (
	opHALT = uint32(iota)
	opADD
	opADDI
	opNAND
	opLUI
	opSW
	opLW
	opBEQ
	opJALR
	opWSR
	opRSR
)

// Disassembler decodes RiSC-32 words into Instructions. It keeps its
// own loaded image (set by LoadBytes) so Disassemble can be driven by
// pc alone, the way a real disassembler front-ending a mapped binary
// would be.
type Disassembler struct {
	base  uint64
	words []uint32
}

// New returns an empty Disassembler; call LoadBytes to populate it.
func New() *Disassembler { return &Disassembler{} }

// LoadBytes decodes data (a flat little-endian stream of 32-bit words)
// as starting at address base.
func (d *Disassembler) LoadBytes(base uint64, data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("risa: data length %d is not a multiple of 4", len(data))
	}
	d.base = base
	d.words = make([]uint32, len(data)/4)
	for i := range d.words {
		d.words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nil
}

func regName(bits uint32) string { return fmt.Sprintf("r%d", bits&0b1_1111) }

func signExtend17(v uint32) int64 {
	if v&(1<<16) != 0 {
		return int64(v) - (1 << 17)
	}
	return int64(v)
}

// decode turns one raw word at address pc into an Instruction.
func decode(pc uint64, word uint32) disasm.Instruction {
	opcode := (word >> 27) & 0b1_1111
	ra := (word >> 22) & 0b1_1111
	rb := (word >> 17) & 0b1_1111
	rc := word & 0b1_1111
	imm17 := signExtend17(word & 0b1_1111_1111_1111_1111)
	imm22 := word & 0b11_1111_1111_1111_1111_11

	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, word)

	base := disasm.Instruction{Offset: pc, Size: 4, Bytes: bytes}

	switch opcode {
	case opHALT:
		base.Mnemonic = "HALT"
		base.Disasm = "HALT"
		base.Esil = "BREAK"
	case opADD:
		base.Mnemonic = "ADD"
		base.Disasm = fmt.Sprintf("ADD %s, %s, %s", regName(ra), regName(rb), regName(rc))
		base.Esil = fmt.Sprintf("%s,%s,+,%s,=", regName(rc), regName(rb), regName(ra))
	case opADDI:
		base.Mnemonic = "ADDI"
		base.Disasm = fmt.Sprintf("ADDI %s, %s, %d", regName(ra), regName(rb), imm17)
		base.Esil = fmt.Sprintf("%d,%s,+,%s,=", imm17, regName(rb), regName(ra))
	case opNAND:
		base.Mnemonic = "NAND"
		base.Disasm = fmt.Sprintf("NAND %s, %s, %s", regName(ra), regName(rb), regName(rc))
		base.Esil = fmt.Sprintf("%s,%s,&,!,%s,=", regName(rc), regName(rb), regName(ra))
	case opLUI:
		base.Mnemonic = "LUI"
		base.Disasm = fmt.Sprintf("LUI %s, 0x%x", regName(ra), imm22)
		base.Esil = fmt.Sprintf("%d,10,<<,%s,=", imm22, regName(ra))
	case opSW:
		base.Mnemonic = "SW"
		base.Disasm = fmt.Sprintf("SW %s, %s, %d", regName(ra), regName(rb), imm17)
		base.Esil = fmt.Sprintf("%s,%d,%s,+,=[4]", regName(ra), imm17, regName(rb))
	case opLW:
		base.Mnemonic = "LW"
		base.Disasm = fmt.Sprintf("LW %s, %s, %d", regName(ra), regName(rb), imm17)
		base.Esil = fmt.Sprintf("%d,%s,+,[4],%s,=", imm17, regName(rb), regName(ra))
	case opBEQ:
		base.Mnemonic = "BEQ"
		base.Disasm = fmt.Sprintf("BEQ %s, %s, %d", regName(ra), regName(rb), imm17)
		target := uint64(int64(pc) + 4 + imm17*4)
		// GOTO jumps within a single instruction's token stream (a rare
		// ESIL idiom for intra-instruction loops); cross-instruction
		// branches instead assign PC directly inside the IF block. Under
		// a symbolic ra/rb this is a conditional write (pkg/ops.assign
		// guards it with state.esil.condition), so PC correctly becomes
		// ITE(ra==rb, target, fallthrough) rather than committing target
		// unconditionally.
		base.Esil = fmt.Sprintf("%s,%s,==,?{,%d,PC,=,}", regName(ra), regName(rb), target)
		base.IsConditionalJump = true
		base.Jump = target
		base.Fail = pc + 4
	case opJALR:
		base.Mnemonic = "JALR"
		base.Disasm = fmt.Sprintf("JALR %s, %s", regName(ra), regName(rb))
		base.Esil = fmt.Sprintf("%d,%s,=,%s,PC,=", pc+4, regName(ra), regName(rb))
		base.IsCall = true
	case opWSR:
		base.Mnemonic = "WSR"
		base.Disasm = fmt.Sprintf("WSR %s, SR", regName(ra))
		base.Esil = fmt.Sprintf("%s,SR,=", regName(ra))
	case opRSR:
		base.Mnemonic = "RSR"
		base.Disasm = fmt.Sprintf("RSR %s, SR", regName(ra))
		base.Esil = fmt.Sprintf("SR,%s,=", regName(ra))
	default:
		base.Mnemonic = "INVALID"
		base.Disasm = fmt.Sprintf("invalid opcode %d", opcode)
		base.Esil = ""
	}

	// r31 is the link-register convention: JALR targeting r31 (set by
	// an earlier JALR RA=r31,RB=target) is treated as a return.
	if opcode == opJALR && rb == 31 {
		base.IsReturn = true
		base.IsCall = false
	}
	return base
}

// Disassemble decodes up to n instructions from the loaded image
// starting at pc.
func (d *Disassembler) Disassemble(pc uint64, n int) ([]disasm.Instruction, error) {
	if pc < d.base {
		return nil, fmt.Errorf("risa: pc 0x%x precedes loaded base 0x%x", pc, d.base)
	}
	start := (pc - d.base) / 4
	var out []disasm.Instruction
	for i := 0; i < n && start+uint64(i) < uint64(len(d.words)); i++ {
		out = append(out, decode(pc+uint64(i)*4, d.words[start+uint64(i)]))
	}
	return out, nil
}

// DisassembleBytes decodes up to n instructions directly from data,
// ignoring any loaded image — used for self-modified-code replay
// (spec.md §8 scenario 6).
func (d *Disassembler) DisassembleBytes(pc uint64, data []byte, n int) ([]disasm.Instruction, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("risa: data length %d is not a multiple of 4", len(data))
	}
	words := len(data) / 4
	if n > words {
		n = words
	}
	out := make([]disasm.Instruction, 0, n)
	for i := 0; i < n; i++ {
		w := binary.LittleEndian.Uint32(data[i*4:])
		out = append(out, decode(pc+uint64(i)*4, w))
	}
	return out, nil
}

// CallingConvention returns risa's single argument-passing convention:
// the first three general-purpose registers after r0 (treated as a
// hard-wired zero per historical RISC convention) carry arguments, r3
// carries the return value.
func (d *Disassembler) CallingConvention(pc uint64) (disasm.CallingConvention, error) {
	return disasm.CallingConvention{Args: []string{"r1", "r2", "r3"}, Ret: "r3"}, nil
}

// SyscallConvention mirrors CallingConvention: r1/r2/r3 carry the
// arguments and r3 the return value. The syscall number lives in r4
// (aliased as SN by cmd/radsym); per spec.md §11's "trap table with
// syscall-register prefix args", pkg/proc prepends the SN value itself,
// so this convention lists only the ordinary arguments.
func (d *Disassembler) SyscallConvention() (disasm.CallingConvention, error) {
	return disasm.CallingConvention{Args: []string{"r1", "r2", "r3"}, Ret: "r3"}, nil
}

// Return returns the ESIL that hands control back to the caller via
// the link register (r31) convention JALR establishes.
func (d *Disassembler) Return(pc uint64) (string, error) {
	return "r31,PC,=", nil
}

// SearchBytes finds needle in the loaded image's encoded byte stream.
func (d *Disassembler) SearchBytes(needle []byte, from, to uint64) (int64, error) {
	if from < d.base {
		from = d.base
	}
	for addr := from; addr+uint64(len(needle)) <= to; addr++ {
		idx := addr - d.base
		if idx+uint64(len(needle)) > uint64(len(d.words))*4 {
			break
		}
		match := true
		for i, want := range needle {
			word := d.words[(idx+uint64(i))/4]
			shift := ((idx + uint64(i)) % 4) * 8
			got := byte(word >> shift)
			if got != want {
				match = false
				break
			}
		}
		if match {
			return int64(addr), nil
		}
	}
	return -1, nil
}
