// Package disasm defines the disassembler contract spec.md leaves
// external: turning raw bytes at an address into Instructions carrying
// an ESIL token string, plus the small amount of ABI knowledge
// (calling/syscall convention, return-site ESIL) the engine needs to
// drive CALL/RETN classification and syscall argument marshalling.
package disasm

// Instruction is one disassembled instruction: its address, size,
// textual disassembly, and the ESIL string pkg/esil tokenizes and
// executes.
type Instruction struct {
	Offset   uint64
	Size     uint64
	Mnemonic string
	Disasm   string
	Esil     string
	Bytes    []byte
	IsCall   bool
	IsReturn bool
	// IsConditionalJump marks a branch whose target depends on a
	// runtime comparison, used by fuzz mode to decide when a reached
	// instruction is worth a corpus emission (spec.md §6).
	IsConditionalJump bool
	// Jump and Fail are the branch-taken and fall-through successor
	// addresses a static disassembler can predict for this instruction
	// (the radare2 anal_op convention); zero means "not applicable" and
	// is dropped rather than staged. pkg/proc stages these into
	// state.esil.pcs so Force/Lazy fanout can use them instead of
	// querying the solver (spec.md §4.6/§4.7).
	Jump uint64
	Fail uint64
}

// CallingConvention names the argument and return registers a
// function/syscall uses, by register name (resolved against the
// engine's regfile.File).
type CallingConvention struct {
	Args []string
	Ret  string
}

// Disassembler is the external collaborator spec.md §1/§6 leaves
// abstract; pkg/disasm/risa is this repository's concrete backend.
type Disassembler interface {
	// Disassemble decodes up to n instructions starting at pc from the
	// backend's own loaded image.
	Disassemble(pc uint64, n int) ([]Instruction, error)

	// DisassembleBytes decodes up to n instructions from data, treating
	// data[0] as residing at pc (self-modified-code support, spec.md
	// §8 scenario 6).
	DisassembleBytes(pc uint64, data []byte, n int) ([]Instruction, error)

	// CallingConvention returns the argument/return registers in force
	// at pc (risa has a single, pc-independent convention).
	CallingConvention(pc uint64) (CallingConvention, error)

	// SyscallConvention returns the argument/return registers used for
	// a SYSCALL/TRAP.
	SyscallConvention() (CallingConvention, error)

	// Return returns the ESIL string that performs a synthetic return
	// at pc, used when a simulated function needs to hand control back
	// to its caller without executing real bytes.
	Return(pc uint64) (string, error)

	// SearchBytes finds the first occurrence of needle in the backend's
	// loaded image within [from, to), or -1 if absent.
	SearchBytes(needle []byte, from, to uint64) (int64, error)
}
