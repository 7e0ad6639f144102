// Package proc implements the Processor of spec.md §4.4–§4.7: fetching
// and caching disassembled instructions, classifying them against
// hook/breakpoint/mergepoint/avoidpoint/sim registries, running the
// dead-flag optimizer over the cache, dispatching execution, and
// fanning a state out across however many PC values its step produced
// (grounded on aemmitt-ns/radius processor.rs's Processor).
package proc

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/radsym/radsym/pkg/disasm"
	"github.com/radsym/radsym/pkg/esil"
	"github.com/radsym/radsym/pkg/ops"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// Status classifies one cached instruction for dispatch, in the
// priority order Hook > Break > Merge > Avoid > Sim > None (spec.md §4.4).
type Status int

const (
	StatusNone Status = iota
	StatusHook
	StatusBreak
	StatusMerge
	StatusAvoid
	StatusSim
)

// HookFunc observes/mutates state before an instruction executes;
// returning false skips the instruction's ESIL entirely.
type HookFunc func(st *state.State) bool

// SimFunc replaces a function's body (or services a TRAP/SYSCALL) with
// a native Go callback, given the resolved calling-convention argument
// values, returning the value to place in the return register.
type SimFunc func(st *state.State, args []value.Value) value.Value

// Entry is one cached, tokenized, classified instruction.
type Entry struct {
	Instr  disasm.Instruction
	Tokens []esil.Word
	Status Status
}

// Options configures a Processor's fetch/execute behavior.
type Options struct {
	SelfModify bool
	Optimized  bool
	Trace      bool
	// Force delivers the current instruction's Jump/Fail candidates
	// staged in state.Esil.PCs instead of recomputing fanout; Lazy uses
	// them only when the new PC is symbolic, skipping a fresh EvalMany. Kept as two
	// independent flags per spec.md §9's own note that the split may
	// be historical (DESIGN.md open question (b)).
	Force bool
	Lazy  bool
}

// Processor owns the instruction cache and every per-address registry
// (hooks, sims, traps, breakpoints, mergepoints, avoidpoints).
type Processor struct {
	Dis       disasm.Disassembler
	Regs      *regfile.File
	Tokenizer *esil.Tokenizer
	Evaluator *esil.Evaluator
	Opts      Options
	Log       *zap.SugaredLogger

	instructions map[uint64]Entry
	hooks        map[uint64][]HookFunc
	sims         map[uint64]SimFunc
	traps        map[uint64]SimFunc
	breakpoints  map[uint64]bool
	mergepoints  map[uint64]bool
	avoidpoints  map[uint64]bool
}

// New constructs a Processor. A nil logger falls back to zap.NewNop().
func New(dis disasm.Disassembler, regs *regfile.File, tok *esil.Tokenizer, opts Options, log *zap.SugaredLogger) *Processor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Processor{
		Dis: dis, Regs: regs, Tokenizer: tok, Opts: opts, Log: log,
		instructions: map[uint64]Entry{},
		hooks:        map[uint64][]HookFunc{},
		sims:         map[uint64]SimFunc{},
		traps:        map[uint64]SimFunc{},
		breakpoints:  map[uint64]bool{},
		mergepoints:  map[uint64]bool{},
		avoidpoints:  map[uint64]bool{},
	}
	p.Evaluator = esil.New(esil.Hooks{
		Syscall: p.doSyscall,
		Trap:    p.doTrap,
	})
	return p
}

func (p *Processor) AddHook(pc uint64, h HookFunc)  { p.hooks[pc] = append(p.hooks[pc], h) }
func (p *Processor) AddSim(pc uint64, s SimFunc)    { p.sims[pc] = s }
func (p *Processor) AddTrap(n uint64, s SimFunc)    { p.traps[n] = s }
func (p *Processor) SetBreakpoint(pc uint64)        { p.breakpoints[pc] = true }
func (p *Processor) SetMergepoint(pc uint64)        { p.mergepoints[pc] = true }
func (p *Processor) SetAvoidpoint(pc uint64)        { p.avoidpoints[pc] = true }

// LookupCached returns the cached instruction at pc, if FetchInstruction
// has already run for it — used by pkg/sched's fuzz mode to classify
// the instruction just executed without re-decoding it.
func (p *Processor) LookupCached(pc uint64) (disasm.Instruction, bool) {
	e, ok := p.instructions[pc]
	return e.Instr, ok
}

func (p *Processor) classify(pc uint64) Status {
	switch {
	case len(p.hooks[pc]) > 0:
		return StatusHook
	case p.breakpoints[pc]:
		return StatusBreak
	case p.mergepoints[pc]:
		return StatusMerge
	case p.avoidpoints[pc]:
		return StatusAvoid
	case p.sims[pc] != nil:
		return StatusSim
	default:
		return StatusNone
	}
}

// FetchInstruction ensures pc (and, in non-self-modify mode, a batch of
// instructions after it) is decoded, tokenized, classified, and cached.
func (p *Processor) FetchInstruction(st *state.State, pc uint64) error {
	_, cached := p.instructions[pc]
	if cached && !p.Opts.SelfModify {
		return nil
	}

	var instrs []disasm.Instruction
	var err error
	if p.Opts.SelfModify {
		data := make([]byte, 32)
		for i := range data {
			data[i], _ = st.Mem.ReadByte(pc + uint64(i)).AsUint64()
		}
		if cached {
			prevBytes := p.instructions[pc].Instr.Bytes
			if len(data) >= len(prevBytes) && bytesEqual(data[:len(prevBytes)], prevBytes) {
				return nil
			}
		}
		instrs, err = p.Dis.DisassembleBytes(pc, data[:4], 1)
	} else {
		instrs, err = p.Dis.Disassemble(pc, 64)
	}
	if err != nil {
		return fmt.Errorf("proc: fetch at 0x%x: %w", pc, err)
	}

	var prevPC uint64
	havePrev := false
	for _, instr := range instrs {
		words := p.Tokenizer.Tokenize(instr.Esil)
		status := p.classify(instr.Offset)
		opt := p.Opts.Optimized && !p.Opts.SelfModify && status == StatusNone
		entry := Entry{Instr: instr, Tokens: words, Status: status}

		if opt && havePrev {
			p.optimize(prevPC, entry)
		}
		p.instructions[instr.Offset] = entry
		if status == StatusNone {
			prevPC, havePrev = instr.Offset, true
		} else {
			havePrev = false
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// optimize strips dead WeakEqual flag-producer sequences from the
// previously-cached instruction, per spec.md §4.5: a flag weakly
// assigned by prevPC's tokens is dead if the current instruction
// overwrites that register root (is_sub-aware) without reading it.
func (p *Processor) optimize(prevPC uint64, curr Entry) {
	prev, ok := p.instructions[prevPC]
	if !ok || !containsWeakEqual(prev.Tokens) || !containsWeakEqual(curr.Tokens) {
		return
	}

	var regsRead, regsWritten []int
	for i, w := range curr.Tokens {
		if w.Kind != esil.WordRegister || i+1 >= len(curr.Tokens) {
			continue
		}
		next := curr.Tokens[i+1]
		if next.Kind == esil.WordOperator && (next.Op == ops.OpWeakEqual || next.Op == ops.OpEqual) {
			regsWritten = append(regsWritten, w.RegIndex)
		} else {
			regsRead = append(regsRead, w.RegIndex)
		}
	}

	remove := map[int]bool{}
	for i, w := range prev.Tokens {
		if w.Kind == esil.WordOperator && w.Op == ops.OpNoOperation {
			remove[i] = true
			continue
		}
		if w.Kind != esil.WordOperator || w.Op != ops.OpWeakEqual || i < 1 {
			continue
		}
		reg := prev.Tokens[i-1]
		if reg.Kind != esil.WordRegister {
			continue
		}
		if isReadBy(regsRead, reg.RegIndex, p.regfileIsSub) {
			continue
		}
		if !isReadBy(regsWritten, reg.RegIndex, p.regfileIsSub) {
			continue
		}
		if i < 2 {
			continue
		}
		producer := prev.Tokens[i-2]
		if producer.Kind != esil.WordOperator {
			continue
		}
		switch producer.Op {
		case ops.OpZero, ops.OpParity:
			mark(remove, i-2, i-1, i)
		case ops.OpCarry, ops.OpBorrow, ops.OpOverflow, ops.OpSign:
			if i >= 3 {
				mark(remove, i-3, i-2, i-1, i)
			}
		}
	}

	if len(remove) == 0 {
		return
	}
	var kept []esil.Word
	for i, w := range prev.Tokens {
		if !remove[i] {
			kept = append(kept, w)
		}
	}
	prev.Tokens = kept
	p.instructions[prevPC] = prev
}

// regfileIsSub answers the optimizer's is_sub containment question
// against the shared register file (spec.md §3's is_sub(a,b), pkg/regfile).
func (p *Processor) regfileIsSub(a, b int) bool {
	return regfile.IsSub(p.Regs.EntryByIndex(a), p.Regs.EntryByIndex(b))
}

func mark(set map[int]bool, idx ...int) {
	for _, i := range idx {
		set[i] = true
	}
}

func containsWeakEqual(words []esil.Word) bool {
	for _, w := range words {
		if w.Kind == esil.WordOperator && w.Op == ops.OpWeakEqual {
			return true
		}
	}
	return false
}

func isReadBy(indices []int, target int, isSub func(a, b int) bool) bool {
	for _, idx := range indices {
		if isSub(idx, target) {
			return true
		}
	}
	return false
}

func (p *Processor) doSyscall(st *state.State) error {
	cc, err := p.Dis.SyscallConvention()
	if err != nil {
		return err
	}
	sn := st.Regs.GetSN(st.Solver)
	n, _ := sn.AsUint64()
	return p.dispatchTrap(st, cc, n, nil)
}

func (p *Processor) doTrap(st *state.State, trapNum uint64) error {
	cc, err := p.Dis.SyscallConvention()
	if err != nil {
		return err
	}
	sn := st.Regs.GetSN(st.Solver)
	return p.dispatchTrap(st, cc, trapNum, []value.Value{sn})
}

// dispatchTrap runs the registered trap/syscall callback for n,
// prepending prefixArgs (spec.md §11's "syscall-register prefix args").
func (p *Processor) dispatchTrap(st *state.State, cc disasm.CallingConvention, n uint64, prefixArgs []value.Value) error {
	trap, ok := p.traps[n]
	if !ok {
		return nil
	}
	args := append([]value.Value{}, prefixArgs...)
	for _, name := range cc.Args {
		e, ok := st.Regs.Lookup(name)
		if !ok {
			continue
		}
		args = append(args, st.Regs.Get(st.Solver, e.Index))
	}
	ret := trap(st, args)
	if e, ok := st.Regs.Lookup(cc.Ret); ok {
		st.Regs.Set(st.Solver, e.Index, ret)
	}
	return nil
}
