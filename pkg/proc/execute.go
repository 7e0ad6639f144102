package proc

import (
	"fmt"

	"github.com/radsym/radsym/pkg/esil"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// defaultEvalManyMax bounds how many concrete PC candidates a symbolic
// jump target is asked to produce (spec.md §4.7's PC fanout).
const defaultEvalManyMax = 32

// ExecuteInstruction fetches (if needed), classifies, and runs pc's
// instruction against st — the CALL/RETN backtrace bookkeeping,
// Hook/Sim/Break/Merge/Avoid dispatch, and PostMerge reactivation of
// spec.md §4.6, grounded on aemmitt-ns/radius processor.rs's `execute`.
func (p *Processor) ExecuteInstruction(st *state.State, pc uint64) error {
	if err := p.FetchInstruction(st, pc); err != nil {
		return err
	}
	entry, ok := p.instructions[pc]
	if !ok {
		return fmt.Errorf("proc: no cached instruction at 0x%x", pc)
	}
	instr := entry.Instr

	if st.Mem.Check && !st.Mem.CheckPermission(pc, instr.Size, memory.PermExec) {
		if err := st.Mem.HandleSegfault(pc, instr.Size, 'x'); err != nil {
			p.Log.Warnw("segfault, deactivating state", "err", err)
			st.Status = state.Inactive
			return nil
		}
	}

	if p.Opts.Trace {
		p.Log.Infow("exec", "pc", fmt.Sprintf("0x%x", pc), "disasm", instr.Disasm, "esil", instr.Esil)
	}

	newPC := pc + instr.Size
	st.Esil.PCs = nil
	for _, candidate := range [2]uint64{instr.Jump, instr.Fail} {
		if candidate != 0 {
			st.Esil.PCs = append(st.Esil.PCs, candidate)
		}
	}

	status := entry.Status
	if st.Status == state.PostMerge && status == StatusMerge {
		st.Status = state.Active
		status = StatusNone
	}

	switch {
	case instr.IsCall:
		st.PushCall(newPC)
	case instr.IsReturn:
		if _, hadFrame := st.PopCall(); !hadFrame && status == StatusNone {
			if len(p.breakpoints) > 0 {
				status = StatusAvoid
			} else {
				status = StatusBreak
			}
		}
	}

	switch status {
	case StatusNone:
		st.Regs.SetPC(st.Solver, value.Concrete(newPC, 64))
		return p.Evaluator.Run(st, entry.Tokens)
	case StatusHook:
		st.Regs.SetPC(st.Solver, value.Concrete(newPC, 64))
		skip := false
		for _, h := range p.hooks[pc] {
			if !h(st) {
				skip = true
			}
		}
		if skip {
			return nil
		}
		return p.Evaluator.Run(st, entry.Tokens)
	case StatusSim:
		return p.runSim(st, pc, newPC)
	case StatusBreak:
		st.Status = state.Break
		return nil
	case StatusMerge:
		st.Status = state.Merge
		return nil
	case StatusAvoid:
		st.Status = state.Inactive
		return nil
	default:
		return fmt.Errorf("proc: unknown instruction status %v", status)
	}
}

func (p *Processor) runSim(st *state.State, pc, newPC uint64) error {
	st.Regs.SetPC(st.Solver, value.Concrete(newPC, 64))
	cc, err := p.Dis.CallingConvention(pc)
	if err != nil {
		return err
	}
	var args []value.Value
	for _, name := range cc.Args {
		e, ok := st.Regs.Lookup(name)
		if !ok {
			continue
		}
		args = append(args, st.Regs.Get(st.Solver, e.Index))
	}
	ret := p.sims[pc](st, args)
	if e, ok := st.Regs.Lookup(cc.Ret); ok {
		st.Regs.Set(st.Solver, e.Index, ret)
	}
	st.PopCall()

	if u, ok := st.Regs.GetPC(st.Solver).AsUint64(); ok && u == newPC {
		retEsil, err := p.Dis.Return(pc)
		if err != nil {
			return err
		}
		return esil.EvalExpression(p.Evaluator, p.Tokenizer, st, retEsil)
	}
	return nil
}

// Step executes the instruction at st's current (concrete) PC and fans
// st out across however many PC candidates the result produced,
// cloning for every candidate but the last (spec.md §4.7).
func (p *Processor) Step(st *state.State) ([]*state.State, error) {
	pcVal := st.Regs.GetPC(st.Solver)
	pc, ok := pcVal.AsUint64()
	if !ok {
		p.Log.Warnw("step called with symbolic PC", "pc", pcVal)
		return nil, nil
	}

	if err := p.ExecuteInstruction(st, pc); err != nil {
		return nil, err
	}

	newPCVal := st.Regs.GetPC(st.Solver)
	wasConcrete := !newPCVal.IsSymbolic()

	var pcs []uint64
	switch {
	case p.Opts.Force && len(st.Esil.PCs) > 0:
		pcs = st.Esil.PCs
		st.Esil.PCs = nil
	case wasConcrete:
		v, _ := newPCVal.AsUint64()
		pcs = []uint64{v}
	case p.Opts.Lazy && len(st.Esil.PCs) > 0:
		pcs = st.Esil.PCs
		st.Esil.PCs = nil
	default:
		pcs = st.Solver.EvalMany(newPCVal.Sym, defaultEvalManyMax)
	}

	if len(pcs) == 1 && wasConcrete {
		return []*state.State{st}, nil
	}
	if len(pcs) == 0 {
		return nil, nil
	}

	states := make([]*state.State, 0, len(pcs))
	for _, target := range pcs[:len(pcs)-1] {
		clone := st.Clone()
		if newPCVal.IsSymbolic() {
			translated := clone.Solver.Translate(newPCVal.Sym)
			clone.Solver.Assert(clone.Solver.Eq(translated, clone.Solver.Const(target, newPCVal.Width)))
		}
		clone.Regs.SetPC(clone.Solver, value.Concrete(target, 64))
		states = append(states, clone)
	}
	last := pcs[len(pcs)-1]
	if newPCVal.IsSymbolic() {
		st.Solver.Assert(st.Solver.Eq(newPCVal.Sym, st.Solver.Const(last, newPCVal.Width)))
	}
	st.Regs.SetPC(st.Solver, value.Concrete(last, 64))
	states = append(states, st)
	return states, nil
}
