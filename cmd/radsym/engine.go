package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/radsym/radsym/pkg/disasm/risa"
	"github.com/radsym/radsym/pkg/esil"
	"github.com/radsym/radsym/pkg/fsstub"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/proc"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/sched"
	"github.com/radsym/radsym/pkg/simtab"
	"github.com/radsym/radsym/pkg/simtab/builtins"
	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/solver/z3solver"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// registerWidth is the RiSC-32 general-purpose register width (pkg/disasm/risa).
const registerWidth = 32

// numGPR is risa's register count (5-bit RA/RB/RC fields: r0..r31).
const numGPR = 32

// newRegisterFile declares r0..r31 plus the synthetic pc/SR registers
// risa's ESIL emission references, and the PC/SN alias table pkg/proc
// and pkg/esil depend on. r29 is the stack-pointer convention, r31 the
// link register, r4 the syscall-number register (SPEC_FULL.md §4.10).
func newRegisterFile() *regfile.File {
	f := regfile.New()
	for i := 0; i < numGPR; i++ {
		f.Declare(fmt.Sprintf("r%d", i), registerWidth)
	}
	f.Declare("pc", registerWidth)
	f.Declare("SR", registerWidth)
	f.Alias("PC", "pc")
	f.Alias("SN", "r4")
	return f
}

// Engine bundles the collaborators one program run needs: the shared
// Processor/Scheduler plus the entry State ready for Run/Fuzz.
type Engine struct {
	Proc  *proc.Processor
	Sched *sched.Scheduler
	Entry *state.State
}

// buildEngine wires a risa Disassembler + z3solver Session into a fresh
// Processor/Scheduler/State, loads program from cfg.ProgramPath, and
// applies cfg.SeedPath if set.
func buildEngine(cfg *Config, log *zap.SugaredLogger) (*Engine, error) {
	data, err := os.ReadFile(cfg.ProgramPath)
	if err != nil {
		return nil, fmt.Errorf("radsym: read program: %w", err)
	}

	dis := risa.New()
	if err := dis.LoadBytes(0, data); err != nil {
		return nil, fmt.Errorf("radsym: load program: %w", err)
	}

	regs := newRegisterFile()
	mem := memory.New()
	fs := fsstub.New()
	var sess solver.Session = z3solver.New()
	st := state.New(regs, mem, fs, sess)

	tok := esil.NewTokenizer(regs)
	popts := proc.Options{
		SelfModify: cfg.SelfModify,
		Optimized:  cfg.Optimized,
		Trace:      cfg.Trace,
		Force:      cfg.Force,
		Lazy:       cfg.Lazy,
	}
	p := proc.New(dis, regs, tok, popts, log)

	table := simtab.New()
	builtins.Register(table)
	for addr, name := range cfg.Sims {
		if err := table.Install(p, addr, name); err != nil {
			return nil, err
		}
	}

	entryPC := cfg.EntryPC
	if cfg.SeedPath != "" {
		seedEntry, err := applySeedFile(cfg.SeedPath, st, p)
		if err != nil {
			return nil, err
		}
		if seedEntry != 0 {
			entryPC = seedEntry
		}
	}
	regs.SetPC(sess, value.Concrete(entryPC, registerWidth))

	sopts := sched.Options{
		MaxStates: cfg.MaxStates,
		Threads:   cfg.Threads,
		VisitCap:  cfg.VisitCap,
		CorpusDir: cfg.CorpusDir,
	}
	s := sched.New(p, sopts, log)
	s.Enqueue(st)

	return &Engine{Proc: p, Sched: s, Entry: st}, nil
}
