// Package sched implements the Scheduler of spec.md §4.8/§4.9: a
// worklist loop over States that steps each through a pkg/proc
// Processor, parks states that land on a mergepoint until a sibling
// with the same (pc, backtrace) arrives, and (in Fuzz mode) emits one
// corpus file per registered symbol whenever a conditional jump or
// call is reached — grounded on aemmitt-ns/radius processor.rs's
// `run`/`merge`.
package sched

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radsym/radsym/pkg/proc"
	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// Options configures a Scheduler run.
type Options struct {
	// MaxStates bounds total states explored (0 = unbounded).
	MaxStates int
	// Threads is accepted and logged per spec.md §5's explicit
	// allowance that a reference scheduler may always run serially;
	// radsym's does, regardless of this value.
	Threads int

	// VisitCap bounds how many times Fuzz mode will re-enter the same
	// PC before parking the state at the back of the worklist.
	VisitCap int
	// CorpusDir is where Fuzz mode writes one file per unique
	// per-symbol solution, named "{symbol}{NNNN}".
	CorpusDir string
}

// Scheduler drains a worklist of States against a shared Processor.
type Scheduler struct {
	Proc *proc.Processor
	Opts Options
	Log  *zap.SugaredLogger

	worklist []*state.State
	merges   map[uint64]map[uint64]*state.State // pc -> backtrace hash -> pending state

	Broken  []*state.State
	Avoided []*state.State
}

// New constructs a Scheduler. A nil logger falls back to zap.NewNop().
func New(p *proc.Processor, opts Options, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Threads > 1 {
		log.Infow("threads > 1 requested; scheduler runs serially per design", "threads", opts.Threads)
	}
	return &Scheduler{
		Proc:   p,
		Opts:   opts,
		Log:    log,
		merges: map[uint64]map[uint64]*state.State{},
	}
}

// Enqueue adds a State to the worklist.
func (s *Scheduler) Enqueue(st *state.State) { s.worklist = append(s.worklist, st) }

// Run drains the worklist FIFO until empty, ctx is cancelled, or
// MaxStates is reached (spec.md §4.8). Active/PostMerge states are
// stepped through the Processor; Break states accumulate in Broken;
// Inactive (avoided/segfaulted) states accumulate in Avoided; Merge
// states are parked until a sibling with a matching (pc, backtrace)
// arrives, at which point the pair is folded into one and re-enqueued
// as PostMerge.
func (s *Scheduler) Run(ctx context.Context) error {
	explored := 0
	for len(s.worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Opts.MaxStates > 0 && explored >= s.Opts.MaxStates {
			break
		}
		st := s.popFront()
		explored++
		if s.dispatchTerminal(st) {
			continue
		}
		if err := s.advance(st); err != nil {
			return err
		}
	}
	return nil
}

// Fuzz drains the worklist depth-first (LIFO), re-enqueuing states that
// exceed VisitCap at the back instead of dropping them, and emits
// corpus files after every conditional-jump or call instruction
// (spec.md §6/§4.8's fuzz mode).
func (s *Scheduler) Fuzz(ctx context.Context) error {
	visits := map[uint64]int{}
	seen := map[string]map[string]bool{} // symbol name -> hex byte-string -> seen
	explored := 0
	for len(s.worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Opts.MaxStates > 0 && explored >= s.Opts.MaxStates {
			break
		}
		st := s.popBack()
		explored++
		if s.dispatchTerminal(st) {
			continue
		}

		pc, ok := st.Regs.GetPC(st.Solver).AsUint64()
		if ok && s.Opts.VisitCap > 0 {
			visits[pc]++
			if visits[pc] > s.Opts.VisitCap {
				s.worklist = append([]*state.State{st}, s.worklist...)
				continue
			}
		}

		if err := s.advance(st); err != nil {
			return err
		}
		if prevInstr, havePrev := s.Proc.LookupCached(pc); ok && havePrev &&
			(prevInstr.IsConditionalJump || prevInstr.IsCall) {
			if err := s.emitCorpus(st, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatchTerminal routes a popped state to Broken/Avoided/the merge
// table if its status isn't one Step should be driven through, and
// reports whether it handled st.
func (s *Scheduler) dispatchTerminal(st *state.State) bool {
	switch st.Status {
	case state.Break:
		s.Broken = append(s.Broken, st)
		return true
	case state.Inactive:
		s.Avoided = append(s.Avoided, st)
		return true
	case state.Merge:
		s.pend(st)
		return true
	default:
		return false
	}
}

func (s *Scheduler) advance(st *state.State) error {
	next, err := s.Proc.Step(st)
	if err != nil {
		return fmt.Errorf("sched: step failed: %w", err)
	}
	s.worklist = append(s.worklist, next...)
	return nil
}

func (s *Scheduler) popFront() *state.State {
	st := s.worklist[0]
	s.worklist = s.worklist[1:]
	return st
}

func (s *Scheduler) popBack() *state.State {
	n := len(s.worklist) - 1
	st := s.worklist[n]
	s.worklist = s.worklist[:n]
	return st
}

// pend records st as waiting at its mergepoint, folding it with any
// state already pending under the same (pc, backtrace) key — spec.md
// §9's open question (a), resolved by keying merges on backtrace too so
// two unrelated call paths that happen to share a pc are never folded
// together (DESIGN.md).
func (s *Scheduler) pend(st *state.State) {
	pc, ok := st.Regs.GetPC(st.Solver).AsUint64()
	if !ok {
		s.Log.Warnw("merge point reached with symbolic pc, dropping state")
		return
	}
	key := st.BacktraceKey()
	bucket, ok := s.merges[pc]
	if !ok {
		bucket = map[uint64]*state.State{}
		s.merges[pc] = bucket
	}
	waiting, ok := bucket[key]
	if !ok {
		bucket[key] = st
		return
	}
	delete(bucket, key)
	merged := s.merge(waiting, st)
	merged.Status = state.PostMerge
	s.worklist = append(s.worklist, merged)
}

// merge folds b into a in place: every register/memory byte that
// differs between the two becomes a Conditional keyed on a fresh
// discriminator symbol, and the combined path constraint becomes
// "disc=0 implies a's constraints, disc=1 implies b's" — a direct
// generalization of processor.rs's `merge`, which performs the same
// fold but (per its own TODO, spec.md §9 open question (a)) without the
// backtrace-aware key `pend` now provides.
func (s *Scheduler) merge(a, b *state.State) *state.State {
	sess := a.Solver
	disc := sess.Symbol(fmt.Sprintf("merge_disc_%s", uuid.NewString()), 1)

	for i := 0; i < a.Regs.RootCount(); i++ {
		av := a.Regs.Root(i)
		bv := translate(sess, b.Regs.Root(i))
		if sameConcrete(av, bv) {
			continue
		}
		merged := sess.Conditional(disc, bv.ToBV(sess), av.ToBV(sess))
		a.Regs.SetRoot(i, value.Symbolic(merged, av.Width))
	}

	addrs := map[uint64]bool{}
	for _, addr := range a.Mem.Addresses() {
		addrs[addr] = true
	}
	for _, addr := range b.Mem.Addresses() {
		addrs[addr] = true
	}
	for addr := range addrs {
		av := a.Mem.ReadByte(addr)
		bv := translate(sess, b.Mem.ReadByte(addr))
		if sameConcrete(av, bv) {
			continue
		}
		merged := sess.Conditional(disc, bv.ToBV(sess), av.ToBV(sess))
		a.Mem.WriteByte(addr, value.Symbolic(merged, 8))
	}

	aConj := sess.AndAll(sess.Assertions())
	bAsserts := make([]solver.BitVec, 0, len(b.Solver.Assertions()))
	for _, assertion := range b.Solver.Assertions() {
		bAsserts = append(bAsserts, sess.Translate(assertion))
	}
	bConj := sess.AndAll(bAsserts)
	combined := sess.Or(sess.And(sess.Not(disc), aConj), sess.And(disc, bConj))
	sess.Reset()
	sess.Assert(combined)

	return a
}

func translate(sess solver.Session, v value.Value) value.Value {
	if !v.IsSymbolic() {
		return v
	}
	return value.Symbolic(sess.Translate(v.Sym), v.Width)
}

func sameConcrete(a, b value.Value) bool {
	return !a.IsSymbolic() && !b.IsSymbolic() && a.Conc == b.Conc && a.Width == b.Width
}

// emitCorpus solves every registered symbol in st against its current
// assertions and writes a file per symbol for each not-yet-seen byte
// string, named "{symbol}{NNNN}" under Opts.CorpusDir (spec.md §6).
func (s *Scheduler) emitCorpus(st *state.State, seen map[string]map[string]bool) error {
	if s.Opts.CorpusDir == "" {
		return nil
	}
	for name, v := range st.Symbols {
		bv := v.ToBV(st.Solver)
		n, ok := st.Solver.Eval(bv)
		if !ok {
			continue
		}
		width := bv.Width()
		bytes := valueToBytes(n, width)
		key := fmt.Sprintf("%x", bytes)

		perSymbol, ok := seen[name]
		if !ok {
			perSymbol = map[string]bool{}
			seen[name] = perSymbol
		}
		if perSymbol[key] {
			continue
		}
		perSymbol[key] = true

		if err := os.MkdirAll(s.Opts.CorpusDir, 0o755); err != nil {
			return fmt.Errorf("sched: corpus dir: %w", err)
		}
		fname := fmt.Sprintf("%s%04d", name, len(perSymbol)-1)
		path := filepath.Join(s.Opts.CorpusDir, fname)
		if _, err := os.Stat(path); err == nil {
			// Name already taken by a prior run; disambiguate instead
			// of clobbering (google/uuid, per SPEC_FULL.md §10's note
			// on racing solutions for the same symbol/index).
			path = filepath.Join(s.Opts.CorpusDir, fname+"-"+uuid.NewString()[:8])
		}
		if err := os.WriteFile(path, bytes, 0o644); err != nil {
			return fmt.Errorf("sched: write corpus file: %w", err)
		}
		s.Log.Infow("corpus file emitted", "symbol", name, "path", path)
	}
	return nil
}

func valueToBytes(v uint64, width uint) []byte {
	n := (width + 7) / 8
	out := make([]byte, n)
	for i := uint(0); i < n; i++ {
		out[i] = byte(v >> (i * 8))
	}
	return out
}
