// Package state implements the State container of spec.md §3: the
// complete snapshot of one explored path — registers, memory, file
// system, solver session, ESIL evaluation scratch, backtrace, status,
// and a user context map — together with its clone/copy-on-write
// semantics (spec.md §3, §5, §9).
package state

import (
	"fmt"

	"github.com/radsym/radsym/pkg/fsstub"
	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/value"
)

// Status is the state's scheduling status (spec.md §3).
type Status int

const (
	Active Status = iota
	Break
	Merge
	PostMerge
	Inactive
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Break:
		return "Break"
	case Merge:
		return "Merge"
	case PostMerge:
		return "PostMerge"
	case Inactive:
		return "Inactive"
	default:
		return "Unknown"
	}
}

// ExecMode is the ESIL evaluator's current branch-execution mode
// (spec.md §3/§4.2).
type ExecMode int

const (
	Uncon ExecMode = iota
	Exec
	NoExec
	If
	Else
)

// StackItem is one entry on the ESIL evaluation stack: either a
// resolved Value or a deferred reference to a register (by entry
// index), so assignment operators (Equal/WeakEqual) can target the
// register itself rather than its current value.
type StackItem struct {
	IsRegister bool
	RegIndex   int
	Val        value.Value
}

// ValueItem wraps a plain Value as a StackItem.
func ValueItem(v value.Value) StackItem { return StackItem{Val: v} }

// RegisterItem wraps a register reference as a StackItem.
func RegisterItem(index int) StackItem { return StackItem{IsRegister: true, RegIndex: index} }

// Scratch holds the ESIL evaluator's per-parse working state
// (spec.md §3's "{ mode, stack, temp1, temp2, pcs, condition }").
type Scratch struct {
	Mode      ExecMode
	Stack     []StackItem
	Temp1     []StackItem
	Temp2     []StackItem
	PCs       []uint64
	Condition solver.BitVec // nil iff Mode is not If/Else

	// AddrSlot backs the AddressStore/AddressRestore addressing mode
	// used by the `OP=[N]` fused read-modify-write expansion (pkg/ops):
	// while non-empty, Peek/Poke read its top entry instead of popping
	// the main stack.
	AddrSlot []uint64
}

// State is one path's complete execution snapshot.
type State struct {
	Regs      *regfile.File
	Mem       *memory.Memory
	FS        *fsstub.FileSystem
	Solver    solver.Session
	Backtrace []uint64
	Esil      Scratch
	Status    Status
	Context   map[string]value.Value

	// Symbols holds every named symbolic value the frontend seeded into
	// this state (spec.md §6A's "create symbolic value"), keyed by
	// symbol name — fuzz-mode corpus emission (spec.md §6) solves each
	// of these against the current assertions to produce one output
	// file per symbol.
	Symbols map[string]value.Value
}

// New constructs an empty State around the given collaborators.
func New(regs *regfile.File, mem *memory.Memory, fs *fsstub.FileSystem, sess solver.Session) *State {
	return &State{
		Regs:    regs,
		Mem:     mem,
		FS:      fs,
		Solver:  sess,
		Status:  Active,
		Context: map[string]value.Value{},
		Symbols: map[string]value.Value{},
	}
}

// ErrStackUnderflow signals an ESIL program popped more values than it
// pushed — a malformed-ESIL programmer error, fatal per spec.md §7.
var ErrStackUnderflow = fmt.Errorf("state: evaluation stack underflow")

// ErrSymbolicControl signals a symbolic value reached the GOTO target or
// TRAP number operand, both of which must be concrete.
var ErrSymbolicControl = fmt.Errorf("state: symbolic control-flow value")

// Push appends an item to the working ESIL stack.
func (s *State) Push(item StackItem) { s.Esil.Stack = append(s.Esil.Stack, item) }

// PushValue is shorthand for Push(ValueItem(v)).
func (s *State) PushValue(v value.Value) { s.Push(ValueItem(v)) }

// PopItem pops the top raw StackItem without resolving a register
// reference, used by Equal/WeakEqual to learn the destination register.
func (s *State) PopItem() (StackItem, error) {
	return popFrom(&s.Esil.Stack)
}

func popFrom(stack *[]StackItem) (StackItem, error) {
	n := len(*stack)
	if n == 0 {
		return StackItem{}, ErrStackUnderflow
	}
	item := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return item, nil
}

// ResolveItem turns a StackItem into a concrete Value, reading the
// register file for a register reference. Exported so pkg/esil's
// ENDIF merge can resolve saved Temp1/Temp2 items directly.
func (s *State) ResolveItem(item StackItem) value.Value {
	if item.IsRegister {
		return s.Regs.Get(s.Solver, item.RegIndex)
	}
	return item.Val
}

// PopValue pops the top stack item and resolves it to a Value.
func (s *State) PopValue() (value.Value, error) {
	item, err := s.PopItem()
	if err != nil {
		return value.Value{}, err
	}
	return s.ResolveItem(item), nil
}

// PopConcrete pops the top stack item and requires it be concrete,
// used by GOTO/TRAP per spec.md §4.2/§7.
func (s *State) PopConcrete() (uint64, error) {
	v, err := s.PopValue()
	if err != nil {
		return 0, err
	}
	u, ok := v.AsUint64()
	if !ok {
		return 0, ErrSymbolicControl
	}
	return u, nil
}

// PopRegister pops the top stack item, requiring it to be a register
// reference, and returns its entry index — used by Equal/WeakEqual.
func (s *State) PopRegister() (int, error) {
	item, err := s.PopItem()
	if err != nil {
		return 0, err
	}
	if !item.IsRegister {
		return 0, fmt.Errorf("state: expected register operand, got value")
	}
	return item.RegIndex, nil
}

// StackHeight returns the current working stack depth.
func (s *State) StackHeight() int { return len(s.Esil.Stack) }

// Clone produces an independent copy of the State: a fresh solver
// session (with every symbolic register/memory/fs byte translated into
// it) and a deep copy of registers/memory/fs/backtrace/context
// (spec.md §3: "Cloning a State clones its solver session... and
// produces an independent copy-on-write view of memory").
func (s *State) Clone() *State {
	newSess := s.Solver.Clone()

	regs := s.Regs.Clone()
	regs.Translate(newSess)

	mem := s.Mem.Clone()
	mem.Translate(newSess)

	fs := s.FS.Clone()
	fs.Translate(newSess)

	ctx := make(map[string]value.Value, len(s.Context))
	for k, v := range s.Context {
		if v.IsSymbolic() {
			v = value.Symbolic(newSess.Translate(v.Sym), v.Width)
		}
		ctx[k] = v
	}

	syms := make(map[string]value.Value, len(s.Symbols))
	for k, v := range s.Symbols {
		if v.IsSymbolic() {
			v = value.Symbolic(newSess.Translate(v.Sym), v.Width)
		}
		syms[k] = v
	}

	c := &State{
		Regs:      regs,
		Mem:       mem,
		FS:        fs,
		Solver:    newSess,
		Backtrace: append([]uint64{}, s.Backtrace...),
		Status:    s.Status,
		Context:   ctx,
		Symbols:   syms,
	}
	c.Esil = cloneScratch(s.Esil, newSess)
	return c
}

func cloneScratch(e Scratch, newSess solver.Session) Scratch {
	c := Scratch{
		Mode:     e.Mode,
		Stack:    cloneStackItems(e.Stack, newSess),
		Temp1:    cloneStackItems(e.Temp1, newSess),
		Temp2:    cloneStackItems(e.Temp2, newSess),
		PCs:      append([]uint64{}, e.PCs...),
		AddrSlot: append([]uint64{}, e.AddrSlot...),
	}
	if e.Condition != nil {
		c.Condition = newSess.Translate(e.Condition)
	}
	return c
}

func cloneStackItems(items []StackItem, newSess solver.Session) []StackItem {
	out := make([]StackItem, len(items))
	for i, it := range items {
		if !it.IsRegister && it.Val.IsSymbolic() {
			it.Val = value.Symbolic(newSess.Translate(it.Val.Sym), it.Val.Width)
		}
		out[i] = it
	}
	return out
}

// PushCall records entering a call, incrementing backtrace depth
// (spec.md §3's invariant: "backtrace depth equals the net count of
// executed calls minus returns").
func (s *State) PushCall(retAddr uint64) { s.Backtrace = append(s.Backtrace, retAddr) }

// PopCall pops the most recent call's return address, reporting false
// if the backtrace is already empty (spec.md §4.6's return-underflow
// guard).
func (s *State) PopCall() (uint64, bool) {
	n := len(s.Backtrace)
	if n == 0 {
		return 0, false
	}
	addr := s.Backtrace[n-1]
	s.Backtrace = s.Backtrace[:n-1]
	return addr, true
}

// BacktraceKey returns a cheap hash of the current backtrace, used to
// key pending merges by (pc, backtrace) per DESIGN.md's resolution of
// spec.md §9's open question (a).
func (s *State) BacktraceKey() uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a offset basis
	for _, a := range s.Backtrace {
		h ^= a
		h *= 1099511628211
	}
	return h
}
