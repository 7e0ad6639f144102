package esil

import (
	"fmt"

	"github.com/radsym/radsym/pkg/ops"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// Hooks lets a caller (pkg/proc) wire SYSCALL/TRAP dispatch into the
// evaluator without esil depending on the sim-table package directly.
type Hooks struct {
	// Syscall is invoked on the SYSCALL operator; the hook reads the SN
	// register from st itself. nil means SYSCALL is a no-op.
	Syscall func(st *state.State) error
	// Trap is invoked on the TRAP operator with the popped trap number;
	// nil means TRAP is a no-op.
	Trap func(st *state.State, trapNum uint64) error
}

// Evaluator drives the IF/ELSE/ENDIF stack machine of spec.md §4.2
// against tokenized ESIL words.
type Evaluator struct {
	Hooks Hooks
}

// New returns an Evaluator with the given hooks (either may be nil).
func New(hooks Hooks) *Evaluator { return &Evaluator{Hooks: hooks} }

// ErrBreak is returned by Run when a BREAK operator was hit, letting
// the caller distinguish an intentional early-exit from an error.
var ErrBreak = fmt.Errorf("esil: break")

// Run executes words against st, mutating its registers/memory/stack
// in place (spec.md §4.2's parse loop). The evaluator clears st's
// working stack before it starts, matching a fresh per-instruction
// evaluation.
func (e *Evaluator) Run(st *state.State, words []Word) error {
	st.Esil.Stack = nil
	st.Esil.Mode = state.Uncon
	d := ops.New(st)

	index := 0
	for index < len(words) {
		w := words[index]
		index++

		if st.Esil.Mode == state.NoExec {
			if w.Kind != WordOperator || (w.Op != ops.OpElse && w.Op != ops.OpEndIf) {
				continue
			}
		}

		switch w.Kind {
		case WordLiteral:
			st.Push(state.ValueItem(w.Literal))
		case WordRegister:
			st.Push(state.RegisterItem(w.RegIndex))
		case WordUnknown:
			return fmt.Errorf("esil: unrecognized token %q", w.Raw)
		case WordOperator:
			var next int
			var err error
			next, err = e.operator(st, d, w.Op, index)
			if err == ErrBreak {
				return nil
			}
			if err != nil {
				return err
			}
			if next >= 0 {
				index = next
			}
		}
	}
	return nil
}

// operator executes one operator word. It returns a non-negative index
// to jump to (for GOTO) or -1 to continue sequentially.
func (e *Evaluator) operator(st *state.State, d *ops.Do, op ops.Op, nextIndex int) (int, error) {
	switch op {
	case ops.OpIf:
		return -1, e.doIf(st)
	case ops.OpElse:
		e.doElse(st)
		return -1, nil
	case ops.OpEndIf:
		return -1, e.doEndIf(st)
	case ops.OpGoTo:
		n, err := st.PopConcrete()
		if err != nil {
			return -1, err
		}
		st.Esil.Mode = state.Uncon
		return int(n), nil
	case ops.OpBreak:
		return -1, ErrBreak
	case ops.OpTrap:
		n, err := st.PopConcrete()
		if err != nil {
			return -1, err
		}
		if e.Hooks.Trap != nil {
			return -1, e.Hooks.Trap(st, n)
		}
		return -1, nil
	case ops.OpSyscall:
		if e.Hooks.Syscall != nil {
			return -1, e.Hooks.Syscall(st)
		}
		return -1, nil
	default:
		return -1, d.Exec(op)
	}
}

// doIf implements the IF operator: a concrete condition switches
// Uncon into Exec/NoExec; a symbolic condition forks into dual-branch
// mode, stashing the pre-IF stack in Temp1 and recording Condition
// (spec.md §4.2, grounded on aemmitt-ns/radius processor.rs's `parse`).
func (e *Evaluator) doIf(st *state.State) error {
	v, err := st.PopValue()
	if err != nil {
		return err
	}
	if st.Esil.Mode != state.Uncon {
		return fmt.Errorf("esil: nested IF outside Uncon mode is not supported")
	}
	if !v.IsSymbolic() {
		if v.Conc == 0 {
			st.Esil.Mode = state.NoExec
		} else {
			st.Esil.Mode = state.Exec
		}
		return nil
	}
	st.Esil.Mode = state.If
	st.Esil.Temp1 = append([]state.StackItem{}, st.Esil.Stack...)
	zero := st.Solver.Const(0, v.Width)
	st.Esil.Condition = st.Solver.Not(st.Solver.Eq(v.Sym, zero))
	return nil
}

// doElse implements ELSE: in concrete mode it flips Exec/NoExec; in
// symbolic IF mode it negates Condition, stashes the if-branch's final
// stack in Temp2, and restores the pre-IF stack (saved in Temp1) so the
// else-branch executes against the same base.
func (e *Evaluator) doElse(st *state.State) {
	switch st.Esil.Mode {
	case state.Exec:
		st.Esil.Mode = state.NoExec
	case state.NoExec:
		st.Esil.Mode = state.Exec
	case state.If:
		st.Esil.Mode = state.Else
		st.Esil.Condition = st.Solver.Not(st.Esil.Condition)
		st.Esil.Temp2 = st.Esil.Stack
		st.Esil.Stack = st.Esil.Temp1
		st.Esil.Temp1 = nil
	}
}

// doEndIf implements ENDIF. In concrete Exec/NoExec mode it just
// resets to Uncon. In symbolic If/Else mode it pairwise-merges the
// if-branch and else-branch stacks with Conditional(cond, ifVal,
// elseVal), reversing the result to restore original ordering — a
// direct port of aemmitt-ns/radius processor.rs's ENDIF handling.
func (e *Evaluator) doEndIf(st *state.State) error {
	switch st.Esil.Mode {
	case state.If, state.Else:
	default:
		st.Esil.Mode = state.Uncon
		return nil
	}

	var newTemp []state.StackItem
	if st.Esil.Mode == state.If {
		newTemp = st.Esil.Temp1
	} else {
		newTemp = st.Esil.Temp2
	}
	oldStack := st.Esil.Stack

	var merged []state.StackItem
	for len(oldStack) > 0 && len(newTemp) > 0 {
		ifItem, oldRest, err := popLast(oldStack)
		if err != nil {
			return err
		}
		elseItem, newRest, err := popLast(newTemp)
		if err != nil {
			return err
		}
		oldStack, newTemp = oldRest, newRest

		ifVal := st.ResolveItem(ifItem)
		elseVal := st.ResolveItem(elseItem)
		ifVal, elseVal = value.Unify(st.Solver, ifVal, elseVal)
		result := st.Solver.Conditional(st.Esil.Condition, ifVal.ToBV(st.Solver), elseVal.ToBV(st.Solver))
		merged = append(merged, state.ValueItem(value.Symbolic(result, ifVal.Width)))
	}

	reverse(merged)
	st.Esil.Stack = merged
	st.Esil.Temp1 = nil
	st.Esil.Temp2 = nil
	st.Esil.Condition = nil
	st.Esil.Mode = state.Uncon
	return nil
}

func popLast(items []state.StackItem) (state.StackItem, []state.StackItem, error) {
	n := len(items)
	if n == 0 {
		return state.StackItem{}, nil, state.ErrStackUnderflow
	}
	return items[n-1], items[:n-1], nil
}

func reverse(items []state.StackItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// EvalExpression tokenizes and runs a one-off ESIL string against st,
// the `parse_expression` convenience path of spec.md §11 (used by
// pkg/proc to run the synthetic return after a simulated function).
func EvalExpression(e *Evaluator, t *Tokenizer, st *state.State, expr string) error {
	return e.Run(st, t.Tokenize(expr))
}
