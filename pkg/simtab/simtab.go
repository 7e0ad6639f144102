// Package simtab is a name-addressed registry of simulated-function
// callbacks, letting a front-end bind a symbolic name (from the
// --sim CLI flag) to an address without pkg/proc itself knowing
// about names (spec.md §2's "Sim/syscall registry").
package simtab

import (
	"fmt"

	"github.com/radsym/radsym/pkg/proc"
)

// Table holds named SimFunc callbacks available for installation at an
// address via Install.
type Table struct {
	funcs map[string]proc.SimFunc
}

// New returns an empty Table.
func New() *Table { return &Table{funcs: map[string]proc.SimFunc{}} }

// Register adds fn under name, overwriting any previous registration
// under that name.
func (t *Table) Register(name string, fn proc.SimFunc) { t.funcs[name] = fn }

// Lookup returns the callback registered under name, if any.
func (t *Table) Lookup(name string) (proc.SimFunc, bool) {
	fn, ok := t.funcs[name]
	return fn, ok
}

// Install binds the registered name to addr on p, resolving e.g. a
// `--sim 0x1000=strlen` pair into a live callback on the Processor.
func (t *Table) Install(p *proc.Processor, addr uint64, name string) error {
	fn, ok := t.funcs[name]
	if !ok {
		return fmt.Errorf("simtab: no registered sim named %q", name)
	}
	p.AddSim(addr, fn)
	return nil
}
