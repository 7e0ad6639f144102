package main

import (
	"fmt"

	"github.com/radsym/radsym/pkg/frontend"
	"github.com/radsym/radsym/pkg/proc"
	"github.com/radsym/radsym/pkg/state"
)

// applySeedFile decodes and applies a frontend.Seed onto st, installing
// its avoid/breakpoint/merge address sets on p, and returns the seed's
// declared entry PC (0 if it didn't declare one).
func applySeedFile(path string, st *state.State, p *proc.Processor) (uint64, error) {
	seed, err := frontend.LoadSeed(path)
	if err != nil {
		return 0, err
	}
	if err := seed.Apply(st); err != nil {
		return 0, fmt.Errorf("radsym: apply seed: %w", err)
	}
	for _, pc := range seed.Avoid {
		p.SetAvoidpoint(pc)
	}
	for _, pc := range seed.Breakpoints {
		p.SetBreakpoint(pc)
	}
	for _, pc := range seed.Merge {
		p.SetMergepoint(pc)
	}
	return seed.EntryPC()
}
