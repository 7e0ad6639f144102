// Package frontend implements the seed-file front-end of spec.md §6/§6A:
// a small JSON (or TOML) document describing an entry state — initial
// register values, named symbolic inputs, seeded files, byte-range
// constraints, and the avoid/breakpoint/merge address sets — decoded
// and applied onto a pkg/state.State.
package frontend

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/state"
	"github.com/radsym/radsym/pkg/value"
)

// SymbolSeed declares one named symbolic input of a given bit width.
type SymbolSeed struct {
	Name  string `json:"name" toml:"name"`
	Width uint   `json:"width" toml:"width"`
}

// FileSeed seeds one file descriptor's contents: either bound to a
// previously declared symbol (byte-for-byte, little-endian), given
// literal hex-encoded bytes, or left as Length zero bytes.
type FileSeed struct {
	Path   string `json:"path" toml:"path"`
	Symbol string `json:"symbol,omitempty" toml:"symbol,omitempty"`
	Data   string `json:"data,omitempty" toml:"data,omitempty"`
	Length uint64 `json:"length,omitempty" toml:"length,omitempty"`
}

// ConstraintSeed bounds one byte of a declared symbol to [Min, Max]
// (spec.md §6's "constrain byte-range"), compared as signed 8-bit
// values. A bound left at zero is not asserted.
type ConstraintSeed struct {
	Symbol string `json:"symbol" toml:"symbol"`
	Index  uint64 `json:"index" toml:"index"`
	Min    int64  `json:"min,omitempty" toml:"min,omitempty"`
	Max    int64  `json:"max,omitempty" toml:"max,omitempty"`
}

// Seed is the decoded contents of one seed file.
type Seed struct {
	Entry       string            `json:"entry,omitempty" toml:"entry,omitempty"`
	Registers   map[string]string `json:"registers,omitempty" toml:"registers,omitempty"`
	Symbols     []SymbolSeed      `json:"symbols,omitempty" toml:"symbols,omitempty"`
	Files       []FileSeed        `json:"files,omitempty" toml:"files,omitempty"`
	Constraints []ConstraintSeed  `json:"constraints,omitempty" toml:"constraints,omitempty"`
	Avoid       []uint64          `json:"avoid,omitempty" toml:"avoid,omitempty"`
	Breakpoints []uint64          `json:"breakpoints,omitempty" toml:"breakpoints,omitempty"`
	Merge       []uint64          `json:"merge,omitempty" toml:"merge,omitempty"`
}

// LoadSeed decodes path as JSON or, for a ".toml" extension, TOML
// (BurntSushi/toml, the same library the teacher's pack favors for
// config — see DESIGN.md).
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("frontend: read seed: %w", err)
	}
	var seed Seed
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("frontend: decode TOML seed: %w", err)
		}
		return &seed, nil
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("frontend: decode JSON seed: %w", err)
	}
	return &seed, nil
}

// EntryPC parses Entry as a 0x-hex or decimal address.
func (seed *Seed) EntryPC() (uint64, error) {
	if seed.Entry == "" {
		return 0, nil
	}
	return parseUint(seed.Entry)
}

// Apply seeds st's registers, symbols, files, and byte constraints from
// the decoded Seed (spec.md §6's symbol/seed surface). Avoid/Breakpoints/
// Merge are left for the caller to install on a pkg/proc.Processor,
// since those are processor-wide registries, not per-state data.
func (seed *Seed) Apply(st *state.State) error {
	for name, raw := range seed.Registers {
		e, ok := st.Regs.Lookup(name)
		if !ok {
			return fmt.Errorf("frontend: unknown register %q", name)
		}
		v, err := parseUint(raw)
		if err != nil {
			return fmt.Errorf("frontend: register %q: %w", name, err)
		}
		st.Regs.Set(st.Solver, e.Index, value.Concrete(v, e.BitWidth))
	}

	symBytes := make(map[string][]value.Value, len(seed.Symbols))
	for _, sym := range seed.Symbols {
		bv := st.Solver.Symbol(sym.Name, sym.Width)
		st.Symbols[sym.Name] = value.Symbolic(bv, sym.Width)
		symBytes[sym.Name] = symbolBytes(st.Solver, bv, sym.Width)
	}

	for _, f := range seed.Files {
		contents, err := fileContents(f, symBytes)
		if err != nil {
			return err
		}
		st.FS.AddFile(f.Path, contents)
	}

	for _, c := range seed.Constraints {
		if err := applyConstraint(st.Solver, symBytes, c); err != nil {
			return err
		}
	}
	return nil
}

func fileContents(f FileSeed, symBytes map[string][]value.Value) ([]value.Value, error) {
	switch {
	case f.Symbol != "":
		bytes, ok := symBytes[f.Symbol]
		if !ok {
			return nil, fmt.Errorf("frontend: file %q references unknown symbol %q", f.Path, f.Symbol)
		}
		return bytes, nil
	case f.Data != "":
		raw, err := hex.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("frontend: file %q data: %w", f.Path, err)
		}
		out := make([]value.Value, len(raw))
		for i, b := range raw {
			out[i] = value.Concrete(uint64(b), 8)
		}
		return out, nil
	default:
		out := make([]value.Value, f.Length)
		for i := range out {
			out[i] = value.Concrete(0, 8)
		}
		return out, nil
	}
}

func applyConstraint(s solver.Session, symBytes map[string][]value.Value, c ConstraintSeed) error {
	bytes, ok := symBytes[c.Symbol]
	if !ok {
		return fmt.Errorf("frontend: constraint references unknown symbol %q", c.Symbol)
	}
	if c.Index >= uint64(len(bytes)) {
		return fmt.Errorf("frontend: constraint index %d out of range for symbol %q (%d bytes)", c.Index, c.Symbol, len(bytes))
	}
	bv := bytes[c.Index].ToBV(s)
	if c.Min != 0 {
		s.Assert(s.SLe(s.Const(uint64(int8(c.Min)), 8), bv))
	}
	if c.Max != 0 {
		s.Assert(s.SLe(bv, s.Const(uint64(int8(c.Max)), 8)))
	}
	return nil
}

// symbolBytes splits a width-bit symbol into its little-endian
// constituent bytes, the same convention pkg/memory.Unpack uses.
func symbolBytes(s solver.Session, bv solver.BitVec, width uint) []value.Value {
	n := width / 8
	out := make([]value.Value, n)
	for i := uint(0); i < n; i++ {
		out[i] = value.Symbolic(s.Extract(bv, i*8+7, i*8), 8)
	}
	return out
}

func parseUint(raw string) (uint64, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return strconv.ParseUint(raw[2:], 16, 64)
	}
	return strconv.ParseUint(raw, 10, 64)
}
