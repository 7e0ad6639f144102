// Package esil implements the ESIL tokenizer and evaluator of spec.md
// §4.1/§4.2: splitting a comma-joined ESIL string into Words, expanding
// the `OP=` and `OP=[N]` fused combination forms, and driving the
// IF/ELSE/ENDIF stack machine that interprets them against a
// state.State.
package esil

import (
	"strconv"
	"strings"

	"github.com/radsym/radsym/pkg/ops"
	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/value"
)

// WordKind classifies one tokenized ESIL word.
type WordKind int

const (
	WordLiteral WordKind = iota
	WordRegister
	WordOperator
	WordUnknown
)

// Word is one tokenized ESIL element: a pushed literal, a register
// reference (by regfile entry index), a dispatchable operator, or an
// unrecognized token kept around for diagnostics.
type Word struct {
	Kind     WordKind
	Literal  value.Value
	RegIndex int
	Op       ops.Op
	Raw      string
}

// Tokenizer splits ESIL strings into Words against a fixed register
// file, expanding the fused `OP=` and `OP=[N]` forms (spec.md §4.1).
type Tokenizer struct {
	Regs *regfile.File
}

// NewTokenizer returns a Tokenizer resolving register names against regs.
func NewTokenizer(regs *regfile.File) *Tokenizer { return &Tokenizer{Regs: regs} }

// Tokenize splits esil on commas and classifies each piece, expanding
// any fused combination token into its constituent Words.
func (t *Tokenizer) Tokenize(esil string) []Word {
	var words []Word
	for _, s := range strings.Split(esil, ",") {
		if s == "" {
			continue
		}
		if w, ok := t.register(s); ok {
			words = append(words, w)
			continue
		}
		if w, ok := literal(s); ok {
			words = append(words, w)
			continue
		}
		if w, ok := operator(s); ok {
			words = append(words, w)
			continue
		}
		if expanded, ok := t.expandAssignFused(s, &words); ok {
			words = expanded
			continue
		}
		if expanded, ok := t.expandPeekPokeFused(s, &words); ok {
			words = expanded
			continue
		}
		words = append(words, Word{Kind: WordUnknown, Raw: s})
	}
	return words
}

func (t *Tokenizer) register(s string) (Word, bool) {
	e, ok := t.Regs.Lookup(s)
	if !ok {
		return Word{}, false
	}
	return Word{Kind: WordRegister, RegIndex: e.Index}, true
}

func literal(s string) (Word, bool) {
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return Word{}, false
		}
		return Word{Kind: WordLiteral, Literal: value.Concrete(v, 64)}, true
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Word{Kind: WordLiteral, Literal: value.Concrete(v, 64)}, true
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Word{Kind: WordLiteral, Literal: value.Concrete(uint64(v), 64)}, true
	}
	return Word{}, false
}

func operator(s string) (Word, bool) {
	op, ok := ops.FromString(s)
	if !ok {
		return Word{}, false
	}
	return Word{Kind: WordOperator, Op: op}, true
}

// expandAssignFused handles tokens of the form "OP=" (e.g. "+=", "^="):
// pop the preceding register word, re-push it, push OP, re-push the
// register, push Equal — matching aemmitt-ns/radius processor.rs's
// `tokenize`: "all this garbage is for the combo ones like ++=[8]".
func (t *Tokenizer) expandAssignFused(s string, words *[]Word) ([]Word, bool) {
	l := len(s)
	if l <= 1 || s[l-1] != '=' {
		return nil, false
	}
	op, ok := ops.FromString(s[:l-1])
	if !ok || !ops.Fusable[op] {
		return nil, false
	}
	ws := *words
	if len(ws) == 0 || ws[len(ws)-1].Kind != WordRegister {
		return nil, false
	}
	reg := ws[len(ws)-1]
	ws = append(ws, ops1(op), reg, Word{Kind: WordOperator, Op: ops.OpEqual})
	return ws, true
}

func ops1(op ops.Op) Word { return Word{Kind: WordOperator, Op: op} }

// expandPeekPokeFused handles tokens of the form "OP=[N]" (N a single
// digit in {1,2,4,8}): AddressStore, peek[N], OP, AddressRestore,
// poke[N] — the exact expansion order aemmitt-ns/radius's tokenize
// produces (push AddressStore, peek, operator, [poke computed],
// AddressRestore, poke — note AddressRestore precedes poke).
func (t *Tokenizer) expandPeekPokeFused(s string, words *[]Word) ([]Word, bool) {
	l := len(s)
	if l <= 4 || s[l-1] != ']' {
		return nil, false
	}
	prefix := s[:l-4]
	op, ok := ops.FromString(prefix)
	if !ok || !ops.Fusable[op] {
		return nil, false
	}
	n, err := strconv.Atoi(s[l-2 : l-1])
	if err != nil {
		return nil, false
	}
	peekOp, ok := ops.PeekOps[n]
	if !ok {
		return nil, false
	}
	pokeOp, ok := ops.PokeOps[n]
	if !ok {
		return nil, false
	}
	ws := *words
	ws = append(ws,
		ops1(ops.OpAddressStore),
		ops1(peekOp),
		ops1(op),
		ops1(ops.OpAddressRestore),
		ops1(pokeOp),
	)
	return ws, true
}
