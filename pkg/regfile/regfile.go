// Package regfile implements the register-file substrate of spec.md
// §3/§4: a fixed-width value array (one slot per root register) with
// named sub-register aliasing and bit-slice access, plus the PC/SN
// alias table the rest of the engine depends on.
package regfile

import (
	"fmt"

	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/value"
)

// Entry describes one named register: its index into File.entries, the
// root register it is backed by, and its bit range within that root.
type Entry struct {
	Name     string
	Index    int
	Root     int
	BitOff   uint
	BitWidth uint
}

// IsSub reports whether entry a's bit range is fully contained in b's,
// within the same root register (spec.md §3's is_sub(a,b)).
func IsSub(a, b Entry) bool {
	if a.Root != b.Root {
		return false
	}
	return a.BitOff >= b.BitOff && a.BitOff+a.BitWidth <= b.BitOff+b.BitWidth
}

// File is the flat backing array of root-register values plus the
// entry/alias tables describing every named (sub-)register.
type File struct {
	entries []Entry
	byName  map[string]int
	roots   []value.Value // one slot per distinct root register
	alias   map[string]string // e.g. "PC" -> "r30", "SN" -> "r2"
}

// New builds an empty File; use Declare to register root registers and
// DeclareSub for bit-sliced aliases into an existing root.
func New() *File {
	return &File{byName: map[string]int{}, alias: map[string]string{}}
}

// Declare registers a root register of the given width, zero-initialized.
func (f *File) Declare(name string, width uint) Entry {
	root := len(f.roots)
	f.roots = append(f.roots, value.Concrete(0, width))
	e := Entry{Name: name, Index: len(f.entries), Root: root, BitOff: 0, BitWidth: width}
	f.entries = append(f.entries, e)
	f.byName[name] = e.Index
	return e
}

// DeclareSub registers a named sub-register view into an existing root
// register at [bitOff, bitOff+width).
func (f *File) DeclareSub(name, rootName string, bitOff, width uint) (Entry, error) {
	rootIdx, ok := f.byName[rootName]
	if !ok {
		return Entry{}, fmt.Errorf("regfile: unknown root register %q", rootName)
	}
	root := f.entries[rootIdx]
	e := Entry{Name: name, Index: len(f.entries), Root: root.Root, BitOff: bitOff, BitWidth: width}
	f.entries = append(f.entries, e)
	f.byName[name] = e.Index
	return e, nil
}

// Alias registers an alternate name resolving to an existing register,
// used for PC and SN (spec.md §3: "PC and SN are resolved by an alias
// table").
func (f *File) Alias(alias, target string) { f.alias[alias] = target }

func (f *File) resolveName(name string) string {
	if t, ok := f.alias[name]; ok {
		return t
	}
	return name
}

// Lookup returns the Entry for name (resolving aliases), or false if
// unknown.
func (f *File) Lookup(name string) (Entry, bool) {
	idx, ok := f.byName[f.resolveName(name)]
	if !ok {
		return Entry{}, false
	}
	return f.entries[idx], true
}

// EntryByIndex returns the Entry at the given token index (Word.Register
// carries an Entry.Index, not a name, so token execution never does a
// string lookup per spec.md §4.1).
func (f *File) EntryByIndex(index int) Entry { return f.entries[index] }

// Get reads a register by entry index, applying its bit slice against
// the backing root value.
func (f *File) Get(s solver.Session, index int) value.Value {
	e := f.entries[index]
	root := f.roots[e.Root]
	if e.BitOff == 0 && e.BitWidth == root.Width {
		return root
	}
	return sliceValue(s, root, e.BitOff, e.BitWidth)
}

// GetPC and GetSN resolve the PC/SN aliases directly.
func (f *File) GetPC(s solver.Session) value.Value { return f.getAlias(s, "PC") }
func (f *File) GetSN(s solver.Session) value.Value { return f.getAlias(s, "SN") }

func (f *File) getAlias(s solver.Session, alias string) value.Value {
	e, ok := f.Lookup(alias)
	if !ok {
		return value.Concrete(0, 64)
	}
	return f.Get(s, e.Index)
}

// Set writes a register by entry index, read-modify-writing the
// backing root value so sibling sub-registers are preserved.
func (f *File) Set(s solver.Session, index int, v value.Value) {
	e := f.entries[index]
	root := f.roots[e.Root]
	if e.BitOff == 0 && e.BitWidth == root.Width {
		f.roots[e.Root] = value.Concrete(v.Conc, root.Width)
		if v.IsSymbolic() {
			f.roots[e.Root] = value.Symbolic(v.Sym, root.Width)
		}
		return
	}
	f.roots[e.Root] = spliceValue(s, root, v, e.BitOff, e.BitWidth)
}

// SetPC writes the PC alias.
func (f *File) SetPC(s solver.Session, v value.Value) {
	if e, ok := f.Lookup("PC"); ok {
		f.Set(s, e.Index, v)
	}
}

func sliceValue(s solver.Session, root value.Value, off, width uint) value.Value {
	if !root.IsSymbolic() {
		return value.Concrete(root.Conc>>off, width)
	}
	return value.Symbolic(s.Extract(root.Sym, off+width-1, off), width)
}

// spliceValue writes v's low `width` bits into root at bit offset off,
// preserving the untouched bits of root.
func spliceValue(s solver.Session, root, v value.Value, off, width uint) value.Value {
	if !root.IsSymbolic() && !v.IsSymbolic() {
		clearMask := ^((uint64(1)<<width - 1) << off)
		merged := (root.Conc & clearMask) | ((v.Conc & (uint64(1)<<width - 1)) << off)
		return value.Concrete(merged, root.Width)
	}
	// Mixed concrete/symbolic: lift both sides into bit-vectors and
	// reassemble with Concat/Extract, the general path spec.md §3
	// implies for a sub-register write under symbolic conditions.
	rootBV := root.ToBV(s)
	vBV := s.Extract(v.ToBV(s), width-1, 0)
	var pieces []solver.BitVec
	if off+width < root.Width {
		pieces = append(pieces, s.Extract(rootBV, root.Width-1, off+width))
	}
	pieces = append(pieces, vBV)
	if off > 0 {
		pieces = append(pieces, s.Extract(rootBV, off-1, 0))
	}
	merged := pieces[0]
	for _, p := range pieces[1:] {
		merged = s.Concat(merged, p)
	}
	return value.Symbolic(merged, root.Width)
}

// Clone deep-copies the register file's values; entries/aliases are
// immutable layout metadata and are shared (spec.md §5: "Cloning is
// deep for memory and register file").
func (f *File) Clone() *File {
	c := &File{entries: f.entries, byName: f.byName, alias: f.alias}
	c.roots = append([]value.Value{}, f.roots...)
	return c
}

// Translate re-materializes every symbolic root value through dst,
// used when a State is cloned into a new solver session (spec.md §9).
func (f *File) Translate(dst solver.Session) {
	for i, v := range f.roots {
		if v.IsSymbolic() {
			f.roots[i] = value.Symbolic(dst.Translate(v.Sym), v.Width)
		}
	}
}

// RootCount returns the number of root registers, used by the merge
// protocol (spec.md §4.9) to iterate "For each register index".
func (f *File) RootCount() int { return len(f.roots) }

// Root returns the raw value of root register i.
func (f *File) Root(i int) value.Value { return f.roots[i] }

// SetRoot overwrites root register i directly, used by merge.
func (f *File) SetRoot(i int, v value.Value) { f.roots[i] = v }
