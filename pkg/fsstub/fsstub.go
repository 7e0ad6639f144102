// Package fsstub implements the file-system stub of spec.md §3/§6:
// file descriptors backed by byte vectors, with seed/constrain/search
// operations the front-end symbol/seed surface drives.
package fsstub

import (
	"fmt"
	"strings"

	"github.com/radsym/radsym/pkg/solver"
	"github.com/radsym/radsym/pkg/value"
)

// File is one open file's byte contents, index-addressable like
// memory but keyed by a small dense fd rather than a 64-bit address.
type File struct {
	Path  string
	Bytes []value.Value
}

// FileSystem owns the fd table. fd 0/1/2 are pre-seeded empty
// stdin/stdout/stderr by New, matching common entry-state conventions.
type FileSystem struct {
	files map[int]*File
	paths map[string]int
	next  int
}

// New returns a FileSystem with stdin/stdout/stderr declared empty.
func New() *FileSystem {
	fs := &FileSystem{files: map[int]*File{}, paths: map[string]int{}, next: 3}
	for fd, name := range map[int]string{0: "stdin", 1: "stdout", 2: "stderr"} {
		fs.files[fd] = &File{Path: name}
	}
	return fs
}

// AddFile seeds a new file at path with the given initial contents and
// returns its fd.
func (fs *FileSystem) AddFile(path string, contents []value.Value) int {
	if fd, ok := fs.paths[path]; ok {
		fs.files[fd].Bytes = contents
		return fd
	}
	fd := fs.next
	fs.next++
	fs.files[fd] = &File{Path: path, Bytes: contents}
	fs.paths[path] = fd
	return fd
}

// Fill replaces fd's entire contents with the given bytes.
func (fs *FileSystem) Fill(fd int, bytes []value.Value) error {
	f, ok := fs.files[fd]
	if !ok {
		return fmt.Errorf("fsstub: no such fd %d", fd)
	}
	f.Bytes = bytes
	return nil
}

// Read returns up to n bytes from fd starting at offset.
func (fs *FileSystem) Read(fd int, offset, n int) ([]value.Value, error) {
	f, ok := fs.files[fd]
	if !ok {
		return nil, fmt.Errorf("fsstub: no such fd %d", fd)
	}
	if offset >= len(f.Bytes) {
		return nil, nil
	}
	end := offset + n
	if end > len(f.Bytes) {
		end = len(f.Bytes)
	}
	return f.Bytes[offset:end], nil
}

// Write stores bytes into fd starting at offset, growing the file with
// zero bytes as needed.
func (fs *FileSystem) Write(fd int, offset int, bytes []value.Value) error {
	f, ok := fs.files[fd]
	if !ok {
		return fmt.Errorf("fsstub: no such fd %d", fd)
	}
	need := offset + len(bytes)
	for len(f.Bytes) < need {
		f.Bytes = append(f.Bytes, value.Concrete(0, 8))
	}
	copy(f.Bytes[offset:], bytes)
	return nil
}

// Constrain asserts that fd's bytes starting at offset match pattern,
// where '?' is a wildcard byte. One leading "@" is stripped; every
// other character is taken as a literal byte (there is no hex
// reading). Literal bytes become Eq assertions on the corresponding
// symbolic/concrete Value; '?' bytes are skipped.
func (fs *FileSystem) Constrain(s solver.Session, fd int, offset int, pattern string) error {
	f, ok := fs.files[fd]
	if !ok {
		return fmt.Errorf("fsstub: no such fd %d", fd)
	}
	literal := strings.TrimPrefix(pattern, "@")
	for i := 0; i < len(literal); i++ {
		if literal[i] == '?' {
			continue
		}
		idx := offset + i
		if idx >= len(f.Bytes) {
			return fmt.Errorf("fsstub: pattern exceeds fd %d length", fd)
		}
		want := s.Const(uint64(literal[i]), 8)
		s.Assert(s.Eq(f.Bytes[idx].ToBV(s), want))
	}
	return nil
}

// Search returns the index of the first occurrence of needle within
// fd's concrete-evaluable bytes (spec.md §6's search_fd), or -1 if not
// found. A symbolic byte only matches if the session's current model
// (via Eval) happens to agree with needle at that position; callers
// that need a path-independent "could this match" check should assert
// equality directly instead of relying on Search.
func (fs *FileSystem) Search(s solver.Session, fd int, needle []byte) (int, error) {
	f, ok := fs.files[fd]
	if !ok {
		return -1, fmt.Errorf("fsstub: no such fd %d", fd)
	}
	return searchBytes(s, f.Bytes, needle), nil
}

func searchBytes(s solver.Session, haystack []value.Value, needle []byte) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return -1
	}
	for start := 0; start+len(needle) <= len(haystack); start++ {
		match := true
		for j, want := range needle {
			v := haystack[start+j]
			got, ok := v.AsUint64()
			if !ok {
				got, ok = s.Eval(v.Sym)
				if !ok {
					match = false
					break
				}
			}
			if byte(got) != want {
				match = false
				break
			}
		}
		if match {
			return start
		}
	}
	return -1
}

// EvaluateStringBV returns a printable solution for a null-terminated
// ASCII model of v if one is satisfiable, mirroring spec.md §6's
// evaluate_string_bv: each byte of v is evaluated, stopping at the
// first null (or an unprintable byte, which yields ok=false).
func EvaluateStringBV(s solver.Session, bytes []value.Value) (string, bool) {
	var sb strings.Builder
	for _, b := range bytes {
		got, ok := b.AsUint64()
		if !ok {
			got, ok = s.Eval(b.Sym)
			if !ok {
				return "", false
			}
		}
		c := byte(got)
		if c == 0 {
			return sb.String(), true
		}
		if c < 0x20 || c > 0x7e {
			return "", false
		}
		sb.WriteByte(c)
	}
	return sb.String(), true
}

// Clone deep-copies every file's byte slice and the path table.
func (fs *FileSystem) Clone() *FileSystem {
	c := &FileSystem{files: map[int]*File{}, paths: make(map[string]int, len(fs.paths)), next: fs.next}
	for p, fd := range fs.paths {
		c.paths[p] = fd
	}
	for fd, f := range fs.files {
		c.files[fd] = &File{Path: f.Path, Bytes: append([]value.Value{}, f.Bytes...)}
	}
	return c
}

// Translate re-materializes every symbolic byte through dst.
func (fs *FileSystem) Translate(dst solver.Session) {
	for _, f := range fs.files {
		for i, b := range f.Bytes {
			if b.IsSymbolic() {
				f.Bytes[i] = value.Symbolic(dst.Translate(b.Sym), b.Width)
			}
		}
	}
}
