package main

import "github.com/radsym/radsym/pkg/value"

// concreteBytes wraps raw bytes as a slice of concrete 8-bit Values,
// the shape pkg/fsstub.FileSystem.AddFile expects.
func concreteBytes(raw []byte) []value.Value {
	out := make([]value.Value, len(raw))
	for i, b := range raw {
		out[i] = value.Concrete(uint64(b), 8)
	}
	return out
}
