//go:build !linux

package main

// pinHostMemory has no effect outside Linux.
var pinHostMemory = false

// allocHostFloats falls back to the Go heap.
func allocHostFloats(n int) ([]float32, func() error, error) {
	return make([]float32, n), func() error { return nil }, nil
}
