package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file defines the shapes the benchmark works with: the six-dimension
// matrix descriptor and the host-side float32 buffers that feed the device.
//
// Everything here is row-major. The column-major view the BLAS library needs
// is confined to sgemm.go; nothing in this file knows about it.
//
// ===========================================================================

import (
	"fmt"
	"math/rand"
)

// MatrixSize describes C = A * B by the width and height of each operand.
//
// A is HA x WA, B is HB x WB and C is HC x WC (height x width). A MatrixSize
// is passed by value and never modified once a run has started.
type MatrixSize struct {
	WA, HA uint
	WB, HB uint
	WC, HC uint
}

// SquareSize returns the descriptor for an n x n by n x n product.
func SquareSize(n uint) MatrixSize {
	return MatrixSize{WA: n, HA: n, WB: n, HB: n, WC: n, HC: n}
}

// ProductSize returns the descriptor for (hA x wA) * (wA x wB).
func ProductSize(hA, wA, wB uint) MatrixSize {
	return MatrixSize{WA: wA, HA: hA, WB: wB, HB: wA, WC: wB, HC: hA}
}

// Validate checks the multipliability and output-shape invariants.
func (s MatrixSize) Validate() error {
	if s.WA == 0 || s.HA == 0 || s.WB == 0 || s.HB == 0 {
		return fmt.Errorf("matrix size %s: zero dimension", s)
	}
	if s.WA != s.HB {
		return fmt.Errorf("matrix size %s: width(A)=%d != height(B)=%d", s, s.WA, s.HB)
	}
	if s.HC != s.HA || s.WC != s.WB {
		return fmt.Errorf("matrix size %s: C must be %dx%d", s, s.HA, s.WB)
	}
	return nil
}

// ElemsA is the element count of A.
func (s MatrixSize) ElemsA() int { return int(s.WA) * int(s.HA) }

// ElemsB is the element count of B.
func (s MatrixSize) ElemsB() int { return int(s.WB) * int(s.HB) }

// ElemsC is the element count of C.
func (s MatrixSize) ElemsC() int { return int(s.WC) * int(s.HC) }

// FlopsPerMatMul is the operation count of one product: 2 * HC * WC * HB.
func (s MatrixSize) FlopsPerMatMul() float64 {
	return 2.0 * float64(s.HC) * float64(s.WC) * float64(s.HB)
}

func (s MatrixSize) String() string {
	return fmt.Sprintf("A(%dx%d) B(%dx%d) C(%dx%d)", s.HA, s.WA, s.HB, s.WB, s.HC, s.WC)
}

// HostBuffer is a row-major float32 matrix in host memory.
type HostBuffer struct {
	Rows, Cols int
	Data       []float32

	release func() error
}

// NewHostBuffer allocates a rows x cols buffer through the host allocator.
func NewHostBuffer(rows, cols int) (*HostBuffer, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("host buffer %dx%d: invalid shape", rows, cols)
	}
	data, release, err := allocHostFloats(rows * cols)
	if err != nil {
		return nil, fmt.Errorf("host buffer %dx%d: %w", rows, cols, err)
	}
	return &HostBuffer{Rows: rows, Cols: cols, Data: data, release: release}, nil
}

// Len returns rows*cols.
func (h *HostBuffer) Len() int {
	return h.Rows * h.Cols
}

// At returns element (row, col).
func (h *HostBuffer) At(row, col int) float32 {
	return h.Data[row*h.Cols+col]
}

// Free returns the buffer to the host allocator. It is safe to call twice.
func (h *HostBuffer) Free() error {
	if h == nil || h.release == nil {
		return nil
	}
	release := h.release
	h.release = nil
	h.Data = nil
	return release()
}

// FillRandom fills data with uniform values in [0, 1) drawn from rng.
func FillRandom(data []float32, rng *rand.Rand) {
	for i := range data {
		data[i] = rng.Float32()
	}
}

// FillSequence fills data with a known deterministic sequence. Values cycle
// through start, start+step, ... and wrap every period elements so large
// matrices stay well conditioned.
func FillSequence(data []float32, start, step float32, period int) {
	if period <= 0 {
		period = len(data)
	}
	for i := range data {
		data[i] = start + step*float32(i%period)
	}
}
