package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file defines the accelerator the benchmark drives. Two backends
// implement it:
//
//   - cuda: the CUDA runtime and cuBLAS through cgo (device_cuda_linux.go)
//   - sim:  a host-emulated device with an asynchronous stream (device_sim.go)
//
// The benchmark only needs a handful of runtime calls: allocate and free
// device memory, copy between host and device, timestamped events with a
// blocking wait, and one BLAS routine (column-major SGEMM).
//
// ===========================================================================

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeviceBuffer is an allocation of float32 elements in device memory.
// The zero value is an empty buffer.
type DeviceBuffer struct {
	addr uintptr
	n    int
}

// Len returns the element count.
func (d DeviceBuffer) Len() int { return d.n }

// IsZero reports whether d refers to no allocation.
func (d DeviceBuffer) IsZero() bool { return d.addr == 0 }

// Event is a marker in the device's work stream. Record enqueues it; it is
// reached once all previously issued work has completed.
type Event interface {
	Record() error
	// Synchronize blocks until the event has been reached.
	Synchronize() error
	Destroy() error
}

// Transpose selects op(X) for a GEMM operand.
type Transpose int

const (
	OpN Transpose = iota
	OpT
)

func (t Transpose) String() string {
	if t == OpT {
		return "T"
	}
	return "N"
}

// GemmParams is one column-major C = alpha*op(A)*op(B) + beta*C call.
// op(A) is M x K, op(B) is K x N and C is M x N.
type GemmParams struct {
	TransA, TransB Transpose
	M, N, K        int
	Alpha          float32
	A              DeviceBuffer
	LDA            int
	B              DeviceBuffer
	LDB            int
	Beta           float32
	C              DeviceBuffer
	LDC            int
}

// BLAS is the dense linear-algebra library bound to an accelerator.
type BLAS interface {
	// Sgemm issues the product asynchronously on the device stream.
	Sgemm(p GemmParams) error
	Close() error
}

// Accelerator is the device runtime.
type Accelerator interface {
	Name() string
	Malloc(n int) (DeviceBuffer, error)
	Free(buf DeviceBuffer) error
	CopyToDevice(dst DeviceBuffer, src []float32) error
	CopyToHost(dst []float32, src DeviceBuffer) error
	NewEvent() (Event, error)
	// ElapsedTime returns the device time between two reached events.
	ElapsedTime(start, stop Event) (time.Duration, error)
	NewBLAS() (BLAS, error)
	Close() error
}

// ErrDeviceUnavailable is returned when a backend cannot be opened on this
// host.
var ErrDeviceUnavailable = errors.New("accelerator not available")

// OpenAccelerator opens the backend named by kind: "cuda", "sim" or "auto".
// auto tries CUDA and falls back to the simulator.
func OpenAccelerator(kind string, deviceIndex int) (Accelerator, error) {
	switch strings.ToLower(kind) {
	case "cuda":
		return NewCUDAAccelerator(deviceIndex)
	case "sim":
		return NewSimAccelerator(), nil
	case "auto", "":
		acc, err := NewCUDAAccelerator(deviceIndex)
		if err == nil {
			return acc, nil
		}
		if errors.Is(err, ErrDeviceUnavailable) {
			return NewSimAccelerator(), nil
		}
		return nil, err
	default:
		return nil, fmt.Errorf("unknown device kind %q (want cuda, sim or auto)", kind)
	}
}

// validateGemm checks p against the buffers it references. Both backends
// call it before issuing work.
func validateGemm(p GemmParams) error {
	if p.M <= 0 || p.N <= 0 || p.K <= 0 {
		return fmt.Errorf("sgemm: invalid dimensions m=%d n=%d k=%d", p.M, p.N, p.K)
	}
	rowsA, colsA := p.M, p.K
	if p.TransA == OpT {
		rowsA, colsA = p.K, p.M
	}
	rowsB, colsB := p.K, p.N
	if p.TransB == OpT {
		rowsB, colsB = p.N, p.K
	}
	switch {
	case p.LDA < rowsA:
		return fmt.Errorf("sgemm: lda=%d < %d", p.LDA, rowsA)
	case p.LDB < rowsB:
		return fmt.Errorf("sgemm: ldb=%d < %d", p.LDB, rowsB)
	case p.LDC < p.M:
		return fmt.Errorf("sgemm: ldc=%d < %d", p.LDC, p.M)
	}
	if need := p.LDA*(colsA-1) + rowsA; p.A.Len() < need {
		return fmt.Errorf("sgemm: A holds %d elements, need %d", p.A.Len(), need)
	}
	if need := p.LDB*(colsB-1) + rowsB; p.B.Len() < need {
		return fmt.Errorf("sgemm: B holds %d elements, need %d", p.B.Len(), need)
	}
	if need := p.LDC*(p.N-1) + p.M; p.C.Len() < need {
		return fmt.Errorf("sgemm: C holds %d elements, need %d", p.C.Len(), need)
	}
	return nil
}
