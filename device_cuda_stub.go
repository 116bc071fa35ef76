//go:build !linux || !cgo || !cuda

package main

import "fmt"

// NewCUDAAccelerator reports that this binary was built without CUDA.
// Build with -tags cuda on Linux with cgo and the CUDA toolkit installed.
func NewCUDAAccelerator(deviceIndex int) (Accelerator, error) {
	return nil, fmt.Errorf("cuda device %d: built without the cuda tag: %w", deviceIndex, ErrDeviceUnavailable)
}
