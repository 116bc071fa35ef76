//go:build !linux || !cgo

package main

import "errors"

// NewNVMLManagement reports that NVML needs Linux and cgo.
func NewNVMLManagement() (ManagementLib, error) {
	return nil, errors.New("nvml: requires linux with cgo")
}
