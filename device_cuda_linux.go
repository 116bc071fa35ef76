//go:build linux && cgo && cuda

package main

/*
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -lcudart -lcublas
#cgo CFLAGS: -I/usr/local/cuda/include

#include <cuda_runtime.h>
#include <cublas_v2.h>
#include <stdlib.h>
#include <string.h>

static int cuda_device_count(void) {
    int n = 0;
    if (cudaGetDeviceCount(&n) != cudaSuccess) {
        return 0;
    }
    return n;
}

static int cuda_device_name(int device, char* out, int len) {
    struct cudaDeviceProp prop;
    cudaError_t err = cudaGetDeviceProperties(&prop, device);
    if (err != cudaSuccess) {
        return (int)err;
    }
    strncpy(out, prop.name, len - 1);
    out[len - 1] = '\0';
    return 0;
}

static int cuda_malloc(void** ptr, size_t bytes) {
    return (int)cudaMalloc(ptr, bytes);
}

static int cuda_free(void* ptr) {
    return (int)cudaFree(ptr);
}

static int cuda_copy_h2d(void* dst, const void* src, size_t bytes) {
    return (int)cudaMemcpy(dst, src, bytes, cudaMemcpyHostToDevice);
}

static int cuda_copy_d2h(void* dst, const void* src, size_t bytes) {
    return (int)cudaMemcpy(dst, src, bytes, cudaMemcpyDeviceToHost);
}

static int cuda_event_create(cudaEvent_t* ev) {
    return (int)cudaEventCreate(ev);
}

static int cuda_event_record(cudaEvent_t ev) {
    return (int)cudaEventRecord(ev, NULL);
}

static int cuda_event_sync(cudaEvent_t ev) {
    return (int)cudaEventSynchronize(ev);
}

static int cuda_event_destroy(cudaEvent_t ev) {
    return (int)cudaEventDestroy(ev);
}

static int cuda_event_elapsed(float* ms, cudaEvent_t start, cudaEvent_t stop) {
    return (int)cudaEventElapsedTime(ms, start, stop);
}

static const char* cuda_error_string(int code) {
    return cudaGetErrorString((cudaError_t)code);
}

static int cublas_create(cublasHandle_t* h) {
    return (int)cublasCreate(h);
}

static int cublas_destroy(cublasHandle_t h) {
    return (int)cublasDestroy(h);
}

static int cublas_sgemm(cublasHandle_t h, int ta, int tb, int m, int n, int k,
                        float alpha, const float* a, int lda,
                        const float* b, int ldb,
                        float beta, float* c, int ldc) {
    cublasOperation_t opA = ta ? CUBLAS_OP_T : CUBLAS_OP_N;
    cublasOperation_t opB = tb ? CUBLAS_OP_T : CUBLAS_OP_N;
    return (int)cublasSgemm(h, opA, opB, m, n, k, &alpha, a, lda, b, ldb, &beta, c, ldc);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"time"
	"unsafe"
)

// CUDAError is a non-success cudaError_t.
type CUDAError struct {
	Op   string
	Code int
}

func (e *CUDAError) Error() string {
	return fmt.Sprintf("%s: %s (cuda %d)", e.Op, C.GoString(C.cuda_error_string(C.int(e.Code))), e.Code)
}

// CUBLASError is a non-success cublasStatus_t.
type CUBLASError struct {
	Op     string
	Status int
}

func (e *CUBLASError) Error() string {
	return fmt.Sprintf("%s: cublas status %d", e.Op, e.Status)
}

func cudaCheck(op string, code C.int) error {
	if code == 0 {
		return nil
	}
	return &CUDAError{Op: op, Code: int(code)}
}

// CUDAAccelerator drives an NVIDIA GPU through the CUDA runtime.
type CUDAAccelerator struct {
	deviceID int
	name     string
}

// NewCUDAAccelerator opens device deviceIndex.
func NewCUDAAccelerator(deviceIndex int) (Accelerator, error) {
	count := int(C.cuda_device_count())
	if count == 0 {
		return nil, fmt.Errorf("cuda: no devices: %w", ErrDeviceUnavailable)
	}
	if deviceIndex < 0 || deviceIndex >= count {
		return nil, fmt.Errorf("cuda: device %d out of range (%d devices)", deviceIndex, count)
	}
	if err := cudaCheck("cudaSetDevice", C.int(C.cudaSetDevice(C.int(deviceIndex)))); err != nil {
		return nil, err
	}

	var name [256]C.char
	if err := cudaCheck("cudaGetDeviceProperties", C.cuda_device_name(C.int(deviceIndex), &name[0], 256)); err != nil {
		return nil, err
	}
	return &CUDAAccelerator{deviceID: deviceIndex, name: C.GoString(&name[0])}, nil
}

// Name returns the GPU product name.
func (c *CUDAAccelerator) Name() string {
	return fmt.Sprintf("%s (CUDA device %d)", c.name, c.deviceID)
}

// devicePtr converts a device address back for the C calls. The address is
// never Go memory.
func devicePtr(buf DeviceBuffer) unsafe.Pointer {
	return unsafe.Pointer(buf.addr)
}

// Malloc allocates n float32s with cudaMalloc.
func (c *CUDAAccelerator) Malloc(n int) (DeviceBuffer, error) {
	var ptr unsafe.Pointer
	bytes := C.size_t(n) * C.size_t(unsafe.Sizeof(float32(0)))
	if err := cudaCheck("cudaMalloc", C.cuda_malloc(&ptr, bytes)); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{addr: uintptr(ptr), n: n}, nil
}

// Free releases buf with cudaFree.
func (c *CUDAAccelerator) Free(buf DeviceBuffer) error {
	return cudaCheck("cudaFree", C.cuda_free(devicePtr(buf)))
}

// CopyToDevice copies src into dst with cudaMemcpy.
func (c *CUDAAccelerator) CopyToDevice(dst DeviceBuffer, src []float32) error {
	if len(src) > dst.n {
		return fmt.Errorf("cuda: copy of %d elements into buffer of %d", len(src), dst.n)
	}
	if len(src) == 0 {
		return nil
	}
	bytes := C.size_t(len(src)) * 4
	return cudaCheck("cudaMemcpy(HostToDevice)", C.cuda_copy_h2d(devicePtr(dst), unsafe.Pointer(&src[0]), bytes))
}

// CopyToHost copies src into dst with cudaMemcpy.
func (c *CUDAAccelerator) CopyToHost(dst []float32, src DeviceBuffer) error {
	if len(dst) > src.n {
		return fmt.Errorf("cuda: copy of %d elements from buffer of %d", len(dst), src.n)
	}
	if len(dst) == 0 {
		return nil
	}
	bytes := C.size_t(len(dst)) * 4
	return cudaCheck("cudaMemcpy(DeviceToHost)", C.cuda_copy_d2h(unsafe.Pointer(&dst[0]), devicePtr(src), bytes))
}

type cudaEvent struct {
	ev C.cudaEvent_t
}

// NewEvent creates a CUDA event.
func (c *CUDAAccelerator) NewEvent() (Event, error) {
	e := &cudaEvent{}
	if err := cudaCheck("cudaEventCreate", C.cuda_event_create(&e.ev)); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *cudaEvent) Record() error {
	return cudaCheck("cudaEventRecord", C.cuda_event_record(e.ev))
}

func (e *cudaEvent) Synchronize() error {
	return cudaCheck("cudaEventSynchronize", C.cuda_event_sync(e.ev))
}

func (e *cudaEvent) Destroy() error {
	return cudaCheck("cudaEventDestroy", C.cuda_event_destroy(e.ev))
}

// ElapsedTime wraps cudaEventElapsedTime.
func (c *CUDAAccelerator) ElapsedTime(start, stop Event) (time.Duration, error) {
	a, ok1 := start.(*cudaEvent)
	b, ok2 := stop.(*cudaEvent)
	if !ok1 || !ok2 {
		return 0, errors.New("cuda: foreign event")
	}
	var ms C.float
	if err := cudaCheck("cudaEventElapsedTime", C.cuda_event_elapsed(&ms, a.ev, b.ev)); err != nil {
		return 0, err
	}
	return time.Duration(float64(ms) * float64(time.Millisecond)), nil
}

type cublasBLAS struct {
	handle C.cublasHandle_t
}

// NewBLAS creates a cuBLAS handle.
func (c *CUDAAccelerator) NewBLAS() (BLAS, error) {
	b := &cublasBLAS{}
	if status := C.cublas_create(&b.handle); status != 0 {
		return nil, &CUBLASError{Op: "cublasCreate", Status: int(status)}
	}
	return b, nil
}

func (b *cublasBLAS) Sgemm(p GemmParams) error {
	if err := validateGemm(p); err != nil {
		return err
	}
	var ta, tb C.int
	if p.TransA == OpT {
		ta = 1
	}
	if p.TransB == OpT {
		tb = 1
	}
	status := C.cublas_sgemm(b.handle, ta, tb,
		C.int(p.M), C.int(p.N), C.int(p.K),
		C.float(p.Alpha),
		(*C.float)(devicePtr(p.A)), C.int(p.LDA),
		(*C.float)(devicePtr(p.B)), C.int(p.LDB),
		C.float(p.Beta),
		(*C.float)(devicePtr(p.C)), C.int(p.LDC))
	if status != 0 {
		return &CUBLASError{Op: "cublasSgemm", Status: int(status)}
	}
	return nil
}

func (b *cublasBLAS) Close() error {
	if status := C.cublas_destroy(b.handle); status != 0 {
		return &CUBLASError{Op: "cublasDestroy", Status: int(status)}
	}
	return nil
}

// Close releases the primary context.
func (c *CUDAAccelerator) Close() error {
	return cudaCheck("cudaDeviceReset", C.int(C.cudaDeviceReset()))
}
