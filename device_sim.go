package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// SimAccelerator emulates an accelerator in host memory. It keeps the
// properties of a real device that the benchmark depends on:
//
//   - Work is asynchronous. Sgemm and Event.Record are queued on an in-order
//     stream served by one goroutine; the caller gets control back at once.
//   - Copies wait for all earlier work, like cudaMemcpy on the legacy stream.
//   - Events are timestamped when the stream reaches them, and the elapsed
//     time between two events is only defined once both have been reached.
//   - The BLAS library is column-major, so handing it row-major buffers has
//     the same implicit-transpose effect as cuBLAS.
//
// SimFaults lets tests make individual calls fail or corrupt a result.
//
// ===========================================================================

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimFaults injects failures into a SimAccelerator. Counters are 1-based;
// zero disables the fault.
type SimFaults struct {
	FailMalloc   int // fail the Nth Malloc
	FailCopy     int // fail the Nth copy in either direction
	FailSgemm    int // fail the Nth Sgemm when it executes on the stream
	FailNewEvent int
	FailNewBLAS  bool

	// Corrupt, when set, is called with the output of every executed Sgemm
	// and may modify it in place.
	Corrupt func(call int, c []float32)
}

// SimAccelerator is a host-emulated accelerator.
type SimAccelerator struct {
	mu        sync.Mutex
	buffers   map[uintptr][]float32
	nextAddr  uintptr
	streamErr error
	closed    bool

	faults  SimFaults
	mallocs int
	copies  int
	sgemms  int
	events  int

	work chan func()
	done chan struct{}
}

// NewSimAccelerator starts a simulated device.
func NewSimAccelerator() *SimAccelerator {
	return NewSimAcceleratorWithFaults(SimFaults{})
}

// NewSimAcceleratorWithFaults starts a simulated device with fault injection.
func NewSimAcceleratorWithFaults(faults SimFaults) *SimAccelerator {
	s := &SimAccelerator{
		buffers:  make(map[uintptr][]float32),
		nextAddr: 0x1000,
		faults:   faults,
		work:     make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go s.stream()
	return s
}

func (s *SimAccelerator) stream() {
	defer close(s.done)
	for fn := range s.work {
		fn()
	}
}

// Name identifies the backend.
func (s *SimAccelerator) Name() string {
	return "sim (host-emulated accelerator)"
}

// Live returns the number of device buffers currently allocated.
func (s *SimAccelerator) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

func (s *SimAccelerator) enqueue(fn func()) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("sim: device closed")
	}
	s.work <- fn
	return nil
}

// drain blocks until every queued command has run and returns the sticky
// stream error, if any.
func (s *SimAccelerator) drain() error {
	reached := make(chan struct{})
	if err := s.enqueue(func() { close(reached) }); err != nil {
		return err
	}
	<-reached
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

// Malloc allocates n float32s of device memory.
func (s *SimAccelerator) Malloc(n int) (DeviceBuffer, error) {
	if n <= 0 {
		return DeviceBuffer{}, fmt.Errorf("sim: malloc of %d elements", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return DeviceBuffer{}, errors.New("sim: device closed")
	}
	s.mallocs++
	if s.faults.FailMalloc == s.mallocs {
		return DeviceBuffer{}, errors.New("sim: out of device memory")
	}
	addr := s.nextAddr
	s.nextAddr += uintptr(n*4+0xfff) &^ 0xfff
	s.buffers[addr] = make([]float32, n)
	return DeviceBuffer{addr: addr, n: n}, nil
}

// Free releases buf.
func (s *SimAccelerator) Free(buf DeviceBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[buf.addr]; !ok {
		return fmt.Errorf("sim: free of unknown buffer %#x", buf.addr)
	}
	delete(s.buffers, buf.addr)
	return nil
}

func (s *SimAccelerator) lookup(buf DeviceBuffer) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem, ok := s.buffers[buf.addr]
	if !ok {
		return nil, fmt.Errorf("sim: invalid device buffer %#x", buf.addr)
	}
	return mem, nil
}

func (s *SimAccelerator) countCopy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copies++
	if s.faults.FailCopy == s.copies {
		return errors.New("sim: copy failed")
	}
	return nil
}

// CopyToDevice copies src into dst after all earlier work has finished.
func (s *SimAccelerator) CopyToDevice(dst DeviceBuffer, src []float32) error {
	if err := s.drain(); err != nil {
		return err
	}
	if err := s.countCopy(); err != nil {
		return err
	}
	mem, err := s.lookup(dst)
	if err != nil {
		return err
	}
	if len(src) > len(mem) {
		return fmt.Errorf("sim: copy of %d elements into buffer of %d", len(src), len(mem))
	}
	copy(mem, src)
	return nil
}

// CopyToHost copies src into dst after all earlier work has finished.
func (s *SimAccelerator) CopyToHost(dst []float32, src DeviceBuffer) error {
	if err := s.drain(); err != nil {
		return err
	}
	if err := s.countCopy(); err != nil {
		return err
	}
	mem, err := s.lookup(src)
	if err != nil {
		return err
	}
	if len(dst) > len(mem) {
		return fmt.Errorf("sim: copy of %d elements from buffer of %d", len(dst), len(mem))
	}
	copy(dst, mem)
	return nil
}

// NewEvent creates a stream event.
func (s *SimAccelerator) NewEvent() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	if s.faults.FailNewEvent == s.events {
		return nil, errors.New("sim: event creation failed")
	}
	return &simEvent{dev: s}, nil
}

// ElapsedTime returns stop - start for two reached events.
func (s *SimAccelerator) ElapsedTime(start, stop Event) (time.Duration, error) {
	a, ok1 := start.(*simEvent)
	b, ok2 := stop.(*simEvent)
	if !ok1 || !ok2 {
		return 0, errors.New("sim: foreign event")
	}
	t0, err := a.timestamp()
	if err != nil {
		return 0, err
	}
	t1, err := b.timestamp()
	if err != nil {
		return 0, err
	}
	return t1.Sub(t0), nil
}

// NewBLAS returns the column-major BLAS bound to this device.
func (s *SimAccelerator) NewBLAS() (BLAS, error) {
	if s.faults.FailNewBLAS {
		return nil, errors.New("sim: blas initialization failed")
	}
	return &simBLAS{dev: s}, nil
}

// Close drains the stream and stops it. Outstanding buffers are dropped.
func (s *SimAccelerator) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.work)
	<-s.done
	return nil
}

type simEvent struct {
	dev *SimAccelerator

	mu      sync.Mutex
	reached chan struct{}
	at      time.Time
}

func (e *simEvent) Record() error {
	reached := make(chan struct{})
	e.mu.Lock()
	e.reached = reached
	e.mu.Unlock()
	return e.dev.enqueue(func() {
		e.mu.Lock()
		e.at = time.Now()
		e.mu.Unlock()
		close(reached)
	})
}

func (e *simEvent) Synchronize() error {
	e.mu.Lock()
	reached := e.reached
	e.mu.Unlock()
	if reached == nil {
		return errors.New("sim: synchronize on unrecorded event")
	}
	<-reached
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	return e.dev.streamErr
}

func (e *simEvent) timestamp() (time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reached == nil {
		return time.Time{}, errors.New("sim: event not recorded")
	}
	select {
	case <-e.reached:
		return e.at, nil
	default:
		return time.Time{}, errors.New("sim: event not ready")
	}
}

func (e *simEvent) Destroy() error { return nil }

type simBLAS struct {
	dev *SimAccelerator
}

func (b *simBLAS) Sgemm(p GemmParams) error {
	if err := validateGemm(p); err != nil {
		return err
	}
	dev := b.dev
	mA, err := dev.lookup(p.A)
	if err != nil {
		return err
	}
	mB, err := dev.lookup(p.B)
	if err != nil {
		return err
	}
	mC, err := dev.lookup(p.C)
	if err != nil {
		return err
	}
	return dev.enqueue(func() {
		dev.mu.Lock()
		dev.sgemms++
		call := dev.sgemms
		fail := dev.faults.FailSgemm == call
		if fail {
			dev.streamErr = fmt.Errorf("sim: sgemm call %d: execution failed", call)
		}
		dev.mu.Unlock()
		if fail {
			return
		}
		sgemmColMajor(p, mA, mB, mC)
		if dev.faults.Corrupt != nil {
			dev.faults.Corrupt(call, mC)
		}
	})
}

func (b *simBLAS) Close() error { return nil }

// sgemmColMajor is the reference column-major SGEMM:
// C[i + j*ldc] = alpha * sum_p op(A)(i,p) * op(B)(p,j) + beta * C[i + j*ldc].
// C is not read when beta is zero.
func sgemmColMajor(p GemmParams, a, b, c []float32) {
	opA := func(i, k int) float32 {
		if p.TransA == OpT {
			return a[k+i*p.LDA]
		}
		return a[i+k*p.LDA]
	}
	opB := func(k, j int) float32 {
		if p.TransB == OpT {
			return b[j+k*p.LDB]
		}
		return b[k+j*p.LDB]
	}

	acc := make([]float32, p.M)
	for j := 0; j < p.N; j++ {
		clear(acc)
		for k := 0; k < p.K; k++ {
			bkj := opB(k, j)
			for i := 0; i < p.M; i++ {
				acc[i] += opA(i, k) * bkj
			}
		}
		col := c[j*p.LDC : j*p.LDC+p.M]
		for i := range col {
			if p.Beta == 0 {
				col[i] = p.Alpha * acc[i]
			} else {
				col[i] = p.Alpha*acc[i] + p.Beta*col[i]
			}
		}
	}
}
