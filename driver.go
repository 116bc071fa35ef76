package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Driver runs one benchmark:
//
//   1. allocate host and device buffers for A, B, C (trial) and C2 (baseline)
//   2. fill A and B from a seeded generator and copy them to the device
//   3. compute the baseline into C2 (timed like a trial) and copy it back
//   4. run the timed trials into C, compare each against the baseline and
//      accumulate TrialStatistics
//   5. print the summary
//
// Timing discipline: record start, issue the SGEMM, record stop, then block
// on stop before the elapsed time or the result is read. The device runs
// asynchronously, so without that wait the numbers are meaningless. Only one
// SGEMM is in flight at a time, which makes this a latency-per-call
// measurement rather than a pipelined throughput one.
//
// Every resource goes on a release stack as soon as it is acquired. The
// stack is unwound by a defer, so early aborts free everything too.
//
// Power phases are optional. A failing transition is printed and the run
// continues in whatever state the device was left in.
//
// ===========================================================================

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// releaseStack runs cleanup functions in reverse acquisition order.
type releaseStack struct {
	fns []func() error
}

func (s *releaseStack) push(fn func() error) {
	s.fns = append(s.fns, fn)
}

func (s *releaseStack) release() error {
	var errs []error
	for i := len(s.fns) - 1; i >= 0; i-- {
		if err := s.fns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.fns = nil
	return errors.Join(errs...)
}

// workspace holds the buffers and device objects of a run.
type workspace struct {
	size MatrixSize

	hA, hB, hC, hC2 *HostBuffer
	dA, dB, dC, dC2 DeviceBuffer

	start, stop Event
	blas        BLAS
}

// RunResult is what a completed run measured.
type RunResult struct {
	Size             MatrixSize
	Stats            TrialStatistics
	BaselineElapsed  time.Duration
	BaselineRegime   PowerState
	TrialRegime      PowerState
	PowerFailures    []error
	BaselineMismatch *DiffReport
}

// Driver orchestrates a benchmark run on one accelerator.
type Driver struct {
	cfg     BenchConfig
	acc     Accelerator
	power   *PowerController
	rep     *Reporter
	metrics *Metrics
}

// NewDriver builds a driver. power and metrics may be nil.
func NewDriver(cfg BenchConfig, acc Accelerator, power *PowerController, rep *Reporter, metrics *Metrics) *Driver {
	return &Driver{cfg: cfg, acc: acc, power: power, rep: rep, metrics: metrics}
}

// Run executes the benchmark. Trial mismatches are counted in the result;
// only allocation, transfer and compute errors are returned.
func (d *Driver) Run() (res *RunResult, err error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	size := SquareSize(d.cfg.Size)

	var rel releaseStack
	defer func() {
		if rerr := rel.release(); rerr != nil && err == nil {
			err = fmt.Errorf("release: %w", rerr)
		}
	}()

	ws, err := d.allocate(&rel, size)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	FillRandom(ws.hA.Data, rng)
	FillRandom(ws.hB.Data, rng)
	if err := d.acc.CopyToDevice(ws.dA, ws.hA.Data); err != nil {
		return nil, fmt.Errorf("copy A to device: %w", err)
	}
	if err := d.acc.CopyToDevice(ws.dB, ws.hB.Data); err != nil {
		return nil, fmt.Errorf("copy B to device: %w", err)
	}

	res = &RunResult{Size: size}

	switch d.cfg.Regime {
	case RegimeNormal, RegimeSweep:
		d.transition(res, PowerNormal)
	case RegimeConstrained:
		d.transition(res, PowerConstrained)
	}
	res.BaselineRegime = d.regime()

	if err := d.baseline(ws, res); err != nil {
		return nil, err
	}

	if d.cfg.Regime == RegimeSweep {
		d.transition(res, PowerConstrained)
	}
	res.TrialRegime = d.regime()

	if err := d.trials(ws, res); err != nil {
		return nil, err
	}

	if d.cfg.Regime == RegimeSweep {
		d.transition(res, PowerNormal)
	}

	d.rep.Summary(&res.Stats)
	if d.cfg.Chart {
		d.rep.ThroughputChart(res.Stats.Throughputs())
	}
	return res, nil
}

func (d *Driver) allocate(rel *releaseStack, size MatrixSize) (*workspace, error) {
	if err := size.Validate(); err != nil {
		return nil, err
	}
	ws := &workspace{size: size}

	host := func(name string, rows, cols uint) (*HostBuffer, error) {
		h, err := NewHostBuffer(int(rows), int(cols))
		if err != nil {
			return nil, fmt.Errorf("allocate host %s: %w", name, err)
		}
		rel.push(h.Free)
		return h, nil
	}
	device := func(name string, n int) (DeviceBuffer, error) {
		buf, err := d.acc.Malloc(n)
		if err != nil {
			return DeviceBuffer{}, fmt.Errorf("allocate device %s (%d floats): %w", name, n, err)
		}
		rel.push(func() error { return d.acc.Free(buf) })
		return buf, nil
	}
	event := func(name string) (Event, error) {
		ev, err := d.acc.NewEvent()
		if err != nil {
			return nil, fmt.Errorf("create %s event: %w", name, err)
		}
		rel.push(ev.Destroy)
		return ev, nil
	}

	var err error
	if ws.hA, err = host("A", size.HA, size.WA); err != nil {
		return nil, err
	}
	if ws.hB, err = host("B", size.HB, size.WB); err != nil {
		return nil, err
	}
	if ws.hC, err = host("C", size.HC, size.WC); err != nil {
		return nil, err
	}
	if ws.hC2, err = host("C2", size.HC, size.WC); err != nil {
		return nil, err
	}
	if ws.dA, err = device("A", size.ElemsA()); err != nil {
		return nil, err
	}
	if ws.dB, err = device("B", size.ElemsB()); err != nil {
		return nil, err
	}
	if ws.dC, err = device("C", size.ElemsC()); err != nil {
		return nil, err
	}
	if ws.dC2, err = device("C2", size.ElemsC()); err != nil {
		return nil, err
	}
	if ws.start, err = event("start"); err != nil {
		return nil, err
	}
	if ws.stop, err = event("stop"); err != nil {
		return nil, err
	}

	blas, err := d.acc.NewBLAS()
	if err != nil {
		return nil, fmt.Errorf("create blas handle: %w", err)
	}
	rel.push(blas.Close)
	ws.blas = blas
	return ws, nil
}

// timedMultiply runs one SGEMM into dst between the start and stop events
// and returns the device time it took.
func (d *Driver) timedMultiply(ws *workspace, dst DeviceBuffer) (time.Duration, error) {
	if err := ws.start.Record(); err != nil {
		return 0, fmt.Errorf("record start: %w", err)
	}
	if err := MultiplyRowMajor(ws.blas, ws.size, ws.dA, ws.dB, dst); err != nil {
		return 0, err
	}
	if err := ws.stop.Record(); err != nil {
		return 0, fmt.Errorf("record stop: %w", err)
	}
	if err := ws.stop.Synchronize(); err != nil {
		return 0, fmt.Errorf("synchronize stop: %w", err)
	}
	elapsed, err := d.acc.ElapsedTime(ws.start, ws.stop)
	if err != nil {
		return 0, fmt.Errorf("elapsed time: %w", err)
	}
	return elapsed, nil
}

func (d *Driver) baseline(ws *workspace, res *RunResult) error {
	d.rep.Phase("Computing result using SGEMM (%s power)...", d.regimeLabel(res.BaselineRegime))
	elapsed, err := d.timedMultiply(ws, ws.dC2)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	res.BaselineElapsed = elapsed
	d.rep.Perf(-1, elapsed, ws.size.FlopsPerMatMul())

	if err := d.acc.CopyToHost(ws.hC2.Data, ws.dC2); err != nil {
		return fmt.Errorf("copy C2 to host: %w", err)
	}
	if d.cfg.Baseline != BaselineCPU {
		return nil
	}

	// The device result is kept aside so a disagreement with the CPU can be
	// reported before any trial runs.
	d.rep.Phase("Computing reference result on the CPU...")
	device := append([]float32(nil), ws.hC2.Data...)
	MatMulReference(ws.size, ws.hA.Data, ws.hB.Data, ws.hC2.Data)
	cmp, err := CompareL2(ws.hC2.Data, device, d.cfg.Tolerance)
	if err != nil {
		return err
	}
	if !cmp.Pass {
		diffs := ListDiffs(ws.hC2.Data, device, int(ws.size.WC), int(ws.size.HC),
			d.cfg.ListLength, float32(d.cfg.ListTol))
		res.BaselineMismatch = &diffs
		d.rep.Phase("Baseline SGEMM differs from the CPU reference (L2 relative error %.3e)", cmp.RelError)
	}
	return nil
}

func (d *Driver) trials(ws *workspace, res *RunResult) error {
	d.rep.Phase("Computing result using SGEMM (%s power)...", d.regimeLabel(res.TrialRegime))
	res.Stats.Reset()
	flops := ws.size.FlopsPerMatMul()

	for j := 0; j < d.cfg.Trials; j++ {
		elapsed, err := d.timedMultiply(ws, ws.dC)
		if err != nil {
			return fmt.Errorf("trial %d: %w", j, err)
		}
		d.rep.Perf(j, elapsed, flops)

		if err := d.acc.CopyToHost(ws.hC.Data, ws.dC); err != nil {
			return fmt.Errorf("trial %d: copy C to host: %w", j, err)
		}
		cmp, err := CompareL2(ws.hC2.Data, ws.hC.Data, d.cfg.Tolerance)
		if err != nil {
			return fmt.Errorf("trial %d: %w", j, err)
		}
		if !cmp.Pass {
			d.rep.Diffs(ListDiffs(ws.hC2.Data, ws.hC.Data, int(ws.size.WC), int(ws.size.HC),
				d.cfg.ListLength, float32(d.cfg.ListTol)))
		}
		d.rep.Comparison(d.cfg.Baseline, cmp)

		res.Stats.Add(throughput(flops, elapsed), elapsed, cmp.Pass)
		d.metrics.ObserveTrial(res.TrialRegime, elapsed, flops, cmp.Pass)
	}
	return nil
}

// transition moves the device to target if a controller is configured.
// Failures are reported and recorded, never returned.
func (d *Driver) transition(res *RunResult, target PowerState) {
	if d.power == nil {
		return
	}
	err := d.power.Transition(target)
	d.metrics.ObserveTransition(target, d.power.State(), err)
	if err != nil {
		d.rep.PowerFailure(err)
		res.PowerFailures = append(res.PowerFailures, err)
	}
}

func (d *Driver) regime() PowerState {
	if d.power == nil {
		return PowerUnknown
	}
	return d.power.State()
}

// regimeLabel names a regime for the phase lines. Without power phases the
// device runs in whatever state it is already in, even when a controller is
// held for -restore.
func (d *Driver) regimeLabel(s PowerState) string {
	if d.power == nil || d.cfg.Regime == RegimeNone {
		return "current"
	}
	return s.String()
}
