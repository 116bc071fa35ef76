package main

import (
	"fmt"
	"io"
	"time"
)

// Reporter prints the benchmark's console output.
type Reporter struct {
	w     io.Writer
	quiet bool
}

// NewReporter writes to w. A quiet reporter drops per-trial lines but keeps
// diagnostics and the summary.
func NewReporter(w io.Writer, quiet bool) *Reporter {
	return &Reporter{w: w, quiet: quiet}
}

func (r *Reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.w, format, args...)
}

// Banner prints the startup lines.
func (r *Reporter) Banner(device string, host HostInfo, cfg BenchConfig) {
	r.printf("[Matrix Multiply SGEMM] - Starting...\n")
	r.printf("Device:   %s\n", device)
	r.printf("Host:     %s\n", host)
	r.printf("Size:     %dx%d, %d trials, seed %d\n", cfg.Size, cfg.Size, cfg.Trials, cfg.Seed)
	r.printf("Regime:   %s, baseline: %s\n", cfg.Regime, cfg.Baseline)
	r.printf("\n")
}

// Phase announces a phase of the run.
func (r *Reporter) Phase(format string, args ...any) {
	r.printf(format+"\n", args...)
}

// Perf prints one performance line. trial < 0 marks the baseline.
func (r *Reporter) Perf(trial int, elapsed time.Duration, flops float64) {
	if trial >= 0 && r.quiet {
		return
	}
	msec := float64(elapsed) / float64(time.Millisecond)
	gigaFlops := gflops(flops, elapsed)
	prefix := ""
	if trial >= 0 {
		prefix = fmt.Sprintf("[%d]", trial)
	}
	r.printf("%sPerformance= %.2f GFlop/s, Time= %.3f msec, Size= %.0f Ops\n",
		prefix, gigaFlops, msec, flops)
}

// Comparison prints the verdict of one trial.
func (r *Reporter) Comparison(baseline BaselineMode, res ComparisonResult) {
	if res.Pass && r.quiet {
		return
	}
	verdict := "FAIL"
	if res.Pass {
		verdict = "PASS"
	}
	ref := "first device"
	if baseline == BaselineCPU {
		ref = "CPU"
	}
	r.printf("Comparing SGEMM result with %s results: %s\n", ref, verdict)
	if res.ZeroReference {
		r.printf("  reference l2-norm is 0\n")
	}
}

// Diffs prints the diagnostic listing of a failed comparison.
func (r *Reporter) Diffs(d DiffReport) {
	r.printf("Listing first %d Differences > %.6f...\n", d.ListLength, d.Threshold)
	next := 0
	for row := 0; row < d.HeaderRows; row++ {
		r.printf("\n  Row %d:\n", row)
		for ; next < len(d.Entries) && d.Entries[next].Row == row; next++ {
			e := d.Entries[next]
			r.printf("    Loc(%d,%d)\tCPU=%.5f\tGPU=%.5f\tDiff=%.6f\n",
				e.Col, e.Row, e.Reference, e.Candidate, e.Diff)
		}
	}
	r.printf(" \n  Total Errors = %d\n", d.Total)
}

// PowerFailure prints a failed power transition.
func (r *Reporter) PowerFailure(err error) {
	r.printf("%v\n", err)
}

// Summary prints the run totals.
func (r *Reporter) Summary(s *TrialStatistics) {
	r.printf("total test: %d, failed: %d.\n", s.Iterations, s.Failures)
	r.printf("failure rate: %f.\n", s.FailureRate())
	r.printf("average perf: %.2f.\n", s.AverageThroughput()/1e9)

	sum := s.Summary()
	r.printf("perf spread: min %.2f, median %.2f, max %.2f, stddev %.2f GFlop/s, mean time %.3f msec\n",
		sum.Min/1e9, sum.Median/1e9, sum.Max/1e9, sum.StdDev/1e9,
		float64(sum.MeanElapsed)/float64(time.Millisecond))
}

// gflops converts an operation count and duration to GFLOP/s.
func gflops(flops float64, elapsed time.Duration) float64 {
	return throughput(flops, elapsed) * 1e-9
}

// throughput is flops per second. A zero duration yields 0 rather than +Inf.
func throughput(flops float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return flops / elapsed.Seconds()
}
