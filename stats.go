package main

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// TrialStatistics accumulates the outcome of the timed trials of one run.
// Throughput is in FLOP/s.
type TrialStatistics struct {
	Iterations    int
	Failures      int
	SumThroughput float64

	throughputs []float64
	elapsed     []time.Duration
}

// Reset clears the statistics for a new run.
func (s *TrialStatistics) Reset() {
	*s = TrialStatistics{}
}

// Add records one trial.
func (s *TrialStatistics) Add(throughput float64, elapsed time.Duration, passed bool) {
	s.Iterations++
	if !passed {
		s.Failures++
	}
	s.SumThroughput += throughput
	s.throughputs = append(s.throughputs, throughput)
	s.elapsed = append(s.elapsed, elapsed)
}

// FailureRate is Failures / Iterations, or 0 before any trial.
func (s *TrialStatistics) FailureRate() float64 {
	if s.Iterations == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Iterations)
}

// AverageThroughput is SumThroughput / Iterations, or 0 before any trial.
func (s *TrialStatistics) AverageThroughput() float64 {
	if s.Iterations == 0 {
		return 0
	}
	return s.SumThroughput / float64(s.Iterations)
}

// Throughputs returns the per-trial samples in trial order.
func (s *TrialStatistics) Throughputs() []float64 {
	return slices.Clone(s.throughputs)
}

// ThroughputSummary describes the spread of the per-trial throughput.
type ThroughputSummary struct {
	Min, Max, Median, StdDev float64
	MeanElapsed              time.Duration
}

// Summary computes the spread of the recorded samples.
func (s *TrialStatistics) Summary() ThroughputSummary {
	if len(s.throughputs) == 0 {
		return ThroughputSummary{}
	}
	sorted := slices.Clone(s.throughputs)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range s.elapsed {
		sum += d
	}

	sd := 0.0
	if len(sorted) > 1 {
		sd = stat.StdDev(sorted, nil)
	}
	if math.IsNaN(sd) {
		sd = 0
	}
	return ThroughputSummary{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Median:      stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev:      sd,
		MeanElapsed: sum / time.Duration(len(s.elapsed)),
	}
}
