package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file draws the per-trial throughput as an ASCII bar chart so drift
// across the trial loop is visible in the terminal: thermal throttling, a
// power limit kicking in part way, or a boost clock dropping out.
//
// Long runs are grouped into at most maxChartRows rows; each row shows the
// mean of its trials.
//
// ===========================================================================

import (
	"fmt"
	"math"
	"strings"
)

const (
	chartBarWidth = 60
	maxChartRows  = 25
)

// chartRow is one bar: the trials [first, last] and their mean GFLOP/s.
type chartRow struct {
	first, last int
	gflops      float64
}

// chartRows groups per-trial throughput (FLOP/s) into at most maxRows bars.
func chartRows(samples []float64, maxRows int) []chartRow {
	if len(samples) == 0 || maxRows <= 0 {
		return nil
	}
	per := (len(samples) + maxRows - 1) / maxRows

	var rows []chartRow
	for first := 0; first < len(samples); first += per {
		last := min(first+per, len(samples)) - 1
		sum := 0.0
		for _, s := range samples[first : last+1] {
			sum += s
		}
		rows = append(rows, chartRow{
			first:  first,
			last:   last,
			gflops: sum / float64(last-first+1) / 1e9,
		})
	}
	return rows
}

// ThroughputChart prints the chart of samples, given in FLOP/s.
func (r *Reporter) ThroughputChart(samples []float64) {
	rows := chartRows(samples, maxChartRows)
	if len(rows) == 0 {
		return
	}

	maxGFLOPS := 0.0
	for _, row := range rows {
		maxGFLOPS = math.Max(maxGFLOPS, row.gflops)
	}

	r.printf("\n=== Trial Throughput (ASCII) ===\n\n")
	r.printf("Scale: %.1f GFLOPS = %d chars\n\n", maxGFLOPS, chartBarWidth)

	for _, row := range rows {
		barLen := 0
		if maxGFLOPS > 0 {
			barLen = int(math.Round(row.gflops / maxGFLOPS * chartBarWidth))
		}
		label := fmt.Sprintf("[%d]", row.first)
		if row.last != row.first {
			label = fmt.Sprintf("[%d-%d]", row.first, row.last)
		}
		r.printf("%-10s │%s %.2f GFLOPS\n", label, strings.Repeat("█", barLen), row.gflops)
	}
	r.printf("\n")
}
