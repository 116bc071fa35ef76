package main

import (
	"fmt"
	"math"
)

// ComparisonResult is the verdict of CompareL2.
type ComparisonResult struct {
	Pass     bool
	RelError float64
	// ZeroReference is set when the reference has an L2 norm of zero. The
	// relative error is undefined then; Pass is true only if the candidate
	// is all zero as well, and RelError is 0 or +Inf accordingly.
	ZeroReference bool
}

// CompareL2 computes ||ref - got||_2 / ||ref||_2 and passes when it is at
// most tol. Sums are accumulated in float64.
func CompareL2(ref, got []float32, tol float64) (ComparisonResult, error) {
	if len(ref) != len(got) {
		return ComparisonResult{}, fmt.Errorf("compare: length mismatch %d != %d", len(ref), len(got))
	}

	var diffSq, refSq float64
	for i := range ref {
		r := float64(ref[i])
		d := r - float64(got[i])
		diffSq += d * d
		refSq += r * r
	}

	if refSq == 0 {
		res := ComparisonResult{ZeroReference: true, Pass: diffSq == 0}
		if !res.Pass {
			res.RelError = math.Inf(1)
		}
		return res, nil
	}

	rel := math.Sqrt(diffSq) / math.Sqrt(refSq)
	return ComparisonResult{Pass: rel <= tol, RelError: rel}, nil
}

// DiffEntry is one element whose absolute difference exceeded the listing
// threshold.
type DiffEntry struct {
	Row, Col  int
	Reference float32
	Candidate float32
	Diff      float32
}

// DiffReport lists the first offending elements of a comparison. It is for
// diagnostics only and has no bearing on the pass/fail verdict.
type DiffReport struct {
	ListLength int
	Threshold  float32
	Entries    []DiffEntry
	Total      int
	// HeaderRows counts the leading rows whose scan began with fewer than
	// ListLength differences found. Each of them gets a row header in the
	// listing, whether or not it holds an entry.
	HeaderRows int
}

// ListDiffs scans width x height row-major buffers and records up to
// listLength positions where |ref - got| > tol. Total counts every such
// position. A NaN difference counts as exceeding tol.
func ListDiffs(ref, got []float32, width, height, listLength int, tol float32) DiffReport {
	report := DiffReport{ListLength: listLength, Threshold: tol}
	for row := 0; row < height; row++ {
		if report.Total < listLength {
			report.HeaderRows = row + 1
		}
		for col := 0; col < width; col++ {
			k := row*width + col
			diff := float32(math.Abs(float64(ref[k] - got[k])))
			if diff <= tol {
				continue
			}
			if report.Total < listLength {
				report.Entries = append(report.Entries, DiffEntry{
					Row:       row,
					Col:       col,
					Reference: ref[k],
					Candidate: got[k],
					Diff:      diff,
				})
			}
			report.Total++
		}
	}
	return report
}
