package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The BLAS library is column-major; every buffer in this program is
// row-major. Handing a row-major buffer to a column-major routine is an
// implicit transpose: the library sees X(T) where we stored X.
//
// We want the row-major C = A * B. In the library's view our C is C(T), and
//
//     C(T) = (A * B)(T) = B(T) * A(T)
//
// B(T) and A(T) are exactly what the library sees when it is given our B and
// A unchanged. So calling the column-major SGEMM with the operands swapped,
// (B, A), and no transpose flags writes the row-major C directly. No
// transpose kernel, no extra copy.
//
// In column-major terms the call is an m x n result with inner dimension k:
//
//     m = width(B)   n = height(A)   k = width(A)
//     left  = B, lda = width(B)
//     right = A, ldb = width(A)
//     C,         ldc = width(B)
//
// MultiplyRowMajor is the only place this mapping exists. Callers reason in
// row-major terms and never build GemmParams themselves.
//
// ===========================================================================

import "fmt"

// RowMajorGemm maps the row-major product described by size onto the
// column-major GEMM parameters.
func RowMajorGemm(size MatrixSize, a, b, c DeviceBuffer) GemmParams {
	return GemmParams{
		TransA: OpN,
		TransB: OpN,
		M:      int(size.WB),
		N:      int(size.HA),
		K:      int(size.WA),
		Alpha:  1.0,
		A:      b,
		LDA:    int(size.WB),
		B:      a,
		LDB:    int(size.WA),
		Beta:   0.0,
		C:      c,
		LDC:    int(size.WB),
	}
}

// MultiplyRowMajor issues C = A * B for row-major device buffers. The call
// is asynchronous: the result is only valid after a later event on the
// same stream has been synchronized. A and B are not modified.
func MultiplyRowMajor(blas BLAS, size MatrixSize, a, b, c DeviceBuffer) error {
	if err := size.Validate(); err != nil {
		return err
	}
	if err := blas.Sgemm(RowMajorGemm(size, a, b, c)); err != nil {
		return fmt.Errorf("sgemm %s: %w", size, err)
	}
	return nil
}
