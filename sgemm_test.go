package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simMultiply runs MultiplyRowMajor on a fresh simulated device and returns
// the row-major C.
func simMultiply(t *testing.T, size MatrixSize, a, b []float32) []float32 {
	t.Helper()
	acc := NewSimAccelerator()
	t.Cleanup(func() { _ = acc.Close() })

	dA, err := acc.Malloc(size.ElemsA())
	require.NoError(t, err)
	dB, err := acc.Malloc(size.ElemsB())
	require.NoError(t, err)
	dC, err := acc.Malloc(size.ElemsC())
	require.NoError(t, err)
	require.NoError(t, acc.CopyToDevice(dA, a))
	require.NoError(t, acc.CopyToDevice(dB, b))

	blas, err := acc.NewBLAS()
	require.NoError(t, err)
	require.NoError(t, MultiplyRowMajor(blas, size, dA, dB, dC))

	c := make([]float32, size.ElemsC())
	require.NoError(t, acc.CopyToHost(c, dC))
	return c
}

func TestRowMajorGemmParams(t *testing.T) {
	size := ProductSize(3, 2, 4)
	a, b, c := DeviceBuffer{addr: 1, n: 6}, DeviceBuffer{addr: 2, n: 8}, DeviceBuffer{addr: 3, n: 12}
	p := RowMajorGemm(size, a, b, c)

	assert.Equal(t, OpN, p.TransA)
	assert.Equal(t, OpN, p.TransB)
	assert.Equal(t, 4, p.M, "m is width(B)")
	assert.Equal(t, 3, p.N, "n is height(A)")
	assert.Equal(t, 2, p.K, "k is width(A)")
	assert.Equal(t, b, p.A, "left operand is B")
	assert.Equal(t, a, p.B, "right operand is A")
	assert.Equal(t, c, p.C)
	assert.Equal(t, 4, p.LDA)
	assert.Equal(t, 2, p.LDB)
	assert.Equal(t, 4, p.LDC)
	assert.Equal(t, float32(1), p.Alpha)
	assert.Equal(t, float32(0), p.Beta)
}

func TestMultiplyRowMajorRectangular(t *testing.T) {
	size := ProductSize(3, 2, 4)
	for _, seed := range []int64{1, 2, 3, 2006} {
		rng := rand.New(rand.NewSource(seed))
		a := make([]float32, size.ElemsA())
		b := make([]float32, size.ElemsB())
		FillRandom(a, rng)
		FillRandom(b, rng)

		want := make([]float32, size.ElemsC())
		MatMulReference(size, a, b, want)
		got := simMultiply(t, size, a, b)
		assert.InDeltaSlicef(t, want, got, 1e-6, "seed %d", seed)
	}
}

func TestMultiplyRowMajorSequence(t *testing.T) {
	size := SquareSize(4)
	a := make([]float32, 16)
	b := make([]float32, 16)
	FillSequence(a, 0.25, 0.125, 5)
	FillSequence(b, 1, -0.0625, 7)

	want := make([]float32, 16)
	MatMulReference(size, a, b, want)
	got := simMultiply(t, size, a, b)

	res, err := CompareL2(want, got, 1e-6)
	require.NoError(t, err)
	assert.True(t, res.Pass, "relative error %g", res.RelError)
}

func TestMultiplyRowMajorScalar(t *testing.T) {
	got := simMultiply(t, SquareSize(1), []float32{3}, []float32{-2.5})
	assert.Equal(t, []float32{-7.5}, got)
}

func TestMultiplyRowMajorRejectsBadSize(t *testing.T) {
	acc := NewSimAccelerator()
	defer acc.Close()
	blas, err := acc.NewBLAS()
	require.NoError(t, err)

	bad := MatrixSize{WA: 3, HA: 2, WB: 2, HB: 2, WC: 2, HC: 2}
	assert.Error(t, MultiplyRowMajor(blas, bad, DeviceBuffer{}, DeviceBuffer{}, DeviceBuffer{}))
}
