package main

// MatMulReference computes C = A * B on the CPU.
//
// A, B and C are row-major with the shapes in size. Each element is
// accumulated in float64 and narrowed to float32 on store, so the result is
// independent of any device state. Mismatched buffers are a programming
// error and panic.
func MatMulReference(size MatrixSize, a, b, c []float32) {
	if err := size.Validate(); err != nil {
		panic("reference: " + err.Error())
	}
	if len(a) < size.ElemsA() || len(b) < size.ElemsB() || len(c) < size.ElemsC() {
		panic("reference: buffer smaller than " + size.String())
	}

	hA, wA, wB := int(size.HA), int(size.WA), int(size.WB)
	for i := 0; i < hA; i++ {
		for j := 0; j < wB; j++ {
			var sum float64
			for k := 0; k < wA; k++ {
				sum += float64(a[i*wA+k]) * float64(b[k*wB+j])
			}
			c[i*wB+j] = float32(sum)
		}
	}
}
