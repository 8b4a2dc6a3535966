package norm

import (
	"math"
	"testing"
)

func TestRMSNormForwardValues(t *testing.T) {
	input := FromFloat32(Shape{4}, []float32{1, 2, 3, 4})
	out, invRMS, err := RMSNormForward(input, Shape{4}, 1e-5)
	if err != nil {
		t.Fatal(err)
	}

	const tol = 1e-4
	approxEqual(t, "invrms", invRMS.Values(), []float64{0.3651}, tol)
	approxEqual(t, "output", out.Values(), []float64{0.3651, 0.7303, 1.0954, 1.4606}, tol)
}

func TestRMSNormForwardAffine(t *testing.T) {
	input := FromFloat32(Shape{2, 3}, []float32{1, -2, 3, -4, 5, -6})
	gamma := FromFloat32(Shape{3}, []float32{0.5, 1.5, -1})
	out, invRMS, err := RMSNormForwardAffine(input, Shape{3}, gamma, 1e-6)
	if err != nil {
		t.Fatal(err)
	}

	const tol = 1e-5
	for r := 0; r < 2; r++ {
		var sq float64
		for c := 0; c < 3; c++ {
			v := input.At(r*3 + c)
			sq += v * v
		}
		inv := 1 / math.Sqrt(sq/3+1e-6)
		if got := invRMS.At(r); math.Abs(got-inv) > tol {
			t.Fatalf("invrms[%d] = %v, want %v", r, got, inv)
		}
		for c := 0; c < 3; c++ {
			want := input.At(r*3+c) * inv * gamma.At(c)
			if got := out.At(r*3 + c); math.Abs(got-want) > tol {
				t.Fatalf("out[%d,%d] = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestRMSNormMixedDtypes(t *testing.T) {
	input := FromValues(BF16, Shape{2, 4}, []float64{1, 2, 3, 4, -1, -2, -3, -4})
	gamma := FromFloat32(Shape{4}, []float32{1, 1, 2, 2})

	out, invRMS, err := RMSNormForwardAffineMixedDtypes(input, Shape{4}, gamma, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if out.DType() != F32 {
		t.Fatalf("mixed output dtype = %s, want %s (gamma's)", out.DType(), F32)
	}
	if invRMS.DType() != F32 {
		t.Fatalf("invrms dtype = %s, want float32 for bf16 input", invRMS.DType())
	}

	// Against an all-f32 computation of the bf16-rounded values; bf16 storage
	// costs ~1e-2 of relative precision.
	ref, _, err := RMSNormForwardAffine(FromValues(F32, Shape{2, 4}, input.Values()), Shape{4}, gamma, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, "mixed output", out.Values(), ref.Values(), 1e-2)
}

func TestRMSNormStatsIdempotent(t *testing.T) {
	const n1, n2 = 8, 129
	data := make([]float64, n1*n2)
	for i := range data {
		data[i] = math.Cos(float64(i) * 0.19)
	}

	run := func() []float64 {
		_, invRMS, err := RMSNormForward(FromFloat64(Shape{n1, n2}, data), Shape{n2}, 1e-8)
		if err != nil {
			t.Fatal(err)
		}
		return invRMS.Values()
	}

	a, b := run(), run()
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			t.Fatalf("invrms[%d] not bit-identical across runs", i)
		}
	}
}

func BenchmarkRMSNormForward(b *testing.B) {
	const n1, n2 = 256, 1024
	data := make([]float32, n1*n2)
	for i := range data {
		data[i] = float32(i%17)*0.25 - 2
	}
	input := FromFloat32(Shape{n1, n2}, data)
	for b.Loop() {
		_, _, err := RMSNormForward(input, Shape{n2}, 1e-5)
		if err != nil {
			b.Fatal(err)
		}
	}
}
