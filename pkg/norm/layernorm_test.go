package norm

import (
	"math"
	"testing"
)

func approxEqual(t *testing.T, name string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d values, want %d", name, len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("%s[%d] = %v, want %v±%v", name, i, got[i], want[i], tol)
		}
	}
}

func TestLayerNormForwardValues(t *testing.T) {
	input := FromFloat32(Shape{4}, []float32{1, 2, 3, 4})
	out, mean, invStd, err := LayerNormForward(input, Shape{4}, 1e-5)
	if err != nil {
		t.Fatal(err)
	}

	const tol = 1e-4
	approxEqual(t, "mean", mean.Values(), []float64{2.5}, tol)
	approxEqual(t, "invstd", invStd.Values(), []float64{0.8944}, tol)
	approxEqual(t, "output", out.Values(), []float64{-1.3416, -0.4472, 0.4472, 1.3416}, tol)
}

func TestLayerNormAffinePassThrough(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	gamma := FromFloat32(Shape{4}, []float32{2, 2, 2, 2})
	beta := FromFloat32(Shape{4}, []float32{1, 1, 1, 1})

	plain, _, _, err := LayerNormForward(FromFloat32(Shape{4}, data), Shape{4}, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	affine, _, _, err := LayerNormForwardAffine(FromFloat32(Shape{4}, data), Shape{4}, gamma, beta, 1e-5)
	if err != nil {
		t.Fatal(err)
	}

	want := make([]float64, 4)
	for i, v := range plain.Values() {
		want[i] = 2*v + 1
	}
	approxEqual(t, "affine output", affine.Values(), want, 1e-5)
}

func TestLayerNormMultiRow(t *testing.T) {
	// Enough rows to exercise the worker pool path.
	const n1, n2 = 64, 33
	data := make([]float32, n1*n2)
	for i := range data {
		data[i] = float32(i%13) - 6
	}
	input := FromFloat32(Shape{n1, n2}, data)
	out, mean, invStd, err := LayerNormForward(input, Shape{n2}, 1e-5)
	if err != nil {
		t.Fatal(err)
	}

	// Every row has the same content modulo the 13-cycle phase, so check a
	// couple of rows against a direct computation.
	const tol = 1e-5
	for _, r := range []int{0, 31, 63} {
		var sum float64
		for c := 0; c < n2; c++ {
			sum += float64(data[r*n2+c])
		}
		mu := sum / n2
		var sq float64
		for c := 0; c < n2; c++ {
			d := float64(data[r*n2+c]) - mu
			sq += d * d
		}
		inv := 1 / math.Sqrt(sq/n2+1e-5)
		if got := mean.At(r); math.Abs(got-mu) > tol {
			t.Fatalf("mean[%d] = %v, want %v", r, got, mu)
		}
		if got := invStd.At(r); math.Abs(got-inv) > tol {
			t.Fatalf("invstd[%d] = %v, want %v", r, got, inv)
		}
		for c := 0; c < n2; c++ {
			want := (float64(data[r*n2+c]) - mu) * inv
			if got := out.At(r*n2 + c); math.Abs(got-want) > tol {
				t.Fatalf("out[%d,%d] = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestLayerNormStatsIdempotent(t *testing.T) {
	const n1, n2 = 16, 257
	data := make([]float32, n1*n2)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.37))
	}

	run := func() ([]float32, []float32) {
		_, mean, invStd, err := LayerNormForward(FromFloat32(Shape{n1, n2}, data), Shape{n2}, 1e-5)
		if err != nil {
			t.Fatal(err)
		}
		return mean.Float32s(), invStd.Float32s()
	}

	m1, v1 := run()
	m2, v2 := run()
	for i := range m1 {
		if math.Float32bits(m1[i]) != math.Float32bits(m2[i]) {
			t.Fatalf("mean[%d] not bit-identical across runs: %x vs %x",
				i, math.Float32bits(m1[i]), math.Float32bits(m2[i]))
		}
		if math.Float32bits(v1[i]) != math.Float32bits(v2[i]) {
			t.Fatalf("invstd[%d] not bit-identical across runs: %x vs %x",
				i, math.Float32bits(v1[i]), math.Float32bits(v2[i]))
		}
	}
}

func TestLayerNormMixedDtypes(t *testing.T) {
	vals := []float64{0.5, -1.25, 2, 0.125, -3, 1.5, 0.75, -0.5}
	input := FromValues(F16, Shape{2, 4}, vals)
	gamma := FromFloat32(Shape{4}, []float32{1, 2, 3, 4})
	beta := FromFloat32(Shape{4}, []float32{0.5, 0.5, 0.5, 0.5})

	// Plain affine rejects the dtype mismatch.
	if _, _, _, err := LayerNormForwardAffine(input, Shape{4}, gamma, beta, 1e-5); err == nil {
		t.Fatal("dtype mismatch accepted by non-mixed variant")
	}

	out, mean, invStd, err := LayerNormForwardAffineMixedDtypes(input, Shape{4}, gamma, beta, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if out.DType() != F32 {
		t.Fatalf("mixed output dtype = %s, want %s (gamma's)", out.DType(), F32)
	}
	if mean.DType() != F32 || invStd.DType() != F32 {
		t.Fatalf("stats dtype = %s/%s, want float32 for f16 input", mean.DType(), invStd.DType())
	}

	// Against an all-f32 computation of the f16-rounded values; f16 storage
	// costs ~1e-3 of relative precision.
	ref, _, _, err := LayerNormForwardAffine(FromValues(F32, Shape{2, 4}, input.Values()), Shape{4}, gamma, beta, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, "mixed output", out.Values(), ref.Values(), 1e-3)
}

func TestLayerNormZeroVarianceRow(t *testing.T) {
	input := FromFloat32(Shape{4}, []float32{3, 3, 3, 3})
	out, _, invStd, err := LayerNormForward(input, Shape{4}, 1e-5)
	if err != nil {
		t.Fatal(err)
	}
	if v := invStd.At(0); math.IsInf(v, 0) || math.IsNaN(v) {
		t.Fatalf("invstd = %v for zero-variance row, epsilon floor failed", v)
	}
	for i, v := range out.Values() {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0 for constant row", i, v)
		}
	}
}

func BenchmarkLayerNormForward(b *testing.B) {
	const n1, n2 = 256, 1024
	data := make([]float32, n1*n2)
	for i := range data {
		data[i] = float32(i%31) * 0.1
	}
	input := FromFloat32(Shape{n1, n2}, data)
	for b.Loop() {
		_, _, _, err := LayerNormForward(input, Shape{n2}, 1e-5)
		if err != nil {
			b.Fatal(err)
		}
	}
}
