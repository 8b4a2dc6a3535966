package norm

import (
	"math"
	"testing"
)

func TestStatsDType(t *testing.T) {
	tests := []struct {
		in, want DType
	}{
		{F16, F32},
		{BF16, F32},
		{F32, F32},
		{F64, F64},
	}
	for _, tt := range tests {
		if got := StatsDType(tt.in); got != tt.want {
			t.Fatalf("StatsDType(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestHalfPrecisionStorage(t *testing.T) {
	// Exactly representable values survive an f16/bf16 round trip; generic
	// values land within the format's precision.
	exact := []float64{0, 1, -1, 0.5, 2048, -0.25}
	for _, dt := range []DType{F16, BF16} {
		b := FromValues(dt, Shape{len(exact)}, exact)
		for i, want := range exact {
			if got := b.At(i); got != want {
				t.Fatalf("%s round trip of %v = %v", dt, want, got)
			}
		}
	}

	b := New(F16, Shape{1})
	b.SetAt(0, 0.1)
	if got := b.At(0); math.Abs(got-0.1) > 1e-4 {
		t.Fatalf("f16(0.1) = %v, outside half precision", got)
	}
	b = New(BF16, Shape{1})
	b.SetAt(0, 0.1)
	if got := b.At(0); math.Abs(got-0.1) > 1e-3 {
		t.Fatalf("bf16(0.1) = %v, outside bfloat16 precision", got)
	}
}

func TestParseDType(t *testing.T) {
	for _, dt := range []DType{F16, BF16, F32, F64} {
		got, err := ParseDType(dt.String())
		if err != nil || got != dt {
			t.Fatalf("ParseDType(%q) = %v, %v", dt.String(), got, err)
		}
	}
	if _, err := ParseDType("int8"); err == nil {
		t.Fatal("ParseDType accepted int8")
	}
}
