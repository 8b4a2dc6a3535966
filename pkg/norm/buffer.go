package norm

import "math"

// Buffer is a contiguous, row-major array of floating-point elements with a
// declared dtype. The 16-bit types are stored as raw bit patterns. A Buffer
// is owned by the caller; the engine borrows it for one call and does not
// retain references past return.
type Buffer struct {
	dtype DType
	shape Shape
	u16   []uint16
	f32   []float32
	f64   []float64
}

// New allocates a zeroed Buffer of the given dtype and shape.
func New(dtype DType, shape Shape) *Buffer {
	b := &Buffer{dtype: dtype, shape: shape.Clone()}
	n := shape.Elems()
	switch dtype {
	case F16, BF16:
		b.u16 = make([]uint16, n)
	case F32:
		b.f32 = make([]float32, n)
	default:
		b.f64 = make([]float64, n)
	}
	return b
}

// FromFloat32 wraps data as an F32 Buffer without copying.
// len(data) must equal shape.Elems().
func FromFloat32(shape Shape, data []float32) *Buffer {
	if len(data) != shape.Elems() {
		panic("norm: data length does not match shape")
	}
	return &Buffer{dtype: F32, shape: shape.Clone(), f32: data}
}

// FromFloat64 wraps data as an F64 Buffer without copying.
func FromFloat64(shape Shape, data []float64) *Buffer {
	if len(data) != shape.Elems() {
		panic("norm: data length does not match shape")
	}
	return &Buffer{dtype: F64, shape: shape.Clone(), f64: data}
}

// FromBits wraps raw 16-bit patterns as an F16 or BF16 Buffer without
// copying. Panics for other dtypes.
func FromBits(dtype DType, shape Shape, bits []uint16) *Buffer {
	if dtype != F16 && dtype != BF16 {
		panic("norm: FromBits requires a 16-bit dtype")
	}
	if len(bits) != shape.Elems() {
		panic("norm: data length does not match shape")
	}
	return &Buffer{dtype: dtype, shape: shape.Clone(), u16: bits}
}

// FromValues builds a Buffer of the given dtype, converting each value on
// write. Used by tooling and tests; kernels allocate with New instead.
func FromValues(dtype DType, shape Shape, values []float64) *Buffer {
	if len(values) != shape.Elems() {
		panic("norm: data length does not match shape")
	}
	b := New(dtype, shape)
	for i, v := range values {
		b.SetAt(i, v)
	}
	return b
}

func (b *Buffer) DType() DType { return b.dtype }
func (b *Buffer) Shape() Shape { return b.shape }

// Len returns the total element count.
func (b *Buffer) Len() int { return b.shape.Elems() }

// At returns element i widened to float64.
func (b *Buffer) At(i int) float64 {
	switch b.dtype {
	case F16:
		return float64(fp16Table[b.u16[i]])
	case BF16:
		return float64(bf16Table[b.u16[i]])
	case F32:
		return float64(b.f32[i])
	default:
		return b.f64[i]
	}
}

// SetAt stores v into element i, rounding to the buffer's dtype.
func (b *Buffer) SetAt(i int, v float64) {
	switch b.dtype {
	case F16:
		b.u16[i] = fp16FromF32(float32(v))
	case BF16:
		b.u16[i] = bf16FromF32Bits(math.Float32bits(float32(v)))
	case F32:
		b.f32[i] = float32(v)
	default:
		b.f64[i] = v
	}
}

// Float32s exposes the backing slice of an F32 buffer, nil otherwise.
func (b *Buffer) Float32s() []float32 { return b.f32 }

// Float64s exposes the backing slice of an F64 buffer, nil otherwise.
func (b *Buffer) Float64s() []float64 { return b.f64 }

// Bits16 exposes the raw bit patterns of an F16/BF16 buffer, nil otherwise.
func (b *Buffer) Bits16() []uint16 { return b.u16 }

// Values returns every element widened to float64, in storage order.
func (b *Buffer) Values() []float64 {
	out := make([]float64, b.Len())
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}
