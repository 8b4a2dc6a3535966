package norm

import (
	"fmt"
	"math"
)

// DType identifies the element type of a Buffer.
type DType int

const (
	F16 DType = iota
	BF16
	F32
	F64
)

func (d DType) String() string {
	switch d {
	case F16:
		return "float16"
	case BF16:
		return "bfloat16"
	case F32:
		return "float32"
	case F64:
		return "float64"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// ParseDType maps a dtype name to its DType. It accepts the canonical
// names produced by String plus the common short forms.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float16", "f16", "half":
		return F16, nil
	case "bfloat16", "bf16":
		return BF16, nil
	case "float32", "f32":
		return F32, nil
	case "float64", "f64", "double":
		return F64, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// Size returns the storage size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case F16, BF16:
		return 2
	case F32:
		return 4
	default:
		return 8
	}
}

// StatsDType returns the dtype used to store per-row statistics for an
// input of dtype d: float32 for the 16-bit types, otherwise d itself.
func StatsDType(d DType) DType {
	if d == F16 || d == BF16 {
		return F32
	}
	return d
}

// bf16Table maps every possible BF16 bit-pattern to float32.
var bf16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = math.Float32frombits(uint32(i) << 16)
	}
	return tbl
}()

// fp16Table maps every possible FP16 bit-pattern to float32.
var fp16Table = func() [1 << 16]float32 {
	var tbl [1 << 16]float32
	for i := range tbl {
		tbl[i] = fp16ToF32(uint16(i))
	}
	return tbl
}()

func bf16FromF32Bits(u uint32) uint16 {
	// Round-to-nearest-even on the truncated 16 bits.
	rnd := uint32(0x7FFF + ((u >> 16) & 1))
	return uint16((u + rnd) >> 16)
}

// fp16FromF32 implements IEEE 754 binary16 rounding (nearest-even).
func fp16FromF32(f float32) uint16 {
	u := math.Float32bits(f)
	sign := (u >> 31) & 0x1
	exp := int((u >> 23) & 0xFF)
	frac := u & 0x7FFFFF

	if exp == 0xFF {
		// Inf/NaN
		if frac != 0 {
			return uint16((sign << 15) | 0x7C00 | (frac >> 13) | 1)
		}
		return uint16((sign << 15) | 0x7C00)
	}

	// unbiased exponent
	e := exp - 127
	if e > 15 {
		// overflow -> inf
		return uint16((sign << 15) | 0x7C00)
	}
	if e < -14 {
		// subnormal or zero
		if e < -24 {
			return uint16(sign << 15)
		}
		// add implicit leading 1 then shift into subnormal range
		frac |= 0x800000
		shift := uint32(-14 - e)
		// round-to-nearest-even
		rnd := uint32(1<<(shift-1)) - 1 + ((frac >> shift) & 1)
		frac = (frac + rnd) >> shift
		return uint16((sign << 15) | (frac >> 13))
	}

	// normal
	exp16 := uint32(e + 15)
	// round-to-nearest-even on frac>>13
	rnd := uint32(0xFFF + ((frac >> 13) & 1))
	frac = frac + rnd
	if (frac & 0x800000) != 0 {
		// carry into exponent
		exp16++
		frac = 0
		if exp16 >= 0x1F {
			return uint16((sign << 15) | 0x7C00)
		}
	}
	return uint16((sign << 15) | (exp16 << 10) | (frac >> 13))
}

func fp16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)

	var outBits uint32
	switch exp {
	case 0:
		if frac == 0 {
			outBits = sign << 31
		} else {
			// subnormal: renormalize
			e := -14
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			outBits = (sign << 31) | uint32(e+127)<<23 | (frac << 13)
		}
	case 0x1F:
		outBits = (sign << 31) | 0x7F800000
		if frac != 0 {
			outBits |= frac << 13
		}
	default:
		outBits = (sign << 31) | (exp+127-15)<<23 | (frac << 13)
	}
	return math.Float32frombits(outBits)
}
