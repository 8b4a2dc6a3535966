package norm

import (
	"fmt"
	"strings"
)

// Shape is an ordered sequence of positive dimension sizes.
type Shape []int

// Elems returns the total element count, 1 for an empty shape.
func (s Shape) Elems() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether s and o have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i, d := range s {
		if d != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Clone returns an independent copy of s.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Resolve validates normalizedShape as a trailing suffix of inputShape and
// splits the input into n1 independent rows of n2 elements each.
func Resolve(inputShape, normalizedShape Shape) (n1, n2 int, err error) {
	if len(normalizedShape) < 1 {
		return 0, 0, shapeErrorf(
			"expected normalized_shape to be at least 1-dimensional, i.e., containing at least one element, but got normalized_shape=%s",
			normalizedShape)
	}
	idiff := len(inputShape) - len(normalizedShape)
	if idiff < 0 || !Shape(inputShape[idiff:]).Equal(normalizedShape) {
		return 0, 0, shapeErrorf(
			"given normalized_shape=%s, expected input with shape [*%s], but got input of size %s",
			normalizedShape, strings.TrimPrefix(normalizedShape.String(), "["), inputShape)
	}
	n1, n2 = 1, 1
	for _, d := range inputShape[:idiff] {
		n1 *= d
	}
	for _, d := range normalizedShape {
		n2 *= d
	}
	return n1, n2, nil
}

// Affine carries the optional scale/shift parameters of a call. A nil field
// means the parameter is absent; LayerNorm uses both, RMSNorm gamma only.
type Affine struct {
	Gamma *Buffer
	Beta  *Buffer
}

func (a Affine) present() bool { return a.Gamma != nil }

// checkArgs validates one call's buffer set: the normalized-shape suffix
// rule on input, exact shape equality for every affine parameter that is
// present, and that beta never appears without gamma.
func checkArgs(input *Buffer, normalizedShape Shape, affine Affine) (n1, n2 int, err error) {
	if input == nil {
		return 0, 0, preconditionErrorf("input buffer is nil")
	}
	n1, n2, err = Resolve(input.Shape(), normalizedShape)
	if err != nil {
		return 0, 0, err
	}
	if affine.Beta != nil && affine.Gamma == nil {
		return 0, 0, preconditionErrorf("beta requires gamma")
	}
	if affine.Gamma != nil && !affine.Gamma.Shape().Equal(normalizedShape) {
		return 0, 0, shapeErrorf("gamma shape %s does not match normalized_shape %s",
			affine.Gamma.Shape(), normalizedShape)
	}
	if affine.Beta != nil && !affine.Beta.Shape().Equal(normalizedShape) {
		return 0, 0, shapeErrorf("beta shape %s does not match normalized_shape %s",
			affine.Beta.Shape(), normalizedShape)
	}
	return n1, n2, nil
}

// checkStats validates a statistics buffer saved by a forward call against
// the row count established for the backward call.
func checkStats(name string, stats *Buffer, n1 int) error {
	if stats == nil {
		return preconditionErrorf("%s buffer is nil", name)
	}
	if stats.Len() != n1 {
		return shapeErrorf("%s has %d entries, expected one per row (%d)", name, stats.Len(), n1)
	}
	return nil
}
