package norm

import "fmt"

// ShapeError reports a normalized-shape, trailing-dimension, or affine
// parameter shape mismatch. It is returned before any computation starts.
type ShapeError struct {
	msg string
}

func (e *ShapeError) Error() string { return e.msg }

func shapeErrorf(format string, args ...any) *ShapeError {
	return &ShapeError{msg: fmt.Sprintf(format, args...)}
}

// PreconditionError reports a violated call precondition that is not a
// shape problem: a nil required buffer, a non-positive epsilon, or a dtype
// combination the call does not support.
type PreconditionError struct {
	msg string
}

func (e *PreconditionError) Error() string { return e.msg }

func preconditionErrorf(format string, args ...any) *PreconditionError {
	return &PreconditionError{msg: fmt.Sprintf(format, args...)}
}

func checkEpsilon(eps float64) error {
	if !(eps > 0) {
		return preconditionErrorf("epsilon must be positive, got %v", eps)
	}
	return nil
}
