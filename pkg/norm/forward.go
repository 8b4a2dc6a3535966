package norm

import "math"

// forward is the shared forward kernel behind every public forward entry
// point. centered selects LayerNorm semantics (mean + invstd) over RMSNorm
// semantics (invrms only, mean result is nil). mixed makes the output dtype
// follow gamma's dtype instead of the input's.
func forward(input *Buffer, normalizedShape Shape, affine Affine, eps float64, centered, mixed bool) (out, mean, invStd *Buffer, err error) {
	if err := checkEpsilon(eps); err != nil {
		return nil, nil, nil, err
	}
	n1, n2, err := checkArgs(input, normalizedShape, affine)
	if err != nil {
		return nil, nil, nil, err
	}
	if mixed && !affine.present() {
		return nil, nil, nil, preconditionErrorf("gamma buffer is nil")
	}
	if affine.present() {
		if affine.Beta != nil && affine.Beta.DType() != affine.Gamma.DType() {
			return nil, nil, nil, preconditionErrorf(
				"gamma dtype %s and beta dtype %s must match", affine.Gamma.DType(), affine.Beta.DType())
		}
		if !mixed && affine.Gamma.DType() != input.DType() {
			return nil, nil, nil, preconditionErrorf(
				"gamma dtype %s does not match input dtype %s (use the mixed-dtypes variant)",
				affine.Gamma.DType(), input.DType())
		}
	}

	outDType := input.DType()
	if mixed {
		outDType = affine.Gamma.DType()
	}
	statsDType := StatsDType(input.DType())
	out = New(outDType, input.Shape())
	if centered {
		mean = New(statsDType, Shape{n1})
	}
	invStd = New(statsDType, Shape{n1})

	if fwd32, ok := forwardF32(input, out, affine, mean, invStd); ok {
		parallelRows(n1, func(_, rs, re int) {
			for r := rs; r < re; r++ {
				fwd32(r, n2, eps, centered)
			}
		})
		return out, mean, invStd, nil
	}

	parallelRows(n1, func(_, rs, re int) {
		for r := rs; r < re; r++ {
			forwardRow(input, out, affine, mean, invStd, r, n2, eps, centered)
		}
	})
	return out, mean, invStd, nil
}

// forwardRow normalizes one row through the scalar accessors. Works for any
// dtype combination; reductions accumulate in float64.
func forwardRow(input, out *Buffer, affine Affine, mean, invStd *Buffer, r, n2 int, eps float64, centered bool) {
	base := r * n2

	var mu float64
	if centered {
		var sum float64
		for c := 0; c < n2; c++ {
			sum += input.At(base + c)
		}
		mu = sum / float64(n2)
	}
	var sq float64
	for c := 0; c < n2; c++ {
		d := input.At(base+c) - mu
		sq += d * d
	}
	inv := 1 / math.Sqrt(sq/float64(n2)+eps)

	// Store first, then transform with the stored (stats-dtype) values so
	// the output matches what backward will reconstruct from them.
	if centered {
		mean.SetAt(r, mu)
		mu = mean.At(r)
	}
	invStd.SetAt(r, inv)
	inv = invStd.At(r)

	for c := 0; c < n2; c++ {
		v := (input.At(base+c) - mu) * inv
		if affine.Gamma != nil {
			v *= affine.Gamma.At(c)
			if affine.Beta != nil {
				v += affine.Beta.At(c)
			}
		}
		out.SetAt(base+c, v)
	}
}

// forwardF32 returns a row kernel over raw float32 slices when every buffer
// in the call is F32, which is the dominant case in practice. Falls back to
// the accessor path otherwise.
func forwardF32(input, out *Buffer, affine Affine, mean, invStd *Buffer) (func(r, n2 int, eps float64, centered bool), bool) {
	if input.DType() != F32 || out.DType() != F32 {
		return nil, false
	}
	var gamma, beta []float32
	if affine.Gamma != nil {
		if affine.Gamma.DType() != F32 {
			return nil, false
		}
		gamma = affine.Gamma.Float32s()
	}
	if affine.Beta != nil {
		if affine.Beta.DType() != F32 {
			return nil, false
		}
		beta = affine.Beta.Float32s()
	}
	x := input.Float32s()
	y := out.Float32s()
	var meanF []float32
	if mean != nil {
		meanF = mean.Float32s()
	}
	invF := invStd.Float32s()

	return func(r, n2 int, eps float64, centered bool) {
		row := x[r*n2 : r*n2+n2]
		dst := y[r*n2 : r*n2+n2]

		var mu float64
		if centered {
			var sum float64
			for _, v := range row {
				sum += float64(v)
			}
			mu = sum / float64(n2)
		}
		var sq float64
		for _, v := range row {
			d := float64(v) - mu
			sq += d * d
		}
		inv := 1 / math.Sqrt(sq/float64(n2)+eps)

		if centered {
			meanF[r] = float32(mu)
			mu = float64(meanF[r])
		}
		invF[r] = float32(inv)
		inv = float64(invF[r])

		switch {
		case gamma != nil && beta != nil:
			for c, v := range row {
				dst[c] = float32((float64(v)-mu)*inv*float64(gamma[c]) + float64(beta[c]))
			}
		case gamma != nil:
			for c, v := range row {
				dst[c] = float32((float64(v) - mu) * inv * float64(gamma[c]))
			}
		default:
			for c, v := range row {
				dst[c] = float32((float64(v) - mu) * inv)
			}
		}
	}, true
}
