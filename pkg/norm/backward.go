package norm

// backward is the shared backward kernel. It produces grad_input for every
// call and, when affine parameters are present, per-column grad_gamma (and
// grad_beta when wantBeta is set) reduced over all rows.
//
// The column reduction is two-phase: each row block accumulates float64
// partials, then the partials are folded in block order. The block partition
// is fixed for a given process, so results are reproducible run to run.
func backward(gradOutput, mean, invStd, input *Buffer, normalizedShape Shape, affine Affine, eps float64, centered, wantBeta bool) (gradInput, gradGamma, gradBeta *Buffer, err error) {
	if err := checkEpsilon(eps); err != nil {
		return nil, nil, nil, err
	}
	n1, n2, err := checkArgs(input, normalizedShape, affine)
	if err != nil {
		return nil, nil, nil, err
	}
	if gradOutput == nil {
		return nil, nil, nil, preconditionErrorf("grad_output buffer is nil")
	}
	if !gradOutput.Shape().Equal(input.Shape()) {
		return nil, nil, nil, shapeErrorf("grad_output shape %s does not match input shape %s",
			gradOutput.Shape(), input.Shape())
	}
	statName := "invrms"
	if centered {
		statName = "invstd"
		if err := checkStats("mean", mean, n1); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := checkStats(statName, invStd, n1); err != nil {
		return nil, nil, nil, err
	}

	gradInput = New(input.DType(), input.Shape())
	if affine.present() {
		gradGamma = New(affine.Gamma.DType(), normalizedShape)
		if wantBeta {
			gradBeta = New(affine.Gamma.DType(), normalizedShape)
		}
	}

	blocks, _ := rowBlocks(n1)
	var partGamma, partBeta [][]float64
	if gradGamma != nil {
		partGamma = make([][]float64, blocks)
		if gradBeta != nil {
			partBeta = make([][]float64, blocks)
		}
	}

	parallelRows(n1, func(block, rs, re int) {
		var pg, pb []float64
		if partGamma != nil {
			pg = make([]float64, n2)
			partGamma[block] = pg
			if partBeta != nil {
				pb = make([]float64, n2)
				partBeta[block] = pb
			}
		}
		for r := rs; r < re; r++ {
			backwardRow(gradOutput, mean, invStd, input, gradInput, affine.Gamma, r, n2, centered, pg, pb)
		}
	})

	if gradGamma != nil {
		reducePartials(gradGamma, partGamma, n2)
		if gradBeta != nil {
			reducePartials(gradBeta, partBeta, n2)
		}
	}
	return gradInput, gradGamma, gradBeta, nil
}

// backwardRow applies the two-reduction backward identity to one row:
//
//	dx = invstd/n2 * (n2*dxhat - Σdxhat - xhat*Σ(dxhat*xhat))
//
// with the Σdxhat term dropped for the uncentered (RMSNorm) case. pg/pb
// collect this row's grad_gamma/grad_beta contributions when non-nil.
func backwardRow(gradOutput, mean, invStd, input, gradInput *Buffer, gamma *Buffer, r, n2 int, centered bool, pg, pb []float64) {
	base := r * n2
	var mu float64
	if centered {
		mu = mean.At(r)
	}
	inv := invStd.At(r)

	var sumG, sumGX float64
	for c := 0; c < n2; c++ {
		xh := (input.At(base+c) - mu) * inv
		g := gradOutput.At(base + c)
		gx := g
		if gamma != nil {
			gx = g * gamma.At(c)
		}
		sumG += gx
		sumGX += gx * xh
		if pg != nil {
			pg[c] += g * xh
			if pb != nil {
				pb[c] += g
			}
		}
	}

	k := inv / float64(n2)
	for c := 0; c < n2; c++ {
		xh := (input.At(base+c) - mu) * inv
		gx := gradOutput.At(base + c)
		if gamma != nil {
			gx *= gamma.At(c)
		}
		t := float64(n2)*gx - xh*sumGX
		if centered {
			t -= sumG
		}
		gradInput.SetAt(base+c, k*t)
	}
}

// reducePartials folds per-block float64 partials into dst in block order.
func reducePartials(dst *Buffer, partials [][]float64, n2 int) {
	acc := make([]float64, n2)
	for _, p := range partials {
		if p == nil {
			continue
		}
		for c, v := range p {
			acc[c] += v
		}
	}
	for c, v := range acc {
		dst.SetAt(c, v)
	}
}
