package norm

// LayerNormForward normalizes each row of input to zero mean and unit
// variance. It returns the output together with the per-row mean and
// inverse standard deviation, which the caller must save for backward.
func LayerNormForward(input *Buffer, normalizedShape Shape, eps float64) (output, mean, invStd *Buffer, err error) {
	return forward(input, normalizedShape, Affine{}, eps, true, false)
}

// LayerNormForwardAffine is LayerNormForward followed by the elementwise
// affine transform gamma*xhat + beta. gamma and beta must have exactly
// normalizedShape and the input's dtype.
func LayerNormForwardAffine(input *Buffer, normalizedShape Shape, gamma, beta *Buffer, eps float64) (output, mean, invStd *Buffer, err error) {
	return forward(input, normalizedShape, Affine{Gamma: gamma, Beta: beta}, eps, true, false)
}

// LayerNormForwardAffineMixedDtypes is LayerNormForwardAffine with the
// output stored in gamma's dtype rather than the input's. Statistics keep
// the input's stats dtype.
func LayerNormForwardAffineMixedDtypes(input *Buffer, normalizedShape Shape, gamma, beta *Buffer, eps float64) (output, mean, invStd *Buffer, err error) {
	return forward(input, normalizedShape, Affine{Gamma: gamma, Beta: beta}, eps, true, true)
}

// LayerNormBackward computes grad_input for a non-affine forward call.
// mean and invStd must be the buffers returned by that forward call.
func LayerNormBackward(gradOutput, mean, invStd, input *Buffer, normalizedShape Shape, eps float64) (gradInput *Buffer, err error) {
	gradInput, _, _, err = backward(gradOutput, mean, invStd, input, normalizedShape, Affine{}, eps, true, false)
	return gradInput, err
}

// LayerNormBackwardAffine computes grad_input plus grad_gamma and grad_beta,
// the latter two summed over all rows. grad_input matches the input's dtype;
// grad_gamma and grad_beta match gamma's.
func LayerNormBackwardAffine(gradOutput, mean, invStd, input *Buffer, normalizedShape Shape, gamma, beta *Buffer, eps float64) (gradInput, gradGamma, gradBeta *Buffer, err error) {
	return backward(gradOutput, mean, invStd, input, normalizedShape, Affine{Gamma: gamma, Beta: beta}, eps, true, true)
}
