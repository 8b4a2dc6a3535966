package norm

// RMSNormForward scales each row of input by its inverse root-mean-square.
// No mean is computed or subtracted. The returned invRMS must be saved for
// backward.
func RMSNormForward(input *Buffer, normalizedShape Shape, eps float64) (output, invRMS *Buffer, err error) {
	output, _, invRMS, err = forward(input, normalizedShape, Affine{}, eps, false, false)
	return output, invRMS, err
}

// RMSNormForwardAffine is RMSNormForward followed by the elementwise scale
// by gamma. RMSNorm has no beta.
func RMSNormForwardAffine(input *Buffer, normalizedShape Shape, gamma *Buffer, eps float64) (output, invRMS *Buffer, err error) {
	output, _, invRMS, err = forward(input, normalizedShape, Affine{Gamma: gamma}, eps, false, false)
	return output, invRMS, err
}

// RMSNormForwardAffineMixedDtypes is RMSNormForwardAffine with the output
// stored in gamma's dtype rather than the input's.
func RMSNormForwardAffineMixedDtypes(input *Buffer, normalizedShape Shape, gamma *Buffer, eps float64) (output, invRMS *Buffer, err error) {
	output, _, invRMS, err = forward(input, normalizedShape, Affine{Gamma: gamma}, eps, false, true)
	return output, invRMS, err
}

// RMSNormBackward computes grad_input for a non-affine forward call.
func RMSNormBackward(gradOutput, invRMS, input *Buffer, normalizedShape Shape, eps float64) (gradInput *Buffer, err error) {
	gradInput, _, _, err = backward(gradOutput, nil, invRMS, input, normalizedShape, Affine{}, eps, false, false)
	return gradInput, err
}

// RMSNormBackwardAffine computes grad_input plus grad_gamma summed over all
// rows.
func RMSNormBackwardAffine(gradOutput, invRMS, input *Buffer, normalizedShape Shape, gamma *Buffer, eps float64) (gradInput, gradGamma *Buffer, err error) {
	gradInput, gradGamma, _, err = backward(gradOutput, nil, invRMS, input, normalizedShape, Affine{Gamma: gamma}, eps, false, false)
	return gradInput, gradGamma, err
}
