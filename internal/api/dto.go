package api

import (
	"fmt"

	"github.com/samcharles93/fusednorm/pkg/norm"
)

// TensorDTO is the wire form of a buffer. Data always travels as float64
// values; dtype controls the storage precision the engine sees.
type TensorDTO struct {
	DType string    `json:"dtype"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func (d *TensorDTO) buffer(field string) (*norm.Buffer, error) {
	if d == nil {
		return nil, fmt.Errorf("%s is required", field)
	}
	dt, err := norm.ParseDType(d.DType)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", field, err)
	}
	shape := norm.Shape(d.Shape)
	if len(d.Data) != shape.Elems() {
		return nil, fmt.Errorf("%s: %d data values do not fill shape %s", field, len(d.Data), shape)
	}
	return norm.FromValues(dt, shape, d.Data), nil
}

func tensorDTO(b *norm.Buffer) *TensorDTO {
	if b == nil {
		return nil
	}
	return &TensorDTO{
		DType: b.DType().String(),
		Shape: b.Shape(),
		Data:  b.Values(),
	}
}

// NormRequest is the body of every forward endpoint. Gamma/Beta select the
// affine variants; Mixed selects the gamma-dtype output variant.
type NormRequest struct {
	Input           *TensorDTO `json:"input"`
	NormalizedShape []int      `json:"normalized_shape"`
	Gamma           *TensorDTO `json:"gamma,omitempty"`
	Beta            *TensorDTO `json:"beta,omitempty"`
	Epsilon         float64    `json:"epsilon"`
	Mixed           bool       `json:"mixed,omitempty"`
}

type ForwardResponse struct {
	RequestID string     `json:"request_id"`
	Output    *TensorDTO `json:"output"`
	Mean      *TensorDTO `json:"mean,omitempty"`
	InvStd    *TensorDTO `json:"invstd,omitempty"`
	InvRMS    *TensorDTO `json:"invrms,omitempty"`
}

// BackwardRequest is the body of every backward endpoint. The statistics
// must be exactly the ones returned by the matching forward call.
type BackwardRequest struct {
	GradOutput      *TensorDTO `json:"grad_output"`
	Mean            *TensorDTO `json:"mean,omitempty"`
	InvStd          *TensorDTO `json:"invstd,omitempty"`
	InvRMS          *TensorDTO `json:"invrms,omitempty"`
	Input           *TensorDTO `json:"input"`
	NormalizedShape []int      `json:"normalized_shape"`
	Gamma           *TensorDTO `json:"gamma,omitempty"`
	Beta            *TensorDTO `json:"beta,omitempty"`
	Epsilon         float64    `json:"epsilon"`
}

type BackwardResponse struct {
	RequestID string     `json:"request_id"`
	GradInput *TensorDTO `json:"grad_input"`
	GradGamma *TensorDTO `json:"grad_gamma,omitempty"`
	GradBeta  *TensorDTO `json:"grad_beta,omitempty"`
}

// NgramRequest mirrors the repeat-block call: flat token/lprob matrices
// plus the beam geometry.
type NgramRequest struct {
	Tokens    []int64   `json:"tokens"`
	Lprobs    []float32 `json:"lprobs"`
	Bsz       int       `json:"bsz"`
	Step      int       `json:"step"`
	BeamSize  int       `json:"beam_size"`
	NgramSize int       `json:"ngram_size"`
}

// NgramResponse lists, per beam, the vocabulary indices the op masked to
// -Inf. Indices are reported rather than the raw lprobs because JSON cannot
// carry infinities.
type NgramResponse struct {
	RequestID string  `json:"request_id"`
	Banned    [][]int `json:"banned"`
}

// ErrorBody is the error envelope carried on non-2xx responses.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
