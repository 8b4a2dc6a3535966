// Package refvec reads and writes reference-vector files: bundles of named
// tensors plus test cases produced by a reference implementation of the
// normalization kernels. The check command replays each case through
// pkg/norm and compares against the stored expectations.
//
// Layout: 4-byte magic "NRV1", a little-endian uint32 index length, a JSON
// index, then raw little-endian tensor payloads at index-recorded offsets
// relative to the end of the index.
package refvec

import "errors"

var (
	ErrInvalidMagic = errors.New("refvec: invalid magic")
	ErrCorruptFile  = errors.New("refvec: corrupt file")
)

const magic = "NRV1"

const headerSize = 4 + 4 // magic + index length

// Ops accepted in a Case.
const (
	OpLayerNorm = "layernorm"
	OpRMSNorm   = "rmsnorm"
)

// Tensor roles a Case may reference. Inputs: input, gamma, beta,
// grad_output. Expectations: output, mean, invstd (or invrms), grad_input,
// grad_gamma, grad_beta.
const (
	RoleInput      = "input"
	RoleGamma      = "gamma"
	RoleBeta       = "beta"
	RoleGradOutput = "grad_output"
	RoleOutput     = "output"
	RoleMean       = "mean"
	RoleInvStd     = "invstd"
	RoleInvRMS     = "invrms"
	RoleGradInput  = "grad_input"
	RoleGradGamma  = "grad_gamma"
	RoleGradBeta   = "grad_beta"
)

// TensorDesc locates one named tensor inside the payload area.
type TensorDesc struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

// Case describes one forward (and optionally backward) invocation together
// with its expected results. Tensors maps a role to a tensor name.
type Case struct {
	Name            string            `json:"name"`
	Op              string            `json:"op"`
	NormalizedShape []int             `json:"normalized_shape"`
	Epsilon         float64           `json:"epsilon"`
	Mixed           bool              `json:"mixed,omitempty"`
	Tolerance       float64           `json:"tolerance"`
	Tensors         map[string]string `json:"tensors"`
}

type index struct {
	Cases   []Case       `json:"cases"`
	Tensors []TensorDesc `json:"tensors"`
}
