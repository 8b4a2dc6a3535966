package refvec

import (
	"fmt"
	"math"

	"github.com/samcharles93/fusednorm/pkg/norm"
)

// Result reports, per expectation role, the max absolute deviation between
// the engine's output and the stored reference tensor.
type Result struct {
	Case      string
	Tolerance float64
	Errors    map[string]float64
}

// Pass reports whether every compared tensor stayed within tolerance.
func (r Result) Pass() bool {
	for _, e := range r.Errors {
		if e > r.Tolerance || math.IsNaN(e) {
			return false
		}
	}
	return true
}

// Run replays one case through the engine: forward always, backward when the
// case carries a grad_output tensor. Expectation roles present in the case
// are compared; roles the case omits are skipped.
func Run(f *File, c Case) (Result, error) {
	res := Result{Case: c.Name, Tolerance: c.Tolerance, Errors: map[string]float64{}}

	input, err := caseTensor(f, c, RoleInput)
	if err != nil {
		return res, err
	}
	var gamma, beta *norm.Buffer
	if _, ok := c.Tensors[RoleGamma]; ok {
		if gamma, err = caseTensor(f, c, RoleGamma); err != nil {
			return res, err
		}
	}
	if _, ok := c.Tensors[RoleBeta]; ok {
		if beta, err = caseTensor(f, c, RoleBeta); err != nil {
			return res, err
		}
	}
	if res.Tolerance == 0 {
		res.Tolerance = defaultTolerance(input.DType())
	}

	ns := norm.Shape(c.NormalizedShape)
	produced := map[string]*norm.Buffer{}

	var mean, invStd *norm.Buffer
	switch c.Op {
	case OpLayerNorm:
		var out *norm.Buffer
		switch {
		case gamma == nil:
			out, mean, invStd, err = norm.LayerNormForward(input, ns, c.Epsilon)
		case c.Mixed:
			out, mean, invStd, err = norm.LayerNormForwardAffineMixedDtypes(input, ns, gamma, beta, c.Epsilon)
		default:
			out, mean, invStd, err = norm.LayerNormForwardAffine(input, ns, gamma, beta, c.Epsilon)
		}
		if err != nil {
			return res, err
		}
		produced[RoleOutput], produced[RoleMean], produced[RoleInvStd] = out, mean, invStd
	case OpRMSNorm:
		var out *norm.Buffer
		switch {
		case gamma == nil:
			out, invStd, err = norm.RMSNormForward(input, ns, c.Epsilon)
		case c.Mixed:
			out, invStd, err = norm.RMSNormForwardAffineMixedDtypes(input, ns, gamma, c.Epsilon)
		default:
			out, invStd, err = norm.RMSNormForwardAffine(input, ns, gamma, c.Epsilon)
		}
		if err != nil {
			return res, err
		}
		produced[RoleOutput], produced[RoleInvRMS] = out, invStd
	default:
		return res, fmt.Errorf("refvec: case %q has unknown op %q", c.Name, c.Op)
	}

	if _, ok := c.Tensors[RoleGradOutput]; ok {
		gradOut, err := caseTensor(f, c, RoleGradOutput)
		if err != nil {
			return res, err
		}
		switch {
		case c.Op == OpLayerNorm && gamma != nil:
			gi, gg, gb, err := norm.LayerNormBackwardAffine(gradOut, mean, invStd, input, ns, gamma, beta, c.Epsilon)
			if err != nil {
				return res, err
			}
			produced[RoleGradInput], produced[RoleGradGamma], produced[RoleGradBeta] = gi, gg, gb
		case c.Op == OpLayerNorm:
			gi, err := norm.LayerNormBackward(gradOut, mean, invStd, input, ns, c.Epsilon)
			if err != nil {
				return res, err
			}
			produced[RoleGradInput] = gi
		case gamma != nil:
			gi, gg, err := norm.RMSNormBackwardAffine(gradOut, invStd, input, ns, gamma, c.Epsilon)
			if err != nil {
				return res, err
			}
			produced[RoleGradInput], produced[RoleGradGamma] = gi, gg
		default:
			gi, err := norm.RMSNormBackward(gradOut, invStd, input, ns, c.Epsilon)
			if err != nil {
				return res, err
			}
			produced[RoleGradInput] = gi
		}
	}

	for role, got := range produced {
		if _, ok := c.Tensors[role]; !ok {
			continue
		}
		want, err := caseTensor(f, c, role)
		if err != nil {
			return res, err
		}
		if got.Len() != want.Len() {
			return res, fmt.Errorf("refvec: case %q role %s has %d elements, reference has %d",
				c.Name, role, got.Len(), want.Len())
		}
		var maxErr float64
		gv, wv := got.Values(), want.Values()
		for i := range gv {
			if d := math.Abs(gv[i] - wv[i]); d > maxErr || math.IsNaN(d) {
				maxErr = d
			}
		}
		res.Errors[role] = maxErr
	}
	return res, nil
}

func caseTensor(f *File, c Case, role string) (*norm.Buffer, error) {
	name, ok := c.Tensors[role]
	if !ok {
		return nil, fmt.Errorf("refvec: case %q is missing required tensor %s", c.Name, role)
	}
	return f.Tensor(name)
}

func defaultTolerance(d norm.DType) float64 {
	switch d {
	case norm.F16, norm.BF16:
		return 2e-2
	case norm.F32:
		return 1e-4
	default:
		return 1e-8
	}
}
