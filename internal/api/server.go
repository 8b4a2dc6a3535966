// Package api exposes the normalization kernels over HTTP for
// cross-implementation parity checks and ad-hoc debugging. The engine
// itself stays a pure in-process library; this surface is tooling around
// it, not part of its contract.
package api

import (
	"fmt"
	"math"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/fusednorm/internal/logger"
	"github.com/samcharles93/fusednorm/pkg/ngram"
	"github.com/samcharles93/fusednorm/pkg/norm"
)

type Server struct {
	log logger.Logger
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/layernorm/forward", s.handleLayerNormForward)
	e.POST("/v1/layernorm/backward", s.handleLayerNormBackward)
	e.POST("/v1/rmsnorm/forward", s.handleRMSNormForward)
	e.POST("/v1/rmsnorm/backward", s.handleRMSNormBackward)
	e.POST("/v1/ngram/block", s.handleNgramBlock)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeNormRequest parses a forward body into engine buffers.
func decodeNormRequest(c *echo.Context) (req NormRequest, input, gamma, beta *norm.Buffer, err error) {
	req, err = decodeJSON[NormRequest](c.Request().Body)
	if err != nil {
		return req, nil, nil, nil, err
	}
	if input, err = req.Input.buffer("input"); err != nil {
		return req, nil, nil, nil, err
	}
	if req.Gamma != nil {
		if gamma, err = req.Gamma.buffer("gamma"); err != nil {
			return req, nil, nil, nil, err
		}
	}
	if req.Beta != nil {
		if beta, err = req.Beta.buffer("beta"); err != nil {
			return req, nil, nil, nil, err
		}
	}
	return req, input, gamma, beta, nil
}

func (s *Server) handleLayerNormForward(c *echo.Context) error {
	req, input, gamma, beta, err := decodeNormRequest(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ns := norm.Shape(req.NormalizedShape)

	var out, mean, invStd *norm.Buffer
	switch {
	case gamma == nil:
		out, mean, invStd, err = norm.LayerNormForward(input, ns, req.Epsilon)
	case req.Mixed:
		out, mean, invStd, err = norm.LayerNormForwardAffineMixedDtypes(input, ns, gamma, beta, req.Epsilon)
	default:
		out, mean, invStd, err = norm.LayerNormForwardAffine(input, ns, gamma, beta, req.Epsilon)
	}
	if err != nil {
		return writeEngineError(c, err)
	}

	s.log.Debug("layernorm forward", "rows", mean.Len(), "cols", ns.Elems())
	return writeJSON(c, http.StatusOK, ForwardResponse{
		RequestID: uuid.NewString(),
		Output:    tensorDTO(out),
		Mean:      tensorDTO(mean),
		InvStd:    tensorDTO(invStd),
	})
}

func (s *Server) handleRMSNormForward(c *echo.Context) error {
	req, input, gamma, _, err := decodeNormRequest(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ns := norm.Shape(req.NormalizedShape)

	var out, invRMS *norm.Buffer
	switch {
	case gamma == nil:
		out, invRMS, err = norm.RMSNormForward(input, ns, req.Epsilon)
	case req.Mixed:
		out, invRMS, err = norm.RMSNormForwardAffineMixedDtypes(input, ns, gamma, req.Epsilon)
	default:
		out, invRMS, err = norm.RMSNormForwardAffine(input, ns, gamma, req.Epsilon)
	}
	if err != nil {
		return writeEngineError(c, err)
	}

	return writeJSON(c, http.StatusOK, ForwardResponse{
		RequestID: uuid.NewString(),
		Output:    tensorDTO(out),
		InvRMS:    tensorDTO(invRMS),
	})
}

func (s *Server) handleLayerNormBackward(c *echo.Context) error {
	req, err := decodeJSON[BackwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	gradOut, mean, invStd, input, gamma, beta, err := decodeBackwardBuffers(req, req.Mean, req.InvStd, "mean", "invstd")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ns := norm.Shape(req.NormalizedShape)

	resp := BackwardResponse{RequestID: uuid.NewString()}
	if gamma != nil {
		gradIn, gradGamma, gradBeta, err := norm.LayerNormBackwardAffine(gradOut, mean, invStd, input, ns, gamma, beta, req.Epsilon)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.GradInput, resp.GradGamma, resp.GradBeta = tensorDTO(gradIn), tensorDTO(gradGamma), tensorDTO(gradBeta)
	} else {
		gradIn, err := norm.LayerNormBackward(gradOut, mean, invStd, input, ns, req.Epsilon)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.GradInput = tensorDTO(gradIn)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleRMSNormBackward(c *echo.Context) error {
	req, err := decodeJSON[BackwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	gradOut, _, invRMS, input, gamma, _, err := decodeBackwardBuffers(req, nil, req.InvRMS, "", "invrms")
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ns := norm.Shape(req.NormalizedShape)

	resp := BackwardResponse{RequestID: uuid.NewString()}
	if gamma != nil {
		gradIn, gradGamma, err := norm.RMSNormBackwardAffine(gradOut, invRMS, input, ns, gamma, req.Epsilon)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.GradInput, resp.GradGamma = tensorDTO(gradIn), tensorDTO(gradGamma)
	} else {
		gradIn, err := norm.RMSNormBackward(gradOut, invRMS, input, ns, req.Epsilon)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.GradInput = tensorDTO(gradIn)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func decodeBackwardBuffers(req BackwardRequest, meanDTO, statDTO *TensorDTO, meanField, statField string) (gradOut, mean, stat, input, gamma, beta *norm.Buffer, err error) {
	if gradOut, err = req.GradOutput.buffer("grad_output"); err != nil {
		return
	}
	if meanDTO != nil {
		if mean, err = meanDTO.buffer(meanField); err != nil {
			return
		}
	} else if meanField != "" {
		err = fmt.Errorf("missing %s tensor", meanField)
		return
	}
	if statDTO == nil {
		err = fmt.Errorf("missing %s tensor", statField)
		return
	}
	if stat, err = statDTO.buffer(statField); err != nil {
		return
	}
	if input, err = req.Input.buffer("input"); err != nil {
		return
	}
	if req.Gamma != nil {
		if gamma, err = req.Gamma.buffer("gamma"); err != nil {
			return
		}
	}
	if req.Beta != nil {
		if beta, err = req.Beta.buffer("beta"); err != nil {
			return
		}
	}
	return
}

func (s *Server) handleNgramBlock(c *echo.Context) error {
	req, err := decodeJSON[NgramRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	beams := req.Bsz * req.BeamSize
	before := make([]bool, len(req.Lprobs))
	for i, v := range req.Lprobs {
		before[i] = math.IsInf(float64(v), -1)
	}
	if err := ngram.BlockRepeats(req.Tokens, req.Lprobs, req.Bsz, req.Step, req.BeamSize, req.NgramSize); err != nil {
		return writeBadRequest(c, err.Error())
	}

	vocab := len(req.Lprobs) / beams
	banned := make([][]int, beams)
	for b := 0; b < beams; b++ {
		banned[b] = []int{}
		for v := 0; v < vocab; v++ {
			i := b*vocab + v
			if !before[i] && math.IsInf(float64(req.Lprobs[i]), -1) {
				banned[b] = append(banned[b], v)
			}
		}
	}
	return writeJSON(c, http.StatusOK, NgramResponse{
		RequestID: uuid.NewString(),
		Banned:    banned,
	})
}
