package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fusednorm/internal/logger"
	"github.com/samcharles93/fusednorm/internal/refvec"
	"github.com/samcharles93/fusednorm/pkg/norm"
)

func checkCmd() *cli.Command {
	var (
		vectors string
		rows    int64
		cols    int64
		seed    int64
		epsilon float64
	)

	return &cli.Command{
		Name:  "check",
		Usage: "Verify gradients against finite differences and optional reference vectors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "vectors",
				Usage:       "reference-vector file (.nrv) to replay",
				Destination: &vectors,
			},
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "rows for the random gradient check",
				Value:       4,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "cols",
				Usage:       "columns for the random gradient check",
				Value:       17,
				Destination: &cols,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "random seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.Float64Flag{
				Name:        "epsilon",
				Usage:       "variance floor",
				Value:       1e-5,
				Destination: &epsilon,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			if err := gradCheck(log, int(rows), int(cols), seed, epsilon); err != nil {
				return err
			}
			if vectors == "" {
				return nil
			}
			return replayVectors(log, vectors)
		},
	}
}

// gradCheck compares analytic grad_input/grad_gamma/grad_beta against
// central finite differences on float64 inputs.
func gradCheck(log logger.Logger, n1, n2 int, seed int64, eps float64) error {
	const (
		h   = 1e-6
		tol = 1e-5
	)
	rng := rand.New(rand.NewSource(seed))
	shape, ns := norm.Shape{n1, n2}, norm.Shape{n2}

	x := make([]float64, n1*n2)
	dout := make([]float64, n1*n2)
	g := make([]float64, n2)
	b := make([]float64, n2)
	for i := range x {
		x[i] = rng.NormFloat64()
		dout[i] = rng.NormFloat64()
	}
	for i := range g {
		g[i] = 1 + 0.2*rng.NormFloat64()
		b[i] = 0.2 * rng.NormFloat64()
	}

	type opCase struct {
		name string
		loss func() (float64, error)
		grad func() (gi, gg, gb *norm.Buffer, err error)
	}

	lnLoss := func() (float64, error) {
		out, _, _, err := norm.LayerNormForwardAffine(
			norm.FromFloat64(shape, x), ns, norm.FromFloat64(ns, g), norm.FromFloat64(ns, b), eps)
		if err != nil {
			return 0, err
		}
		return weightedSum(out, dout), nil
	}
	rmsLoss := func() (float64, error) {
		out, _, err := norm.RMSNormForwardAffine(
			norm.FromFloat64(shape, x), ns, norm.FromFloat64(ns, g), eps)
		if err != nil {
			return 0, err
		}
		return weightedSum(out, dout), nil
	}

	cases := []opCase{
		{
			name: "layernorm",
			loss: lnLoss,
			grad: func() (*norm.Buffer, *norm.Buffer, *norm.Buffer, error) {
				_, mean, invStd, err := norm.LayerNormForwardAffine(
					norm.FromFloat64(shape, x), ns, norm.FromFloat64(ns, g), norm.FromFloat64(ns, b), eps)
				if err != nil {
					return nil, nil, nil, err
				}
				return norm.LayerNormBackwardAffine(
					norm.FromFloat64(shape, dout), mean, invStd, norm.FromFloat64(shape, x), ns,
					norm.FromFloat64(ns, g), norm.FromFloat64(ns, b), eps)
			},
		},
		{
			name: "rmsnorm",
			loss: rmsLoss,
			grad: func() (*norm.Buffer, *norm.Buffer, *norm.Buffer, error) {
				_, invRMS, err := norm.RMSNormForwardAffine(
					norm.FromFloat64(shape, x), ns, norm.FromFloat64(ns, g), eps)
				if err != nil {
					return nil, nil, nil, err
				}
				gi, gg, err := norm.RMSNormBackwardAffine(
					norm.FromFloat64(shape, dout), invRMS, norm.FromFloat64(shape, x), ns,
					norm.FromFloat64(ns, g), eps)
				return gi, gg, nil, err
			},
		},
	}

	for _, oc := range cases {
		gi, gg, gb, err := oc.grad()
		if err != nil {
			return err
		}
		checks := []struct {
			param string
			vals  []float64
			grad  *norm.Buffer
		}{
			{"input", x, gi},
			{"gamma", g, gg},
			{"beta", b, gb},
		}
		for _, chk := range checks {
			if chk.grad == nil {
				continue
			}
			maxErr, err := maxFiniteDiffErr(oc.loss, chk.vals, chk.grad.Values(), h)
			if err != nil {
				return err
			}
			if maxErr > tol {
				return fmt.Errorf("%s grad_%s deviates from finite differences by %.3g (tolerance %.3g)",
					oc.name, chk.param, maxErr, tol)
			}
			log.Info("gradient check passed", "op", oc.name, "param", chk.param, "max_err", maxErr)
		}
	}
	return nil
}

func weightedSum(out *norm.Buffer, w []float64) float64 {
	var sum float64
	for i, v := range out.Values() {
		sum += v * w[i]
	}
	return sum
}

func maxFiniteDiffErr(loss func() (float64, error), x, analytic []float64, h float64) (float64, error) {
	var maxErr float64
	for i := range x {
		orig := x[i]
		x[i] = orig + h
		lp, err := loss()
		if err != nil {
			return 0, err
		}
		x[i] = orig - h
		lm, err := loss()
		if err != nil {
			return 0, err
		}
		x[i] = orig
		numeric := (lp - lm) / (2 * h)
		if d := abs(numeric - analytic[i]); d > maxErr {
			maxErr = d
		}
	}
	return maxErr, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func replayVectors(log logger.Logger, path string) error {
	f, err := refvec.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	failed := 0
	for _, c := range f.Cases {
		res, err := refvec.Run(f, c)
		if err != nil {
			return fmt.Errorf("case %q: %w", c.Name, err)
		}
		if res.Pass() {
			log.Info("case passed", "case", c.Name, "tolerance", res.Tolerance)
			continue
		}
		failed++
		for role, maxErr := range res.Errors {
			if maxErr > res.Tolerance {
				log.Error("mismatch", "case", c.Name, "tensor", role, "max_err", maxErr, "tolerance", res.Tolerance)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(f.Cases))
	}
	log.Info("all cases passed", "cases", len(f.Cases))
	return nil
}
