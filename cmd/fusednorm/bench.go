package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fusednorm/internal/logger"
	"github.com/samcharles93/fusednorm/pkg/norm"
)

func benchCmd() *cli.Command {
	var (
		rows    int64
		cols    int64
		runs    int64
		warmup  int64
		epsilon float64
		dtype   string
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time the normalization kernels",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "rows",
				Usage:       "independent rows (n1)",
				Value:       4096,
				Destination: &rows,
			},
			&cli.Int64Flag{
				Name:        "cols",
				Usage:       "elements per row (n2)",
				Value:       1024,
				Destination: &cols,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "timed runs per kernel",
				Value:       20,
				Destination: &runs,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "untimed warmup runs per kernel",
				Value:       3,
				Destination: &warmup,
			},
			&cli.Float64Flag{
				Name:        "epsilon",
				Usage:       "variance floor",
				Value:       1e-5,
				Destination: &epsilon,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "input dtype (float16, bfloat16, float32, float64)",
				Value:       "float32",
				Destination: &dtype,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyBenchConfig(cmd, cfg, &rows, &cols, &runs, &epsilon)

			dt, err := norm.ParseDType(dtype)
			if err != nil {
				return err
			}

			n1, n2 := int(rows), int(cols)
			log.Info("benchmarking", "rows", n1, "cols", n2, "dtype", dt.String(), "runs", runs)

			rng := rand.New(rand.NewSource(42))
			vals := make([]float64, n1*n2)
			for i := range vals {
				vals[i] = rng.NormFloat64()
			}
			gvals := make([]float64, n2)
			bvals := make([]float64, n2)
			for i := range gvals {
				gvals[i] = 1 + 0.1*rng.NormFloat64()
				bvals[i] = 0.1 * rng.NormFloat64()
			}
			shape, ns := norm.Shape{n1, n2}, norm.Shape{n2}
			input := norm.FromValues(dt, shape, vals)
			gradOut := norm.FromValues(dt, shape, vals)
			gamma := norm.FromValues(dt, ns, gvals)
			beta := norm.FromValues(dt, ns, bvals)

			_, lnMean, lnInvStd, err := norm.LayerNormForwardAffine(input, ns, gamma, beta, epsilon)
			if err != nil {
				return err
			}
			_, invRMS, err := norm.RMSNormForwardAffine(input, ns, gamma, epsilon)
			if err != nil {
				return err
			}

			kernels := []struct {
				name string
				fn   func() error
			}{
				{"layernorm/forward", func() error {
					_, _, _, err := norm.LayerNormForwardAffine(input, ns, gamma, beta, epsilon)
					return err
				}},
				{"layernorm/backward", func() error {
					_, _, _, err := norm.LayerNormBackwardAffine(gradOut, lnMean, lnInvStd, input, ns, gamma, beta, epsilon)
					return err
				}},
				{"rmsnorm/forward", func() error {
					_, _, err := norm.RMSNormForwardAffine(input, ns, gamma, epsilon)
					return err
				}},
				{"rmsnorm/backward", func() error {
					_, _, err := norm.RMSNormBackwardAffine(gradOut, invRMS, input, ns, gamma, epsilon)
					return err
				}},
			}

			bytesPerRun := float64(n1*n2*dt.Size()) * 2 // read + write, minimum traffic
			for _, k := range kernels {
				for i := int64(0); i < warmup; i++ {
					if err := k.fn(); err != nil {
						return err
					}
				}
				start := time.Now()
				for i := int64(0); i < runs; i++ {
					if err := k.fn(); err != nil {
						return err
					}
				}
				per := time.Since(start) / time.Duration(runs)
				gbps := bytesPerRun / per.Seconds() / 1e9
				fmt.Printf("%-20s %12v/op  %7.2f GB/s  %6.2f ns/elem\n",
					k.name, per, gbps, float64(per.Nanoseconds())/float64(n1*n2))
			}
			return nil
		},
	}
}
