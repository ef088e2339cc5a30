package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"github.com/urfave/cli/v3"
)

func parameterFlags(req *model.PredictionRequest, withLength bool) []cli.Flag {
	flags := []cli.Flag{
		&cli.FloatFlag{
			Name:        "temperature",
			Aliases:     []string{"t"},
			Usage:       "Temperature in kelvin",
			Required:    true,
			Destination: &req.TemperatureK,
		},
		&cli.FloatFlag{
			Name:        "defect",
			Aliases:     []string{"d"},
			Usage:       "Defect ratio (0 to 1)",
			Required:    true,
			Destination: &req.DefectRatio,
		},
	}
	if withLength {
		flags = append(flags, &cli.FloatFlag{
			Name:        "length",
			Usage:       "Sample length in micrometers",
			Value:       model.DefaultLengthUM,
			Destination: &req.LengthUM,
		})
	}
	return flags
}

func outputFlag(asJSON *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "json",
		Usage:       "Print results as JSON",
		Destination: asJSON,
	}
}

// predictionOutput is the result of a one-shot prediction. Physics is set
// when the ML value is out of the plausible range.
type predictionOutput struct {
	Input   *model.PredictionRequest `json:"input"`
	ML      *model.PredictionResult  `json:"ml"`
	Physics *model.PredictionResult  `json:"physics,omitempty"`
}

func printResults(w io.Writer, asJSON bool, out *predictionOutput) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return goerr.Wrap(err, "failed to encode result")
		}
		return nil
	}

	if out.ML != nil {
		fmt.Fprintf(w, "ML prediction: %s\n", out.ML.Text())
		if out.ML.IsAnomalous {
			fmt.Fprintln(w, "The ML value is outside the plausible range, falling back to the physics estimate.")
		}
	}
	if out.Physics != nil {
		fmt.Fprintf(w, "Physics estimate: %s\n", out.Physics.Text())
	}
	return nil
}

func predictCommand() *cli.Command {
	var (
		cfg    config
		req    model.PredictionRequest
		asJSON bool
	)

	flags := parameterFlags(&req, true)
	flags = append(flags, outputFlag(&asJSON))
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "predict",
		Usage: "Predict thermal conductivity with the trained model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.prepare(ctx)
			if err != nil {
				return err
			}

			predictor, err := cfg.newPredictTool(ctx)
			if err != nil {
				return err
			}

			out := &predictionOutput{Input: &req}
			out.ML, err = predictor.Predict(ctx, &req)
			if err != nil {
				return goerr.Wrap(err, "prediction failed")
			}

			if out.ML.IsAnomalous {
				out.Physics, err = physics.Estimate(req.TemperatureK, req.DefectRatio)
				if err != nil {
					return goerr.Wrap(err, "physics estimate failed")
				}
			}

			return printResults(c.Root().Writer, asJSON, out)
		},
	}
}

func estimateCommand() *cli.Command {
	var (
		cfg    config
		req    model.PredictionRequest
		asJSON bool
	)

	flags := parameterFlags(&req, false)
	flags = append(flags, outputFlag(&asJSON))
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "estimate",
		Usage: "Estimate thermal conductivity with the physics formula",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.prepare(ctx); err != nil {
				return err
			}

			result, err := physics.Estimate(req.TemperatureK, req.DefectRatio)
			if err != nil {
				return goerr.Wrap(err, "physics estimate failed")
			}

			return printResults(c.Root().Writer, asJSON, &predictionOutput{Input: &req, Physics: result})
		},
	}
}

func featuresCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "features",
		Usage: "Show the feature columns of the trained model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.prepare(ctx)
			if err != nil {
				return err
			}

			store, err := cfg.newArtifactStore(ctx)
			if err != nil {
				return err
			}

			schema, m, err := store.Load(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load model artifacts")
			}

			for i, name := range schema.Names() {
				fmt.Fprintf(c.Root().Writer, "%d\t%s\n", i, name)
			}
			fmt.Fprintf(c.Root().Writer, "model expects %d features\n", m.NumFeatures())
			return nil
		},
	}
}
