package physics

import (
	"context"
	"fmt"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Name is the function name exposed to planners
const Name = "physics_estimate"

// Coefficients of the simplified Klemens-Callaway relation
// k = 1 / (A*T + B*d), scaled to W/mK
const (
	umklappCoefficient = 1.5e-4
	defectCoefficient  = 2.0e3
	minDenominator     = 1e-9
	scale              = 1000.0
)

// Estimate computes the theoretical thermal conductivity
func Estimate(temperatureK, defectRatio float64) (*model.PredictionResult, error) {
	if math.IsNaN(temperatureK) || math.IsInf(temperatureK, 0) || math.IsNaN(defectRatio) || math.IsInf(defectRatio, 0) {
		return nil, goerr.Wrap(model.ErrInvalidInput, "parameters must be finite numbers",
			goerr.V("temperature_k", temperatureK), goerr.V("defect_ratio", defectRatio))
	}
	if temperatureK <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidInput, "temperature_k must be greater than 0 K",
			goerr.V("temperature_k", temperatureK))
	}

	denom := umklappCoefficient*temperatureK + defectCoefficient*defectRatio
	if denom == 0 {
		denom = minDenominator
	}

	return &model.PredictionResult{
		Value:  scale / denom,
		Source: model.SourcePhysics,
	}, nil
}

type Tool struct{}

var _ tool.Tool = (*Tool)(nil)

func New() *Tool {
	return &Tool{}
}

func (x *Tool) Flags() []cli.Flag {
	return nil
}

func (x *Tool) Prompt(ctx context.Context) string {
	return fmt.Sprintf("%s is a theoretical cross-check. It is only meaningful after an ML prediction fell outside %.0f-%.0f W/mK.", Name, model.PlausibleMin, model.PlausibleMax)
}

func (x *Tool) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        Name,
				Description: "Estimate graphene thermal conductivity (W/mK) with a simplified physical formula. Use only when the ML prediction is implausible.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"temperature_k": {
							Type:        genai.TypeNumber,
							Description: "Temperature in Kelvin",
						},
						"defect_ratio": {
							Type:        genai.TypeNumber,
							Description: "Defect concentration as a fraction between 0 and 1",
						},
					},
					Required: []string{"temperature_k", "defect_ratio"},
				},
			},
		},
	}
}

func (x *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	result, err := x.execute(fc.Args)
	if err != nil {
		logging.Component(ctx, Name).Warn("estimate failed", "error", err)
		return &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: tool.ErrorResponse(err)}, nil
	}

	return &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: result.Response()}, nil
}

func (x *Tool) execute(args map[string]any) (*model.PredictionResult, error) {
	temperature, err := tool.RequiredNumber(args, "temperature_k")
	if err != nil {
		return nil, err
	}
	defect, err := tool.RequiredNumber(args, "defect_ratio")
	if err != nil {
		return nil, err
	}
	return Estimate(temperature, defect)
}
