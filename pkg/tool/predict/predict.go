package predict

import (
	"context"
	"fmt"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/artifact"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Name is the function name exposed to planners
const Name = "ml_prediction"

// Loader provides the feature schema and trained model
type Loader interface {
	Load(ctx context.Context) (*artifact.Schema, artifact.Model, error)
}

// Validator checks a request before it reaches the model
type Validator interface {
	Validate(ctx context.Context, req *model.PredictionRequest) error
}

// variants lists the accepted schema column names per parameter. The first
// name present in the schema wins.
var variants = []struct {
	param string
	names []string
	value func(*model.PredictionRequest) float64
}{
	{"length_um", []string{"length_um", "length"}, func(r *model.PredictionRequest) float64 { return r.LengthUM }},
	{"temperature_k", []string{"temperature_k", "temperature"}, func(r *model.PredictionRequest) float64 { return r.TemperatureK }},
	{"defect_ratio", []string{"defect_ratio", "defect"}, func(r *model.PredictionRequest) float64 { return r.DefectRatio }},
}

type Tool struct {
	loader    Loader
	validator Validator
}

var _ tool.Tool = (*Tool)(nil)

// New creates the prediction tool
func New(loader Loader, validator Validator) *Tool {
	return &Tool{
		loader:    loader,
		validator: validator,
	}
}

func (x *Tool) Flags() []cli.Flag {
	return nil
}

func (x *Tool) Prompt(ctx context.Context) string {
	return fmt.Sprintf("Use %s to predict thermal conductivity from temperature_k, defect_ratio and length_um. Omit length_um when the user never gave a length; %.1f um is assumed.", Name, model.DefaultLengthUM)
}

func (x *Tool) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        Name,
				Description: "Predict the thermal conductivity (W/mK) of a graphene sample with the trained machine learning model",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"length_um": {
							Type:        genai.TypeNumber,
							Description: "Sample length in micrometers",
							Default:     model.DefaultLengthUM,
						},
						"temperature_k": {
							Type:        genai.TypeNumber,
							Description: "Temperature in Kelvin",
						},
						"defect_ratio": {
							Type:        genai.TypeNumber,
							Description: "Defect concentration as a fraction between 0 and 1 (1% is 0.01)",
						},
					},
					Required: []string{"temperature_k", "defect_ratio"},
				},
			},
		},
	}
}

// Execute never fails for domain errors; they are returned as an error
// payload with a kind.
func (x *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (resp *genai.FunctionResponse, err error) {
	logger := logging.Component(ctx, Name)

	defer func() {
		if r := recover(); r != nil {
			panicErr := goerr.Wrap(model.ErrToolFailure, "prediction panicked", goerr.V("panic", fmt.Sprint(r)))
			logger.Error("recovered from panic", "error", panicErr)
			resp = &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: tool.ErrorResponse(panicErr)}
			err = nil
		}
	}()

	req, err := parseArgs(fc.Args)
	if err != nil {
		return &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: tool.ErrorResponse(err)}, nil
	}

	result, unmapped, err := x.predict(ctx, req)
	if err != nil {
		logger.Warn("prediction failed", "error", err)
		return &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: tool.ErrorResponse(err)}, nil
	}

	payload := result.Response()
	if len(unmapped) > 0 {
		payload["unmapped"] = unmapped
	}
	logger.Debug("prediction done", "request", req, "result", result)

	return &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: payload}, nil
}

// Predict runs the ML model on a request
func (x *Tool) Predict(ctx context.Context, req *model.PredictionRequest) (*model.PredictionResult, error) {
	result, _, err := x.predict(ctx, req)
	return result, err
}

func (x *Tool) predict(ctx context.Context, req *model.PredictionRequest) (*model.PredictionResult, []string, error) {
	if err := x.validator.Validate(ctx, req); err != nil {
		return nil, nil, err
	}

	schema, m, err := x.loader.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	features, unmapped := Vectorize(schema, req)
	if len(unmapped) > 0 {
		logging.Component(ctx, Name).Warn("parameters without a matching feature are ignored",
			"unmapped", unmapped, "features", schema.Names())
	}

	value, err := m.Predict(features)
	if err != nil {
		return nil, nil, goerr.Wrap(model.ErrToolFailure, "model evaluation failed", goerr.V("error", err.Error()))
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, nil, goerr.Wrap(model.ErrToolFailure, "model returned a non-finite value", goerr.V("value", value))
	}

	return &model.PredictionResult{
		Value:       value,
		Source:      model.SourceML,
		IsAnomalous: model.IsAnomalous(value),
	}, unmapped, nil
}

// Vectorize places each parameter in the slot of its first matching schema
// column. Every other slot is zero. Parameters with no column are returned
// as unmapped.
func Vectorize(schema *artifact.Schema, req *model.PredictionRequest) ([]float64, []string) {
	features := make([]float64, schema.Len())
	var unmapped []string

	for _, v := range variants {
		mapped := false
		for _, name := range v.names {
			if idx, ok := schema.Index(name); ok {
				features[idx] = v.value(req)
				mapped = true
				break
			}
		}
		if !mapped {
			unmapped = append(unmapped, v.param)
		}
	}

	return features, unmapped
}

func parseArgs(args map[string]any) (*model.PredictionRequest, error) {
	temperature, err := tool.RequiredNumber(args, "temperature_k")
	if err != nil {
		return nil, err
	}
	defect, err := tool.RequiredNumber(args, "defect_ratio")
	if err != nil {
		return nil, err
	}
	length, ok, err := tool.Number(args, "length_um")
	if err != nil {
		return nil, err
	}
	if !ok {
		length = model.DefaultLengthUM
	}

	return &model.PredictionRequest{
		LengthUM:     length,
		TemperatureK: temperature,
		DefectRatio:  defect,
	}, nil
}
