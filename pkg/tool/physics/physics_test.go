package physics_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"google.golang.org/genai"
)

func TestEstimate(t *testing.T) {
	result, err := physics.Estimate(300, 0.01)
	gt.NoError(t, err)
	gt.True(t, math.Abs(result.Value-1000/20.045) < 1e-9)
	gt.True(t, math.Abs(result.Value-49.89) < 0.01)
	gt.Equal(t, result.Source, model.SourcePhysics)
	gt.False(t, result.IsAnomalous)
	gt.Equal(t, result.Text(), "49.89 W/mK (theoretical)")
}

func TestEstimateZeroDenominator(t *testing.T) {
	// 1.5e-4*T is cancelled by a negative defect term
	result, err := physics.Estimate(2e3, -1.5e-4)
	gt.NoError(t, err)
	gt.False(t, math.IsInf(result.Value, 0))
	gt.True(t, result.Value > 0)
}

func TestEstimateRejectsNonPositiveTemperature(t *testing.T) {
	for _, temp := range []float64{0, -1, -300} {
		_, err := physics.Estimate(temp, 0.01)
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrInvalidInput))
	}

	_, err := physics.Estimate(math.NaN(), 0.01)
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	x := physics.New()

	resp, err := x.Execute(ctx, genai.FunctionCall{
		ID:   "call-1",
		Name: physics.Name,
		Args: map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01},
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.ID, "call-1")
	gt.Equal(t, resp.Response["result"], "49.89 W/mK (theoretical)")
	gt.Equal(t, resp.Response["source"], "physics")
}

func TestExecuteInvalid(t *testing.T) {
	ctx := context.Background()
	x := physics.New()

	testCases := map[string]map[string]any{
		"zero temperature": {"temperature_k": 0.0, "defect_ratio": 0.01},
		"missing defect":   {"temperature_k": 300.0},
		"not a number":     {"temperature_k": "hot", "defect_ratio": 0.01},
	}
	for name, args := range testCases {
		t.Run(name, func(t *testing.T) {
			resp, err := x.Execute(ctx, genai.FunctionCall{Name: physics.Name, Args: args})
			gt.NoError(t, err)
			gt.Map(t, resp.Response).HasKey("error")
			gt.Equal(t, resp.Response["kind"], "invalid_input")
		})
	}
}
