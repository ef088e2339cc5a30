package model

import (
	"fmt"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultLengthUM is used when the sample length was never supplied.
	DefaultLengthUM = 10.0

	// PlausibleMin and PlausibleMax bound the ML predictions trusted without
	// a physics cross-check, in W/m·K.
	PlausibleMin = 10.0
	PlausibleMax = 6000.0
)

// Source identifies which tool produced a PredictionResult.
type Source string

const (
	SourceML      Source = "ml"
	SourcePhysics Source = "physics"
)

// PredictionRequest holds the physical parameters of one prediction.
type PredictionRequest struct {
	LengthUM     float64 `json:"length_um"`
	TemperatureK float64 `json:"temperature_k"`
	DefectRatio  float64 `json:"defect_ratio"`
}

// CheckFinite rejects NaN and infinite parameters. Range checks are
// enforced by the validation policy.
func (r *PredictionRequest) CheckFinite() error {
	params := []struct {
		name  string
		value float64
	}{
		{"length_um", r.LengthUM},
		{"temperature_k", r.TemperatureK},
		{"defect_ratio", r.DefectRatio},
	}
	for _, p := range params {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return goerr.Wrap(ErrInvalidInput, "parameter is not a finite number", goerr.V("name", p.name))
		}
	}
	return nil
}

// Input returns the request as a policy input document.
func (r *PredictionRequest) Input() map[string]any {
	return map[string]any{
		"length_um":     r.LengthUM,
		"temperature_k": r.TemperatureK,
		"defect_ratio":  r.DefectRatio,
	}
}

// PredictionResult is the output of either tool.
type PredictionResult struct {
	Value       float64 `json:"value"`
	Source      Source  `json:"source"`
	IsAnomalous bool    `json:"is_anomalous"`
}

// IsAnomalous reports whether an ML value falls outside the plausibility
// band. NaN and infinities are anomalous.
func IsAnomalous(value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return true
	}
	return value < PlausibleMin || value > PlausibleMax
}

// Text renders the result the way it is shown to the planner.
func (r *PredictionResult) Text() string {
	if r.Source == SourcePhysics {
		return fmt.Sprintf("%.2f W/mK (theoretical)", r.Value)
	}
	return fmt.Sprintf("%.2f W/mK", r.Value)
}

// Response converts the result into a function response payload.
func (r *PredictionResult) Response() map[string]any {
	return map[string]any{
		"result":       r.Text(),
		"value":        r.Value,
		"source":       string(r.Source),
		"is_anomalous": r.IsAnomalous,
	}
}

// ResultFromResponse restores a PredictionResult from a function response
// payload. It returns false when the payload carries an error instead.
func ResultFromResponse(resp map[string]any) (*PredictionResult, bool) {
	if resp == nil {
		return nil, false
	}
	if _, failed := resp["error"]; failed {
		return nil, false
	}
	value, ok := resp["value"].(float64)
	if !ok {
		return nil, false
	}
	src, _ := resp["source"].(string)
	anomalous, _ := resp["is_anomalous"].(bool)
	return &PredictionResult{
		Value:       value,
		Source:      Source(src),
		IsAnomalous: anomalous,
	}, true
}
