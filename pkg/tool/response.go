package tool

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
)

// Error kinds reported in a failed tool response
const (
	KindInvalidInput    = "invalid_input"
	KindResourceMissing = "resource_missing"
	KindResourceCorrupt = "resource_corrupt"
	KindToolFailure     = "tool_failure"

	// KindRefused marks a call the orchestrator declined to run
	KindRefused = "refused"
)

// Kind classifies err into one of the error kinds
func Kind(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, model.ErrResourceMissing):
		return KindResourceMissing
	case errors.Is(err, model.ErrResourceCorrupt):
		return KindResourceCorrupt
	default:
		return KindToolFailure
	}
}

// ErrorResponse builds the payload of a failed tool call
func ErrorResponse(err error) map[string]any {
	return map[string]any{
		"error": err.Error(),
		"kind":  Kind(err),
	}
}

// ErrorKind returns the kind of a failed tool response, or "" on success
func ErrorKind(resp map[string]any) string {
	if _, failed := resp["error"]; !failed {
		return ""
	}
	kind, _ := resp["kind"].(string)
	if kind == "" {
		return KindToolFailure
	}
	return kind
}

// Number reads a numeric argument. LLMs occasionally send numbers as strings,
// which are accepted when they parse. ok is false when the argument is absent.
func Number(args map[string]any, name string) (v float64, ok bool, err error) {
	raw, exists := args[name]
	if !exists || raw == nil {
		return 0, false, nil
	}

	switch x := raw.(type) {
	case float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, true, goerr.Wrap(model.ErrInvalidInput, "argument is not a number", goerr.V("name", name), goerr.V("value", raw))
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, true, goerr.Wrap(model.ErrInvalidInput, "argument is not a number", goerr.V("name", name), goerr.V("value", raw))
		}
		return f, true, nil
	default:
		return 0, true, goerr.Wrap(model.ErrInvalidInput, "argument is not a number", goerr.V("name", name), goerr.V("value", raw))
	}
}

// RequiredNumber is Number for arguments that must be present
func RequiredNumber(args map[string]any, name string) (float64, error) {
	v, ok, err := Number(args, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, goerr.Wrap(model.ErrInvalidInput, "missing required argument", goerr.V("name", name))
	}
	return v, nil
}
