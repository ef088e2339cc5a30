package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"google.golang.org/genai"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := tool.New(physics.New())

	decls := r.Declarations()
	gt.A(t, decls).Length(1)
	gt.Equal(t, decls[0].Name, physics.Name)
	gt.True(t, r.Has(physics.Name))
	gt.False(t, r.Has("unknown"))
	gt.S(t, r.Prompts(ctx)).Contains(physics.Name)

	resp, err := r.Execute(ctx, genai.FunctionCall{
		Name: physics.Name,
		Args: map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01},
	})
	gt.NoError(t, err)
	gt.Map(t, resp.Response).HasKey("value")

	_, err = r.Execute(ctx, genai.FunctionCall{Name: "unknown"})
	gt.True(t, errors.Is(err, tool.ErrToolNotFound))
}

func TestJSONSchema(t *testing.T) {
	min := 0.0
	s := tool.JSONSchema(&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"length_um": {Type: genai.TypeNumber, Default: 10.0, Minimum: &min},
			"unit":      {Type: genai.TypeString, Enum: []string{"um", "nm"}},
		},
		Required: []string{"unit"},
	})

	gt.Equal(t, s.Type, "object")
	gt.Equal(t, s.Required, []string{"unit"})
	gt.Equal(t, s.Properties["length_um"].Type, "number")
	gt.Equal(t, string(s.Properties["length_um"].Default), "10")
	gt.Equal(t, *s.Properties["length_um"].Minimum, 0.0)
	gt.Equal(t, s.Properties["unit"].Enum, []any{"um", "nm"})

	gt.Equal(t, tool.JSONSchema(nil).Type, "object")
}

func TestNumber(t *testing.T) {
	args := map[string]any{"a": 1.5, "b": "2.5", "c": 3, "d": true}

	v, ok, err := tool.Number(args, "a")
	gt.NoError(t, err)
	gt.True(t, ok)
	gt.Equal(t, v, 1.5)

	v, _, err = tool.Number(args, "b")
	gt.NoError(t, err)
	gt.Equal(t, v, 2.5)

	v, _, err = tool.Number(args, "c")
	gt.NoError(t, err)
	gt.Equal(t, v, 3.0)

	_, _, err = tool.Number(args, "d")
	gt.True(t, errors.Is(err, model.ErrInvalidInput))

	_, ok, err = tool.Number(args, "missing")
	gt.NoError(t, err)
	gt.False(t, ok)

	_, err = tool.RequiredNumber(args, "missing")
	gt.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestErrorKind(t *testing.T) {
	gt.Equal(t, tool.ErrorKind(map[string]any{"value": 1.0}), "")
	gt.Equal(t, tool.ErrorKind(tool.ErrorResponse(model.ErrResourceMissing)), tool.KindResourceMissing)
	gt.Equal(t, tool.ErrorKind(tool.ErrorResponse(errors.New("boom"))), tool.KindToolFailure)
	gt.Equal(t, tool.ErrorKind(map[string]any{"error": "x"}), tool.KindToolFailure)
}
