package chat

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/tool/predict"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

func buildInstructions(ctx context.Context, registry *tool.Registry) (string, error) {
	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"DefaultLength": model.DefaultLengthUM,
		"PlausibleMin":  model.PlausibleMin,
		"PlausibleMax":  model.PlausibleMax,
		"PredictTool":   predict.Name,
		"ToolPrompts":   registry.Prompts(ctx),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute system prompt template")
	}
	return buf.String(), nil
}
