package cli

import (
	"context"
	"errors"

	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/urfave/cli/v3"
)

// Version is overwritten at build time
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "kappa",
		Usage:   "Thermal conductivity assistant for graphene",
		Version: Version,
		Commands: []*cli.Command{
			chatCommand(),
			predictCommand(),
			estimateCommand(),
			featuresCommand(),
			mcpCommand(),
			historyCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// userMessage renders a turn error for the chat surface
func userMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrResourceMissing):
		return "resource is missing, check the artifact location or history ID: " + err.Error()
	case errors.Is(err, model.ErrResourceCorrupt):
		return "resource is broken, check the feature list and model files: " + err.Error()
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid input: " + err.Error()
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return "language model is unavailable, the agent will be rebuilt on the next message: " + err.Error()
	case errors.Is(err, model.ErrToolFailure):
		return "tool failed: " + err.Error()
	default:
		return "error: " + err.Error()
	}
}
