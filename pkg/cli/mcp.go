package cli

import (
	"context"

	"github.com/m-mizutani/kappa/pkg/service/mcp"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, storageFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the prediction tools over MCP (stdio)",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.prepare(ctx)
			if err != nil {
				return err
			}

			registry, err := cfg.newRegistry(ctx)
			if err != nil {
				return err
			}

			return mcp.NewServer(registry, Version).Run(ctx)
		},
	}
}
