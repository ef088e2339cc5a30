package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var (
		cfg    config
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("KAPPA_HISTORY_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of histories to list",
			Value:       20,
			Sources:     cli.EnvVars("KAPPA_HISTORY_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:  "history",
		Usage: "List saved conversations",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.prepare(ctx)
			if err != nil {
				return err
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			if repo == nil {
				return goerr.New("project is required to list histories")
			}
			defer func() { _ = repo.Close() }()

			histories, err := cfg.newHistoryStore(ctx, repo)
			if err != nil {
				return err
			}

			list, err := histories.List(ctx, int(offset), int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to list histories")
			}

			printHistories(c.Root().Writer, list)
			return nil
		},
	}
}
