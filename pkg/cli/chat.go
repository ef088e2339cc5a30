package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/cache"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/usecase/assistant"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		maxRounds int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "max-rounds",
			Usage:       "Maximum planner rounds per message",
			Value:       chat.DefaultMaxRounds,
			Sources:     cli.EnvVars("KAPPA_MAX_ROUNDS"),
			Destination: &maxRounds,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive thermal conductivity assistant",
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

			agents := cache.New(func(ctx context.Context, agentCfg model.AgentConfig, opts ...chat.Option) (*chat.Session, error) {
				p, err := cfg.newPlanner(ctx, agentCfg)
				if err != nil {
					return nil, err
				}
				opts = append(opts, chat.WithMaxRounds(int(maxRounds)))
				return chat.New(ctx, p, registry, opts...)
			})

			store, err := cfg.newArtifactStore(ctx)
			if err != nil {
				return err
			}
			opts := []assistant.Option{assistant.WithArtifacts(store)}

			var histories *chat.HistoryStore
			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			if repo != nil {
				defer func() {
					if err := repo.Close(); err != nil {
						logging.From(ctx).Warn("failed to close repository", "error", err)
					}
				}()
				if histories, err = cfg.newHistoryStore(ctx, repo); err != nil {
					return err
				}
				opts = append(opts, assistant.WithHistoryStore(histories))
			}

			loop := &chatLoop{
				assistant: assistant.New(agents, cfg.agent, opts...),
				histories: histories,
				w:         c.Root().Writer,
				thinking:  newSpinner,
			}

			return loop.run(ctx)
		},
	}
}

// chatLoop reads user messages and slash commands until exit
type chatLoop struct {
	assistant *assistant.Assistant
	histories *chat.HistoryStore
	w         io.Writer

	// thinking starts an indicator and returns its stop function
	thinking func(w io.Writer) func()
}

func newSpinner(w io.Writer) func() {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " thinking..."
	s.Start()
	return s.Stop
}

func (l *chatLoop) run(ctx context.Context) error {
	rlCfg := &readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          l.w,
	}
	if home, err := os.UserHomeDir(); err == nil {
		rlCfg.HistoryFile = filepath.Join(home, ".kappa_history")
	}

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize readline")
	}
	defer func() {
		if err := rl.Close(); err != nil {
			logging.From(ctx).Warn("failed to close readline", "error", err)
		}
	}()

	fmt.Fprintf(l.w, "Chat session started (%s). Type /help for commands, 'exit' to quit.\n", l.assistant.Config())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		if quit := l.handle(ctx, line); quit {
			return nil
		}
	}
}

// handle processes one input line. It reports whether the loop should end.
func (l *chatLoop) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "exit" || line == "quit":
		return true
	case strings.HasPrefix(line, "/"):
		l.command(ctx, line)
		return false
	}

	stop := l.thinking(l.w)
	reply, err := l.assistant.Ask(ctx, line)
	stop()

	if err != nil {
		logging.From(ctx).Debug("turn failed", "error", err)
		fmt.Fprintln(l.w, userMessage(err))
		return false
	}

	for _, ex := range reply.Exchanges {
		logging.From(ctx).Debug("tool exchange",
			"tool", ex.Call.Name,
			"args", ex.Call.Args,
			"response", ex.Response,
			"forced", ex.Forced,
		)
	}
	fmt.Fprintln(l.w, reply.Text)
	return false
}

func (l *chatLoop) command(ctx context.Context, line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/help":
		fmt.Fprint(l.w, `Commands:
  /clear            clear the conversation
  /model <name>     switch the model
  /endpoint <url>   switch the endpoint
  /key <api-key>    switch the API key
  /config           show the current configuration
  /history [id]     list saved conversations, or resume one
  exit              quit
`)

	case "/clear":
		l.assistant.ClearHistory()
		fmt.Fprintln(l.w, "conversation cleared")

	case "/model", "/endpoint", "/key":
		if arg == "" {
			fmt.Fprintf(l.w, "usage: %s <value>\n", name)
			return
		}
		cfg := l.assistant.Config()
		switch name {
		case "/model":
			cfg.Model = arg
		case "/endpoint":
			cfg.Endpoint = arg
		case "/key":
			cfg.Credential = arg
		}
		if l.assistant.Configure(cfg) {
			fmt.Fprintf(l.w, "configuration changed, conversation reset: %s\n", cfg)
		} else {
			fmt.Fprintln(l.w, "configuration unchanged")
		}

	case "/config":
		fmt.Fprintln(l.w, l.assistant.Config())

	case "/history":
		l.history(ctx, arg)

	default:
		fmt.Fprintf(l.w, "unknown command: %s (try /help)\n", name)
	}
}

func (l *chatLoop) history(ctx context.Context, id string) {
	if l.histories == nil {
		fmt.Fprintln(l.w, "history is disabled, set --project to enable it")
		return
	}

	if id == "" {
		histories, err := l.histories.List(ctx, 0, 20)
		if err != nil {
			fmt.Fprintln(l.w, userMessage(err))
			return
		}
		printHistories(l.w, histories)
		return
	}

	history, err := l.assistant.Resume(ctx, model.HistoryID(id))
	if err != nil {
		fmt.Fprintln(l.w, userMessage(err))
		return
	}
	fmt.Fprintf(l.w, "resumed %q (%d turns)\n", history.Title, len(history.Turns))
}

func printHistories(w io.Writer, histories []*model.History) {
	if len(histories) == 0 {
		fmt.Fprintln(w, "No conversation histories found")
		return
	}
	for _, h := range histories {
		fmt.Fprintf(w, "%s\t%s\t%d turns\t%s\n",
			h.ID,
			h.Title,
			h.TurnCount,
			h.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
}
