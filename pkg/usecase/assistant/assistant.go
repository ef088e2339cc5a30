package assistant

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/cache"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
)

// Assistant is the chat surface controller. It resolves the agent for the
// current configuration on every turn and owns the clear and reconfigure
// events. The conversation memory belongs to the Assistant, so a rebuilt
// agent continues the same conversation.
type Assistant struct {
	cache     *cache.Cache
	history   *chat.HistoryStore
	artifacts Resetter
	memory    *chat.Memory

	mu      sync.Mutex
	config  model.AgentConfig
	current *model.History
}

type Option func(*Assistant)

// Resetter drops cached resources, such as loaded model artifacts
type Resetter interface {
	Reset()
}

// WithArtifacts reloads the model artifacts after ClearHistory
func WithArtifacts(r Resetter) Option {
	return func(a *Assistant) {
		a.artifacts = r
	}
}

// WithHistoryStore saves the transcript after every turn
func WithHistoryStore(store *chat.HistoryStore) Option {
	return func(a *Assistant) {
		a.history = store
	}
}

func New(c *cache.Cache, cfg model.AgentConfig, opts ...Option) *Assistant {
	a := &Assistant{
		cache:  c,
		config: cfg,
		memory: chat.NewMemory(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the current configuration
func (a *Assistant) Config() model.AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Ask runs one turn. When the language model cannot be reached the cache is
// invalidated so that the next turn rebuilds the agent. The conversation,
// including the failed user turn, is kept.
func (a *Assistant) Ask(ctx context.Context, text string) (*chat.Reply, error) {
	cfg := a.Config()
	entry, err := a.cache.Get(ctx, cfg, chat.WithMemory(a.memory))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare agent")
	}

	reply, err := entry.Session.Send(ctx, text)
	if err != nil {
		if errors.Is(err, model.ErrUpstreamUnavailable) {
			logging.Component(ctx, "assistant").Warn("language model unavailable, invalidating agents", "error", err)
			a.cache.Invalidate()
		}
		return nil, err
	}

	if a.history != nil {
		if err := a.save(ctx, entry.Config); err != nil {
			logging.Component(ctx, "assistant").Warn("failed to save history", "error", err)
		}
	}

	return reply, nil
}

// ClearHistory empties the conversation and discards every cached agent
// and artifact
func (a *Assistant) ClearHistory() {
	a.memory.Clear()
	a.cache.Invalidate()
	if a.artifacts != nil {
		a.artifacts.Reset()
	}

	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
}

// Configure switches to cfg. Any change of a field discards cached agents
// and starts a new conversation. It reports whether the configuration
// changed.
func (a *Assistant) Configure(cfg model.AgentConfig) bool {
	a.mu.Lock()
	if a.config == cfg {
		a.mu.Unlock()
		return false
	}
	a.config = cfg
	a.current = nil
	a.mu.Unlock()

	a.memory.Clear()
	a.cache.Invalidate()
	return true
}

// Transcript returns the turns of the current conversation
func (a *Assistant) Transcript() []*model.Turn {
	return a.memory.Snapshot()
}

// Resume replaces the current conversation with a saved one
func (a *Assistant) Resume(ctx context.Context, id model.HistoryID) (*model.History, error) {
	if a.history == nil {
		return nil, goerr.New("history store is not configured")
	}

	history, err := a.history.Load(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load history", goerr.V("history_id", id))
	}

	a.memory.Clear()
	for _, turn := range history.Turns {
		a.memory.Append(turn)
	}

	a.mu.Lock()
	a.current = history
	a.mu.Unlock()

	return history, nil
}

func (a *Assistant) save(ctx context.Context, cfg model.AgentConfig) error {
	a.mu.Lock()
	if a.current == nil {
		a.current = &model.History{}
	}
	history := a.current
	a.mu.Unlock()

	history.Model = cfg.Model
	return a.history.Save(ctx, history, a.memory.Snapshot())
}
