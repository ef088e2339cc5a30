package cache

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"golang.org/x/sync/singleflight"
)

// Entry is an agent built for one configuration
type Entry struct {
	Config    model.AgentConfig
	Session   *chat.Session
	CreatedAt time.Time
}

// Builder constructs the session for a configuration. opts are the session
// options given to Get.
type Builder func(ctx context.Context, cfg model.AgentConfig, opts ...chat.Option) (*chat.Session, error)

// Cache holds one Entry per configuration. Concurrent misses on the same
// configuration build once. Invalidated entries are dropped, never reused.
type Cache struct {
	build   Builder
	flight  singleflight.Group
	mu      sync.RWMutex
	entries map[string]*Entry

	// generation changes on Invalidate so that a build racing with it is
	// not stored
	generation uint64
}

func New(build Builder) *Cache {
	return &Cache{
		build:   build,
		entries: make(map[string]*Entry),
	}
}

// Get returns the entry for cfg, building it with opts on a miss. opts are
// ignored on a hit. Build failures are not cached. The build is shared by
// concurrent callers, so it does not stop when the caller that started it
// is canceled.
func (c *Cache) Get(ctx context.Context, cfg model.AgentConfig, opts ...chat.Option) (*Entry, error) {
	key := cfg.Key()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.entries[key]
		generation := c.generation
		c.mu.RUnlock()
		if ok {
			return entry, nil
		}

		logging.Component(ctx, "cache").Info("building agent", "config", cfg.String())
		session, err := c.build(context.WithoutCancel(ctx), cfg, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build agent", goerr.V("config", cfg.String()))
		}

		entry = &Entry{
			Config:    cfg,
			Session:   session,
			CreatedAt: time.Now(),
		}

		c.mu.Lock()
		if c.generation == generation {
			c.entries[key] = entry
		}
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Entry), nil
}

// Peek returns the entry for cfg without building one
func (c *Cache) Peek(cfg model.AgentConfig) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[cfg.Key()]
	return entry, ok
}

// Invalidate drops every entry
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.generation++
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
