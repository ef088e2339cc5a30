package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
)

// Memory is an in-process Repository used when Firestore is not configured
type Memory struct {
	mu        sync.RWMutex
	histories map[model.HistoryID]*model.History
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		histories: make(map[model.HistoryID]*model.History),
	}
}

func (r *Memory) PutHistory(ctx context.Context, history *model.History) error {
	if history.ID == "" {
		return goerr.New("history ID is empty")
	}

	copied := *history
	copied.Turns = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories[history.ID] = &copied
	return nil
}

func (r *Memory) GetHistory(ctx context.Context, id model.HistoryID) (*model.History, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, ok := r.histories[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrResourceMissing, "history not found", goerr.V("history_id", id))
	}
	copied := *history
	return &copied, nil
}

func (r *Memory) ListHistory(ctx context.Context, offset, limit int) ([]*model.History, error) {
	r.mu.RLock()
	all := make([]*model.History, 0, len(r.histories))
	for _, h := range r.histories {
		copied := *h
		all = append(all, &copied)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
