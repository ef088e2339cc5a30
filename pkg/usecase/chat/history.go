package chat

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/adapter"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/repository"
)

const maxTitleLength = 60

// HistoryStore persists transcripts. Turns go to object storage, metadata to
// the repository.
type HistoryStore struct {
	repo    repository.Repository
	storage adapter.Storage
}

func NewHistoryStore(repo repository.Repository, storage adapter.Storage) *HistoryStore {
	return &HistoryStore{
		repo:    repo,
		storage: storage,
	}
}

func historyKey(id model.HistoryID) string {
	return "histories/" + string(id) + ".json"
}

// Load loads conversation history from storage and repository
func (h *HistoryStore) Load(ctx context.Context, historyID model.HistoryID) (*model.History, error) {
	history, err := h.repo.GetHistory(ctx, historyID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get history from repository")
	}

	reader, err := h.storage.Get(ctx, historyKey(historyID))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get history from storage")
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history data")
	}

	var turns []*model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, goerr.Wrap(model.ErrResourceCorrupt, "failed to unmarshal history turns",
			goerr.V("history_id", historyID), goerr.V("error", err.Error()))
	}

	history.Turns = turns
	return history, nil
}

// Save writes the turns and updates the metadata. A new ID is assigned on
// first save.
func (h *HistoryStore) Save(ctx context.Context, history *model.History, turns []*model.Turn) error {
	now := time.Now()
	if history.ID == "" {
		history.ID = model.NewHistoryID()
		history.CreatedAt = now
	}
	history.UpdatedAt = now
	history.TurnCount = len(turns)
	if history.Title == "" {
		history.Title = titleOf(turns)
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal history turns")
	}

	writer, err := h.storage.Put(ctx, historyKey(history.ID))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer")
	}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write history to storage")
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer")
	}

	if err := h.repo.PutHistory(ctx, history); err != nil {
		return goerr.Wrap(err, "failed to put history to repository")
	}

	history.Turns = turns
	return nil
}

// List returns saved histories, most recent first
func (h *HistoryStore) List(ctx context.Context, offset, limit int) ([]*model.History, error) {
	histories, err := h.repo.ListHistory(ctx, offset, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list histories")
	}
	return histories, nil
}

// titleOf uses the first user turn, truncated
func titleOf(turns []*model.Turn) string {
	for _, t := range turns {
		if t.Role != model.RoleUser {
			continue
		}
		runes := []rune(t.Text)
		if len(runes) > maxTitleLength {
			return string(runes[:maxTitleLength]) + "..."
		}
		return t.Text
	}
	return "(empty)"
}
