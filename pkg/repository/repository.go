package repository

import (
	"context"

	"github.com/m-mizutani/kappa/pkg/model"
)

// Repository defines the interface for transcript metadata persistence
type Repository interface {
	// PutHistory saves a conversation history to the repository
	PutHistory(ctx context.Context, history *model.History) error

	// GetHistory retrieves a conversation history by ID. A missing history is
	// reported as model.ErrResourceMissing
	GetHistory(ctx context.Context, id model.HistoryID) (*model.History, error)

	// ListHistory retrieves conversation histories, most recently updated first
	ListHistory(ctx context.Context, offset, limit int) ([]*model.History, error)
}
