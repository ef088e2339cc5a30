package model

import (
	"time"

	"github.com/google/uuid"
)

type HistoryID string

// NewHistoryID generates a new unique HistoryID
func NewHistoryID() HistoryID {
	return HistoryID(uuid.New().String())
}

// History is a persisted conversation transcript
type History struct {
	ID        HistoryID
	Title     string
	Model     string
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time

	// Turns are kept in object storage, not in firestore
	Turns []*Turn `firestore:"-"`
}
