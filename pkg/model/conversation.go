package model

import (
	"time"

	"github.com/google/uuid"
)

type TurnID string

// NewTurnID generates a new unique TurnID
func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

// Role is the speaker of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation
type Turn struct {
	ID        TurnID    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn creates a turn stamped with the current time
func NewTurn(role Role, text string) *Turn {
	return &Turn{
		ID:        NewTurnID(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}
