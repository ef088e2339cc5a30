package chat

import (
	"sync"

	"github.com/m-mizutani/kappa/pkg/model"
)

// Memory is the ordered list of turns of one conversation. It is the only
// place parameters given in earlier turns survive.
type Memory struct {
	mu         sync.Mutex
	turns      []*model.Turn
	generation uint64
}

// NewMemory creates a memory, optionally seeded with restored turns
func NewMemory(turns ...*model.Turn) *Memory {
	m := &Memory{}
	m.turns = append(m.turns, turns...)
	return m
}

func (m *Memory) Append(turn *model.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
}

// AppendIfGeneration appends turn only if Clear has not been called since
// generation was read
func (m *Memory) AppendIfGeneration(generation uint64, turn *model.Turn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		return false
	}
	m.turns = append(m.turns, turn)
	return true
}

// Generation changes every time the memory is cleared
func (m *Memory) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Snapshot returns a copy of the turns
func (m *Memory) Snapshot() []*model.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := make([]*model.Turn, len(m.turns))
	copy(turns, m.turns)
	return turns
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.generation++
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}
