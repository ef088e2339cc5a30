package chat_test

import (
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
)

func TestMemory(t *testing.T) {
	m := chat.NewMemory()
	m.Append(model.NewTurn(model.RoleUser, "300 K"))
	m.Append(model.NewTurn(model.RoleAssistant, "defect ratio?"))
	gt.Equal(t, m.Len(), 2)

	snapshot := m.Snapshot()
	snapshot[0] = nil
	gt.NotNil(t, m.Snapshot()[0])

	gen := m.Generation()
	m.Clear()
	gt.Equal(t, m.Len(), 0)
	gt.A(t, m.Snapshot()).Length(0)
	gt.False(t, m.AppendIfGeneration(gen, model.NewTurn(model.RoleAssistant, "stale")))
	gt.Equal(t, m.Len(), 0)

	gt.True(t, m.AppendIfGeneration(m.Generation(), model.NewTurn(model.RoleAssistant, "fresh")))
	gt.Equal(t, m.Len(), 1)
}

func TestMemorySeeded(t *testing.T) {
	m := chat.NewMemory(model.NewTurn(model.RoleUser, "a"), model.NewTurn(model.RoleAssistant, "b"))
	gt.Equal(t, m.Len(), 2)
	gt.Equal(t, m.Snapshot()[1].Text, "b")
}

func TestMemoryConcurrentAppend(t *testing.T) {
	m := chat.NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Append(model.NewTurn(model.RoleUser, "x"))
		}()
	}
	wg.Wait()
	gt.Equal(t, m.Len(), 50)
}
