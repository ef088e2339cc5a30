package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kappa/pkg/adapter"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/repository"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
)

func TestHistoryStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := chat.NewHistoryStore(repository.NewMemory(), adapter.NewFileStorage(t.TempDir()))

	turns := []*model.Turn{
		model.NewTurn(model.RoleUser, strings.Repeat("graphene ", 20)),
		model.NewTurn(model.RoleAssistant, "3200.46 W/mK"),
	}
	history := &model.History{Model: "gemini-2.5-flash"}
	gt.NoError(t, store.Save(ctx, history, turns))
	gt.NotEqual(t, history.ID, model.HistoryID(""))
	gt.Equal(t, history.TurnCount, 2)
	gt.S(t, history.Title).Contains("...")

	loaded, err := store.Load(ctx, history.ID)
	gt.NoError(t, err)
	gt.A(t, loaded.Turns).Length(2)
	gt.Equal(t, loaded.Turns[1].Text, "3200.46 W/mK")
	gt.Equal(t, loaded.Turns[0].ID, turns[0].ID)

	// saving again keeps the ID
	id := history.ID
	turns = append(turns, model.NewTurn(model.RoleUser, "and at 350 K?"))
	gt.NoError(t, store.Save(ctx, history, turns))
	gt.Equal(t, history.ID, id)

	list, err := store.List(ctx, 0, 10)
	gt.NoError(t, err)
	gt.A(t, list).Length(1)
	gt.Equal(t, list[0].TurnCount, 3)
}

func TestHistoryStoreLoadMissing(t *testing.T) {
	store := chat.NewHistoryStore(repository.NewMemory(), adapter.NewFileStorage(t.TempDir()))
	_, err := store.Load(context.Background(), model.NewHistoryID())
	gt.True(t, errors.Is(err, model.ErrResourceMissing))
}
