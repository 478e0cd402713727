package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence"
	domainErrors "github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

func newConversationUseCase() *ConversationUseCase {
	return NewConversationUseCase(persistence.NewMemoryConversationRepository(),
		persistence.NewMemoryModelCatalog(activeModel(5, "gpt-4o", 1)), DefaultChatLimits(), zap.NewNop())
}

func TestConversationUseCase_CRUD(t *testing.T) {
	ctx := context.Background()
	uc := newConversationUseCase()

	conv, err := uc.Create(ctx, "u1", CreateConversationInput{})
	require.NoError(t, err)
	assert.Equal(t, "New Conversation", conv.Title)
	assert.Equal(t, uint(5), conv.AIModelID)

	title := "Renamed"
	fav := true
	updated, err := uc.Update(ctx, "u1", conv.ID, entity.ConversationPatch{Title: &title, IsFavorite: &fav})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.True(t, updated.IsFavorite)

	_, err = uc.Update(ctx, "u2", conv.ID, entity.ConversationPatch{Title: &title})
	assert.True(t, domainErrors.IsNotFound(err))

	long := strings.Repeat("t", 256)
	_, err = uc.Update(ctx, "u1", conv.ID, entity.ConversationPatch{Title: &long})
	assert.True(t, domainErrors.IsInvalidInput(err))

	list, err := uc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	archived := true
	_, err = uc.Update(ctx, "u1", conv.ID, entity.ConversationPatch{IsArchived: &archived})
	require.NoError(t, err)
	list, err = uc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list, "archived conversations are hidden")

	got, err := uc.Get(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	assert.True(t, domainErrors.IsNotFound(uc.Delete(ctx, "u2", conv.ID)))
	require.NoError(t, uc.Delete(ctx, "u1", conv.ID))
	_, err = uc.Get(ctx, "u1", conv.ID)
	assert.True(t, domainErrors.IsNotFound(err))
}
