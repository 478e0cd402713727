package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/config"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDBConnection(&config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	return db
}

func TestNewDBConnection_UnsupportedType(t *testing.T) {
	_, err := NewDBConnection(&config.DatabaseConfig{Type: "mysql"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestConversationRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConversationRepository(newTestDB(t))

	conv, err := entity.NewConversation("u1", 1, "first", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, conv))
	require.NotZero(t, conv.ID)

	user, err := entity.NewMessage(conv.ID, entity.RoleUser, "hello", nil)
	require.NoError(t, err)
	require.NoError(t, repo.AppendMessage(ctx, user))

	reply, err := entity.NewMessage(conv.ID, entity.RoleAssistant, "hi", &entity.MessageMetadata{
		GroundingSources: []entity.GroundingSource{{Title: "Go", URI: "https://go.dev"}},
		SearchQueries:    []string{"golang"},
	})
	require.NoError(t, err)
	reply.WithUsage(5, 2)
	require.NoError(t, repo.AppendMessage(ctx, reply))

	got, err := repo.FindWithMessages(ctx, "u1", conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, entity.RoleUser, got.Messages[0].Role)
	assert.Nil(t, got.Messages[0].Metadata)
	assert.Equal(t, "https://go.dev", got.Messages[1].Metadata.GroundingSources[0].URI)
	assert.Equal(t, []string{"golang"}, got.Messages[1].Metadata.SearchQueries)
	require.NotNil(t, got.Messages[1].OutputTokens)
	assert.Equal(t, 2, *got.Messages[1].OutputTokens)

	_, err = repo.FindForUser(ctx, "someone-else", conv.ID)
	assert.True(t, domainErrors.IsNotFound(err))

	conv.Title = "renamed"
	conv.IsFavorite = true
	require.NoError(t, repo.Update(ctx, conv))
	got, err = repo.FindForUser(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.True(t, got.IsFavorite)

	require.NoError(t, repo.Delete(ctx, "u1", conv.ID))
	_, err = repo.FindForUser(ctx, "u1", conv.ID)
	assert.True(t, domainErrors.IsNotFound(err))
	assert.True(t, domainErrors.IsNotFound(repo.Delete(ctx, "u1", conv.ID)))
}

func TestConversationRepository_ListOrdersByActivity(t *testing.T) {
	ctx := context.Background()
	repo := NewGormConversationRepository(newTestDB(t))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []uint
	for i, title := range []string{"old", "archived", "new"} {
		conv, err := entity.NewConversation("u1", 1, title, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		conv.IsArchived = title == "archived"
		require.NoError(t, repo.Create(ctx, conv))
		ids = append(ids, conv.ID)
	}
	other, _ := entity.NewConversation("u2", 1, "theirs", base)
	require.NoError(t, repo.Create(ctx, other))

	require.NoError(t, repo.Touch(ctx, ids[0], base.Add(5*time.Hour)))

	list, err := repo.ListForUser(ctx, "u1", 50)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "old", list[0].Title, "touched conversation comes first")
	assert.Equal(t, "new", list[1].Title)
}

func TestMemoryConversationRepository_MatchesGorm(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConversationRepository()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a, _ := entity.NewConversation("u1", 1, "a", base)
	b, _ := entity.NewConversation("u1", 1, "b", base.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	msg, _ := entity.NewMessage(a.ID, entity.RoleUser, "x", nil)
	require.NoError(t, repo.AppendMessage(ctx, msg))
	require.NoError(t, repo.Touch(ctx, a.ID, base.Add(2*time.Hour)))

	list, err := repo.ListForUser(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Title)

	got, err := repo.FindWithMessages(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)

	_, err = repo.FindForUser(ctx, "u2", a.ID)
	assert.True(t, domainErrors.IsNotFound(err))
}

func TestSeedModels(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	n, err := SeedModels(ctx, db, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = SeedModels(ctx, db, zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n, "seeding is skipped once the table has rows")

	catalog := NewGormModelCatalog(db)
	def, err := catalog.DefaultModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", def.ModelID)

	list, err := catalog.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "gemini-1.5-pro", list[4].ModelID)
	assert.True(t, list[3].InputPrice.Equal(decimal.RequireFromString("0.075")))
}

func TestModelCatalog_SkipsInactive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rows, err := ParseModelSeed([]byte(`
models:
  - {name: Off, provider: google, model_id: off, inactive: true, sort_order: 0}
  - {name: On, provider: google, model_id: on, input_price: "1.5", sort_order: 3}
`))
	require.NoError(t, err)
	require.NoError(t, db.Create(&rows).Error)

	def, err := NewGormModelCatalog(db).DefaultModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "on", def.ModelID)

	require.NoError(t, db.Model(&models.AIModelModel{}).Where("model_id = ?", "on").Update("is_active", false).Error)
	_, err = NewGormModelCatalog(db).DefaultModel(ctx)
	assert.True(t, domainErrors.IsNotFound(err))
}

func TestParseModelSeed_Errors(t *testing.T) {
	_, err := ParseModelSeed([]byte("models:\n  - name: x\n"))
	assert.ErrorContains(t, err, "model_id is required")

	_, err = ParseModelSeed([]byte("models:\n  - {name: x, model_id: x, input_price: abc}\n"))
	assert.ErrorContains(t, err, "input_price")
}

func TestFeatureRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormFeatureRepository(newTestDB(t))

	first := &entity.Feature{UserID: "u1", Title: "first"}
	second := &entity.Feature{UserID: "u2", Title: "second"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	prompt := &entity.FeaturePrompt{FeatureID: first.ID, Title: "summarise", PromptContent: "Summarise this"}
	require.NoError(t, repo.CreatePrompt(ctx, prompt))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Title, "new features go on top")
	assert.Equal(t, 0, list[0].SortOrder)
	assert.Equal(t, 1, list[1].SortOrder)
	assert.Equal(t, int64(1), list[1].PromptsCount)

	require.NoError(t, repo.Reorder(ctx, []uint{first.ID, second.ID}))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", list[0].Title)
	assert.True(t, domainErrors.IsInvalidInput(repo.Reorder(ctx, []uint{first.ID, 999})))

	_, err = repo.FindPromptForUser(ctx, "u2", prompt.ID)
	assert.True(t, domainErrors.IsNotFound(err))
	found, err := repo.FindPromptForUser(ctx, "u1", prompt.ID)
	require.NoError(t, err)
	found.Description = "short"
	require.NoError(t, repo.UpdatePrompt(ctx, found))

	withPrompts, err := repo.FindWithPrompts(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, withPrompts.Prompts, 1)
	assert.Equal(t, "short", withPrompts.Prompts[0].Description)

	_, err = repo.FindForUser(ctx, "u2", first.ID)
	assert.True(t, domainErrors.IsNotFound(err))

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.FindWithPrompts(ctx, first.ID)
	assert.True(t, domainErrors.IsNotFound(err))
	assert.True(t, domainErrors.IsNotFound(repo.DeletePrompt(ctx, prompt.ID)))
}
