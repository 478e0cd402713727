package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

const (
	// ConversationListLimit caps the sidebar listing.
	ConversationListLimit = 50
	maxTitleLength        = 255
	defaultNewTitle       = "New Conversation"
)

// CreateConversationInput 新建会话参数
type CreateConversationInput struct {
	Title        string
	AIModelID    uint
	SystemPrompt string
}

// ConversationUseCase manages a user's conversations.
type ConversationUseCase struct {
	repo    repository.ConversationRepository
	catalog repository.ModelCatalog
	limits  ChatLimits
	logger  *zap.Logger
}

// NewConversationUseCase 创建会话用例
func NewConversationUseCase(repo repository.ConversationRepository, catalog repository.ModelCatalog, limits ChatLimits, logger *zap.Logger) *ConversationUseCase {
	return &ConversationUseCase{
		repo:    repo,
		catalog: catalog,
		limits:  limits,
		logger:  logger.With(zap.String("component", "conversations")),
	}
}

// List returns the user's most recently active, non-archived conversations.
func (uc *ConversationUseCase) List(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	return uc.repo.ListForUser(ctx, userID, ConversationListLimit)
}

// Get returns a conversation with its messages in creation order.
func (uc *ConversationUseCase) Get(ctx context.Context, userID string, id uint) (*entity.Conversation, error) {
	return uc.repo.FindWithMessages(ctx, userID, id)
}

// Create opens an empty conversation.
func (uc *ConversationUseCase) Create(ctx context.Context, userID string, in CreateConversationInput) (*entity.Conversation, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultNewTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, errors.NewInvalidInputErrorf("title must not exceed %d characters", maxTitleLength)
	}
	modelID := in.AIModelID
	if modelID == 0 {
		modelID = uc.limits.DefaultModelID
		if m, err := uc.catalog.DefaultModel(ctx); err == nil {
			modelID = m.ID
		}
	}

	conv, err := entity.NewConversation(userID, modelID, title, time.Now())
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}
	conv.SystemPrompt = in.SystemPrompt
	if err := uc.repo.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Update applies patch to the user's conversation.
func (uc *ConversationUseCase) Update(ctx context.Context, userID string, id uint, patch entity.ConversationPatch) (*entity.Conversation, error) {
	if patch.Title != nil && utf8.RuneCountInString(*patch.Title) > maxTitleLength {
		return nil, errors.NewInvalidInputErrorf("title must not exceed %d characters", maxTitleLength)
	}
	conv, err := uc.repo.FindForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(conv)
	if err := uc.repo.Update(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Delete removes the user's conversation and its messages.
func (uc *ConversationUseCase) Delete(ctx context.Context, userID string, id uint) error {
	if err := uc.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	uc.logger.Info("Conversation deleted", zap.Uint("conversation_id", id), zap.String("user_id", userID))
	return nil
}
