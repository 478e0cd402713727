package usecase

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

const (
	msgFeatureNotFound = "機能が見つかりません"
	msgPromptNotFound  = "プロンプトが見つかりません"
	msgNoPermission    = "権限がありません"
)

// PromptInput 提示词参数
type PromptInput struct {
	Title         string
	PromptContent string
	Description   string
}

// FeatureUseCase manages features and their saved prompts.
type FeatureUseCase struct {
	repo    repository.FeatureRepository
	isAdmin func(userID string) bool
	logger  *zap.Logger
}

// NewFeatureUseCase 创建功能用例. isAdmin decides who may reorder.
func NewFeatureUseCase(repo repository.FeatureRepository, isAdmin func(userID string) bool, logger *zap.Logger) *FeatureUseCase {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &FeatureUseCase{
		repo:    repo,
		isAdmin: isAdmin,
		logger:  logger.With(zap.String("component", "features")),
	}
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errors.NewInvalidInputError("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", errors.NewInvalidInputErrorf("title must not exceed %d characters", maxTitleLength)
	}
	return title, nil
}

// ownedFeature maps any lookup miss to the user-facing not-found message.
func (uc *FeatureUseCase) ownedFeature(ctx context.Context, userID string, id uint) (*entity.Feature, error) {
	f, err := uc.repo.FindForUser(ctx, userID, id)
	if errors.IsNotFound(err) {
		return nil, errors.NewNotFoundError(msgFeatureNotFound)
	}
	return f, err
}

// List returns all features with their prompt counts.
func (uc *FeatureUseCase) List(ctx context.Context) ([]*entity.Feature, error) {
	return uc.repo.List(ctx)
}

// Show returns one feature with its prompts.
func (uc *FeatureUseCase) Show(ctx context.Context, id uint) (*entity.Feature, error) {
	f, err := uc.repo.FindWithPrompts(ctx, id)
	if errors.IsNotFound(err) {
		return nil, errors.NewNotFoundError(msgFeatureNotFound)
	}
	return f, err
}

// Create adds a feature at the top of the list.
func (uc *FeatureUseCase) Create(ctx context.Context, userID, title string) (*entity.Feature, error) {
	title, err := validTitle(title)
	if err != nil {
		return nil, err
	}
	f := &entity.Feature{UserID: userID, Title: title}
	if err := uc.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	uc.logger.Info("Feature created", zap.Uint("feature_id", f.ID), zap.String("user_id", userID))
	return f, nil
}

// Update renames a feature owned by userID.
func (uc *FeatureUseCase) Update(ctx context.Context, userID string, id uint, title string) (*entity.Feature, error) {
	title, err := validTitle(title)
	if err != nil {
		return nil, err
	}
	f, err := uc.ownedFeature(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	f.Title = title
	if err := uc.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes a feature owned by userID together with its prompts.
func (uc *FeatureUseCase) Delete(ctx context.Context, userID string, id uint) error {
	if _, err := uc.ownedFeature(ctx, userID, id); err != nil {
		return err
	}
	return uc.repo.Delete(ctx, id)
}

// Reorder sets the display order. Only administrators may reorder.
func (uc *FeatureUseCase) Reorder(ctx context.Context, userID string, ids []uint) error {
	if !uc.isAdmin(userID) {
		return errors.NewForbiddenError(msgNoPermission)
	}
	if len(ids) == 0 {
		return errors.NewInvalidInputError("ids is required")
	}
	if err := uc.repo.Reorder(ctx, ids); err != nil {
		return err
	}
	uc.logger.Info("Features reordered", zap.String("user_id", userID), zap.Int("count", len(ids)))
	return nil
}

// CreatePrompt adds a prompt to a feature owned by userID.
func (uc *FeatureUseCase) CreatePrompt(ctx context.Context, userID string, featureID uint, in PromptInput) (*entity.FeaturePrompt, error) {
	title, err := validTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if _, err := uc.ownedFeature(ctx, userID, featureID); err != nil {
		return nil, err
	}
	p := &entity.FeaturePrompt{
		FeatureID:     featureID,
		Title:         title,
		PromptContent: in.PromptContent,
		Description:   in.Description,
	}
	if err := uc.repo.CreatePrompt(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePrompt edits a prompt whose feature is owned by userID.
func (uc *FeatureUseCase) UpdatePrompt(ctx context.Context, userID string, id uint, in PromptInput) (*entity.FeaturePrompt, error) {
	title, err := validTitle(in.Title)
	if err != nil {
		return nil, err
	}
	p, err := uc.ownedPrompt(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	p.Title = title
	p.PromptContent = in.PromptContent
	p.Description = in.Description
	if err := uc.repo.UpdatePrompt(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePrompt removes a prompt whose feature is owned by userID.
func (uc *FeatureUseCase) DeletePrompt(ctx context.Context, userID string, id uint) error {
	if _, err := uc.ownedPrompt(ctx, userID, id); err != nil {
		return err
	}
	return uc.repo.DeletePrompt(ctx, id)
}

func (uc *FeatureUseCase) ownedPrompt(ctx context.Context, userID string, id uint) (*entity.FeaturePrompt, error) {
	p, err := uc.repo.FindPromptForUser(ctx, userID, id)
	if errors.IsNotFound(err) {
		return nil, errors.NewNotFoundError(msgPromptNotFound)
	}
	return p, err
}
