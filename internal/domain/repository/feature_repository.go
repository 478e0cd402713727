package repository

import (
	"context"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

// FeatureRepository 功能与提示词仓储接口
type FeatureRepository interface {
	// List returns every feature with PromptsCount filled, ordered by
	// sort_order then newest first.
	List(ctx context.Context) ([]*entity.Feature, error)
	FindWithPrompts(ctx context.Context, id uint) (*entity.Feature, error)
	FindForUser(ctx context.Context, userID string, id uint) (*entity.Feature, error)

	// Create shifts every existing feature down by one and stores the new
	// one at sort_order 0.
	Create(ctx context.Context, feature *entity.Feature) error
	Update(ctx context.Context, feature *entity.Feature) error
	Delete(ctx context.Context, id uint) error

	// Reorder sets each feature's sort_order to its index in ids.
	Reorder(ctx context.Context, ids []uint) error

	CreatePrompt(ctx context.Context, prompt *entity.FeaturePrompt) error
	// FindPromptForUser finds a prompt whose parent feature is owned by userID.
	FindPromptForUser(ctx context.Context, userID string, id uint) (*entity.FeaturePrompt, error)
	UpdatePrompt(ctx context.Context, prompt *entity.FeaturePrompt) error
	DeletePrompt(ctx context.Context, id uint) error
}
