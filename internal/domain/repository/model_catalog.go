package repository

import (
	"context"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

// ModelCatalog 模型目录
type ModelCatalog interface {
	// DefaultModel returns the first active model by sort order, or a
	// not-found error when no model is active.
	DefaultModel(ctx context.Context) (*entity.AIModel, error)

	// ListActive 按 sort_order 列出启用的模型
	ListActive(ctx context.Context) ([]*entity.AIModel, error)
}
