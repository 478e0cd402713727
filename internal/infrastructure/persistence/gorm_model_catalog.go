package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// GormModelCatalog GORM 实现的模型目录
type GormModelCatalog struct {
	db *gorm.DB
}

// NewGormModelCatalog 创建模型目录
func NewGormModelCatalog(db *gorm.DB) repository.ModelCatalog {
	return &GormModelCatalog{db: db}
}

// DefaultModel 第一个启用的模型
func (c *GormModelCatalog) DefaultModel(ctx context.Context) (*entity.AIModel, error) {
	var rows []models.AIModelModel
	err := c.active(ctx).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to load default model", err)
	}
	if len(rows) == 0 {
		return nil, domainErrors.NewNotFoundError("no active AI model")
	}
	return aiModelToEntity(&rows[0]), nil
}

// ListActive 按 sort_order 列出启用的模型
func (c *GormModelCatalog) ListActive(ctx context.Context) ([]*entity.AIModel, error) {
	var rows []models.AIModelModel
	if err := c.active(ctx).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list models", err)
	}
	result := make([]*entity.AIModel, 0, len(rows))
	for i := range rows {
		result = append(result, aiModelToEntity(&rows[i]))
	}
	return result, nil
}

func (c *GormModelCatalog) active(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order asc, id asc")
}

func aiModelToEntity(m *models.AIModelModel) *entity.AIModel {
	return &entity.AIModel{
		ID:                      m.ID,
		Name:                    m.Name,
		Provider:                m.Provider,
		ModelID:                 m.ModelID,
		Description:             m.Description,
		MaxTokens:               m.MaxTokens,
		ContextWindow:           m.ContextWindow,
		InputPrice:              m.InputPrice,
		OutputPrice:             m.OutputPrice,
		IsActive:                m.IsActive,
		SupportsVision:          m.SupportsVision,
		SupportsFunctionCalling: m.SupportsFunctionCalling,
		SupportsStreaming:       m.SupportsStreaming,
		SortOrder:               m.SortOrder,
		CreatedAt:               m.CreatedAt,
	}
}
