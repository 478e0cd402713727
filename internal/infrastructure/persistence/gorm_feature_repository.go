package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// GormFeatureRepository GORM 实现的功能仓储
type GormFeatureRepository struct {
	db *gorm.DB
}

// NewGormFeatureRepository 创建 GORM 功能仓储
func NewGormFeatureRepository(db *gorm.DB) repository.FeatureRepository {
	return &GormFeatureRepository{db: db}
}

type featureWithCount struct {
	models.FeatureModel
	PromptsCount int64
}

// List 列出全部功能及提示词数量
func (r *GormFeatureRepository) List(ctx context.Context) ([]*entity.Feature, error) {
	var rows []featureWithCount
	err := r.db.WithContext(ctx).
		Model(&models.FeatureModel{}).
		Select("features.*, (SELECT COUNT(*) FROM feature_prompts WHERE feature_prompts.feature_id = features.id) AS prompts_count").
		Order("sort_order asc, created_at desc, id desc").
		Scan(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list features", err)
	}

	result := make([]*entity.Feature, 0, len(rows))
	for i := range rows {
		f := featureToEntity(&rows[i].FeatureModel)
		f.PromptsCount = rows[i].PromptsCount
		result = append(result, f)
	}
	return result, nil
}

// FindWithPrompts 查找功能并加载提示词
func (r *GormFeatureRepository) FindWithPrompts(ctx context.Context, id uint) (*entity.Feature, error) {
	var model models.FeatureModel
	err := r.db.WithContext(ctx).
		Preload("Prompts", func(db *gorm.DB) *gorm.DB {
			return db.Order("id asc")
		}).
		First(&model, "id = ?", id).Error
	if err != nil {
		return nil, featureLookupError(err)
	}
	f := featureToEntity(&model)
	f.PromptsCount = int64(len(f.Prompts))
	return f, nil
}

// FindForUser 按所有者查找功能
func (r *GormFeatureRepository) FindForUser(ctx context.Context, userID string, id uint) (*entity.Feature, error) {
	var model models.FeatureModel
	if err := r.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, featureLookupError(err)
	}
	return featureToEntity(&model), nil
}

// Create 其余功能下移一位, 新功能置顶
func (r *GormFeatureRepository) Create(ctx context.Context, feature *entity.Feature) error {
	model := &models.FeatureModel{UserID: feature.UserID, Title: feature.Title}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.FeatureModel{}).
			Where("1 = 1").
			UpdateColumn("sort_order", gorm.Expr("sort_order + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Create(model).Error
	})
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create feature", err)
	}
	feature.ID = model.ID
	feature.SortOrder = model.SortOrder
	feature.CreatedAt = model.CreatedAt
	feature.UpdatedAt = model.UpdatedAt
	return nil
}

// Update 更新标题
func (r *GormFeatureRepository) Update(ctx context.Context, feature *entity.Feature) error {
	result := r.db.WithContext(ctx).
		Model(&models.FeatureModel{ID: feature.ID}).
		Update("title", feature.Title)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update feature", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("feature not found")
	}
	return nil
}

// Delete 删除功能及其提示词
func (r *GormFeatureRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("feature_id = ?", id).Delete(&models.FeaturePromptModel{}).Error; err != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete prompts", err)
		}
		result := tx.Delete(&models.FeatureModel{}, id)
		if result.Error != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete feature", result.Error)
		}
		if result.RowsAffected == 0 {
			return domainErrors.NewNotFoundError("feature not found")
		}
		return nil
	})
}

// Reorder 按 ids 顺序重排
func (r *GormFeatureRepository) Reorder(ctx context.Context, ids []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.FeatureModel{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
			return domainErrors.NewInternalErrorWithCause("failed to check features", err)
		}
		if int(count) != len(uniqueIDs(ids)) {
			return domainErrors.NewInvalidInputError("ids must reference existing features")
		}
		for i, id := range ids {
			if err := tx.Model(&models.FeatureModel{}).
				Where("id = ?", id).
				UpdateColumn("sort_order", i).Error; err != nil {
				return domainErrors.NewInternalErrorWithCause(fmt.Sprintf("failed to reorder feature %d", id), err)
			}
		}
		return nil
	})
}

// CreatePrompt 创建提示词
func (r *GormFeatureRepository) CreatePrompt(ctx context.Context, prompt *entity.FeaturePrompt) error {
	model := promptToModel(prompt)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create prompt", err)
	}
	prompt.ID = model.ID
	prompt.CreatedAt = model.CreatedAt
	prompt.UpdatedAt = model.UpdatedAt
	return nil
}

// FindPromptForUser 查找父功能属于 userID 的提示词
func (r *GormFeatureRepository) FindPromptForUser(ctx context.Context, userID string, id uint) (*entity.FeaturePrompt, error) {
	var model models.FeaturePromptModel
	err := r.db.WithContext(ctx).
		Joins("JOIN features ON features.id = feature_prompts.feature_id").
		Where("feature_prompts.id = ? AND features.user_id = ?", id, userID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("prompt not found")
		}
		return nil, domainErrors.NewInternalErrorWithCause("failed to find prompt", err)
	}
	return promptToEntity(&model), nil
}

// UpdatePrompt 更新提示词
func (r *GormFeatureRepository) UpdatePrompt(ctx context.Context, prompt *entity.FeaturePrompt) error {
	result := r.db.WithContext(ctx).
		Model(&models.FeaturePromptModel{ID: prompt.ID}).
		Updates(map[string]interface{}{
			"title":          prompt.Title,
			"prompt_content": prompt.PromptContent,
			"description":    prompt.Description,
		})
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update prompt", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("prompt not found")
	}
	return nil
}

// DeletePrompt 删除提示词
func (r *GormFeatureRepository) DeletePrompt(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.FeaturePromptModel{}, id)
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to delete prompt", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("prompt not found")
	}
	return nil
}

// 转换方法

func featureLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErrors.NewNotFoundError("feature not found")
	}
	return domainErrors.NewInternalErrorWithCause("failed to find feature", err)
}

func featureToEntity(m *models.FeatureModel) *entity.Feature {
	f := &entity.Feature{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		SortOrder: m.SortOrder,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for i := range m.Prompts {
		f.Prompts = append(f.Prompts, promptToEntity(&m.Prompts[i]))
	}
	return f
}

func promptToModel(p *entity.FeaturePrompt) *models.FeaturePromptModel {
	return &models.FeaturePromptModel{
		ID:            p.ID,
		FeatureID:     p.FeatureID,
		Title:         p.Title,
		PromptContent: p.PromptContent,
		Description:   p.Description,
	}
}

func promptToEntity(m *models.FeaturePromptModel) *entity.FeaturePrompt {
	return &entity.FeaturePrompt{
		ID:            m.ID,
		FeatureID:     m.FeatureID,
		Title:         m.Title,
		PromptContent: m.PromptContent,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
