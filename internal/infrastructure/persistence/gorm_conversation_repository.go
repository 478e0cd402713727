package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// GormConversationRepository GORM 实现的会话仓储
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建 GORM 会话仓储
func NewGormConversationRepository(db *gorm.DB) repository.ConversationRepository {
	return &GormConversationRepository{db: db}
}

// FindForUser 按用户查找会话
func (r *GormConversationRepository) FindForUser(ctx context.Context, userID string, id uint) (*entity.Conversation, error) {
	var model models.ConversationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, conversationLookupError(err)
	}
	return conversationToEntity(&model)
}

// FindWithMessages 查找会话并加载消息
func (r *GormConversationRepository) FindWithMessages(ctx context.Context, userID string, id uint) (*entity.Conversation, error) {
	var model models.ConversationModel
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at asc, id asc")
		}).
		First(&model, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		return nil, conversationLookupError(err)
	}
	return conversationToEntity(&model)
}

// ListForUser 最近活跃的未归档会话
func (r *GormConversationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	var rows []models.ConversationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_archived = ?", userID, false).
		Order("last_message_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalErrorWithCause("failed to list conversations", err)
	}

	result := make([]*entity.Conversation, 0, len(rows))
	for i := range rows {
		conv, err := conversationToEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, nil
}

// Create 创建会话
func (r *GormConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	model := &models.ConversationModel{
		UserID:        conv.UserID,
		AIModelID:     conv.AIModelID,
		Title:         conv.Title,
		SystemPrompt:  conv.SystemPrompt,
		IsArchived:    conv.IsArchived,
		IsFavorite:    conv.IsFavorite,
		LastMessageAt: conv.LastMessageAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to create conversation", err)
	}
	conv.ID = model.ID
	conv.CreatedAt = model.CreatedAt
	conv.UpdatedAt = model.UpdatedAt
	return nil
}

// Update 保存可变字段
func (r *GormConversationRepository) Update(ctx context.Context, conv *entity.Conversation) error {
	result := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ? AND user_id = ?", conv.ID, conv.UserID).
		Updates(map[string]interface{}{
			"title":       conv.Title,
			"is_archived": conv.IsArchived,
			"is_favorite": conv.IsFavorite,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return domainErrors.NewInternalErrorWithCause("failed to update conversation", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	return nil
}

// Delete 删除会话及其消息
func (r *GormConversationRepository) Delete(ctx context.Context, userID string, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&models.ConversationModel{})
		if result.Error != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete conversation", result.Error)
		}
		if result.RowsAffected == 0 {
			return domainErrors.NewNotFoundError("conversation not found")
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&models.MessageModel{}).Error; err != nil {
			return domainErrors.NewInternalErrorWithCause("failed to delete messages", err)
		}
		return nil
	})
}

// AppendMessage 追加消息
func (r *GormConversationRepository) AppendMessage(ctx context.Context, msg *entity.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to save message", err)
	}
	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	return nil
}

// Touch 更新 last_message_at
func (r *GormConversationRepository) Touch(ctx context.Context, conversationID uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.ConversationModel{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at.UTC()).Error
	if err != nil {
		return domainErrors.NewInternalErrorWithCause("failed to touch conversation", err)
	}
	return nil
}

// 转换方法

func conversationLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErrors.NewNotFoundError("conversation not found")
	}
	return domainErrors.NewInternalErrorWithCause("failed to find conversation", err)
}

func conversationToEntity(m *models.ConversationModel) (*entity.Conversation, error) {
	conv := &entity.Conversation{
		ID:            m.ID,
		UserID:        m.UserID,
		AIModelID:     m.AIModelID,
		Title:         m.Title,
		SystemPrompt:  m.SystemPrompt,
		IsArchived:    m.IsArchived,
		IsFavorite:    m.IsFavorite,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for i := range m.Messages {
		msg, err := messageToEntity(&m.Messages[i])
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

func messageToModel(msg *entity.Message) (*models.MessageModel, error) {
	model := &models.MessageModel{
		ConversationID: msg.ConversationID,
		AIModelID:      msg.AIModelID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		InputTokens:    msg.InputTokens,
		OutputTokens:   msg.OutputTokens,
		CreatedAt:      msg.CreatedAt,
	}
	if !msg.Metadata.IsEmpty() {
		// 序列化元数据
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to marshal metadata", err)
		}
		model.Metadata = string(data)
	}
	return model, nil
}

func messageToEntity(m *models.MessageModel) (*entity.Message, error) {
	msg := &entity.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		AIModelID:      m.AIModelID,
		Role:           entity.Role(m.Role),
		Content:        m.Content,
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		CreatedAt:      m.CreatedAt,
	}
	if m.Metadata != "" {
		var md entity.MessageMetadata
		if err := json.Unmarshal([]byte(m.Metadata), &md); err != nil {
			return nil, domainErrors.NewInternalErrorWithCause("failed to unmarshal metadata", err)
		}
		msg.Metadata = &md
	}
	return msg, nil
}
