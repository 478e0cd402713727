package repository

import (
	"context"
	"time"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

// ConversationRepository 会话与消息仓储接口.
// Every lookup is scoped to the owning user; a conversation that belongs to
// someone else is reported as not found.
type ConversationRepository interface {
	// FindForUser 按用户查找会话
	FindForUser(ctx context.Context, userID string, id uint) (*entity.Conversation, error)

	// FindWithMessages 查找会话并按创建时间加载消息
	FindWithMessages(ctx context.Context, userID string, id uint) (*entity.Conversation, error)

	// ListForUser 最近活跃的未归档会话
	ListForUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error)

	// Create 创建会话, 回填 ID
	Create(ctx context.Context, conversation *entity.Conversation) error

	// Update 保存可变字段 (title, is_archived, is_favorite)
	Update(ctx context.Context, conversation *entity.Conversation) error

	// Delete 删除会话及其消息
	Delete(ctx context.Context, userID string, id uint) error

	// AppendMessage 追加消息, 回填 ID
	AppendMessage(ctx context.Context, message *entity.Message) error

	// Touch 更新 last_message_at
	Touch(ctx context.Context, conversationID uint, at time.Time) error
}
