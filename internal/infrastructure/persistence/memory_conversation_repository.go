package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// MemoryConversationRepository 内存实现的会话仓储（用于开发/测试）
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	nextConvID    uint
	nextMsgID     uint
	conversations map[uint]*entity.Conversation
	// 会话ID到消息列表的映射
	messages map[uint][]*entity.Message
}

// NewMemoryConversationRepository 创建内存会话仓储
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[uint]*entity.Conversation),
		messages:      make(map[uint][]*entity.Message),
	}
}

var _ repository.ConversationRepository = (*MemoryConversationRepository)(nil)

// FindForUser 按用户查找会话
func (r *MemoryConversationRepository) FindForUser(ctx context.Context, userID string, id uint) (*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, errors.NewNotFoundError("conversation not found")
	}
	cp := *conv
	return &cp, nil
}

// FindWithMessages 查找会话并加载消息
func (r *MemoryConversationRepository) FindWithMessages(ctx context.Context, userID string, id uint) (*entity.Conversation, error) {
	conv, err := r.FindForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = r.Messages(id)
	return conv, nil
}

// ListForUser 最近活跃的未归档会话
func (r *MemoryConversationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.Conversation, 0)
	for _, conv := range r.conversations {
		if conv.UserID == userID && !conv.IsArchived {
			cp := *conv
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].LastMessageAt, result[j].LastMessageAt
		switch {
		case a == nil || b == nil:
			return b == nil && a != nil
		case !a.Equal(*b):
			return a.After(*b)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Create 创建会话
func (r *MemoryConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextConvID++
	now := time.Now().UTC()
	conv.ID = r.nextConvID
	conv.CreatedAt, conv.UpdatedAt = now, now
	cp := *conv
	cp.Messages = nil
	r.conversations[conv.ID] = &cp
	return nil
}

// Update 保存可变字段
func (r *MemoryConversationRepository) Update(ctx context.Context, conv *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.conversations[conv.ID]
	if !ok || stored.UserID != conv.UserID {
		return errors.NewNotFoundError("conversation not found")
	}
	stored.Title = conv.Title
	stored.IsArchived = conv.IsArchived
	stored.IsFavorite = conv.IsFavorite
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// Delete 删除会话及其消息
func (r *MemoryConversationRepository) Delete(ctx context.Context, userID string, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok || conv.UserID != userID {
		return errors.NewNotFoundError("conversation not found")
	}
	delete(r.conversations, id)
	delete(r.messages, id)
	return nil
}

// AppendMessage 追加消息
func (r *MemoryConversationRepository) AppendMessage(ctx context.Context, msg *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[msg.ConversationID]; !ok {
		return errors.NewNotFoundError("conversation not found")
	}
	r.nextMsgID++
	msg.ID = r.nextMsgID
	cp := *msg
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], &cp)
	return nil
}

// Touch 更新 last_message_at
func (r *MemoryConversationRepository) Touch(ctx context.Context, conversationID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return errors.NewNotFoundError("conversation not found")
	}
	ts := at.UTC()
	conv.LastMessageAt = &ts
	return nil
}

// Messages returns a copy of the stored messages of a conversation in
// insertion order.
func (r *MemoryConversationRepository) Messages(conversationID uint) []*entity.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.messages[conversationID]
	result := make([]*entity.Message, 0, len(stored))
	for _, m := range stored {
		cp := *m
		result = append(result, &cp)
	}
	return result
}
