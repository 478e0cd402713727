package entity

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTitleLength is the number of characters of the first message kept
// as an auto-generated title.
const DefaultTitleLength = 50

// Conversation 会话实体
type Conversation struct {
	ID            uint       `json:"id"`
	UserID        string     `json:"user_id"`
	AIModelID     uint       `json:"ai_model_id"`
	Title         string     `json:"title"`
	SystemPrompt  string     `json:"system_prompt,omitempty"`
	IsArchived    bool       `json:"is_archived"`
	IsFavorite    bool       `json:"is_favorite"`
	LastMessageAt *time.Time `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Messages []*Message `json:"messages,omitempty"`
}

// NewConversation 创建会话
func NewConversation(userID string, aiModelID uint, title string, lastMessageAt time.Time) (*Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	ts := lastMessageAt.UTC()
	return &Conversation{
		UserID:        userID,
		AIModelID:     aiModelID,
		Title:         title,
		LastMessageAt: &ts,
	}, nil
}

// DeriveTitle returns the first limit characters of message, suffixed with
// "..." only when the message was longer than limit.
func DeriveTitle(message string, limit int) string {
	if limit <= 0 {
		limit = DefaultTitleLength
	}
	if utf8.RuneCountInString(message) <= limit {
		return message
	}
	runes := []rune(message)
	return string(runes[:limit]) + "..."
}

// ConversationPatch carries the mutable fields of a conversation. Nil fields
// are left untouched.
type ConversationPatch struct {
	Title      *string
	IsArchived *bool
	IsFavorite *bool
}

// Apply 应用更新
func (p ConversationPatch) Apply(c *Conversation) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.IsArchived != nil {
		c.IsArchived = *p.IsArchived
	}
	if p.IsFavorite != nil {
		c.IsFavorite = *p.IsFavorite
	}
}
