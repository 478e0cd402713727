package entity

import (
	"time"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the stored roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message 消息实体. Messages are immutable once stored.
type Message struct {
	ID             uint             `json:"id"`
	ConversationID uint             `json:"conversation_id"`
	AIModelID      *uint            `json:"ai_model_id,omitempty"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	InputTokens    *int             `json:"input_tokens,omitempty"`
	OutputTokens   *int             `json:"output_tokens,omitempty"`
	Metadata       *MessageMetadata `json:"metadata"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MessageMetadata is the optional metadata bag of a message.
type MessageMetadata struct {
	GroundingSources []GroundingSource `json:"grounding_sources,omitempty"`
	SearchQueries    []string          `json:"search_queries,omitempty"`
	GenerationError  string            `json:"generation_error,omitempty"`
}

// IsEmpty reports whether no key of the bag is set.
func (m *MessageMetadata) IsEmpty() bool {
	return m == nil || (len(m.GroundingSources) == 0 && len(m.SearchQueries) == 0 && m.GenerationError == "")
}

// NewMessage 创建待持久化的消息
func NewMessage(conversationID uint, role Role, content string, metadata *MessageMetadata) (*Message, error) {
	if conversationID == 0 {
		return nil, ErrInvalidConversationID
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if metadata.IsEmpty() {
		metadata = nil
	}
	return &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// WithUsage records token counts reported by the model.
func (m *Message) WithUsage(input, output int) *Message {
	if input > 0 {
		m.InputTokens = &input
	}
	if output > 0 {
		m.OutputTokens = &output
	}
	return m
}
