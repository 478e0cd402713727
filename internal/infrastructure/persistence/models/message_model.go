package models

import (
	"time"
)

// MessageModel 数据库消息模型
type MessageModel struct {
	ID             uint `gorm:"primaryKey"`
	ConversationID uint `gorm:"index;not null"`
	AIModelID      *uint
	Role           string `gorm:"size:16;not null"` // user, assistant, system
	Content        string `gorm:"type:text;not null"`
	InputTokens    *int
	OutputTokens   *int
	Metadata       string `gorm:"type:text"` // JSON encoded metadata
	CreatedAt      time.Time
}

// TableName 指定表名
func (MessageModel) TableName() string {
	return "messages"
}
