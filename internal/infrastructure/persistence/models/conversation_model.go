package models

import (
	"time"
)

// ConversationModel 数据库会话模型
type ConversationModel struct {
	ID            uint       `gorm:"primaryKey"`
	UserID        string     `gorm:"index;size:64;not null"`
	AIModelID     uint       `gorm:"not null"`
	Title         string     `gorm:"size:255"`
	SystemPrompt  string     `gorm:"type:text"`
	IsArchived    bool       `gorm:"not null;default:false"`
	IsFavorite    bool       `gorm:"not null;default:false"`
	LastMessageAt *time.Time `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Messages []MessageModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (ConversationModel) TableName() string {
	return "conversations"
}
