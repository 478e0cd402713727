package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AIModelModel 数据库模型目录条目
type AIModelModel struct {
	ID                      uint   `gorm:"primaryKey"`
	Name                    string `gorm:"size:128;not null"`
	Provider                string `gorm:"size:32;not null"`
	ModelID                 string `gorm:"uniqueIndex;size:128;not null"`
	Description             string `gorm:"type:text"`
	MaxTokens               int
	ContextWindow           int
	InputPrice              decimal.Decimal `gorm:"type:decimal(12,6)"`
	OutputPrice             decimal.Decimal `gorm:"type:decimal(12,6)"`
	IsActive                bool            `gorm:"index;not null"`
	SupportsVision          bool
	SupportsFunctionCalling bool
	SupportsStreaming       bool
	SortOrder               int `gorm:"index"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// TableName 指定表名
func (AIModelModel) TableName() string {
	return "ai_models"
}
