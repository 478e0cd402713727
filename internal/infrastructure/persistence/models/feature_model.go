package models

import (
	"time"
)

// FeatureModel 数据库功能模型
type FeatureModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index;size:64;not null"`
	Title     string `gorm:"size:255;not null"`
	SortOrder int    `gorm:"index;not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Prompts []FeaturePromptModel `gorm:"foreignKey:FeatureID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (FeatureModel) TableName() string {
	return "features"
}

// FeaturePromptModel 数据库提示词模型
type FeaturePromptModel struct {
	ID            uint   `gorm:"primaryKey"`
	FeatureID     uint   `gorm:"index;not null"`
	Title         string `gorm:"size:255;not null"`
	PromptContent string `gorm:"type:text;not null"`
	Description   string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定表名
func (FeaturePromptModel) TableName() string {
	return "feature_prompts"
}
