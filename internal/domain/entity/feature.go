package entity

import "time"

// Feature 用户定义的功能分组
type Feature struct {
	ID           uint             `json:"id"`
	UserID       string           `json:"user_id"`
	Title        string           `json:"title"`
	SortOrder    int              `json:"sort_order"`
	PromptsCount int64            `json:"prompts_count"`
	Prompts      []*FeaturePrompt `json:"prompts,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// FeaturePrompt 功能下的提示词
type FeaturePrompt struct {
	ID            uint      `json:"id"`
	FeatureID     uint      `json:"feature_id"`
	Title         string    `json:"title"`
	PromptContent string    `json:"prompt_content"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
