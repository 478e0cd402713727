package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// AIModel 模型目录条目
type AIModel struct {
	ID                      uint            `json:"id"`
	Name                    string          `json:"name"`
	Provider                string          `json:"provider"`
	ModelID                 string          `json:"model_id"`
	Description             string          `json:"description,omitempty"`
	MaxTokens               int             `json:"max_tokens"`
	ContextWindow           int             `json:"context_window"`
	InputPrice              decimal.Decimal `json:"-"`
	OutputPrice             decimal.Decimal `json:"-"`
	IsActive                bool            `json:"-"`
	SupportsVision          bool            `json:"supports_vision"`
	SupportsFunctionCalling bool            `json:"-"`
	SupportsStreaming       bool            `json:"supports_streaming"`
	SortOrder               int             `json:"-"`
	CreatedAt               time.Time       `json:"-"`
}

// EstimateCost returns the price of a call in USD, with prices quoted per
// million tokens.
func (m *AIModel) EstimateCost(inputTokens, outputTokens int) decimal.Decimal {
	million := decimal.NewFromInt(1_000_000)
	in := m.InputPrice.Mul(decimal.NewFromInt(int64(inputTokens))).Div(million)
	out := m.OutputPrice.Mul(decimal.NewFromInt(int64(outputTokens))).Div(million)
	return in.Add(out).Round(6)
}
