package persistence

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence/models"
)

//go:embed seed/models.yaml
var builtinModels []byte

type seedFile struct {
	Models []seedModel `yaml:"models"`
}

type seedModel struct {
	Name                    string `yaml:"name"`
	Provider                string `yaml:"provider"`
	ModelID                 string `yaml:"model_id"`
	Description             string `yaml:"description"`
	MaxTokens               int    `yaml:"max_tokens"`
	ContextWindow           int    `yaml:"context_window"`
	InputPrice              string `yaml:"input_price"`
	OutputPrice             string `yaml:"output_price"`
	Inactive                bool   `yaml:"inactive"`
	SupportsVision          bool   `yaml:"supports_vision"`
	SupportsFunctionCalling bool   `yaml:"supports_function_calling"`
	SupportsStreaming       bool   `yaml:"supports_streaming"`
	SortOrder               int    `yaml:"sort_order"`
}

// ParseModelSeed 解析模型目录 YAML
func ParseModelSeed(data []byte) ([]models.AIModelModel, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse model seed: %w", err)
	}

	rows := make([]models.AIModelModel, 0, len(file.Models))
	for _, m := range file.Models {
		if m.ModelID == "" {
			return nil, fmt.Errorf("model seed %q: model_id is required", m.Name)
		}
		in, err := parsePrice(m.InputPrice)
		if err != nil {
			return nil, fmt.Errorf("model seed %s: input_price: %w", m.ModelID, err)
		}
		out, err := parsePrice(m.OutputPrice)
		if err != nil {
			return nil, fmt.Errorf("model seed %s: output_price: %w", m.ModelID, err)
		}
		rows = append(rows, models.AIModelModel{
			Name:                    m.Name,
			Provider:                m.Provider,
			ModelID:                 m.ModelID,
			Description:             m.Description,
			MaxTokens:               m.MaxTokens,
			ContextWindow:           m.ContextWindow,
			InputPrice:              in,
			OutputPrice:             out,
			IsActive:                !m.Inactive,
			SupportsVision:          m.SupportsVision,
			SupportsFunctionCalling: m.SupportsFunctionCalling,
			SupportsStreaming:       m.SupportsStreaming,
			SortOrder:               m.SortOrder,
		})
	}
	return rows, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// SeedModels writes the built-in catalog when the ai_models table is empty.
// It returns the number of rows inserted.
func SeedModels(ctx context.Context, db *gorm.DB, logger *zap.Logger) (int, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&models.AIModelModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count ai models: %w", err)
	}
	if count > 0 {
		logger.Debug("AI model catalog already populated", zap.Int64("models", count))
		return 0, nil
	}

	rows, err := ParseModelSeed(builtinModels)
	if err != nil {
		return 0, err
	}
	if err := db.WithContext(ctx).Create(&rows).Error; err != nil {
		return 0, fmt.Errorf("insert ai models: %w", err)
	}
	logger.Info("Seeded AI model catalog", zap.Int("models", len(rows)))
	return len(rows), nil
}
