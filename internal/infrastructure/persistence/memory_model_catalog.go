package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// MemoryModelCatalog 内存实现的模型目录（用于开发/测试）
type MemoryModelCatalog struct {
	mu     sync.RWMutex
	models []*entity.AIModel
}

// NewMemoryModelCatalog 创建内存模型目录
func NewMemoryModelCatalog(models ...*entity.AIModel) *MemoryModelCatalog {
	c := &MemoryModelCatalog{}
	for _, m := range models {
		c.Add(m)
	}
	return c
}

var _ repository.ModelCatalog = (*MemoryModelCatalog)(nil)

// Add 添加模型, ID 为 0 时自动分配
func (c *MemoryModelCatalog) Add(m *entity.AIModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.ID == 0 {
		m.ID = uint(len(c.models) + 1)
	}
	c.models = append(c.models, m)
	sort.SliceStable(c.models, func(i, j int) bool {
		if c.models[i].SortOrder != c.models[j].SortOrder {
			return c.models[i].SortOrder < c.models[j].SortOrder
		}
		return c.models[i].ID < c.models[j].ID
	})
}

// DefaultModel 第一个启用的模型
func (c *MemoryModelCatalog) DefaultModel(ctx context.Context) (*entity.AIModel, error) {
	active, _ := c.ListActive(ctx)
	if len(active) == 0 {
		return nil, errors.NewNotFoundError("no active AI model")
	}
	return active[0], nil
}

// ListActive 按 sort_order 列出启用的模型
func (c *MemoryModelCatalog) ListActive(ctx context.Context) ([]*entity.AIModel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*entity.AIModel, 0, len(c.models))
	for _, m := range c.models {
		if m.IsActive {
			cp := *m
			result = append(result, &cp)
		}
	}
	return result, nil
}
