package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
)

// DefaultProviderType is used when the config names no provider type.
const DefaultProviderType = "gemini"

// ProviderConfig holds configuration for a generation provider.
type ProviderConfig struct {
	Name        string        `json:"name" mapstructure:"name"`
	Type        string        `json:"type" mapstructure:"type"` // "gemini" (default)
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	Model       string        `json:"model" mapstructure:"model"`
	IdleTimeout time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
}

// --- Provider Factory Registry ---
// Providers register themselves via init() in their own package.

// ProviderFactory creates a GenerationClient from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) service.GenerationClient

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for the given type name.
// Called from init() in each provider sub-package (e.g. llm/gemini).
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateClient creates a GenerationClient using the factory registered for
// cfg.Type.
func CreateClient(cfg ProviderConfig, logger *zap.Logger) (service.GenerationClient, error) {
	t := cfg.Type
	if t == "" {
		t = DefaultProviderType
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, RegisteredTypes())
	}
	return factory(cfg, logger), nil
}

// RegisteredTypes lists the registered provider type names in order.
func RegisteredTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	types := make([]string, 0, len(factories))
	for k := range factories {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
