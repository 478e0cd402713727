package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CHATGW"

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
	Seed bool   `mapstructure:"seed"` // 空表时写入内置模型目录
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GeminiConfig 生成模型配置
type GeminiConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`      // 流式读取空闲超时
	BreakerThreshold int           `mapstructure:"breaker_threshold"` // 连续失败次数
	BreakerRecovery  time.Duration `mapstructure:"breaker_recovery"`
}

// ChatConfig 对话限制
type ChatConfig struct {
	MaxMessageLength      int   `mapstructure:"max_message_length"`
	MaxSystemPromptLength int   `mapstructure:"max_system_prompt_length"`
	MaxFileSize           int64 `mapstructure:"max_file_size"`
	MaxUploadMemory       int64 `mapstructure:"max_upload_memory"`
	MaxRequestSize        int64 `mapstructure:"max_request_size"` // multipart 请求体上限
	TitleLength           int   `mapstructure:"title_length"`
	DefaultModelID        uint  `mapstructure:"default_model_id"`
}

// AuthConfig 身份配置. Authentication happens upstream; the gateway only
// reads the user id header the proxy sets.
type AuthConfig struct {
	UserHeader   string   `mapstructure:"user_header"`
	AdminUserIDs []string `mapstructure:"admin_user_ids"`
}

// IsAdmin reports whether userID is listed as an administrator.
func (a AuthConfig) IsAdmin(userID string) bool {
	for _, id := range a.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Loaded is a parsed config together with the viper instance that produced
// it, for Watch.
type Loaded struct {
	*Config
	v *viper.Viper
}

// Load 加载配置
func Load() (*Loaded, error) {
	// .env 只补充未设置的环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	// 优先级 (低 → 高): 默认值 → 全局 ~/.chatgateway/ → 项目本地 → 环境变量
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: 全局配置 ~/.chatgateway/config.yaml
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: 项目本地配置, 用 MergeConfigMap 叠加
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", localPath, err)
			}
			if err := v.MergeConfigMap(v2.AllSettings()); err != nil {
				return nil, fmt.Errorf("failed to merge %s: %w", localPath, err)
			}
			if v.ConfigFileUsed() == "" {
				v.SetConfigFile(localPath)
			}
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖: CHATGW_GEMINI_API_KEY, CHATGW_SERVER_PORT, ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, v: v}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database type: %q", c.Database.Type)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Chat.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive")
	}
	if c.Chat.MaxFileSize <= 0 {
		return fmt.Errorf("chat.max_file_size must be positive")
	}
	if c.Auth.UserHeader == "" {
		return fmt.Errorf("auth.user_header must not be empty")
	}
	return nil
}

// Watch reloads every layer when the watched config file changes and hands
// the new config to fn. The global file is watched when present, otherwise
// the project-local one.
func (l *Loaded) Watch(fn func(*Config, error)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fresh, err := Load()
		if err != nil {
			fn(nil, err)
			return
		}
		fn(fresh.Config, nil)
	})
	l.v.WatchConfig()
	return true
}

// File is the config file being watched, if any.
func (l *Loaded) File() string { return l.v.ConfigFileUsed() }

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Server 默认值
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "local")

	// Database 默认值
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "chatgateway.db")
	v.SetDefault("database.seed", true)

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// Gemini 默认值
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.idle_timeout", "60s")
	v.SetDefault("gemini.breaker_threshold", 5)
	v.SetDefault("gemini.breaker_recovery", "30s")

	// Chat 默认值
	v.SetDefault("chat.max_message_length", 10000)
	v.SetDefault("chat.max_system_prompt_length", 10000)
	v.SetDefault("chat.max_file_size", 10<<20)
	v.SetDefault("chat.max_upload_memory", 32<<20)
	v.SetDefault("chat.max_request_size", 64<<20)
	v.SetDefault("chat.title_length", 50)
	v.SetDefault("chat.default_model_id", 1)

	// Auth 默认值
	v.SetDefault("auth.user_header", "X-User-ID")
	v.SetDefault("auth.admin_user_ids", []string{})
}
