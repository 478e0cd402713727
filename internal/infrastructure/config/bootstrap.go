package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "chatgateway"

// HomeDir returns the global configuration home: ~/.chatgateway
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap creates dir with a commented default config.yaml when missing.
// Existing files are never overwritten.
func Bootstrap(dir string, logger *zap.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		logger.Debug("Config home OK", zap.String("home", dir))
		return nil
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("Wrote default config", zap.String("path", path))
	return nil
}

const defaultConfig = `# chatgateway global config
# Values here are overridden by ./config/config.yaml or ./config.yaml,
# then by CHATGW_* environment variables.

server:
  host: 0.0.0.0
  port: 8080
  mode: local

database:
  type: sqlite
  dsn: chatgateway.db
  seed: true

log:
  level: info
  format: json

gemini:
  # api_key: ""          # or GEMINI_API_KEY / CHATGW_GEMINI_API_KEY
  model: gemini-2.0-flash
  idle_timeout: 60s
  breaker_threshold: 5
  breaker_recovery: 30s

chat:
  max_message_length: 10000
  max_file_size: 10485760
  max_request_size: 67108864

auth:
  user_header: X-User-ID
  admin_user_ids: []
`
