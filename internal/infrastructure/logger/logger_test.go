package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger_LevelIsAdjustable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.log")
	log, level, err := NewLogger(Config{Level: "warn", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	log.Info("hidden")
	level.SetLevel(zapcore.DebugLevel)
	log.Debug("shown")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("info line written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"timestamp"`) {
		t.Errorf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("bogus") != zapcore.InfoLevel {
		t.Error("unknown level should fall back to info")
	}
	if ParseLevel("error") != zapcore.ErrorLevel {
		t.Error("error level not parsed")
	}
}
