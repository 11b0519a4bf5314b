package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestFileLoggerWritesComponentName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nearchat.log")
	logger, closeFn, err := NewFileLogger(zapcore.DebugLevel, path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	For(logger, ComponentRadar).Info("surface attached", zap.Int("peers", 2))
	_ = logger.Sync()
	if err := closeFn(); err != nil {
		t.Fatalf("close log file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(raw)
	for _, want := range []string{"[radar]", "surface attached", `"peers": 2`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in log output %q", want, line)
		}
	}
}

func TestForNilLoggerIsNoop(t *testing.T) {
	logger := For(nil, ComponentStorage)
	if logger == nil {
		t.Fatalf("expected non-nil logger")
	}
	logger.Info("dropped")
}
