package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"

	red          = "\033[31m"
	gray         = "\033[90m"
	brightRed    = "\033[91m"
	brightYellow = "\033[93m"
	brightWhite  = "\033[97m"
)

// Component names a subsystem; it becomes the logger name.
type Component string

const (
	ComponentDiscovery Component = "discovery"
	ComponentRadar     Component = "radar"
	ComponentFriends   Component = "friends"
	ComponentStorage   Component = "storage"
	ComponentCLI       Component = "cli"
)

// ParseLevel maps a config level string to a zap level, defaulting to info.
func ParseLevel(raw string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func levelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return gray
	case zapcore.InfoLevel:
		return brightWhite
	case zapcore.WarnLevel:
		return brightYellow
	case zapcore.ErrorLevel:
		return brightRed
	default:
		return red
	}
}

func consoleEncoder(enableColors bool) zapcore.Encoder {
	config := zap.NewDevelopmentEncoderConfig()

	// HH:MM:SS only
	config.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		ts := t.Format("15:04:05")
		if enableColors {
			ts = dim + ts + reset
		}
		enc.AppendString(ts)
	}

	config.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		short := "?"
		switch level {
		case zapcore.DebugLevel:
			short = "D"
		case zapcore.InfoLevel:
			short = "I"
		case zapcore.WarnLevel:
			short = "W"
		case zapcore.ErrorLevel:
			short = "E"
		}
		if enableColors {
			short = fmt.Sprintf("%s%s%s%s", levelColor(level), bold, short, reset)
		}
		enc.AppendString(short)
	}

	config.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}

	config.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = strings.TrimSuffix(file, ".go")
		if enableColors {
			file = dim + file + reset
		}
		enc.AppendString(file)
	}

	return zapcore.NewConsoleEncoder(config)
}

// NewConsoleLogger writes colored, compact entries to stderr.
func NewConsoleLogger(level zapcore.Level, enableColors bool) *zap.Logger {
	core := zapcore.NewCore(consoleEncoder(enableColors), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
}

// NewFileLogger appends plain entries to filePath. Used while a terminal UI
// owns stdout.
func NewFileLogger(level zapcore.Level, filePath string) (*zap.Logger, func() error, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", filePath, err)
	}

	core := zapcore.NewCore(consoleEncoder(false), zapcore.AddSync(file), level)
	return zap.New(core, zap.AddCaller()), file.Close, nil
}

// For returns a named child logger for a component; nil yields a no-op logger.
func For(base *zap.Logger, component Component) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(string(component))
}
