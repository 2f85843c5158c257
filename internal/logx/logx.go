// Package logx builds the process logger.
package logx

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Style selects the encoder: "json" for machines, "terminal" for humans.
type Style string

const (
	StyleJSON     Style = "json"
	StyleTerminal Style = "terminal"
	StyleNoop     Style = "noop"
)

type Config struct {
	Level string
	Style Style
}

func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if s := strings.TrimSpace(cfg.Level); s != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var zc zap.Config
	switch cfg.Style {
	case StyleNoop:
		return zap.NewNop(), nil
	case StyleTerminal:
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case StyleJSON, "":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log style %q", cfg.Style)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
