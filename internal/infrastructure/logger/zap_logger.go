package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
	return build(level)
}

// NewFileLogger writes JSON lines to path in addition to stdout.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	if path == "" {
		return build(level)
	}
	return build(level, path)
}

func build(level string, extraOutputs ...string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = append([]string{"stdout"}, extraOutputs...)

	return config.Build()
}
