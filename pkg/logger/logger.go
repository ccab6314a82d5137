package logger

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used across AGENTOPS-CORE. Fields are
// alternating key/value pairs, zap sugared style.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

func New(level string) Logger {
	config := zap.NewProductionConfig()

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}

	config.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return &zapLogger{
		logger: logger.Sugar(),
	}
}

func (l *zapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

func (l *zapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

func (l *zapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *zapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *zapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatalw(msg, fields...)
}

// NewNop returns a Logger that discards everything. Useful in tests.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop().Sugar()}
}

// mockLogger records formatted log lines into a writer for test assertions.
type mockLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewMockLogger returns a Logger that writes plain-text lines to w.
func NewMockLogger(w io.Writer) Logger {
	return &mockLogger{w: w}
}

func (m *mockLogger) write(level, msg string, fields ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.w, "%s: %s", level, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(m.w, " %v=%v", fields[i], fields[i+1])
	}
	fmt.Fprintln(m.w)
}

func (m *mockLogger) Info(msg string, fields ...interface{})  { m.write("info", msg, fields...) }
func (m *mockLogger) Error(msg string, fields ...interface{}) { m.write("error", msg, fields...) }
func (m *mockLogger) Warn(msg string, fields ...interface{})  { m.write("warn", msg, fields...) }
func (m *mockLogger) Debug(msg string, fields ...interface{}) { m.write("debug", msg, fields...) }
func (m *mockLogger) Fatal(msg string, fields ...interface{}) { m.write("fatal", msg, fields...) }
