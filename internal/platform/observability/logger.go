package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spiritcandles/fulfillment/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// EventLogger is the structured logging hook accepted by services and adapters.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewLogger constructs a zap logger emitting Cloud Logging compatible JSON. LOG_LEVEL overrides the level.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	cfg := zap.Config{
		Level:    level,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// NewEventLogger adapts zap to EventLogger. The request-scoped logger wins over fallback so request ids
// and trace fields flow into service events. Events ending in ".failed" or ".error" log at warn level.
func NewEventLogger(fallback *zap.Logger) EventLogger {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err, ok := fields[key].(error); ok {
				zFields = append(zFields, zap.NamedError(key, err))
				continue
			}
			zFields = append(zFields, zap.Any(key, fields[key]))
		}
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".error") {
			logger.Warn(event, zFields...)
			return
		}
		logger.Info(event, zFields...)
	}
}

// PrintfAdapter adapts zap to printf-style logging interfaces such as kafka-go's Logger.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
	debug  bool
}

// NewPrintfAdapter creates a PrintfAdapter logging at info level.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

// NewDebugPrintfAdapter creates a PrintfAdapter logging at debug level for chatty clients.
func NewDebugPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	adapter := NewPrintfAdapter(logger)
	adapter.debug = true
	return adapter
}

// Printf implements the Printf-style logging expected by client libraries.
func (a PrintfAdapter) Printf(format string, args ...any) {
	if a.debug {
		a.logger.Debugf(format, args...)
		return
	}
	a.logger.Infof(format, args...)
}
