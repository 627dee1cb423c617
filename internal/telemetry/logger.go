package telemetry

import (
	"context"
	"fmt"
	"sync"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Process-wide logger. Loggers are not carried in contexts; FromContext
// derives request-scoped fields from the context instead.
var (
	globalLogger *zap.Logger
	loggerMu     sync.RWMutex
)

// InitLogger installs the production JSON logger (called once at startup).
func InitLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(logger)
	return logger, nil
}

// SetLogger replaces the process logger. Tests use it to capture output.
func SetLogger(logger *zap.Logger) {
	loggerMu.Lock()
	globalLogger = logger
	loggerMu.Unlock()
}

// Logger returns the process logger, falling back to a production logger
// when InitLogger has not run.
func Logger() *zap.Logger {
	loggerMu.RLock()
	logger := globalLogger
	loggerMu.RUnlock()

	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// FromContext returns the process logger enriched with the request ID and
// the active span's trace identifiers.
func FromContext(ctx context.Context) *zap.Logger {
	logger := Logger()

	fields := make([]zap.Field, 0, 3)

	if requestID := chimiddleware.GetReqID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return logger.With(fields...)
}
