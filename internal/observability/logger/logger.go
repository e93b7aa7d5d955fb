// Package logger provides the zap logger module and request logging middleware.
package logger

import (
	"context"
	"strings"

	obscontext "github.com/cambridgetcg/rewardspro/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config selects the logger profile.
type Config struct {
	Environment string
	ServiceName string
}

// NewLogger builds the process-wide zap logger and installs it globally.
func NewLogger(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	var log *zap.Logger
	var err error
	if strings.EqualFold(cfg.Environment, "development") {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName != "" {
		log = log.With(zap.String("service", cfg.ServiceName))
	}
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				_ = log.Sync()
				return nil
			},
		})
	}
	return log, nil
}

// FromContext returns the global logger enriched with request-scoped fields:
// trace/span IDs from the active otel span and the request id when present.
func FromContext(ctx context.Context) *zap.Logger {
	log := zap.L()
	if ctx == nil {
		return log
	}

	fields := make([]zap.Field, 0, 3)
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		fields = append(fields,
			zap.String("trace_id", span.TraceID().String()),
			zap.String("span_id", span.SpanID().String()),
		)
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}
