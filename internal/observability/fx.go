// Package observability wires logging, tracing, and metrics into the app.
package observability

import (
	"github.com/cambridgetcg/rewardspro/internal/config"
	"github.com/cambridgetcg/rewardspro/internal/observability/logger"
	"github.com/cambridgetcg/rewardspro/internal/observability/metrics"
	"github.com/cambridgetcg/rewardspro/internal/observability/tracing"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(func(cfg config.Config) logger.Config {
		return logger.Config{
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		}
	}),
	fx.Provide(logger.NewLogger),
	fx.Provide(func(cfg config.Config) tracing.Config {
		return tracing.Config{
			Enabled:          cfg.Tracing.Enabled,
			ServiceName:      cfg.ServiceName,
			ServiceVersion:   cfg.Tracing.ServiceVersion,
			Environment:      cfg.Environment,
			ExporterEndpoint: cfg.Tracing.ExporterEndpoint,
			ExporterProtocol: cfg.Tracing.ExporterProtocol,
			SamplingRatio:    cfg.Tracing.SamplingRatio,
		}
	}),
	fx.Provide(tracing.NewProvider),
	fx.Provide(func(cfg config.Config) *metrics.EngineMetrics {
		return metrics.EngineWithConfig(metrics.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		})
	}),
)
