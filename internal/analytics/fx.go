package analytics

import (
	"github.com/cambridgetcg/rewardspro/internal/analytics/service"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.service",
	fx.Provide(service.NewService),
)
