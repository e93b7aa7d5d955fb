package cashback

import (
	"github.com/cambridgetcg/rewardspro/internal/cashback/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cashback.service",
	fx.Provide(service.NewService),
)
