package merchant

import (
	"github.com/cambridgetcg/rewardspro/internal/merchant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("merchant.service",
	fx.Provide(service.NewService),
)
