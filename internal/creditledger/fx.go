package creditledger

import (
	"github.com/cambridgetcg/rewardspro/internal/creditledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditledger.service",
	fx.Provide(service.NewService),
)
