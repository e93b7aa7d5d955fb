package customer

import (
	"github.com/cambridgetcg/rewardspro/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(service.NewService),
)
