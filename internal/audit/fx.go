package audit

import (
	"github.com/cambridgetcg/rewardspro/internal/audit/repository"
	"github.com/cambridgetcg/rewardspro/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
