package sanction

import (
	"github.com/jinjinsansan/hachikai/services/anomaly"

	"go.uber.org/fx"
)

var Module = fx.Module("sanction",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) anomaly.Sanctioner { return s }),
)
