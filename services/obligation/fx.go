package obligation

import "go.uber.org/fx"

var Module = fx.Module("obligation.service",
	fx.Provide(NewService),
)
