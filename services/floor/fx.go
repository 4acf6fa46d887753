package floor

import "go.uber.org/fx"

var Module = fx.Module("floor.engine",
	fx.Provide(NewEngine),
)
