package reset

import "go.uber.org/fx"

var Module = fx.Module("reset",
	fx.Provide(NewOrchestrator),
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)
