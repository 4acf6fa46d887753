package anomaly

import "go.uber.org/fx"

var Module = fx.Module("anomaly",
	fx.Provide(NewDetector),
	fx.Provide(NewTask),
	fx.Invoke(registerHandlers),
)
