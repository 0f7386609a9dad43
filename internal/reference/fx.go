package reference

import "go.uber.org/fx"

var Module = fx.Module("reference.validator",
	fx.Provide(NewRepository),
	fx.Provide(NewValidator),
)
