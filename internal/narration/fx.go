package narration

import "go.uber.org/fx"

var Module = fx.Module("narration.gateway",
	fx.Provide(NewGateway),
)
