package quota

import (
	quotadomain "github.com/smallbiznis/storyvoice/internal/quota/domain"
	"github.com/smallbiznis/storyvoice/internal/quota/service"
	usagedomain "github.com/smallbiznis/storyvoice/internal/usage/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(func(svc usagedomain.Service) quotadomain.UsageReader { return svc }),
	fx.Provide(service.NewService),
)
