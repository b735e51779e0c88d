package alert

import (
	alertdomain "github.com/smallbiznis/storyvoice/internal/alert/domain"
	"github.com/smallbiznis/storyvoice/internal/alert/service"
	"github.com/smallbiznis/storyvoice/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(func(cfg config.Config) alertdomain.AdminDirectory {
		return alertdomain.NewStaticAdminDirectory(cfg.Alerts.AdminEmails)
	}),
	fx.Provide(service.NewMonitor),
	fx.Provide(service.NewDispatcher),
	fx.Provide(service.NewJob),
)
