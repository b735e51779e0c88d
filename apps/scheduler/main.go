package main

import (
	"github.com/smallbiznis/storyvoice/internal/alert"
	"github.com/smallbiznis/storyvoice/internal/clock"
	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/migration"
	"github.com/smallbiznis/storyvoice/internal/observability"
	"github.com/smallbiznis/storyvoice/internal/pricing"
	"github.com/smallbiznis/storyvoice/internal/providers"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	"github.com/smallbiznis/storyvoice/internal/scheduler"
	"github.com/smallbiznis/storyvoice/internal/usage"
	"github.com/smallbiznis/storyvoice/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,

		// Domain services required by the cost monitor
		pricing.Module,
		usage.Module,
		ratelimit.Module,
		providers.Module,
		alert.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}
