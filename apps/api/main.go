package main

import (
	"github.com/smallbiznis/storyvoice/internal/alert"
	"github.com/smallbiznis/storyvoice/internal/clock"
	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/smallbiznis/storyvoice/internal/migration"
	"github.com/smallbiznis/storyvoice/internal/narration"
	"github.com/smallbiznis/storyvoice/internal/observability"
	"github.com/smallbiznis/storyvoice/internal/pricing"
	"github.com/smallbiznis/storyvoice/internal/providers"
	"github.com/smallbiznis/storyvoice/internal/quota"
	"github.com/smallbiznis/storyvoice/internal/ratelimit"
	"github.com/smallbiznis/storyvoice/internal/server"
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

		// Metering
		pricing.Module,
		usage.Module,
		quota.Module,
		ratelimit.Module,
		narration.Module,

		// On-demand monitor runs from the admin API
		providers.Module,
		alert.Module,

		server.Module,
	)
	app.Run()
}
