package providers

import (
	"github.com/smallbiznis/storyvoice/internal/providers/email"
	"github.com/smallbiznis/storyvoice/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
)
