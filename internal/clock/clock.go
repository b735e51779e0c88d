package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so period windows and job runs can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// NewSystemClock returns a clock reading the server's local time.
func NewSystemClock() Clock {
	return systemClock{loc: time.Local}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
