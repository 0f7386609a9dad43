package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the source of ledger timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
