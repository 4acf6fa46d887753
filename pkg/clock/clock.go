package clock

import (
	"math/rand/v2"
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so daily-reset date math is testable.
type Clock interface {
	Now() time.Time
}

// Rand is a source of uniform draws in [0,1) for the transition roulette.
type Rand interface {
	Float64() float64
}

var Module = fx.Module("clock",
	fx.Provide(
		NewSystemClock,
		NewRand,
	),
)

type systemClock struct{}

func NewSystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

type systemRand struct{}

func NewRand() Rand { return systemRand{} }

func (systemRand) Float64() float64 { return rand.Float64() }

// DateOf formats t as the local calendar date used for reset stamps.
func DateOf(t time.Time) string {
	return t.Format("2006-01-02")
}
