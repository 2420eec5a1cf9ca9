package breakers

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// Config controls when a breaker trips. It trips on ConsecutiveFailures in a
// row, or once MinRequests have been seen in the interval and the failure ratio
// exceeds FailureRatio.
type Config struct {
	Name                string
	ConsecutiveFailures uint32
	MinRequests         uint32
	FailureRatio        float64
	Interval            time.Duration
	Timeout             time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
	}
}

type Breaker struct{ cb *cb.CircuitBreaker }

func New(name string) *Breaker { return NewWithConfig(DefaultConfig(name)) }

func NewWithConfig(c Config) *Breaker {
	st := cb.Settings{Name: c.Name, Interval: c.Interval, Timeout: c.Timeout}
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= c.ConsecutiveFailures {
			return true
		}
		if counts.Requests < c.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > c.FailureRatio
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State returns closed, half-open or open.
func (b *Breaker) State() string { return b.cb.State().String() }

// IsOpen reports whether err was returned because the breaker rejected the call.
func IsOpen(err error) bool {
	return errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests)
}
