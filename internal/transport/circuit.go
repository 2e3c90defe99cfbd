package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// CircuitPublisher wraps a Publisher behind a gobreaker circuit so a
// flapping execution link sheds load fast instead of stacking dial
// timeouts inside the signal path.
type CircuitPublisher struct {
	inner   Publisher
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitPublisher wires the circuit around inner.
func NewCircuitPublisher(name string, inner Publisher) *CircuitPublisher {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("publish circuit state change")
		},
	}
	return &CircuitPublisher{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Publish forwards through the circuit. An open circuit fails fast
// with gobreaker.ErrOpenState.
func (p *CircuitPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.inner.Publish(ctx, channel, payload)
	})
	return err
}
