package brokerconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// Name identifies the breaker in state change callbacks.
	Name string

	// FailureThreshold is the number of consecutive resolver failures that
	// opens the breaker. Zero defaults to 5.
	FailureThreshold uint32

	// ResetTimeout is how long the breaker stays open before letting a
	// trial request through. Zero defaults to 30s.
	ResetTimeout time.Duration

	// OnStateChange is called on every breaker transition (optional).
	OnStateChange func(name, from, to string)
}

// Breaker guards a Resolver with a circuit breaker.
//
// Unknown identities are a normal answer, not a backend failure, and do
// not count towards opening the breaker.
type Breaker struct {
	next Resolver
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Resolver, settings BreakerSettings) *Breaker {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := settings.ResetTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	name := settings.Name
	if name == "" {
		name = "brokerconfig"
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownIdentity) || errors.Is(err, ErrNotFound)
		},
	}
	if settings.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			settings.OnStateChange(name, from.String(), to.String())
		}
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(st),
	}
}

// Resolve implements Resolver.
func (b *Breaker) Resolve(ctx context.Context, identity string) (*Config, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Resolve(ctx, identity)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	cfg, _ := result.(*Config)
	return cfg, nil
}

// State returns the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
