// Package breaker guards a provider transport with a circuit breaker so a
// provider that keeps failing is short-circuited instead of called.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mindgains/orchestrator/internal/provider"
)

type Settings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before half-opening.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial calls allowed while half-open.
	HalfOpenRequests uint32
	// OnStateChange is invoked on every transition. Optional.
	OnStateChange func(id provider.ID, from, to gobreaker.State)
}

func DefaultSettings() Settings {
	return Settings{
		ConsecutiveFailures: 3,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

type Transport struct {
	next provider.Transport
	cb   *gobreaker.CircuitBreaker
}

func Wrap(next provider.Transport, s Settings) *Transport {
	id := next.ID()
	settings := gobreaker.Settings{
		Name:        id.String(),
		MaxRequests: s.HalfOpenRequests,
		Interval:    5 * time.Second,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// A cancelled caller says nothing about the provider's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if s.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			s.OnStateChange(id, from, to)
		}
	}
	return &Transport{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (t *Transport) Generate(ctx context.Context, req *provider.Request) (string, error) {
	result, err := t.cb.Execute(func() (interface{}, error) {
		return t.next.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", provider.Wrap(t.ID(), err)
		}
		return "", err
	}
	return result.(string), nil
}

func (t *Transport) ID() provider.ID {
	return t.next.ID()
}

// Unwrap returns the guarded transport so callers can bypass the breaker.
func (t *Transport) Unwrap() provider.Transport {
	return t.next
}

func (t *Transport) State() gobreaker.State {
	return t.cb.State()
}
