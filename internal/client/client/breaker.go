package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/dmitrijs2005/notesync/internal/logging"
)

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

// Options are shared by both transports.
type Options struct {
	// ClientID is sent with every request so the server can correlate replays.
	ClientID string
	// Timeout bounds a single request. Zero means no limit.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive transport or server
	// failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	Log         logging.Logger
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold == 0 {
		o.FailureThreshold = defaultFailureThreshold
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.Log == nil {
		o.Log = logging.Nop()
	}
	return o
}

type breaker struct {
	cb  *gobreaker.CircuitBreaker[any]
	log logging.Logger
}

func newBreaker(name string, o Options) *breaker {
	b := &breaker{log: o.Log.With("breaker", name)}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     o.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.FailureThreshold
		},
		// Conflicts, missing notes and validation errors are answers from a
		// healthy server.
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, ErrUnavailable) || errors.Is(err, ErrServer))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Info(context.Background(), "circuit breaker state changed",
				"from", from.String(), "to", to.String())
		},
	})
	return b
}

// call runs fn through the breaker. Rejections while open surface as
// ErrUnavailable.
func call[T any](b *breaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return v, nil
}

// State reports the breaker state, for status output.
func (b *breaker) State() string {
	return b.cb.State().String()
}
