// Package resilience guards calls to collaborators that can go away.
package resilience

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and lets a single probe
// through once cooldown has elapsed.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]
}

func NewBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	threshold := uint32(maxFailures)
	return &Breaker{cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
	})}
}

// Do runs fn unless the circuit is open. Errors for which ignore returns true
// (e.g. not-found) are returned to the caller but count as successes.
func (b *Breaker) Do(fn func() error, ignore func(error) bool) error {
	var ignored error
	_, err := b.cb.Execute(func() (struct{}, error) {
		err := fn()
		if err != nil && ignore != nil && ignore(err) {
			ignored = err
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.cb.Name())
	}
	if err != nil {
		return err
	}
	return ignored
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
