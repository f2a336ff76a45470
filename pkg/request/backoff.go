package request

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff tracks consecutive failures per provider and gates new
// requests until the cool-off window has passed.
type Backoff struct {
	mu        sync.Mutex
	providers map[string]*coolOff
	baseDelay time.Duration
	maxDelay  time.Duration
}

type coolOff struct {
	failures    int
	nextAllowed time.Time
}

// NewBackoff creates a backoff gate with the given delay bounds.
func NewBackoff(baseDelay, maxDelay time.Duration) *Backoff {
	return &Backoff{
		providers: make(map[string]*coolOff),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until the provider is allowed to make a request, or the
// context is canceled.
func (b *Backoff) Wait(ctx context.Context, provider string) error {
	b.mu.Lock()
	state, ok := b.providers[provider]
	var until time.Time
	if ok {
		until = state.nextAllowed
	}
	b.mu.Unlock()

	if !ok || time.Now().After(until) {
		return nil
	}

	select {
	case <-time.After(time.Until(until)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failure extends the cool-off window for a provider.
func (b *Backoff) Failure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.providers[provider]
	if !ok {
		state = &coolOff{}
		b.providers[provider] = state
	}

	state.failures++
	state.nextAllowed = time.Now().Add(b.delay(state.failures))
}

// Success shortens the cool-off window, one step per success.
func (b *Backoff) Success(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.providers[provider]
	if !ok {
		return
	}

	if state.failures > 0 {
		state.failures--
	}
	if state.failures == 0 {
		state.nextAllowed = time.Time{}
	}
}

// Pending returns the current failure count and earliest allowed time.
func (b *Backoff) Pending(provider string) (int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.providers[provider]; ok {
		return state.failures, state.nextAllowed
	}
	return 0, time.Time{}
}

// delay is exponential in the failure count, capped, with 10% jitter.
func (b *Backoff) delay(failures int) time.Duration {
	d := time.Duration(float64(b.baseDelay) * math.Pow(2, float64(failures-1)))
	if d > b.maxDelay {
		d = b.maxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(d))
	return d + jitter
}
