// Package ratebudget accounts for the remaining GitHub API quota across
// every worker in the process. All outbound calls funnel through one
// Budget so the pipeline never overdraws the hourly allowance.
package ratebudget

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// AuthenticatedQuota is GitHub's hourly REST quota with a token.
	AuthenticatedQuota = 5000
	// AnonymousQuota is GitHub's hourly REST quota without a token.
	AnonymousQuota = 60

	// DefaultSpacing smooths bursts when a token is configured.
	DefaultSpacing = 720 * time.Millisecond
	// AnonymousSpacing smooths bursts on the anonymous quota.
	AnonymousSpacing = 60 * time.Second
)

// refillJitterMax is added to reset waits so restarting workers do not
// stampede the API the instant the window rolls over.
var refillJitterMax = 2 * time.Second

// Budget tracks the remaining calls in the current rate window.
// The local count is an estimate; Observe replaces it with the server's
// authoritative value after every response.
type Budget struct {
	// acquireMu serializes acquirers so waiters drain in arrival order.
	acquireMu sync.Mutex

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	capacity  int

	spacing *rate.Limiter

	// OnWait, when set, is invoked before a blocking sleep on quota
	// exhaustion. The orchestrator uses it to surface rate_wait events.
	OnWait func(resetAt time.Time)
}

// New returns a Budget holding a full window of capacity permits.
// spacing is the minimum interval between consecutive calls.
func New(capacity int, spacing time.Duration) *Budget {
	if capacity < 1 {
		capacity = 1
	}
	return &Budget{
		remaining: capacity,
		resetAt:   time.Now().Add(time.Hour),
		capacity:  capacity,
		spacing:   rate.NewLimiter(rate.Every(spacing), 1),
	}
}

// ForToken picks the quota and spacing matching the credential mode.
func ForToken(token string) *Budget {
	if token == "" {
		return New(AnonymousQuota, AnonymousSpacing)
	}
	return New(AuthenticatedQuota, DefaultSpacing)
}

// Acquire reserves n permits, sleeping through quota resets as needed.
// It returns early only when ctx is cancelled.
func (b *Budget) Acquire(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	if n > b.capacity {
		return fmt.Errorf("acquire %d exceeds budget capacity %d", n, b.capacity)
	}

	b.acquireMu.Lock()
	defer b.acquireMu.Unlock()

	for {
		b.mu.Lock()
		if b.remaining >= n {
			b.remaining -= n
			b.mu.Unlock()
			break
		}
		resetAt := b.resetAt
		b.mu.Unlock()

		if b.OnWait != nil {
			b.OnWait(resetAt)
		}

		wait := time.Until(resetAt) + time.Duration(rand.Int63n(int64(refillJitterMax)))
		if wait < 0 {
			wait = time.Duration(rand.Int63n(int64(refillJitterMax)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		b.mu.Lock()
		// The window rolled over while we slept. Refill the local
		// estimate; the next Observe corrects it from the server.
		if time.Now().After(b.resetAt) {
			b.remaining = b.capacity
			b.resetAt = time.Now().Add(time.Hour)
		}
		b.mu.Unlock()
	}

	return b.spacing.Wait(ctx)
}

// Observe replaces the local estimate with the server-reported window.
// The server view always wins.
func (b *Budget) Observe(remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining >= 0 {
		b.remaining = remaining
	}
	if !resetAt.IsZero() {
		b.resetAt = resetAt
	}
}

// Snapshot reports the current window for progress events and status output.
func (b *Budget) Snapshot() (remaining int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.resetAt
}
