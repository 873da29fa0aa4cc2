// Package ratelimiter paces outbound mail. A global token bucket bounds the
// overall send rate and a per-domain spacing keeps bursts away from any
// single mail provider.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter struct {
	global   *rate.Limiter
	interval time.Duration
	nextSlot map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
	log      *slog.Logger
}

// New allows perSecond sends overall and at most one send per interval to
// each recipient domain. A zero interval disables the per-domain spacing.
func New(perSecond float64, interval time.Duration, log *slog.Logger) *RateLimiter {
	burst := max(int(perSecond), 1)

	return &RateLimiter{
		global:   rate.NewLimiter(rate.Limit(perSecond), burst),
		interval: interval,
		nextSlot: make(map[string]time.Time),
		now:      time.Now,
		log:      log,
	}
}

// Wait blocks until a message to recipient may be sent.
func (rl *RateLimiter) Wait(ctx context.Context, recipient string) error {
	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("wait global limit: %w", err)
	}

	delay := rl.reserve(recipientDomain(recipient))
	if delay <= 0 {
		return nil
	}

	rl.log.DebugContext(ctx, "Rate limiting mail",
		"recipient", recipient,
		"delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve books the next free slot for domain and returns how long the
// caller has to wait for it.
func (rl *RateLimiter) reserve(domain string) time.Duration {
	if rl.interval <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	slot := now

	if next, exists := rl.nextSlot[domain]; exists && next.After(now) {
		slot = next
	}

	rl.nextSlot[domain] = slot.Add(rl.interval)

	return slot.Sub(now)
}

func recipientDomain(recipient string) string {
	at := strings.LastIndexByte(recipient, '@')
	if at < 0 {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(recipient[at+1:]))
}
