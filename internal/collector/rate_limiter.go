package collector

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
)

// DefaultReserveFloor is the number of requests kept in reserve; Wait blocks
// until reset once the remaining budget drops below it.
const DefaultReserveFloor = 50

// RateLimiter manages GitHub API rate limiting. It is shared by every worker.
type RateLimiter interface {
	// Wait reserves one request, blocking until the budget resets when it is exhausted.
	Wait(ctx context.Context) error
	// UpdateFromHeaders applies X-RateLimit-* response headers.
	UpdateFromHeaders(h http.Header)
	// Update applies a budget read from the rate_limit endpoint.
	Update(b domain.RateBudget)
	// Budget returns the current view of the budget.
	Budget() domain.RateBudget
}

// githubRateLimiter implements RateLimiter for GitHub API
type githubRateLimiter struct {
	mu     sync.Mutex
	budget domain.RateBudget
	floor  int
	now    func() time.Time
	logger *zap.Logger
}

// NewRateLimiter creates a new rate limiter. The budget is unknown until the
// first response carrying rate headers.
func NewRateLimiter(logger *zap.Logger) RateLimiter {
	return newRateLimiter(DefaultReserveFloor, time.Now, logger)
}

func newRateLimiter(floor int, now func() time.Time, logger *zap.Logger) *githubRateLimiter {
	return &githubRateLimiter{
		floor:  floor,
		now:    now,
		logger: logging.OrNop(logger),
	}
}

// Wait waits until it's safe to make another API call
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.budget.Known && r.budget.Remaining < r.floor {
		resetAt := r.budget.ResetAt
		waitDuration := resetAt.Sub(r.now())
		if waitDuration <= 0 {
			// The window rolled over; trust the next response headers.
			r.budget.Known = false
			break
		}

		r.logger.Warn("rate limit low, waiting for reset",
			zap.Int("remaining", r.budget.Remaining),
			zap.Duration("wait", waitDuration.Round(time.Second)))

		r.mu.Unlock()
		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.mu.Lock()
			return ctx.Err()
		case <-timer.C:
		}
		r.mu.Lock()

		if r.budget.ResetAt.Equal(resetAt) {
			r.budget.Known = false
		}
	}

	if r.budget.Known {
		r.budget.Remaining--
	}
	return nil
}

// UpdateFromHeaders updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateFromHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	b := domain.RateBudget{Remaining: remaining, Known: true}
	if limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		b.Limit = limit
	}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		b.ResetAt = time.Unix(reset, 0)
	}
	r.Update(b)
}

// Update merges a reported budget. Within the same reset window the lower
// remaining count wins, since responses from concurrent requests arrive out of order.
func (r *githubRateLimiter) Update(b domain.RateBudget) {
	if !b.Known {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.budget.Known && r.budget.ResetAt.Equal(b.ResetAt) && r.budget.Remaining < b.Remaining {
		b.Remaining = r.budget.Remaining
	}
	if r.budget.Known && b.ResetAt.Before(r.budget.ResetAt) {
		return
	}
	r.budget = b
}

// Budget returns the current rate limit status
func (r *githubRateLimiter) Budget() domain.RateBudget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget
}
