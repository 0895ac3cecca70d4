package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kurihiro0119/github-compliance-audit/internal/errors"
	"github.com/kurihiro0119/github-compliance-audit/internal/logging"
)

const (
	defaultRateLimitAttempts = 5
	defaultServerAttempts    = 3
	defaultBaseBackoff       = time.Second
	defaultMaxBackoff        = time.Minute
	maxPeekBytes             = 64 << 10
)

// Invalidator drops a cached credential so the next request re-authenticates.
type Invalidator interface {
	Invalidate()
}

// Transport is the retrying layer of the API client. It reserves budget from
// the shared RateLimiter before each attempt, feeds response headers back to it,
// and retries rate-limited, 5xx, and network failures with backoff.
// Base is expected to attach the credential (an oauth2.Transport).
type Transport struct {
	Base        http.RoundTripper
	Limiter     RateLimiter
	Invalidator Invalidator
	Logger      *zap.Logger

	RateLimitAttempts int
	ServerAttempts    int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a Transport with the default retry policy
func NewTransport(base http.RoundTripper, limiter RateLimiter, invalidator Invalidator, logger *zap.Logger) *Transport {
	return &Transport{
		Base:              base,
		Limiter:           limiter,
		Invalidator:       invalidator,
		Logger:            logging.OrNop(logger),
		RateLimitAttempts: defaultRateLimitAttempts,
		ServerAttempts:    defaultServerAttempts,
		BaseBackoff:       defaultBaseBackoff,
		MaxBackoff:        defaultMaxBackoff,
		now:               time.Now,
		sleep:             sleepContext,
	}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	path := req.URL.Path
	rateAttempts, serverAttempts := 0, 0
	reauthenticated := false

	for {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attempt, err := cloneRequest(req)
		if err != nil {
			return nil, err
		}

		resp, err := t.base().RoundTrip(attempt)
		if err != nil {
			if ctx.Err() != nil || apperrors.IsAuth(err) {
				return nil, err
			}
			serverAttempts++
			if serverAttempts >= t.ServerAttempts {
				return nil, fmt.Errorf("%s %s failed after %d attempts: %w", req.Method, path, serverAttempts, err)
			}
			t.Logger.Debug("request failed, retrying", zap.String("path", path), zap.Int("attempt", serverAttempts), zap.Error(err))
			if err := t.sleep(ctx, t.backoff(serverAttempts)); err != nil {
				return nil, err
			}
			continue
		}

		t.Limiter.UpdateFromHeaders(resp.Header)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			if t.Invalidator != nil && !reauthenticated {
				reauthenticated = true
				t.Invalidator.Invalidate()
				t.Logger.Info("credential rejected, refreshing", zap.String("path", path))
				continue
			}
			return nil, apperrors.NewAuthError(fmt.Sprintf("GitHub rejected the credential for %s", path), nil)

		case t.isRateLimited(resp):
			rateAttempts++
			wait := t.rateLimitWait(resp, rateAttempts)
			drain(resp)
			if rateAttempts >= t.RateLimitAttempts {
				return nil, apperrors.NewRateLimitedError(fmt.Sprintf("rate limited after %d attempts", rateAttempts), path)
			}
			t.Logger.Warn("rate limited, backing off",
				zap.String("path", path),
				zap.Int("attempt", rateAttempts),
				zap.Duration("wait", wait))
			if err := t.sleep(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusInternalServerError:
			serverAttempts++
			if serverAttempts >= t.ServerAttempts {
				return t.release(ctx, resp, path)
			}
			drain(resp)
			t.Logger.Debug("server error, retrying", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Int("attempt", serverAttempts))
			if err := t.sleep(ctx, t.backoff(serverAttempts)); err != nil {
				return nil, err
			}

		default:
			return t.release(ctx, resp, path)
		}
	}
}

// release hands a response back to the caller. A response that reports a spent
// budget is held until the window resets: go-github remembers those headers and
// refuses every later call before it reaches this transport.
func (t *Transport) release(ctx context.Context, resp *http.Response, path string) (*http.Response, error) {
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return resp, nil
	}
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return resp, nil
	}
	resetAt := time.Unix(reset, 0)
	if !resetAt.After(t.now()) {
		return resp, nil
	}

	wait := resetAt.Sub(t.now()) + time.Second
	t.Logger.Warn("rate limit spent, holding response until reset",
		zap.String("path", path),
		zap.Duration("wait", wait.Round(time.Second)))
	if err := t.sleep(ctx, wait); err != nil {
		drain(resp)
		return nil, err
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

// isRateLimited recognizes 429, primary-limit 403s and secondary-limit 403s.
// A peeked body is restored so callers can still decode it.
func (t *Transport) isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
		return true
	}
	if resp.Body == nil {
		return false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxPeekBytes))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return isRateLimitMessage(string(body))
}

func isRateLimitMessage(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
}

// rateLimitWait prefers Retry-After, then the reset time when the budget is
// spent, then exponential backoff.
func (t *Transport) rateLimitWait(resp *http.Response, attempt int) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if wait := time.Unix(reset, 0).Sub(t.now()) + time.Second; wait > 0 {
				return wait
			}
			return 0
		}
	}
	return t.backoff(attempt)
}

// backoff is exponential with up to 50% jitter, capped at MaxBackoff.
func (t *Transport) backoff(attempt int) time.Duration {
	d := t.BaseBackoff << (attempt - 1)
	if d <= 0 || d > t.MaxBackoff {
		d = t.MaxBackoff
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return r, nil
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPeekBytes))
	resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
