package resilience

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leofalp/aigo/protocol"
)

// RateLimiterConfig configures a token-bucket rate limiter. Rate <= 0
// means unlimited.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RateLimiterConfigFromRPS builds a config from a requests-per-second
// target, sizing the burst at 1.5x the rate (rounded down).
func RateLimiterConfigFromRPS(rps float64) RateLimiterConfig {
	burst := 0
	if rps > 0 {
		burst = int(rps * 1.5)
		if burst < 1 {
			burst = 1
		}
	}
	return RateLimiterConfig{RequestsPerSecond: rps, BurstSize: burst}
}

// HeaderNames names the response headers an AdaptiveRateLimiter reads to
// reconcile its state with the server's own view of the limit, taken from
// a Manifest's rate_limit_headers section.
type HeaderNames struct {
	RequestsLimit     string
	RequestsRemaining string
	RequestsReset     string
}

func headerNamesFromManifest(m *protocol.Manifest) HeaderNames {
	h := HeaderNames{
		RequestsLimit:     "x-ratelimit-limit-requests",
		RequestsRemaining: "x-ratelimit-remaining-requests",
		RequestsReset:     "x-ratelimit-reset-requests",
	}
	if m == nil {
		return h
	}
	if m.RateLimitHeaders.RequestsLimit != "" {
		h.RequestsLimit = m.RateLimitHeaders.RequestsLimit
	}
	if m.RateLimitHeaders.RequestsRemaining != "" {
		h.RequestsRemaining = m.RateLimitHeaders.RequestsRemaining
	}
	if m.RateLimitHeaders.RequestsReset != "" {
		h.RequestsReset = m.RateLimitHeaders.RequestsReset
	}
	return h
}

// ServerState is the adaptive limiter's last-observed view of the
// server's own rate-limit bookkeeping.
type ServerState struct {
	Limit     int
	Remaining int
	ResetSecs float64
}

// AdaptiveRateLimiter wraps golang.org/x/time/rate.Limiter with the
// header-driven adaptation the external-interface contract describes:
// "ratelimit-remaining-requests" is an absolute snapshot of remaining
// tokens (not a refill event), while "ratelimit-limit" + "ratelimit-reset"
// recompute the limiter's rate and burst. x/time/rate has no API to set
// the bucket's current token count directly, so a snapshot is applied by
// draining the limiter down to the reported remaining count via AllowN,
// producing the same "jump to N tokens" effect a direct field assignment
// would.
type AdaptiveRateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	headers HeaderNames
	server  ServerState
}

// NewRateLimiter constructs a static rate limiter (no header adaptation).
func NewRateLimiter(cfg RateLimiterConfig) *AdaptiveRateLimiter {
	return newAdaptive(cfg, HeaderNames{})
}

// NewAdaptiveRateLimiter constructs a rate limiter that reconciles itself
// against a provider's rate-limit response headers, named per m.
func NewAdaptiveRateLimiter(cfg RateLimiterConfig, m *protocol.Manifest) *AdaptiveRateLimiter {
	return newAdaptive(cfg, headerNamesFromManifest(m))
}

func newAdaptive(cfg RateLimiterConfig, headers HeaderNames) *AdaptiveRateLimiter {
	limit := rate.Inf
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &AdaptiveRateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		headers: headers,
	}
}

// IsLimited reports whether this limiter enforces any rate at all.
func (a *AdaptiveRateLimiter) IsLimited() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limiter.Limit() != rate.Inf
}

// Acquire blocks until a token is available or ctx is cancelled, and
// returns how long it waited.
func (a *AdaptiveRateLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	lim := a.limiter
	a.mu.Unlock()

	if lim.Limit() == rate.Inf {
		return 0, nil
	}

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return time.Since(start), protocol.Wrap(protocol.KindTransportTimeout, "rate limiter: wait cancelled", err)
	}
	return time.Since(start), nil
}

// UpdateFromHeaders reconciles the limiter's state against a response's
// rate-limit headers, per provider-declared header names.
func (a *AdaptiveRateLimiter) UpdateFromHeaders(headers map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lookup := func(name string) (string, bool) {
		if name == "" {
			return "", false
		}
		for k, v := range headers {
			if strings.EqualFold(k, name) {
				return v, true
			}
		}
		return "", false
	}

	if v, ok := lookup(a.headers.RequestsLimit); ok {
		if n, err := strconv.Atoi(v); err == nil {
			a.server.Limit = n
		}
	}

	if v, ok := lookup(a.headers.RequestsReset); ok {
		a.server.ResetSecs = parseResetDuration(v)
	}

	if v, ok := lookup(a.headers.RequestsRemaining); ok {
		if n, err := strconv.Atoi(v); err == nil {
			a.server.Remaining = n
			a.snapshotTokens(n)
		}
	}

	if a.server.Limit > 0 && a.server.ResetSecs > 0 {
		newRate := float64(a.server.Limit) / a.server.ResetSecs
		a.limiter.SetLimit(rate.Limit(newRate))
		a.limiter.SetBurst(a.server.Limit)
	}
}

// snapshotTokens drains (or, if remaining exceeds current burst, leaves
// maxed-out) the limiter so its available tokens equal remaining. Must be
// called with a.mu held.
func (a *AdaptiveRateLimiter) snapshotTokens(remaining int) {
	burst := a.limiter.Burst()
	if remaining >= burst {
		return
	}
	drain := burst - remaining
	if drain > 0 {
		a.limiter.AllowN(time.Now(), drain)
	}
}

func parseResetDuration(v string) float64 {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "ms"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(v, "ms"), 64)
		if err != nil {
			return 0
		}
		return n / 1000.0
	case strings.HasSuffix(v, "s"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(v, "s"), 64)
		if err != nil {
			return 0
		}
		return n
	case strings.HasSuffix(v, "m"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(v, "m"), 64)
		if err != nil {
			return 0
		}
		return n * 60.0
	default:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return n
	}
}

// ServerState returns the last-observed server rate-limit state.
func (a *AdaptiveRateLimiter) ServerState() ServerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server
}

// AvailableTokens reports the limiter's current token count; the value is
// fractional and is not rounded.
func (a *AdaptiveRateLimiter) AvailableTokens() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limiter.Tokens()
}

// Capacity reports the bucket's burst size and refill rate (tokens/sec).
// refillRate is 0 for an unlimited limiter (rate.Inf), since there is no
// finite rate to report.
func (a *AdaptiveRateLimiter) Capacity() (maxTokens float64, refillRate float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := a.limiter.Limit()
	if limit == rate.Inf {
		return float64(a.limiter.Burst()), 0
	}
	return float64(a.limiter.Burst()), float64(limit)
}
