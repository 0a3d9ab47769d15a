package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimitError is returned when a service's fixed window is exhausted.
// RetryAfter is the time until the window resets.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for service %q, retry after %s", e.Service, e.RetryAfter)
}

// LimitProfile is the per-service admission policy.
type LimitProfile struct {
	Limit  int
	Window time.Duration
}

func DefaultLimitProfile() LimitProfile {
	return LimitProfile{Limit: 100, Window: time.Minute}
}

type limiterWindow struct {
	windowStart  time.Time
	requestCount int
}

// RateLimiter admits at most Limit calls per fixed window per service.
type RateLimiter struct {
	mu       sync.Mutex
	profiles map[string]LimitProfile
	windows  map[string]*limiterWindow
	fallback LimitProfile
	now      func() time.Time
}

func NewRateLimiter(profiles map[string]LimitProfile) *RateLimiter {
	if profiles == nil {
		profiles = make(map[string]LimitProfile)
	}
	return &RateLimiter{
		profiles: profiles,
		windows:  make(map[string]*limiterWindow),
		fallback: DefaultLimitProfile(),
		now:      time.Now,
	}
}

func (rl *RateLimiter) profile(service string) LimitProfile {
	if p, ok := rl.profiles[service]; ok {
		return p
	}
	return rl.fallback
}

// Consume admits or denies one call for service, resetting the window when it
// has elapsed.
func (rl *RateLimiter) Consume(service string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p := rl.profile(service)
	now := rl.now()

	w, ok := rl.windows[service]
	if !ok || now.Sub(w.windowStart) > p.Window {
		w = &limiterWindow{windowStart: now}
		rl.windows[service] = w
	}
	if w.requestCount >= p.Limit {
		return false
	}
	w.requestCount++
	return true
}

// Remaining returns the calls left in the current window.
func (rl *RateLimiter) Remaining(service string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p := rl.profile(service)
	w, ok := rl.windows[service]
	if !ok || rl.now().Sub(w.windowStart) > p.Window {
		return p.Limit
	}
	if n := p.Limit - w.requestCount; n > 0 {
		return n
	}
	return 0
}

// TimeUntilReset returns how long until the service's window resets.
func (rl *RateLimiter) TimeUntilReset(service string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p := rl.profile(service)
	w, ok := rl.windows[service]
	if !ok {
		return 0
	}
	remaining := p.Window - rl.now().Sub(w.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

type LimiterState struct {
	Service  string        `json:"service"`
	Used     int           `json:"used"`
	Limit    int           `json:"limit"`
	ResetsIn time.Duration `json:"resets_in"`
}

// States snapshots every active window.
func (rl *RateLimiter) States() []LimiterState {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	out := make([]LimiterState, 0, len(rl.windows))
	for svc, w := range rl.windows {
		p := rl.profile(svc)
		resets := p.Window - now.Sub(w.windowStart)
		if resets < 0 {
			resets = 0
		}
		out = append(out, LimiterState{Service: svc, Used: w.requestCount, Limit: p.Limit, ResetsIn: resets})
	}
	return out
}

// ExecuteLimited wraps fn with the limiter for service. Denied calls return
// onLimited's result if non-nil, otherwise a RateLimitError carrying the time
// until the window resets.
func ExecuteLimited[T any](ctx context.Context, rl *RateLimiter, service string, fn func(ctx context.Context) (T, error), onLimited func() (T, error)) (T, error) {
	var zero T
	if !rl.Consume(service) {
		if onLimited != nil {
			return onLimited()
		}
		return zero, &RateLimitError{Service: service, RetryAfter: rl.TimeUntilReset(service)}
	}
	return fn(ctx)
}
