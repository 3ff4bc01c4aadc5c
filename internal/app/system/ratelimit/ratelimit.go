// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Backend counts hits per key within a window. Limiter keeps the counts in
// process memory; RedisLimiter shares them across nodes.
type Backend interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Limiter provides rate limiting using a fixed window per key.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int           // max requests per window
	duration time.Duration // window duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	count     int
	expiresAt time.Time
}

// New creates a new in-memory limiter and starts its cleanup loop.
// limit: maximum requests allowed per duration
// duration: the time window for counting requests
func New(limit int, duration time.Duration) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop(duration * 2)
	return l
}

// Allow records a hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[key]

	if !exists || now.After(w.expiresAt) {
		l.windows[key] = &window{count: 1, expiresAt: now.Add(l.duration)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Remaining returns how many hits are left for key in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists || l.now().After(w.expiresAt) {
		return l.limit
	}
	if remaining := l.limit - w.count; remaining > 0 {
		return remaining
	}
	return 0
}

// Reset clears the count for key.
func (l *Limiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Close stops the cleanup loop.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// cleanupLoop periodically removes expired entries to prevent memory leaks.
func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if now.After(w.expiresAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// ClientIP extracts the client IP from an HTTP request.
// It checks X-Forwarded-For and X-Real-IP headers first (for proxied requests),
// then falls back to RemoteAddr without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

/*─────────────────────────────────────────────────────────────────────────────*
| Login limiter                                                               |
*─────────────────────────────────────────────────────────────────────────────*/

// Messages shown when a local attempt is refused.
const (
	TooManyFromIP      = "Too many sign-in attempts. Please wait a minute before trying again."
	TooManyForIdentity = "Too many sign-in attempts for this account. Please wait a few minutes."
)

// LoginLimiter limits local sign-in attempts per client IP and per
// identifier, so neither a single client nor a distributed guesser can hammer
// one account.
type LoginLimiter struct {
	ip       Backend
	identity Backend
}

// NewLoginLimiter pairs an IP backend with an identifier backend.
func NewLoginLimiter(ip, identity Backend) *LoginLimiter {
	return &LoginLimiter{ip: ip, identity: identity}
}

// NewMemoryLoginLimiter keeps both counts in process memory.
// Defaults: max attempts per identifier per window, 2*max per IP per minute.
func NewMemoryLoginLimiter(max int, window time.Duration) *LoginLimiter {
	return NewLoginLimiter(New(2*max, time.Minute), New(max, window))
}

// Check records an attempt and reports whether it may proceed. reason is a
// user-facing message when it may not. Backend errors fail open: a limiter
// outage must not lock everyone out.
func (ll *LoginLimiter) Check(ctx context.Context, r *http.Request, identifier string) (allowed bool, reason string, err error) {
	ok, err := ll.ip.Allow(ctx, "ip:"+ClientIP(r))
	if err != nil {
		return true, "", err
	}
	if !ok {
		return false, TooManyFromIP, nil
	}

	if key := identityKey(identifier); key != "" {
		ok, err := ll.identity.Allow(ctx, key)
		if err != nil {
			return true, "", err
		}
		if !ok {
			return false, TooManyForIdentity, nil
		}
	}
	return true, "", nil
}

// ResetIdentity clears the per-identifier count after a successful sign-in.
func (ll *LoginLimiter) ResetIdentity(ctx context.Context, identifier string) error {
	if key := identityKey(identifier); key != "" {
		return ll.identity.Reset(ctx, key)
	}
	return nil
}

func identityKey(identifier string) string {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return ""
	}
	return "id:" + identifier
}
