// Package timeouts holds the deadlines fieldauth puts on store calls and
// identity provider round trips.
//
// Handlers and jobs wrap their work in context.WithTimeout using one of the
// tiers below:
//   - Ping: health checks and connectivity verification
//   - Short: one document read or written (user by id, intent consume)
//   - Medium: multi-step store work (reconcile, invite redemption, listing)
//   - Long: background maintenance touching many documents
//   - Provider: a round trip to an external identity provider
//
// Every tier can be overridden at startup with FIELDAUTH_TIMEOUT_<TIER>.
package timeouts

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults used until Configure or ConfigureFromEnv changes them.
const (
	DefaultPing     = 2 * time.Second
	DefaultShort    = 5 * time.Second
	DefaultMedium   = 10 * time.Second
	DefaultLong     = 30 * time.Second
	DefaultProvider = 15 * time.Second
)

const envPrefix = "FIELDAUTH_TIMEOUT_"

// Config is a full set of tiers. Zero fields mean "leave unchanged".
type Config struct {
	Ping     time.Duration
	Short    time.Duration
	Medium   time.Duration
	Long     time.Duration
	Provider time.Duration
}

func defaults() Config {
	return Config{
		Ping:     DefaultPing,
		Short:    DefaultShort,
		Medium:   DefaultMedium,
		Long:     DefaultLong,
		Provider: DefaultProvider,
	}
}

var (
	mu  sync.RWMutex
	cur = defaults()
)

// tiers maps each env suffix onto its field so Configure and
// ConfigureFromEnv walk the same list.
func tiers(c *Config) []struct {
	env string
	dst *time.Duration
} {
	return []struct {
		env string
		dst *time.Duration
	}{
		{"PING", &c.Ping},
		{"SHORT", &c.Short},
		{"MEDIUM", &c.Medium},
		{"LONG", &c.Long},
		{"PROVIDER", &c.Provider},
	}
}

func get(pick func(Config) time.Duration) time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	return pick(cur)
}

// Ping bounds health checks.
func Ping() time.Duration { return get(func(c Config) time.Duration { return c.Ping }) }

// Short bounds single-document store calls.
func Short() time.Duration { return get(func(c Config) time.Duration { return c.Short }) }

// Medium bounds multi-step store work.
func Medium() time.Duration { return get(func(c Config) time.Duration { return c.Medium }) }

// Long bounds background maintenance.
func Long() time.Duration { return get(func(c Config) time.Duration { return c.Long }) }

// Provider bounds token exchange, userinfo, OIDC discovery and SAML
// metadata fetches.
func Provider() time.Duration { return get(func(c Config) time.Duration { return c.Provider }) }

// Configure overrides the non-zero tiers in cfg.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	src := tiers(&cfg)
	for i, t := range tiers(&cur) {
		if v := *src[i].dst; v > 0 {
			*t.dst = v
		}
	}
}

// Reset restores the defaults. Tests use it in t.Cleanup.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cur = defaults()
}

// ConfigureFromEnv applies FIELDAUTH_TIMEOUT_PING, _SHORT, _MEDIUM, _LONG
// and _PROVIDER. Values use time.ParseDuration syntax; unparsable or
// non-positive values are skipped. It returns how many tiers were set.
func ConfigureFromEnv() int {
	mu.Lock()
	defer mu.Unlock()
	n := 0
	for _, t := range tiers(&cur) {
		raw := os.Getenv(envPrefix + t.env)
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			*t.dst = d
			n++
		}
	}
	return n
}

// Current returns a snapshot of every tier, for startup logging.
func Current() Config {
	mu.RLock()
	defer mu.RUnlock()
	return cur
}

// WithTimeout is context.WithTimeout whose cancel func logs a warning when
// the deadline, rather than the caller, ended the operation.
func WithTimeout(parent context.Context, timeout time.Duration, log *zap.Logger, operation string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return ctx, func() {
		if log != nil && ctx.Err() == context.DeadlineExceeded {
			log.Warn("operation timed out",
				zap.String("operation", operation),
				zap.Duration("timeout", timeout))
		}
		cancel()
	}
}
