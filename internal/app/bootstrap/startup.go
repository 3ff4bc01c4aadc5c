// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/resources"
	"github.com/dalemusser/fieldauth/internal/app/store/intents"
	"github.com/dalemusser/fieldauth/internal/app/store/invites"
	"github.com/dalemusser/fieldauth/internal/app/store/signingkeys"
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/dalemusser/fieldauth/internal/app/system/ratelimit"
	"github.com/dalemusser/fieldauth/internal/app/system/tasks"
	"github.com/dalemusser/fieldauth/internal/app/system/timeouts"
	"github.com/dalemusser/fieldauth/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Startup runs after the databases are reachable and indexed, before the
// handler is built. It builds the provider registry (any invalid provider
// configuration aborts startup), makes sure a signing key exists, and starts
// the background jobs.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if n := timeouts.ConfigureFromEnv(); n > 0 {
		cur := timeouts.Current()
		logger.Info("timeouts configured from environment",
			zap.Duration("ping", cur.Ping),
			zap.Duration("short", cur.Short),
			zap.Duration("medium", cur.Medium),
			zap.Duration("long", cur.Long),
			zap.Duration("provider", cur.Provider))
	}

	resources.LoadSharedTemplates()

	svc := deps.Services
	db := deps.MongoDatabase

	provCfg, err := providers.LoadFromEnvironment(os.Environ(), logger)
	if err != nil {
		logger.Error("identity provider configuration rejected", zap.Error(err))
		return err
	}
	registry, err := providers.NewBuilder(provCfg, providers.Env{
		BaseURL:    appCfg.BaseURL,
		HTTPClient: &http.Client{Timeout: timeouts.Provider()},
		Log:        logger,
	}).Build(ctx)
	if err != nil {
		logger.Error("building provider registry failed", zap.Error(err))
		return err
	}
	svc.Registry = registry

	keyStore := signingkeys.New(db)
	svc.Keyring = credentials.NewKeyring(keyStore, appCfg.KeyCacheTTL, appCfg.KeyRetireGrace, logger)
	keyCtx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()
	if err := svc.Keyring.EnsureActive(keyCtx); err != nil {
		return fmt.Errorf("ensure signing key: %w", err)
	}

	if appCfg.MetricsEnabled {
		m, err := metrics.New(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		if err := m.WatchDirectory(db, timeouts.Short()); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		svc.Metrics = m
	}

	svc.Limiter = buildLimiter(deps.Redis, appCfg.LoginRateMax, appCfg.LoginRateWindow)

	svc.Runner = workers.NewRunner([]tasks.Job{
		tasks.InvitePurgeJob(invites.New(db), logger),
		tasks.RetiredKeyCleanupJob(keyStore, appCfg.KeyRetireGrace, logger),
		tasks.IntentCleanupJob(intents.New(db, appCfg.IntentTTL), logger),
	}, timeouts.Long(), logger)
	// ctx only spans startup; the jobs run until Shutdown stops them.
	svc.Runner.Start(context.Background())

	return nil
}

// buildLimiter shares counters through Redis when a client is configured and
// keeps them in process memory otherwise. The per-IP budget is twice the
// per-identifier one, over a minute.
func buildLimiter(rc *redis.Client, max int, window time.Duration) *ratelimit.LoginLimiter {
	if rc == nil {
		return ratelimit.NewMemoryLoginLimiter(max, window)
	}
	return ratelimit.NewLoginLimiter(
		ratelimit.NewRedisLimiter(rc, "fieldauth:rl:ip:", 2*max, time.Minute),
		ratelimit.NewRedisLimiter(rc, "fieldauth:rl:id:", max, window),
	)
}
