// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/fieldauth/internal/app/system/credentials"
	"github.com/dalemusser/fieldauth/internal/app/system/metrics"
	"github.com/dalemusser/fieldauth/internal/app/system/providers"
	"github.com/dalemusser/fieldauth/internal/app/system/ratelimit"
	"github.com/dalemusser/fieldauth/internal/app/system/workers"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database
	// Redis is nil when redis_url is blank.
	Redis *redis.Client

	// Services is allocated by ConnectDB and filled in by Startup, since
	// the lifecycle hooks receive DBDeps by value.
	Services *Services
}

// Services are the long-lived collaborators built once at startup.
type Services struct {
	Registry *providers.Registry
	Keyring  *credentials.Keyring
	Limiter  *ratelimit.LoginLimiter
	Metrics  *metrics.Metrics // nil when metrics are disabled
	Runner   *workers.Runner
}
