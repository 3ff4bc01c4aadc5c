// Command fieldauthctl administers a fieldauth deployment directly through
// its MongoDB database: invites, signing keys, and provider configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	auditstore "github.com/dalemusser/fieldauth/internal/app/store/audit"
	"github.com/dalemusser/fieldauth/internal/app/system/auditlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// cli holds the flags shared by every subcommand.
type cli struct {
	MongoURI string
	Database string
	EnvFile  string
	Verbose  bool
	Actor    string

	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "fieldauthctl",
		Short:         "Administer fieldauth invites, signing keys and providers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; explicit flags still win over it.
			if c.EnvFile != "" {
				if err := godotenv.Load(c.EnvFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", c.EnvFile, err)
				}
			}
			if !cmd.Flags().Changed("mongo-uri") {
				c.MongoURI = envOr("FIELDAUTH_MONGO_URI", c.MongoURI)
			}
			if !cmd.Flags().Changed("db") {
				c.Database = envOr("FIELDAUTH_MONGO_DATABASE", c.Database)
			}
			if c.Actor == "" {
				c.Actor = currentUser()
			}
			c.log = zap.NewNop()
			if c.Verbose {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				c.log = l
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.MongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB URI (env FIELDAUTH_MONGO_URI)")
	root.PersistentFlags().StringVar(&c.Database, "db", "fieldauth", "MongoDB database (env FIELDAUTH_MONGO_DATABASE)")
	root.PersistentFlags().StringVar(&c.EnvFile, "env-file", ".env", "path to a .env file")
	root.PersistentFlags().BoolVarP(&c.Verbose, "verbose", "v", false, "log to stderr")
	root.PersistentFlags().StringVar(&c.Actor, "actor", "", "name recorded in the audit log (defaults to the OS user)")

	root.AddCommand(newInvitesCmd(c), newKeysCmd(c), newProvidersCmd(c))
	return root
}

// connect opens the configured database. The returned func disconnects.
func (c *cli) connect(ctx context.Context) (*mongo.Database, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(c.MongoURI).
		SetAppName("fieldauthctl").
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping %s: %w", c.MongoURI, err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return client.Database(c.Database), closeFn, nil
}

// audit records admin events in the service's audit collection.
func (c *cli) audit(db *mongo.Database) *auditlog.Logger {
	return auditlog.New(auditstore.New(db), c.log, auditlog.Config{
		Admin: envOr("FIELDAUTH_AUDIT_LOG_ADMIN", "all"),
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
