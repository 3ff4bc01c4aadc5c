// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// InvitePurger deletes invites whose expiry has passed.
type InvitePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// RetiredKeyDeleter removes retired signing keys.
type RetiredKeyDeleter interface {
	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExpiredCleaner removes expired documents from a TTL-indexed collection.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// InvitePurgeJob creates a job that deletes expired invites. Expired invites
// are already unusable; this only keeps the collection and listings small.
func InvitePurgeJob(store InvitePurger, logger *zap.Logger) Job {
	return Job{
		Name:     "invite-purge",
		Interval: 1 * time.Hour,
		Run: func(ctx context.Context) error {
			count, err := store.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Info("purged expired invites", zap.Int64("count", count))
			}
			return nil
		},
	}
}

// RetiredKeyCleanupJob creates a job that deletes signing keys retired for
// longer than grace. Tokens signed by them have expired by then, so they
// leave the verification set for good.
func RetiredKeyCleanupJob(store RetiredKeyDeleter, grace time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "retired-key-cleanup",
		Interval: 6 * time.Hour,
		Run: func(ctx context.Context) error {
			count, err := store.DeleteRetiredBefore(ctx, time.Now().UTC().Add(-grace))
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Info("deleted retired signing keys",
					zap.Int64("count", count),
					zap.Duration("grace", grace))
			}
			return nil
		},
	}
}

// IntentCleanupJob creates a job that removes expired session intents.
// This is a backup for when MongoDB's TTL index cleanup is delayed.
func IntentCleanupJob(store ExpiredCleaner, logger *zap.Logger) Job {
	return Job{
		Name:     "intent-cleanup",
		Interval: 15 * time.Minute,
		Run: func(ctx context.Context) error {
			count, err := store.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			if count > 0 {
				logger.Debug("cleaned up expired session intents", zap.Int64("count", count))
			}
			return nil
		},
	}
}
