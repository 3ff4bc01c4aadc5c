package metricsstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Counts is the set of directory totals exported as gauges.
type Counts struct {
	Users          int64
	Invites        int64
	ActiveKeys     int64
	PendingIntents int64
}

// FetchCounts returns the directory totals.
// Intentionally tolerant: on error it returns 0 for that counter.
func FetchCounts(ctx context.Context, db *mongo.Database) Counts {
	var out Counts

	if n, err := db.Collection("users").EstimatedDocumentCount(ctx); err == nil {
		out.Users = n
	}
	if n, err := db.Collection("invites").EstimatedDocumentCount(ctx); err == nil {
		out.Invites = n
	}

	// anything other than 1 means rotation went wrong
	if n, err := db.Collection("signing_keys").CountDocuments(ctx, bson.M{"status": "active"}); err == nil {
		out.ActiveKeys = n
	}

	// intents awaiting a callback; the TTL monitor removes the rest
	if n, err := db.Collection("session_intents").EstimatedDocumentCount(ctx); err == nil {
		out.PendingIntents = n
	}

	return out
}
