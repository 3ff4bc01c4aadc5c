// internal/app/system/validators/validators.go
package validators

// Collections are created up front and given JSON-Schema validators so that a
// document written by an older binary, a manual fix, or fieldauthctl cannot
// break the invariants the stores rely on (for example a user without an
// emails array, or an invite with a negative use count).

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/fieldauth/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates collections (if missing) and tries to attach JSON-Schema
// validators. On servers that don't support collMod/validators (e.g. some
// DocumentDB versions), we log and skip gracefully.
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll, logger); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema, logger); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				logger.Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("users", usersSchema())
	ensure("invites", invitesSchema())
	ensure("signing_keys", signingKeysSchema())
	ensure("session_intents", sessionIntentsSchema())
	ensure("one_time_codes", oneTimeCodesSchema())

	// No validators; created so listings and metrics see them from the start.
	ensure("invites_spent", nil)
	ensure("audit_events", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers & logging ---------------------- */

func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if we actually created it.
func ensureCollection(ctx context.Context, db *mongo.Database, name string, logger *zap.Logger) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		return false, nil
	}
	// If listing failed, fall back to create-and-handle-race.
	if err := db.CreateCollection(ctx, name); err != nil {
		if isNamespaceExistsErr(err) {
			return false, nil
		}
		logger.Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	logger.Info("created collection", zap.String("collection", name))
	return true, nil
}

/* ------------------------------ validators ------------------------------- */

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M, logger *zap.Logger) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	logger.Debug("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var (
	nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}
	integer  = bson.A{"int", "long"}
)

func usersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "emails", "rev"},
			"properties": bson.M{
				"_id":  nonBlank,
				"name": bson.M{"bsonType": "string"},
				"emails": bson.M{
					"bsonType": "array",
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"email", "verified"},
						"properties": bson.M{
							"email":    nonBlank,
							"verified": bson.M{"bsonType": "bool"},
						},
					},
				},
				"profiles":     bson.M{"bsonType": bson.A{"object", "null"}},
				"global_roles": bson.M{"bsonType": bson.A{"array", "null"}, "items": bson.M{"bsonType": "string"}},
				"resource_roles": bson.M{
					"bsonType": bson.A{"array", "null"},
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"resource_id", "role"},
						"properties": bson.M{
							"resource_id": nonBlank,
							"role":        nonBlank,
						},
					},
				},
				"rev": bson.M{"bsonType": integer, "minimum": 1},
			},
		},
	}
}

func invitesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "resource_id", "role", "remaining", "rev"},
			"properties": bson.M{
				"_id":         nonBlank,
				"resource_id": nonBlank,
				"role":        nonBlank,
				// 0 is unlimited
				"remaining":  bson.M{"bsonType": integer, "minimum": 0},
				"expires_at": bson.M{"bsonType": "date"},
				"rev":        bson.M{"bsonType": integer, "minimum": 1},
			},
		},
	}
}

func signingKeysSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "alg", "private_key", "public_key", "status", "created_at"},
			"properties": bson.M{
				"_id":         nonBlank,
				"alg":         bson.M{"enum": bson.A{"EdDSA"}},
				"private_key": bson.M{"bsonType": "binData"},
				"public_key":  bson.M{"bsonType": "binData"},
				"status":      bson.M{"enum": bson.A{models.KeyActive, models.KeyRetired}},
				"created_at":  bson.M{"bsonType": "date"},
				"retired_at":  bson.M{"bsonType": "date"},
			},
		},
	}
}

func sessionIntentsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "provider", "action", "expires_at"},
			"properties": bson.M{
				"_id":        nonBlank,
				"provider":   nonBlank,
				"action":     bson.M{"enum": bson.A{models.ActionLogin, models.ActionRegister}},
				"expires_at": bson.M{"bsonType": "date"},
			},
		},
	}
}

func oneTimeCodesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"_id", "purpose", "user_id", "expires_at"},
			"properties": bson.M{
				"_id":        nonBlank,
				"purpose":    bson.M{"enum": bson.A{"verify_email", "reset_password"}},
				"user_id":    nonBlank,
				"expires_at": bson.M{"bsonType": "date"},
			},
		},
	}
}
