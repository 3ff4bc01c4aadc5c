// Package passwords hashes and checks local account passwords.
//
// Hashes are PBKDF2-SHA256 over a per-user random salt. The iteration count
// is stored alongside the hash so it can be raised without invalidating
// existing credentials.
package passwords

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/dalemusser/fieldauth/internal/domain/models"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations is used for newly set passwords.
	DefaultIterations = 210000
	saltLen           = 16
	keyLen            = 32
)

// ErrEmpty is returned when hashing an empty password.
var ErrEmpty = errors.New("passwords: empty password")

// Hash derives a new credential for password with a fresh salt.
func Hash(password string, iterations int) (models.LocalCredential, error) {
	if password == "" {
		return models.LocalCredential{}, ErrEmpty
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return models.LocalCredential{}, err
	}
	saltStr := base64.RawStdEncoding.EncodeToString(salt)
	return models.LocalCredential{
		PasswordHash: derive(password, saltStr, iterations),
		Salt:         saltStr,
		Iterations:   iterations,
	}, nil
}

// Check reports whether password matches c. The comparison is constant-time.
func Check(password string, c models.LocalCredential) bool {
	if password == "" || c.Iterations <= 0 {
		return false
	}
	got := derive(password, c.Salt, c.Iterations)
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.PasswordHash)) == 1
}

func derive(password, salt string, iterations int) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, sha256.New)
	return base64.RawStdEncoding.EncodeToString(key)
}
