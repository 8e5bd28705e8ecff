// Package challenge stores short-lived, single-use WebAuthn ceremony
// records.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/andyleap/identity/internal/models"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeExpired  = errors.New("challenge expired")
)

const (
	// DefaultTTL is the ceremony window: a challenge must be consumed
	// within it or it is garbage.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval bounds how long expired, never-consumed
	// records linger in a process-local backend.
	DefaultSweepInterval = time.Minute
)

// Store issues and consumes challenges. Consume removes the record on
// every outcome; a key can never succeed twice.
type Store interface {
	// Issue assigns a key and expiry to the record and persists it.
	Issue(ctx context.Context, record *models.Challenge) (string, error)
	// Consume removes and returns the record. A missing key yields
	// ErrChallengeNotFound, one past its window ErrChallengeExpired.
	// Backends that delegate expiry to the store (Redis) cannot tell
	// an evicted record from one that never existed and report
	// ErrChallengeNotFound for both; callers must treat the two errors
	// the same way, as a dead ceremony.
	Consume(ctx context.Context, key string) (*models.Challenge, error)
}

// newKey builds a challenge key from the owner and issuance instant.
// The random suffix disambiguates same-nanosecond ceremonies.
func newKey(userID int64, now time.Time) string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("%d-%d-%s", userID, now.UnixNano(), hex.EncodeToString(suffix))
}
