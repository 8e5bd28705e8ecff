package storage

import (
	"context"
	"errors"

	"github.com/andyleap/identity/internal/models"
)

// ErrNotFound is returned when a requested row does not exist or has
// expired.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update violates a
// uniqueness constraint. Callers that race on first-sight provisioning
// are expected to re-query after seeing it.
var ErrConflict = errors.New("conflict")

type UserStore interface {
	// CreateUser inserts the user and fills in its assigned ID.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// SetExternalID attaches an external provider subject to an
	// existing user. Attaching the same value twice is a no-op.
	SetExternalID(ctx context.Context, id int64, externalID string) error
}

type CredentialStore interface {
	CreateCredential(ctx context.Context, credential *models.Credential) error
	GetCredential(ctx context.Context, credentialID string) (*models.Credential, error)
	ListCredentials(ctx context.Context, userID int64) ([]models.Credential, error)
	// UpdateSignCount persists a new signature counter. Counters only
	// move forward; the caller enforces the strict increase.
	UpdateSignCount(ctx context.Context, credentialID string, count uint32) error
}

type SessionStore interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Store is the full persistence surface the service is wired with.
type Store interface {
	UserStore
	CredentialStore
	SessionStore
	Close() error
}
