// Package identity maps external provider subjects onto internal
// numeric user IDs, provisioning on first sight.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/andyleap/identity/internal/models"
	"github.com/andyleap/identity/internal/storage"
	"github.com/andyleap/identity/internal/token"
)

// ErrIdentityCreation is returned when provisioning fails and the
// post-conflict re-query finds no row to fall back to.
var ErrIdentityCreation = errors.New("identity creation failed")

// Resolver turns a verified external subject into an internal user ID.
// Uniqueness constraints plus a single retry-on-conflict handle
// concurrent first-sight resolutions without locks.
type Resolver struct {
	users storage.UserStore
}

func NewResolver(users storage.UserStore) *Resolver {
	return &Resolver{users: users}
}

// Resolve looks up the user by external subject, then by normalized
// email (attaching the subject to the matching row), and finally
// creates a new row. On a uniqueness conflict it re-queries exactly
// once; two racing callers both end up with the same single row.
func (r *Resolver) Resolve(ctx context.Context, subject string, claims *token.Claims) (int64, error) {
	if subject == "" {
		return 0, token.ErrMissingSubject
	}

	user, err := r.users.GetUserByExternalID(ctx, subject)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("lookup by external id: %w", err)
	}

	email := ""
	givenName := models.DefaultGivenName
	familyName := models.DefaultFamilyName
	if claims != nil {
		email = models.NormalizeEmail(claims.Email)
		if claims.GivenName != "" {
			givenName = claims.GivenName
		}
		if claims.FamilyName != "" {
			familyName = claims.FamilyName
		}
	}

	if email != "" {
		user, err := r.users.GetUserByEmail(ctx, email)
		if err == nil {
			return r.attach(ctx, user, subject)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("lookup by email: %w", err)
		}
	}

	created := &models.User{
		ExternalID: subject,
		Email:      email,
		GivenName:  givenName,
		FamilyName: familyName,
	}
	if created.Email == "" {
		// The email column is unique, so a claims-less subject gets a
		// synthetic address derived from it.
		created.Email = models.NormalizeEmail(subject + "@placeholder.invalid")
	}

	err = r.users.CreateUser(ctx, created)
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return 0, fmt.Errorf("create user: %w", err)
	}

	// A concurrent invocation won the insert. One re-query, no loop.
	if user, lookupErr := r.users.GetUserByExternalID(ctx, subject); lookupErr == nil {
		return user.ID, nil
	}
	if email != "" {
		if user, lookupErr := r.users.GetUserByEmail(ctx, email); lookupErr == nil {
			return r.attach(ctx, user, subject)
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrIdentityCreation, err)
}

// attach backfills a missing external subject onto an email-matched
// row. A conflict means another invocation already attached it; the
// row is re-read instead of treated as a failure.
func (r *Resolver) attach(ctx context.Context, user *models.User, subject string) (int64, error) {
	if user.ExternalID == subject {
		return user.ID, nil
	}
	if user.ExternalID != "" {
		// Email matches a row already bound to a different provider
		// subject; do not silently rebind it.
		return 0, fmt.Errorf("%w: email already linked to another subject", ErrIdentityCreation)
	}

	err := r.users.SetExternalID(ctx, user.ID, subject)
	if err == nil {
		return user.ID, nil
	}
	if errors.Is(err, storage.ErrConflict) {
		if existing, lookupErr := r.users.GetUserByExternalID(ctx, subject); lookupErr == nil {
			return existing.ID, nil
		}
	}
	return 0, fmt.Errorf("attach external id: %w", err)
}
