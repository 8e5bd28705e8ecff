// Package session mints login sessions and defines the cookie
// contract downstream handlers rely on.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andyleap/identity/internal/models"
	"github.com/andyleap/identity/internal/storage"
	"github.com/google/uuid"
)

// CookieName is the session cookie consumed by downstream handlers.
const CookieName = "session_id"

// DefaultTTL is the session lifetime. No rotation or refresh; a
// session lives until this elapses or the row is deleted.
const DefaultTTL = 30 * 24 * time.Hour

// ClientMeta is diagnostic request context stored with the session.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// MetaFromRequest extracts the client address and agent for storage.
func MetaFromRequest(r *http.Request) ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return ClientMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}

// Issuer creates and validates sessions.
type Issuer struct {
	store  storage.SessionStore
	ttl    time.Duration
	domain string
	secure bool
	now    func() time.Time
}

func NewIssuer(store storage.SessionStore, ttl time.Duration, domain string, secure bool) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		store:  store,
		ttl:    ttl,
		domain: domain,
		secure: secure,
		now:    time.Now,
	}
}

// Issue persists a new session: random 128-bit id, random 256-bit
// opaque token, fixed expiry.
func (i *Issuer) Issue(ctx context.Context, userID int64, meta ClientMeta) (*models.Session, error) {
	token := make([]byte, 32)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := i.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     hex.EncodeToString(token),
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}

	if err := i.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// Validate answers "session valid yes/no" and returns the owner.
func (i *Issuer) Validate(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := i.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !i.now().Before(session.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return session, nil
}

// Revoke deletes the session row.
func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	return i.store.DeleteSession(ctx, sessionID)
}

// Cookie renders the Set-Cookie attributes for a minted session:
// path /, Max-Age of the full TTL, SameSite=None, Secure, HttpOnly.
func (i *Issuer) Cookie(session *models.Session) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   i.domain,
		MaxAge:   int(i.ttl / time.Second),
		Secure:   i.secure,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}

// ClearCookie expires the session cookie on the client.
func (i *Issuer) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   i.domain,
		MaxAge:   -1,
		Secure:   i.secure,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}
