package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Placeholder name parts used when a token carries no profile claims.
const (
	DefaultGivenName  = "Unknown"
	DefaultFamilyName = "User"
)

// User is the internal identity row. External callers are always mapped
// to one of these; downstream handlers only ever see the numeric ID.
type User struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"externalId,omitempty"`
	Email      string    `json:"email"`
	GivenName  string    `json:"givenName"`
	FamilyName string    `json:"familyName"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NormalizeEmail applies the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// WebAuthnUser adapts a User and their stored credentials to the
// webauthn.User interface.
type WebAuthnUser struct {
	User        *User
	Credentials []Credential
}

func (u WebAuthnUser) WebAuthnID() []byte {
	return []byte(strconv.FormatInt(u.User.ID, 10))
}

func (u WebAuthnUser) WebAuthnName() string {
	return u.User.Email
}

func (u WebAuthnUser) WebAuthnDisplayName() string {
	name := strings.TrimSpace(u.User.GivenName + " " + u.User.FamilyName)
	if name == "" {
		return u.User.Email
	}
	return name
}

func (u WebAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.Credentials))
	for _, c := range u.Credentials {
		creds = append(creds, c.WebAuthn())
	}
	return creds
}

func (u WebAuthnUser) WebAuthnIcon() string {
	return ""
}
