package models

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Credential is a registered passkey. CredentialID is the base64url
// encoding of the authenticator-assigned ID and is globally unique.
// SignCount only ever increases; a presented count at or below the
// stored one means a cloned or replayed authenticator.
type Credential struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	Label        string    `json:"label"`
	CredentialID string    `json:"credentialId"`
	PublicKey    []byte    `json:"publicKey"`
	SignCount    uint32    `json:"signCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EncodeCredentialID renders a raw authenticator credential ID in the
// stored base64url form.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// WebAuthn reconstructs the library credential from stored columns.
func (c Credential) WebAuthn() webauthn.Credential {
	rawID, _ := base64.RawURLEncoding.DecodeString(c.CredentialID)
	return webauthn.Credential{
		ID:        rawID,
		PublicKey: c.PublicKey,
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}
}
