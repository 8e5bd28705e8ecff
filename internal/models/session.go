package models

import (
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Session is a minted login session. Token is the opaque secret handed
// to the client; IP and UserAgent are diagnostic only.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"token"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChallengeKind distinguishes the two WebAuthn ceremonies.
type ChallengeKind string

const (
	ChallengeRegistration ChallengeKind = "registration"
	ChallengeLogin        ChallengeKind = "login"
)

// Challenge is a single-use ceremony record. Data carries the library
// session state, including the 32-byte random challenge the client must
// sign. A record is deleted the moment it is consumed, successfully or
// not.
type Challenge struct {
	Key       string                `json:"key"`
	Kind      ChallengeKind         `json:"kind"`
	UserID    int64                 `json:"userId"`
	Data      *webauthn.SessionData `json:"data"`
	ExpiresAt time.Time             `json:"expiresAt"`
}
