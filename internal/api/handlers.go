package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/andyleap/identity/internal/auth"
	"github.com/andyleap/identity/internal/identity"
	"github.com/andyleap/identity/internal/session"
	"github.com/andyleap/identity/internal/token"
	"github.com/go-webauthn/webauthn/protocol"
)

const sessionCookieName = session.CookieName

// Server exposes the identity surface downstream handlers consume:
// ceremony endpoints, session validation and the auth middleware.
type Server struct {
	passkeys *auth.PasskeyService
	sessions *session.Issuer
	verifier *token.MultiVerifier
	resolver *identity.Resolver
}

func NewServer(passkeys *auth.PasskeyService, sessions *session.Issuer, verifier *token.MultiVerifier, resolver *identity.Resolver) *Server {
	return &Server{
		passkeys: passkeys,
		sessions: sessions,
		verifier: verifier,
		resolver: resolver,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// authFailed logs why authentication failed and returns a generic 401
// that does not reveal which check rejected the caller.
func (s *Server) authFailed(w http.ResponseWriter, msg string, err error) {
	slog.Info("authentication failed", "reason", msg, "error", err)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
}

// RegisterBeginHandler starts a passkey registration ceremony for the
// authenticated caller.
// POST /api/v1/register/begin
func (s *Server) RegisterBeginHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFrom(r.Context())
	if !ok {
		s.authFailed(w, "registration without caller identity", nil)
		return
	}

	options, key, err := s.passkeys.BeginRegistration(r.Context(), userID)
	if err != nil {
		slog.Error("registration begin failed", "user_id", userID, "error", err)
		http.Error(w, "registration begin failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challengeKey": key,
		"options":      options,
	})
}

// RegisterFinishHandler completes a registration ceremony.
// POST /api/v1/register/finish
func (s *Server) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChallengeKey string          `json:"challengeKey"`
		Label        string          `json:"label"`
		Credential   json.RawMessage `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChallengeKey == "" {
		http.Error(w, "challengeKey and credential required", http.StatusBadRequest)
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body.Credential))
	if err != nil {
		http.Error(w, "malformed credential", http.StatusBadRequest)
		return
	}

	credential, err := s.passkeys.FinishRegistration(r.Context(), body.ChallengeKey, body.Label, response)
	if err != nil {
		s.authFailed(w, "registration finish rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "registered",
		"credentialId": credential.CredentialID,
	})
}

// LoginBeginHandler starts a passkey login ceremony.
// POST /api/v1/login/begin
func (s *Server) LoginBeginHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		http.Error(w, "email required", http.StatusBadRequest)
		return
	}

	options, key, err := s.passkeys.BeginLogin(r.Context(), body.Email)
	if err != nil {
		s.authFailed(w, "login begin rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challengeKey": key,
		"options":      options,
	})
}

// LoginFinishHandler completes a login ceremony and mints a session.
// POST /api/v1/login/finish
func (s *Server) LoginFinishHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ChallengeKey string          `json:"challengeKey"`
		Credential   json.RawMessage `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChallengeKey == "" {
		http.Error(w, "challengeKey and credential required", http.StatusBadRequest)
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body.Credential))
	if err != nil {
		http.Error(w, "malformed credential", http.StatusBadRequest)
		return
	}

	userID, err := s.passkeys.FinishLogin(r.Context(), body.ChallengeKey, response)
	if err != nil {
		s.authFailed(w, "login finish rejected", err)
		return
	}

	sess, err := s.sessions.Issue(r.Context(), userID, session.MetaFromRequest(r))
	if err != nil {
		slog.Error("session issuance failed", "user_id", userID, "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, s.sessions.Cookie(sess))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "authenticated",
		"sessionId": sess.ID,
		"userId":    userID,
	})
}

// ValidateSessionHandler answers "session valid yes/no" for downstream
// handlers.
// GET /api/v1/session/validate
func (s *Server) ValidateSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		s.authFailed(w, "validate without session", nil)
		return
	}

	sess, err := s.sessions.Validate(r.Context(), id)
	if err != nil {
		s.authFailed(w, "session rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"userId":  sess.UserID,
		"expires": sess.ExpiresAt,
	})
}

// LogoutHandler revokes the caller's session.
// POST /api/v1/logout
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		http.Error(w, "session required", http.StatusBadRequest)
		return
	}

	if err := s.sessions.Revoke(r.Context(), id); err != nil {
		slog.Error("logout failed", "error", err)
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, s.sessions.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// UserInfoHandler returns the internal user id for the authenticated
// caller (token or session); this is the whole contract downstream
// CRUD handlers depend on.
// GET /api/v1/userinfo
func (s *Server) UserInfoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFrom(r.Context())
	if !ok {
		s.authFailed(w, "userinfo without caller identity", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID})
}

// HealthHandler reports liveness.
// GET /health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
