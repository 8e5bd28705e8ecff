package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andyleap/identity/internal/auth"
	"github.com/andyleap/identity/internal/challenge"
	"github.com/andyleap/identity/internal/identity"
	"github.com/andyleap/identity/internal/models"
	"github.com/andyleap/identity/internal/session"
	"github.com/andyleap/identity/internal/storage"
	"github.com/andyleap/identity/internal/token"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server *Server
	store  *storage.MemoryStore
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
	})
	require.NoError(t, err)

	passkeys := auth.NewPasskeyService(wa, store, challenge.NewMemoryStore(challenge.DefaultTTL))
	sessions := session.NewIssuer(store, time.Hour, "", false)
	return &serverFixture{
		server: NewServer(passkeys, sessions, token.NewMulti(), identity.NewResolver(store)),
		store:  store,
	}
}

func (f *serverFixture) createUser(t *testing.T, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email}
	require.NoError(t, f.store.CreateUser(context.Background(), user))
	return user
}

func (f *serverFixture) issueSession(t *testing.T, userID int64) *models.Session {
	t.Helper()
	sess, err := f.server.sessions.Issue(context.Background(), userID, session.ClientMeta{})
	require.NoError(t, err)
	return sess
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthenticateNoCredentials(t *testing.T) {
	f := newServerFixture(t)
	handler := f.server.Authenticate(http.HandlerFunc(f.server.UserInfoHandler))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/userinfo", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
}

func TestAuthenticateSessionCookie(t *testing.T) {
	f := newServerFixture(t)
	user := f.createUser(t, "a@b.com")
	sess := f.issueSession(t, user.ID)

	handler := f.server.Authenticate(http.HandlerFunc(f.server.UserInfoHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/userinfo", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(user.ID), decodeBody(t, rec)["userId"])
}

func TestAuthenticateSessionHeader(t *testing.T) {
	f := newServerFixture(t)
	user := f.createUser(t, "a@b.com")
	sess := f.issueSession(t, user.ID)

	handler := f.server.Authenticate(http.HandlerFunc(f.server.UserInfoHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/userinfo", nil)
	req.Header.Set("X-Session-ID", sess.ID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticateUnknownSession(t *testing.T) {
	f := newServerFixture(t)
	handler := f.server.Authenticate(http.HandlerFunc(f.server.UserInfoHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/userinfo", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "bogus"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticateBadBearerToken(t *testing.T) {
	f := newServerFixture(t)
	handler := f.server.Authenticate(http.HandlerFunc(f.server.UserInfoHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/userinfo", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
}

func TestValidateSessionHandler(t *testing.T) {
	f := newServerFixture(t)
	user := f.createUser(t, "a@b.com")
	sess := f.issueSession(t, user.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/validate", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	f.server.ValidateSessionHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["valid"])
	require.Equal(t, float64(user.ID), body["userId"])
}

func TestValidateSessionHandlerMissing(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.ValidateSessionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session/validate", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/validate", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "bogus"})
	rec = httptest.NewRecorder()
	f.server.ValidateSessionHandler(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutHandler(t *testing.T) {
	f := newServerFixture(t)
	user := f.createUser(t, "a@b.com")
	sess := f.issueSession(t, user.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logout", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: sess.ID})
	rec := httptest.NewRecorder()
	f.server.LogoutHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "logged_out", decodeBody(t, rec)["status"])

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, session.CookieName, cookies[0].Name)
	require.Equal(t, -1, cookies[0].MaxAge)

	_, err := f.server.sessions.Validate(context.Background(), sess.ID)
	require.Error(t, err)
}

func TestLogoutHandlerWithoutSession(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.LogoutHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/logout", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginBeginHandlerBadInput(t *testing.T) {
	f := newServerFixture(t)

	for _, body := range []string{"", "{}", "not json"} {
		rec := httptest.NewRecorder()
		f.server.LoginBeginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/login/begin", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestLoginBeginHandlerUnknownEmail(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.LoginBeginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/login/begin", strings.NewReader(`{"email":"ghost@b.com"}`)))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
}

func TestRegisterBeginHandler(t *testing.T) {
	f := newServerFixture(t)
	user := f.createUser(t, "a@b.com")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/register/begin", nil)
	req = req.WithContext(WithUser(req.Context(), user.ID))
	rec := httptest.NewRecorder()
	f.server.RegisterBeginHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["challengeKey"])
	require.NotNil(t, body["options"])
}

func TestRegisterBeginHandlerUnauthenticated(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.RegisterBeginHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register/begin", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterFinishHandlerBadInput(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.RegisterFinishHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register/finish", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.server.RegisterFinishHandler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register/finish",
		strings.NewReader(`{"challengeKey":"k","credential":{"bogus":true}}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.server.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/login/begin", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
