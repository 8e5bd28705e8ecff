package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/andyleap/identity/internal/session"
	"github.com/andyleap/identity/internal/storage"
	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	var cfg Config
	_, err := flags.ParseArgs(&cfg, nil)
	require.NoError(t, err)
	return &cfg
}

func TestDefaultConfigCookieIsSecure(t *testing.T) {
	cfg := defaultConfig(t)
	require.False(t, cfg.CookieInsecure)

	issuer := session.NewIssuer(storage.NewMemoryStore(), cfg.SessionTTL, cfg.CookieDomain, !cfg.CookieInsecure)
	sess, err := issuer.Issue(context.Background(), 42, session.ClientMeta{})
	require.NoError(t, err)

	cookie := issuer.Cookie(sess)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteNoneMode, cookie.SameSite)
	require.True(t, cookie.HttpOnly)
}

func TestCookieInsecureOptOut(t *testing.T) {
	var cfg Config
	_, err := flags.ParseArgs(&cfg, []string{"--cookie-insecure"})
	require.NoError(t, err)
	require.True(t, cfg.CookieInsecure)
}
