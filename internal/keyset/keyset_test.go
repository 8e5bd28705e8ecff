package keyset

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func jwksDocument(t *testing.T, kid string, key *rsa.PublicKey) []byte {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestGetCachesWithinTTL(t *testing.T) {
	key := testKey(t)
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(jwksDocument(t, "key-1", &key.PublicKey))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, nil)

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Contains(t, first, "key-1")

	second, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Contains(t, second, "key-1")

	require.Equal(t, int32(1), fetches.Load())
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	key := testKey(t)
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write(jwksDocument(t, "key-1", &key.PublicKey))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	now = now.Add(61 * time.Minute)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)

	require.Equal(t, int32(2), fetches.Load())
}

func TestGetFailsClosedOnColdCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, nil)

	_, err := cache.Get(context.Background())
	require.Error(t, err)
}

func TestFailedRefreshKeepsPreviousSet(t *testing.T) {
	key := testKey(t)
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(jwksDocument(t, "key-1", &key.PublicKey))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, nil)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	// The refresh fails, but the previous set stays in place so a
	// later successful refresh is not needed for recovery state.
	fail.Store(true)
	now = now.Add(2 * time.Hour)
	_, err = cache.Get(context.Background())
	require.Error(t, err)

	fail.Store(false)
	keys, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Contains(t, keys, "key-1")
}

func TestUnsupportedKeysAreSkipped(t *testing.T) {
	key := testKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"keys": []map[string]string{
				{"kty": "oct", "kid": "sym-1"},
				{
					"kty": "RSA",
					"kid": "key-1",
					"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
				},
			},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, nil)
	keys, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Contains(t, keys, "key-1")
	require.NotContains(t, keys, "sym-1")
}
