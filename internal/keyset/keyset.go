// Package keyset fetches and caches the signing-key set (JWKS)
// published by a token provider.
package keyset

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched key set is served before the next
// verification triggers a refresh.
const DefaultTTL = time.Hour

// Set maps a key ID to its materialized public key.
type Set map[string]crypto.PublicKey

// jwk is the subset of RFC 7517 fields needed to materialize RSA and
// EC verification keys.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// Cache lazily fetches the JWKS endpoint and serves the parsed set
// until the TTL elapses. A failed refresh leaves any previous set
// untouched; a cold cache with a failing endpoint yields an error, so
// verification fails closed.
type Cache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	keys    Set
	fetched time.Time
}

// New creates a cache for the given JWKS URL. A zero ttl means
// DefaultTTL; a nil client gets a 10-second timeout.
func New(url string, ttl time.Duration, client *http.Client) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Cache{
		url:    url,
		ttl:    ttl,
		client: client,
		now:    time.Now,
	}
}

// Get returns the current key set, refetching if the cache is empty or
// past its TTL.
func (c *Cache) Get(ctx context.Context) (Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys != nil && c.now().Before(c.fetched.Add(c.ttl)) {
		return c.keys, nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.keys = keys
	c.fetched = c.now()
	return c.keys, nil
}

func (c *Cache) fetch(ctx context.Context) (Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var doc jwks
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(Set, len(doc.Keys))
	for _, key := range doc.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		public, err := key.publicKey()
		if err != nil {
			// Skip key types we cannot verify with rather than
			// rejecting the whole set.
			continue
		}
		keys[key.Kid] = public
	}
	return keys, nil
}

func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		return k.rsaKey()
	case "EC":
		return k.ecKey()
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func (k jwk) rsaKey() (crypto.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

func (k jwk) ecKey() (crypto.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}

	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}
