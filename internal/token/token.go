// Package token verifies externally issued bearer tokens against a
// cached signing-key set.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andyleap/identity/internal/keyset"
	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. All surface to HTTP callers as a generic 401;
// the precise kind is only logged.
var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrUnknownSigningKey = errors.New("unknown signing key")
	ErrBadSignature      = errors.New("bad signature")
	ErrTokenExpired      = errors.New("token expired")
	ErrIssuerMismatch    = errors.New("issuer mismatch")
	ErrAudienceMismatch  = errors.New("audience mismatch")
	ErrMissingSubject    = errors.New("missing subject")
)

// Config describes one token provider.
type Config struct {
	Name      string `yaml:"name"`
	Authority string `yaml:"authority"`
	PoolID    string `yaml:"pool_id"`
	ClientID  string `yaml:"client_id"`
	// UsernameClaim is the provider-specific claim consulted when the
	// standard subject claim is absent (e.g. "cognito:username").
	UsernameClaim string `yaml:"username_claim"`
	// StrictAudience controls whether an audience/client-id mismatch
	// rejects the token or is merely logged.
	StrictAudience bool `yaml:"strict_audience"`
}

// Issuer is the expected iss claim, built from the authority and pool.
func (c Config) Issuer() string {
	return strings.TrimRight(c.Authority, "/") + "/" + c.PoolID
}

// JWKSURL is where the provider publishes its signing keys.
func (c Config) JWKSURL() string {
	return c.Issuer() + "/.well-known/jwks.json"
}

// Claims is the verified token payload handed to the identity resolver.
type Claims struct {
	Subject    string
	Issuer     string
	TokenUse   string
	Email      string
	GivenName  string
	FamilyName string
	Raw        jwt.MapClaims
}

// Verifier validates tokens for a single provider.
type Verifier struct {
	cfg  Config
	keys *keyset.Cache
	now  func() time.Time
}

func New(cfg Config, keys *keyset.Cache) *Verifier {
	return &Verifier{
		cfg:  cfg,
		keys: keys,
		now:  time.Now,
	}
}

// Config returns the provider configuration this verifier enforces.
func (v *Verifier) Config() Config {
	return v.cfg
}

var validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Verify runs the full check sequence: shape, key lookup, signature,
// expiry, issuer, audience, subject. Earlier failures win.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformedToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(parts[1]); err != nil {
		return nil, ErrMalformedToken
	}

	var header struct {
		Kid string `json:"kid"`
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, ErrMalformedToken
	}

	keys, err := v.keys.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load signing keys: %w", err)
	}
	key, ok := keys[header.Kid]
	if !ok {
		return nil, ErrUnknownSigningKey
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(validMethods),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || !exp.After(v.now()) {
		return nil, ErrTokenExpired
	}

	issuer, err := claims.GetIssuer()
	if err != nil || issuer != v.cfg.Issuer() {
		return nil, ErrIssuerMismatch
	}

	tokenUse, _ := claims["token_use"].(string)
	if err := v.checkAudience(claims, tokenUse); err != nil {
		return nil, err
	}

	subject, _ := claims.GetSubject()
	if subject == "" {
		subject, _ = claims[v.cfg.UsernameClaim].(string)
	}
	if subject == "" {
		return nil, ErrMissingSubject
	}

	return &Claims{
		Subject:    subject,
		Issuer:     issuer,
		TokenUse:   tokenUse,
		Email:      stringClaim(claims, "email"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Raw:        claims,
	}, nil
}

// checkAudience compares the token's audience (id tokens) or client_id
// (access tokens) with the configured client. In lenient mode a
// mismatch is logged for operators but does not reject the token.
func (v *Verifier) checkAudience(claims jwt.MapClaims, tokenUse string) error {
	matched := false
	if tokenUse == "access" {
		clientID, _ := claims["client_id"].(string)
		matched = clientID == v.cfg.ClientID
	} else {
		audience, _ := claims.GetAudience()
		for _, aud := range audience {
			if aud == v.cfg.ClientID {
				matched = true
				break
			}
		}
	}

	if matched {
		return nil
	}
	if v.cfg.StrictAudience {
		return ErrAudienceMismatch
	}
	slog.Warn("token audience mismatch", "provider", v.cfg.Name, "token_use", tokenUse)
	return nil
}

func stringClaim(claims jwt.MapClaims, name string) string {
	value, _ := claims[name].(string)
	return value
}

// MultiVerifier routes a token to the verifier whose issuer matches its
// unverified iss claim, so providers are selected by configuration
// rather than by call site.
type MultiVerifier struct {
	verifiers []*Verifier
}

func NewMulti(verifiers ...*Verifier) *MultiVerifier {
	return &MultiVerifier{verifiers: verifiers}
}

func (m *MultiVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if len(m.verifiers) == 0 {
		return nil, ErrIssuerMismatch
	}

	issuer, err := peekIssuer(raw)
	if err != nil {
		return nil, err
	}
	for _, v := range m.verifiers {
		if v.cfg.Issuer() == issuer {
			return v.Verify(ctx, raw)
		}
	}
	// No configured provider claims this issuer; run the first
	// verifier so the caller still gets the full check sequence.
	claims, err := m.verifiers[0].Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// peekIssuer decodes the payload without verification, purely to route
// the token to a provider. Nothing here is trusted.
func peekIssuer(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedToken
	}
	var body struct {
		Issuer string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", ErrMalformedToken
	}
	return body.Issuer, nil
}
