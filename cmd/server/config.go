package main

import (
	"fmt"
	"os"
	"time"

	"github.com/andyleap/identity/internal/token"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options
type Config struct {
	// Server config
	Port      string   `long:"port" env:"PORT" default:"8443" description:"Server port"`
	RPID      string   `long:"rp-id" env:"RP_ID" default:"localhost" description:"Relying party ID"`
	RPOrigins []string `long:"rp-origin" env:"RP_ORIGIN" env-delim:"," default:"https://localhost:8443" description:"Relying party origins"`

	// Session config
	CookieDomain string `long:"cookie-domain" env:"COOKIE_DOMAIN" description:"Session cookie domain (empty for host-only)"`
	// The cookie is SameSite=None, so browsers require Secure; the
	// opt-out exists for plain-HTTP local development only.
	CookieInsecure bool          `long:"cookie-insecure" env:"COOKIE_INSECURE" description:"Omit the Secure attribute from the session cookie (local development only)"`
	SessionTTL     time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"720h" description:"Session lifetime"`

	// Token providers
	ProvidersFile string        `long:"providers" env:"PROVIDERS_FILE" default:"providers.yaml" description:"Token provider config file"`
	KeysetTTL     time.Duration `long:"keyset-ttl" env:"KEYSET_TTL" default:"1h" description:"Signing-key cache lifetime"`

	// Challenge store
	ChallengeMode  string        `long:"challenge-mode" env:"CHALLENGE_MODE" default:"memory" choice:"memory" choice:"redis" description:"Challenge store backend"`
	ChallengeTTL   time.Duration `long:"challenge-ttl" env:"CHALLENGE_TTL" default:"5m" description:"Ceremony challenge lifetime"`
	ChallengeSweep time.Duration `long:"challenge-sweep" env:"CHALLENGE_SWEEP" default:"1m" description:"Expired challenge sweep interval"`

	// Persistence
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/identity.db" description:"SQLite database path"`

	// Redis config
	Redis struct {
		Addr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
		Password string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	} `group:"Redis Options"`
}

// LoadConfig parses configuration from environment variables and command line flags
func LoadConfig() (*Config, error) {
	var config Config

	parser := flags.NewParser(&config, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// LoadProviders reads the declared token providers. Which verifier
// handles a bearer token is decided here, not by the handler importing
// a provider package.
func LoadProviders(path string) ([]token.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var doc struct {
		Providers []token.Config `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	for _, provider := range doc.Providers {
		if provider.Authority == "" || provider.PoolID == "" || provider.ClientID == "" {
			return nil, fmt.Errorf("provider %q: authority, pool_id and client_id are required", provider.Name)
		}
	}
	return doc.Providers, nil
}
