package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Roster sources.
const (
	RosterDB     = "db"
	RosterHTTP   = "http"
	RosterStatic = "static"
)

// Auth modes.
const (
	AuthDevelopment = "development"
	AuthExternal    = "external"
	AuthSharedKey   = "shared-key"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	AuthMode       string        `mapstructure:"AUTH_MODE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	StoreBackend   string        `mapstructure:"STORE_BACKEND"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	FanoutChannel  string        `mapstructure:"FANOUT_CHANNEL"`
	RosterSource   string        `mapstructure:"ROSTER_SOURCE"`
	RosterURL      string        `mapstructure:"ROSTER_URL"`
	RosterTimeout  time.Duration `mapstructure:"ROSTER_TIMEOUT"`
	RosterFile     string        `mapstructure:"ROSTER_FILE"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant  string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"STORE_BACKEND", "REDIS_URL", "FANOUT_CHANNEL", "ROSTER_SOURCE", "ROSTER_URL",
	"ROSTER_TIMEOUT", "ROSTER_FILE", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "REQUEST_TIMEOUT", "BODY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV and AUTH_*
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("FANOUT_CHANNEL", "wardops:changes")
	v.SetDefault("ROSTER_SOURCE", "") // "" -> db for postgres, static for memory
	v.SetDefault("ROSTER_TIMEOUT", "5s")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "256K")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if cfg.DatabaseURL == "" && cfg.needsDatabase() {
		return nil, fmt.Errorf("DATABASE_URL is required unless STORE_BACKEND=memory")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise:
//   - ENV=development        → "development" (dev identities, no tokens)
//   - AUTH_ISSUER or JWKS    → "external" (RS256 via JWKS)
//   - AUTH_SIGNING_KEY       → "shared-key" (HS256, test deployments)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthDevelopment
	}
	if c.AuthIssuer != "" || c.AuthJWKSURL != "" {
		return AuthExternal
	}
	if c.AuthSigningKey != "" {
		return AuthSharedKey
	}
	return ""
}

// ResolvedRosterSource returns ROSTER_SOURCE when set, otherwise the roster
// that matches the store backend.
func (c *Config) ResolvedRosterSource() string {
	if c.RosterSource != "" {
		return strings.ToLower(c.RosterSource)
	}
	if c.StoreBackend == BackendMemory {
		return RosterStatic
	}
	return RosterDB
}

func (c *Config) needsDatabase() bool {
	return c.StoreBackend != BackendMemory || c.ResolvedRosterSource() == RosterDB
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StoreBackend)
	}

	switch c.ResolvedRosterSource() {
	case RosterDB:
		if c.DatabaseURL == "" {
			return fmt.Errorf("ROSTER_SOURCE=db requires DATABASE_URL")
		}
	case RosterHTTP:
		if c.RosterURL == "" {
			return fmt.Errorf("ROSTER_URL is required when ROSTER_SOURCE=http")
		}
	case RosterStatic:
	default:
		return fmt.Errorf("ROSTER_SOURCE must be db, http or static, got %q", c.RosterSource)
	}
	if c.RosterTimeout <= 0 {
		return fmt.Errorf("ROSTER_TIMEOUT must be positive, got %s", c.RosterTimeout)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case AuthDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case AuthExternal:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is %q", AuthExternal)
		}
	case AuthSharedKey:
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must be set when AUTH_MODE is %q", AuthSharedKey)
		}
		if c.IsProduction() {
			return fmt.Errorf("AUTH_SIGNING_KEY is for test deployments; configure AUTH_ISSUER in production")
		}
	case "":
		return fmt.Errorf(
			"no authentication configured (ENV=%q). Set AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY", c.Env)
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q or %q, got %q", AuthDevelopment, AuthExternal, AuthSharedKey, mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
