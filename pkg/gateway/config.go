package gateway

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/auth-gateway/pkg/attestation"
	"github.com/StricklySoft/auth-gateway/pkg/clients/postgres"
	"github.com/StricklySoft/auth-gateway/pkg/clients/redis"
	"github.com/StricklySoft/auth-gateway/pkg/config"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/server"
)

// EnvPrefix prefixes every environment variable the gateway reads.
const EnvPrefix = "AUTHGW"

// Flag sources.
const (
	FlagSourceStatic = "static"
	FlagSourceRedis  = "redis"
)

// Config is the whole gateway configuration.
type Config struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX" envDefault:"authgw"`

	// ManageSchema creates the directory table at startup.
	ManageSchema bool `yaml:"manage_schema" env:"MANAGE_SCHEMA" envDefault:"true"`

	Server      server.Config     `yaml:"server" env:"SERVER"`
	Proxy       ProxyConfig       `yaml:"proxy" env:"PROXY"`
	Attestation AttestationConfig `yaml:"attestation" env:"ATTESTATION"`
	Signals     SignalsConfig     `yaml:"signals" env:"SIGNALS"`
	HealthCheck HealthCheckConfig `yaml:"health_check" env:"HEALTH_CHECK"`
	Flags       FlagsConfig       `yaml:"flags" env:"FLAGS"`
	Secrets     SecretsConfig     `yaml:"secrets" env:"SECRETS"`
	Redis       redis.Config      `yaml:"redis" env:"REDIS"`
	Postgres    postgres.Config   `yaml:"postgres" env:"POSTGRES"`
}

// ProxyConfig points the token proxy at the identity provider.
type ProxyConfig struct {
	// IdentityProviderURL is the provider's base URL; the token endpoint is
	// <IdentityProviderURL>/oauth2/token.
	IdentityProviderURL string `yaml:"identity_provider_url" env:"IDP_URL" required:"true"`

	// CustomDomain and Region, when both set, pin IdentityProviderURL to
	// https://<CustomDomain>.auth.<Region>.amazoncognito.com.
	CustomDomain string `yaml:"custom_domain" env:"CUSTOM_DOMAIN"`
	Region       string `yaml:"region" env:"REGION"`

	SecretName  string        `yaml:"secret_name" env:"SECRET_NAME" required:"true"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT" envDefault:"3s"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"2" validate:"gte=1,lte=5"`
}

// AttestationConfig identifies the attestation project and accepted apps.
// Leaving ProjectID empty disables attestation support entirely.
type AttestationConfig struct {
	ProjectID    string        `yaml:"project_id" env:"PROJECT_ID"`
	Audience     string        `yaml:"audience" env:"AUDIENCE"`
	IOSAppID     string        `yaml:"ios_app_id" env:"IOS_APP_ID"`
	AndroidAppID string        `yaml:"android_app_id" env:"ANDROID_APP_ID"`
	JWKSURL      string        `yaml:"jwks_url" env:"JWKS_URL" envDefault:"https://firebaseappcheck.googleapis.com/v1/jwks" validate:"url"`
	JWKSTimeout  time.Duration `yaml:"jwks_timeout" env:"JWKS_TIMEOUT" envDefault:"5s"`
}

// Enabled reports whether attestation is configured.
func (c AttestationConfig) Enabled() bool { return c.ProjectID != "" }

func (c AttestationConfig) validator() attestation.Config {
	return attestation.Config{
		ProjectID: c.ProjectID,
		Audience:  c.Audience,
		AppIDs:    []string{c.IOSAppID, c.AndroidAppID},
	}
}

// SignalsConfig identifies the trusted security-event transmitter.
type SignalsConfig struct {
	Issuer      string        `yaml:"issuer" env:"ISSUER" required:"true"`
	Audience    string        `yaml:"audience" env:"AUDIENCE" required:"true"`
	JWKSURL     string        `yaml:"jwks_url" env:"JWKS_URL" required:"true" validate:"omitempty,url"`
	Algorithm   string        `yaml:"algorithm" env:"ALGORITHM" envDefault:"RS256" validate:"oneof=RS256 RS384 RS512 PS256 ES256"`
	JWKSTimeout time.Duration `yaml:"jwks_timeout" env:"JWKS_TIMEOUT" envDefault:"5s"`
	Leeway      time.Duration `yaml:"leeway" env:"LEEWAY"`
	ReplayTTL   time.Duration `yaml:"replay_ttl" env:"REPLAY_TTL" envDefault:"24h"`
}

// HealthCheckConfig locates the transmitter's verification endpoints.
type HealthCheckConfig struct {
	TokenURL   string `yaml:"token_url" env:"TOKEN_URL" validate:"omitempty,url"`
	VerifyURL  string `yaml:"verify_url" env:"VERIFY_URL" validate:"omitempty,url"`
	SecretName string `yaml:"secret_name" env:"SECRET_NAME"`
	State      string `yaml:"state" env:"STATE"`
}

// FlagsConfig selects where feature flags come from. Static values are
// used only by the static source.
type FlagsConfig struct {
	Source       string        `yaml:"source" env:"SOURCE" envDefault:"static" validate:"oneof=static redis"`
	Attestation  bool          `yaml:"attestation" env:"ATTESTATION"`
	SharedSignal bool          `yaml:"shared_signal" env:"SHARED_SIGNAL"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"15m"`
}

// SecretsConfig locates mounted secret documents.
type SecretsConfig struct {
	Dir    string        `yaml:"dir" env:"DIR" required:"true"`
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE" envDefault:"60m"`
}

// Load reads configuration from file (optional) and the environment.
func Load(file, prefix string, lookup config.LookupFunc) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	var cfg Config
	err := config.New().WithEnvPrefix(prefix).WithFile(file).WithLookup(lookup).Load(&cfg)
	return cfg, err
}

// Validate checks the rules struct tags cannot express.
func (c *Config) Validate() error {
	if err := validateIdentityProviderURL(c.Proxy); err != nil {
		return err
	}
	if c.Attestation.Enabled() {
		a := c.Attestation
		if a.Audience == "" || a.IOSAppID == "" || a.AndroidAppID == "" {
			return sserr.Configuration("gateway: attestation needs audience, ios_app_id and android_app_id")
		}
	} else if c.Flags.Source == FlagSourceStatic && c.Flags.Attestation {
		return sserr.Configuration("gateway: attestation flag is on but attestation is not configured")
	}
	if c.Flags.Source == FlagSourceRedis && !c.Redis.Enabled() {
		return sserr.Configuration("gateway: redis flag source needs a redis server")
	}
	if !c.Postgres.Enabled() {
		return sserr.Configuration("gateway: postgres is required for the user directory")
	}
	return nil
}

// HealthCheckEnabled reports whether every health check field is set.
func (c *Config) HealthCheckEnabled() bool {
	h := c.HealthCheck
	return h.TokenURL != "" && h.VerifyURL != "" && h.SecretName != ""
}

// TokenURL is the identity provider's token endpoint.
func (c ProxyConfig) TokenURL() string {
	return strings.TrimSuffix(c.IdentityProviderURL, "/") + "/oauth2/token"
}

func validateIdentityProviderURL(c ProxyConfig) error {
	u, err := url.Parse(c.IdentityProviderURL)
	if err != nil || u.Host == "" {
		return sserr.Configurationf("gateway: identity provider URL %q is not a URL", c.IdentityProviderURL)
	}
	if u.Scheme != "https" {
		return sserr.Configurationf("gateway: identity provider URL %q must use https", c.IdentityProviderURL)
	}
	if c.CustomDomain == "" || c.Region == "" {
		return nil
	}
	want := fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", c.CustomDomain, c.Region)
	if strings.TrimSuffix(c.IdentityProviderURL, "/") != want {
		return sserr.Configurationf("gateway: identity provider URL %q does not match %s", c.IdentityProviderURL, want)
	}
	return nil
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
