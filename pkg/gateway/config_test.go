package gateway

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/auth-gateway/internal/testutil"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// configTestEnv is the smallest environment that loads.
func configTestEnv(extra map[string]string) map[string]string {
	env := map[string]string{
		"AUTHGW_PROXY_IDP_URL":     "https://auth.example.com",
		"AUTHGW_PROXY_SECRET_NAME": "idp-client",
		"AUTHGW_SIGNALS_ISSUER":    "https://ssf.example.com/",
		"AUTHGW_SIGNALS_AUDIENCE":  "https://app.example.com",
		"AUTHGW_SIGNALS_JWKS_URL":  "https://ssf.example.com/.well-known/jwks.json",
		"AUTHGW_SECRETS_DIR":       "/run/secrets",
		"AUTHGW_POSTGRES_URI":      "postgres://gw:pw@db:5432/authgw",
	}
	for k, v := range extra {
		if v == "" {
			delete(env, k)
			continue
		}
		env[k] = v
	}
	return env
}

func configTestLoad(env map[string]string) (Config, error) {
	return Load("", "", func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := configTestLoad(configTestEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "authgw", cfg.KeyPrefix)
	assert.True(t, cfg.ManageSchema)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, 2, cfg.Proxy.MaxAttempts)
	assert.Equal(t, "https://auth.example.com/oauth2/token", cfg.Proxy.TokenURL())
	assert.Equal(t, "RS256", cfg.Signals.Algorithm)
	assert.Equal(t, 5*time.Second, cfg.Signals.JWKSTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Signals.ReplayTTL)
	assert.Equal(t, "https://firebaseappcheck.googleapis.com/v1/jwks", cfg.Attestation.JWKSURL)
	assert.False(t, cfg.Attestation.Enabled())
	assert.Equal(t, FlagSourceStatic, cfg.Flags.Source)
	assert.Equal(t, 15*time.Minute, cfg.Flags.CacheTTL)
	assert.Equal(t, time.Hour, cfg.Secrets.MaxAge)
	assert.False(t, cfg.HealthCheckEnabled())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoad_CustomPrefixAndFile(t *testing.T) {
	t.Parallel()

	file := testutil.TempFile(t, "gateway.yaml", `
log_level: debug
proxy:
  identity_provider_url: https://login.example.auth.eu-west-2.amazoncognito.com
  custom_domain: login.example
  region: eu-west-2
  secret_name: idp-client
signals:
  issuer: https://ssf.example.com/
  audience: https://app.example.com
  jwks_url: https://ssf.example.com/jwks
secrets:
  dir: /run/secrets
postgres:
  uri: postgres://gw@db/authgw
health_check:
  token_url: https://ssf.example.com/token
  verify_url: https://ssf.example.com/verify
  secret_name: ssf-health
`)
	cfg, err := Load(file, "GW", func(key string) (string, bool) {
		if key == "GW_FLAGS_SHARED_SIGNAL" {
			return "true", true
		}
		return "", false
	})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.True(t, cfg.Flags.SharedSignal)
	assert.True(t, cfg.HealthCheckEnabled())
	assert.Equal(t, "https://login.example.auth.eu-west-2.amazoncognito.com/oauth2/token", cfg.Proxy.TokenURL())
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestLoad_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra map[string]string
	}{
		{"missing idp url", map[string]string{"AUTHGW_PROXY_IDP_URL": ""}},
		{"missing secrets dir", map[string]string{"AUTHGW_SECRETS_DIR": ""}},
		{"missing issuer", map[string]string{"AUTHGW_SIGNALS_ISSUER": ""}},
		{"plain http idp", map[string]string{"AUTHGW_PROXY_IDP_URL": "http://auth.example.com"}},
		{"idp not a url", map[string]string{"AUTHGW_PROXY_IDP_URL": "auth.example.com"}},
		{"idp domain mismatch", map[string]string{
			"AUTHGW_PROXY_IDP_URL":       "https://evil.auth.eu-west-2.amazoncognito.com",
			"AUTHGW_PROXY_CUSTOM_DOMAIN": "login",
			"AUTHGW_PROXY_REGION":        "eu-west-2",
		}},
		{"bad log level", map[string]string{"AUTHGW_LOG_LEVEL": "verbose"}},
		{"bad algorithm", map[string]string{"AUTHGW_SIGNALS_ALGORITHM": "HS256"}},
		{"unknown flag source", map[string]string{"AUTHGW_FLAGS_SOURCE": "consul"}},
		{"redis flags without redis", map[string]string{"AUTHGW_FLAGS_SOURCE": "redis"}},
		{"attestation flag without project", map[string]string{"AUTHGW_FLAGS_ATTESTATION": "true"}},
		{"partial attestation", map[string]string{"AUTHGW_ATTESTATION_PROJECT_ID": "proj"}},
		{"no postgres", map[string]string{"AUTHGW_POSTGRES_URI": ""}},
		{"too many attempts", map[string]string{"AUTHGW_PROXY_MAX_ATTEMPTS": "9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := configTestLoad(configTestEnv(tt.extra))
			testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
		})
	}
}

func TestLoad_Accepts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra map[string]string
	}{
		{"matching custom domain", map[string]string{
			"AUTHGW_PROXY_IDP_URL":       "https://login.auth.eu-west-2.amazoncognito.com/",
			"AUTHGW_PROXY_CUSTOM_DOMAIN": "login",
			"AUTHGW_PROXY_REGION":        "eu-west-2",
		}},
		{"domain without region is not pinned", map[string]string{"AUTHGW_PROXY_CUSTOM_DOMAIN": "login"}},
		{"full attestation", map[string]string{
			"AUTHGW_ATTESTATION_PROJECT_ID":     "proj",
			"AUTHGW_ATTESTATION_AUDIENCE":       "123456",
			"AUTHGW_ATTESTATION_IOS_APP_ID":     "1:123:ios:abc",
			"AUTHGW_ATTESTATION_ANDROID_APP_ID": "1:123:android:def",
			"AUTHGW_FLAGS_ATTESTATION":          "true",
		}},
		{"redis flags", map[string]string{"AUTHGW_FLAGS_SOURCE": "redis", "AUTHGW_REDIS_URI": "redis://cache:6379/0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := configTestLoad(configTestEnv(tt.extra))
			require.NoError(t, err)
		})
	}
}

func TestConfig_Level(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	} {
		c := Config{LogLevel: in}
		assert.Equal(t, want, c.Level(), in)
	}
}
