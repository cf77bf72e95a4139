package attestation

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/auth-gateway/internal/testutil"
	"github.com/StricklySoft/auth-gateway/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/httpclient"
	"github.com/StricklySoft/auth-gateway/pkg/jwks"
	"github.com/StricklySoft/auth-gateway/pkg/token"
)

type validatorTestEnv struct {
	key       *testutil.SigningKey
	srv       *testutil.JWKSServer
	validator *Validator
}

func validatorTestConfig() Config {
	return Config{
		ProjectID: fixtures.AttestationProject,
		Audience:  fixtures.AttestationAudience,
		AppIDs:    []string{fixtures.IOSAppID, fixtures.AndroidAppID},
	}
}

func validatorTestSetup(t *testing.T) *validatorTestEnv {
	t.Helper()

	key := testutil.NewSigningKey(t, fixtures.AttestationKeyID)
	srv := testutil.NewJWKSServer(t, testutil.JWKSDocument(t, key), "max-age=3600")
	sender := httpclient.New(httpclient.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	cache, err := jwks.New(sender, jwks.Config{URL: srv.URL})
	require.NoError(t, err)
	verifier, err := token.NewVerifier(cache)
	require.NoError(t, err)
	v, err := New(verifier, validatorTestConfig())
	require.NoError(t, err)
	return &validatorTestEnv{key: key, srv: srv, validator: v}
}

func validatorTestClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": IssuerPrefix + fixtures.AttestationProject,
		"aud": []string{"projects/" + fixtures.AttestationProject, "projects/" + fixtures.AttestationAudience},
		"sub": fixtures.IOSAppID,
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Config(t *testing.T) {
	t.Parallel()

	verifier := &token.Verifier{}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no project", func(c *Config) { c.ProjectID = "" }},
		{"no audience", func(c *Config) { c.Audience = "" }},
		{"no apps", func(c *Config) { c.AppIDs = nil }},
		{"only empty apps", func(c *Config) { c.AppIDs = []string{"", ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validatorTestConfig()
			tt.mutate(&cfg)
			_, err := New(verifier, cfg)
			testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
		})
	}

	_, err := New(nil, validatorTestConfig())
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate_KnownApps(t *testing.T) {
	t.Parallel()

	env := validatorTestSetup(t)
	for _, app := range []string{fixtures.IOSAppID, fixtures.AndroidAppID} {
		claims := validatorTestClaims()
		claims["sub"] = app
		require.NoError(t, env.validator.Validate(context.Background(), env.key.Sign(t, claims, nil)), app)
	}
	assert.Equal(t, 1, env.srv.Hits(), "key set cached across tokens")
}

func TestValidate_EitherAudienceAccepted(t *testing.T) {
	t.Parallel()

	env := validatorTestSetup(t)
	for _, aud := range []string{"projects/" + fixtures.AttestationProject, "projects/" + fixtures.AttestationAudience} {
		claims := validatorTestClaims()
		claims["aud"] = []string{"projects/other", aud}
		assert.NoError(t, env.validator.Validate(context.Background(), env.key.Sign(t, claims, nil)), aud)
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	env := validatorTestSetup(t)
	tests := []struct {
		name    string
		mutate  func(jwt.MapClaims)
		header  map[string]any
		code    sserr.Code
		message string
	}{
		{
			name:    "unknown app",
			mutate:  func(c jwt.MapClaims) { c["sub"] = "1:000:web:ffff" },
			code:    sserr.CodeUnknownApp,
			message: MessageUnknownApp,
		},
		{
			name:    "missing subject",
			mutate:  func(c jwt.MapClaims) { delete(c, "sub") },
			code:    sserr.CodeUnknownApp,
			message: MessageUnknownApp,
		},
		{
			name:    "expired",
			mutate:  func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() },
			code:    sserr.CodeTokenInvalid,
			message: MessageExpired,
		},
		{
			name:    "no expiry",
			mutate:  func(c jwt.MapClaims) { delete(c, "exp") },
			code:    sserr.CodeTokenInvalid,
			message: MessageInvalid,
		},
		{
			name:    "wrong issuer",
			mutate:  func(c jwt.MapClaims) { c["iss"] = IssuerPrefix + "999" },
			code:    sserr.CodeTokenInvalid,
			message: MessageInvalid,
		},
		{
			name:    "audience string",
			mutate:  func(c jwt.MapClaims) { c["aud"] = "projects/" + fixtures.AttestationProject },
			code:    sserr.CodeTokenInvalid,
			message: MessageInvalid,
		},
		{
			name:    "audience unrelated",
			mutate:  func(c jwt.MapClaims) { c["aud"] = []string{"projects/other"} },
			code:    sserr.CodeTokenInvalid,
			message: MessageInvalid,
		},
		{
			name:    "typ not JWT",
			mutate:  func(jwt.MapClaims) {},
			header:  map[string]any{"typ": "secevent+jwt"},
			code:    sserr.CodeTokenInvalid,
			message: MessageInvalid,
		},
		{
			name:    "unsafe kid",
			mutate:  func(jwt.MapClaims) {},
			header:  map[string]any{"kid": "../keys"},
			code:    sserr.CodeTokenInvalid,
			message: MessageInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := validatorTestClaims()
			tt.mutate(claims)
			err := env.validator.Validate(context.Background(), env.key.Sign(t, claims, tt.header))
			testutil.RequireErrorCode(t, err, tt.code)

			msg, ok := PublicMessage(err)
			assert.True(t, ok)
			assert.Equal(t, tt.message, msg)
		})
	}
}

func TestValidate_WrongSigningKey(t *testing.T) {
	t.Parallel()

	env := validatorTestSetup(t)
	other := testutil.NewSigningKey(t, fixtures.AttestationKeyID)

	err := env.validator.Validate(context.Background(), other.Sign(t, validatorTestClaims(), nil))
	testutil.RequireErrorCode(t, err, sserr.CodeTokenInvalid)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestValidate_KeySetOutageIsServerError(t *testing.T) {
	t.Parallel()

	env := validatorTestSetup(t)
	env.srv.SetStatus(http.StatusServiceUnavailable)

	err := env.validator.Validate(context.Background(), env.key.Sign(t, validatorTestClaims(), nil))
	testutil.RequireChainCode(t, err, sserr.CodeInternalJWKS)
	_, ok := PublicMessage(err)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// PublicMessage
// ---------------------------------------------------------------------------

func TestPublicMessage_Unclassified(t *testing.T) {
	t.Parallel()

	for _, err := range []error{
		nil,
		errors.New("boom"),
		sserr.Configuration("token: expected issuer is required"),
	} {
		_, ok := PublicMessage(err)
		assert.False(t, ok, "%v", err)
	}
}
