// Package attestation checks mobile app attestation tokens issued by
// Firebase App Check before a token exchange is forwarded.
package attestation

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/token"
)

const (
	// IssuerPrefix is followed by the project number in iss.
	IssuerPrefix = "https://firebaseappcheck.googleapis.com/"

	// JWKSURL serves the App Check signing keys.
	JWKSURL = "https://firebaseappcheck.googleapis.com/v1/jwks"

	// Algorithm is the only accepted signing algorithm.
	Algorithm = "RS256"
)

// Public rejection messages.
const (
	MessageExpired    = "Attestation token has expired"
	MessageInvalid    = "Attestation token is invalid"
	MessageUnknownApp = "Unknown app associated with attestation token"
)

// Config names the project and apps whose tokens are accepted.
type Config struct {
	// ProjectID appears in iss and as one accepted audience.
	ProjectID string

	// Audience is the second accepted audience, matched as projects/<Audience>.
	Audience string

	// AppIDs are the mobile app ids accepted as sub.
	AppIDs []string
}

// Verifier is satisfied by *token.Verifier.
type Verifier interface {
	Verify(ctx context.Context, raw string, want token.Expected) (token.Claims, error)
}

// Validator accepts or rejects attestation tokens.
type Validator struct {
	verifier  Verifier
	cfg       Config
	expected  token.Expected
	audiences []string
	logger    *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New returns a Validator for cfg.
func New(verifier Verifier, cfg Config, opts ...Option) (*Validator, error) {
	switch {
	case verifier == nil:
		return nil, sserr.Configuration("attestation: verifier is required")
	case cfg.ProjectID == "":
		return nil, sserr.Configuration("attestation: project id is required")
	case cfg.Audience == "":
		return nil, sserr.Configuration("attestation: audience is required")
	case len(slices.DeleteFunc(slices.Clone(cfg.AppIDs), func(s string) bool { return s == "" })) == 0:
		return nil, sserr.Configuration("attestation: at least one app id is required")
	}

	v := &Validator{
		verifier: verifier,
		cfg:      cfg,
		expected: token.Expected{
			Issuer:        IssuerPrefix + cfg.ProjectID,
			Algorithm:     Algorithm,
			Type:          token.TypeJWT,
			RequireExpiry: true,
		},
		audiences: []string{"projects/" + cfg.Audience, "projects/" + cfg.ProjectID},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate verifies raw and then requires a known app in sub and an aud
// array naming the project. An unknown app is a [sserr.CodeUnknownApp]
// error; every other rejection is [sserr.CodeTokenInvalid].
func (v *Validator) Validate(ctx context.Context, raw string) error {
	claims, err := v.verifier.Verify(ctx, raw, v.expected)
	if err != nil {
		return err
	}

	sub := claims.Subject()
	if sub == "" || !slices.Contains(v.cfg.AppIDs, sub) {
		return sserr.New(sserr.CodeUnknownApp, "attestation: subject is not a known app")
	}

	if !claims.AudienceIsArray() || !slices.ContainsFunc(claims.Audience(), func(a string) bool {
		return slices.Contains(v.audiences, a)
	}) {
		return sserr.TokenInvalid("token: audience does not match")
	}

	v.logger.InfoContext(ctx, "attestation: token valid", "app_id", sub)
	return nil
}

// PublicMessage returns the 401 response message for an error from
// Validate. ok is false when err should instead surface as a server error,
// as when the key set could not be fetched.
func PublicMessage(err error) (msg string, ok bool) {
	switch {
	case err == nil:
		return "", false
	case sserr.ChainHasCode(err, sserr.CodeInternalJWKS):
		return "", false
	case sserr.HasCode(err, sserr.CodeUnknownApp):
		return MessageUnknownApp, true
	case !sserr.HasCode(err, sserr.CodeTokenInvalid):
		return "", false
	case errors.Is(err, jwt.ErrTokenExpired):
		return MessageExpired, true
	default:
		return MessageInvalid, true
	}
}
