// Package healthcheck proves the shared-signal link end to end: it obtains
// a client-credentials token from the transmitter and asks the
// transmitter to call back with a verification event.
package healthcheck

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/httpclient"
	"github.com/StricklySoft/auth-gateway/pkg/secrets"
)

// DefaultState is sent as the verification request's state value.
const DefaultState = "govuk-app-health-check"

// Config locates the transmitter endpoints and the credential secret.
type Config struct {
	TokenURL   string
	VerifyURL  string
	SecretName string
	State      string
	Retry      *httpclient.RetryConfig
}

// Checker runs the health check. It is safe for concurrent use.
type Checker struct {
	cfg    Config
	store  secrets.Store
	client *httpclient.Client
	logger *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// New returns a Checker. Every URL and the secret name are required.
func New(cfg Config, store secrets.Store, client *httpclient.Client, opts ...Option) (*Checker, error) {
	switch {
	case cfg.TokenURL == "":
		return nil, sserr.Configuration("healthcheck: token URL is required")
	case cfg.VerifyURL == "":
		return nil, sserr.Configuration("healthcheck: verify URL is required")
	case cfg.SecretName == "":
		return nil, sserr.Configuration("healthcheck: secret name is required")
	case store == nil || client == nil:
		return nil, sserr.Configuration("healthcheck: secret store and http client are required")
	}
	if cfg.State == "" {
		cfg.State = DefaultState
	}
	c := &Checker{cfg: cfg, store: store, client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check returns nil only when the transmitter accepted the verification
// request with 204 No Content.
func (c *Checker) Check(ctx context.Context) error {
	token, err := c.authorise(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "healthcheck: authorise failed", "error", err)
		return err
	}
	if err := c.verify(ctx, token); err != nil {
		c.logger.ErrorContext(ctx, "healthcheck: verify failed", "error", err)
		return err
	}
	c.logger.InfoContext(ctx, "healthcheck: verification requested")
	return nil
}

func (c *Checker) authorise(ctx context.Context) (string, error) {
	creds, err := secrets.ClientCredentials(ctx, c.store, c.cfg.SecretName)
	if err != nil {
		return "", err
	}
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     c.cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := (&httpclient.Transport{Client: c.client, Retry: c.cfg.Retry}).HTTPClient()
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, base))
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeAuthentication, "healthcheck: token request failed")
	}
	return tok.AccessToken, nil
}

func (c *Checker) verify(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"state": c.cfg.State})
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "healthcheck: encode request")
	}
	resp, err := c.client.Send(ctx, httpclient.RequestSpec{
		Method: http.MethodPost,
		URL:    c.cfg.VerifyURL,
		Header: http.Header{
			"Content-Type":  {"application/json"},
			"Authorization": {"Bearer " + token},
		},
		Body: body,
	}, c.cfg.Retry)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent {
		return sserr.Newf(sserr.CodeUnavailableUpstream,
			"healthcheck: verification returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
