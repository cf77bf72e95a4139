package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

const maxSQLLen = 100

// Defaults applied by Validate.
const (
	DefaultPort           = 5432
	DefaultMaxConns int32 = 10
	DefaultMinConns int32 = 1
	DefaultConnectTimeout = 5 * time.Second
	DefaultHealthTimeout  = 3 * time.Second
)

// SSLMode is a libpq sslmode value.
type SSLMode string

// Supported SSL modes.
const (
	SSLModeDisable    SSLMode = "disable"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Valid reports whether m is a supported mode.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

// Secret hides its value from fmt, %#v and text marshalling.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of encoded configuration dumps.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config locates the directory database. URI, when set, wins over the
// individual fields.
type Config struct {
	URI            string        `yaml:"uri" json:"uri,omitempty" env:"URI"`
	Host           string        `yaml:"host" json:"host,omitempty" env:"HOST"`
	Port           int           `yaml:"port" json:"port,omitempty" env:"PORT"`
	Database       string        `yaml:"database" json:"database" env:"DATABASE"`
	User           string        `yaml:"user" json:"user" env:"USER"`
	Password       Secret        `yaml:"password" json:"-" env:"PASSWORD"`
	SSLMode        SSLMode       `yaml:"ssl_mode" json:"ssl_mode,omitempty" env:"SSLMODE"`
	SSLRootCert    string        `yaml:"ssl_root_cert" json:"ssl_root_cert,omitempty" env:"SSL_ROOT_CERT"`
	MaxConns       int32         `yaml:"max_conns" json:"max_conns,omitempty" env:"MAX_CONNS"`
	MinConns       int32         `yaml:"min_conns" json:"min_conns,omitempty" env:"MIN_CONNS"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout,omitempty" env:"CONNECT_TIMEOUT"`
}

// Enabled reports whether any database is configured.
func (c *Config) Enabled() bool {
	return c.URI != "" || c.Host != ""
}

// Validate fills defaults and checks the fields a connection needs.
func (c *Config) Validate() error {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("postgres: uri is invalid: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("postgres: uri scheme must be postgres or postgresql, got %q", u.Scheme)
		}
		return nil
	}

	switch {
	case c.Host == "":
		return errors.New("postgres: host or uri is required")
	case c.Database == "":
		return errors.New("postgres: database must not be empty")
	case c.User == "":
		return errors.New("postgres: user must not be empty")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("postgres: port must be between 1 and 65535, got %d", c.Port)
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModeRequire
	}
	if !c.SSLMode.Valid() {
		return fmt.Errorf("postgres: ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return fmt.Errorf("postgres: ssl_root_cert is not accessible: %w", err)
		}
	}
	return nil
}

// ConnectionString renders the config as a postgres:// URL.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// tlsConfig returns nil unless a root certificate is configured.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}
	pem, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: read CA certificate: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, errors.New("postgres: CA certificate is not valid PEM")
	}

	cfg := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	switch c.SSLMode {
	case SSLModeVerifyFull:
		cfg.ServerName = c.Host
	case SSLModeVerifyCA:
		// Chain is checked against roots; the host name is not.
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("postgres: server presented no certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLen {
		return sql
	}
	return sql[:maxSQLLen] + "..."
}
