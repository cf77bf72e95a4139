// Package secrets reads confidential client credentials.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// DefaultMaxAge is how long a FileStore serves a secret before rereading it.
const DefaultMaxAge = 60 * time.Minute

var secretName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store returns raw secret documents by name.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

type cached struct {
	value     []byte
	expiresAt time.Time
}

// FileStore reads each secret from a file named after it inside one
// directory, as mounted by Kubernetes or Docker secrets.
type FileStore struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithMaxAge overrides DefaultMaxAge. Zero disables caching.
func WithMaxAge(d time.Duration) FileOption {
	return func(s *FileStore) { s.maxAge = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FileOption {
	return func(s *FileStore) { s.logger = l }
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		return nil, sserr.Configuration("secrets: directory is required")
	}
	s := &FileStore{
		dir:    dir,
		maxAge: DefaultMaxAge,
		now:    time.Now,
		logger: slog.Default(),
		cache:  make(map[string]cached),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the secret document for name.
func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if !secretName.MatchString(name) {
		return nil, sserr.New(sserr.CodeInternalSecret, "secrets: invalid secret name")
	}

	now := s.now()
	s.mu.Lock()
	c, ok := s.cache[name]
	s.mu.Unlock()
	if ok && now.Before(c.expiresAt) {
		return c.value, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalSecret, "secrets: read cancelled")
	}
	value, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalSecret, "secrets: read %s", name)
	}

	if s.maxAge > 0 {
		s.mu.Lock()
		s.cache[name] = cached{value: value, expiresAt: now.Add(s.maxAge)}
		s.mu.Unlock()
	}
	s.logger.DebugContext(ctx, "secrets: loaded", "name", name)
	return value, nil
}

// ClientSecret fetches name and returns its client_secret field.
func ClientSecret(ctx context.Context, store Store, name string) (string, error) {
	var doc struct {
		ClientSecret *string `json:"client_secret"`
	}
	if err := decode(ctx, store, name, &doc); err != nil {
		return "", err
	}
	if doc.ClientSecret == nil || *doc.ClientSecret == "" {
		return "", sserr.Newf(sserr.CodeInternalSecret, "secrets: %s has no client_secret", name)
	}
	return *doc.ClientSecret, nil
}

// Credentials is a client id and secret pair.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// ClientCredentials fetches name and returns its clientId and clientSecret.
func ClientCredentials(ctx context.Context, store Store, name string) (Credentials, error) {
	var creds Credentials
	if err := decode(ctx, store, name, &creds); err != nil {
		return Credentials{}, err
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return Credentials{}, sserr.Newf(sserr.CodeInternalSecret, "secrets: %s is missing clientId or clientSecret", name)
	}
	return creds, nil
}

func decode(ctx context.Context, store Store, name string, into any) error {
	raw, err := store.Get(ctx, name)
	if err != nil {
		if sserr.HasCode(err, sserr.CodeInternalSecret) {
			return err
		}
		return sserr.Wrapf(err, sserr.CodeInternalSecret, "secrets: fetch %s", name)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		// The decoder error can quote the document, so only its type is kept.
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return sserr.Newf(sserr.CodeInternalSecret, "secrets: %s is not valid JSON", name)
		}
		return sserr.Newf(sserr.CodeInternalSecret, "secrets: %s has an unexpected shape", name)
	}
	return nil
}
