package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementLen bounds the db.statement span attribute.
const maxStatementLen = 100

// Defaults applied by Validate.
const (
	DefaultPort          = 6379
	DefaultPoolSize      = 10
	DefaultMaxRetries    = 2
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 2 * time.Second
	DefaultWriteTimeout  = 2 * time.Second
	DefaultHealthTimeout = 3 * time.Second
)

// Secret hides its value from fmt, %#v and text marshalling.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of encoded configuration dumps.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config locates a Redis server. URI, when set, wins over Host and Port.
type Config struct {
	URI          string        `yaml:"uri" json:"uri,omitempty" env:"URI"`
	Host         string        `yaml:"host" json:"host,omitempty" env:"HOST"`
	Port         int           `yaml:"port" json:"port,omitempty" env:"PORT"`
	DB           int           `yaml:"db" json:"db" env:"DB"`
	Password     Secret        `yaml:"password" json:"-" env:"PASSWORD"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size,omitempty" env:"POOL_SIZE"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries,omitempty" env:"MAX_RETRIES"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout,omitempty" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout,omitempty" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout,omitempty" env:"WRITE_TIMEOUT"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled,omitempty" env:"TLS_ENABLED"`
}

// Enabled reports whether any server is configured.
func (c *Config) Enabled() bool {
	return c.URI != "" || c.Host != ""
}

// Validate fills defaults and checks ranges.
func (c *Config) Validate() error {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: uri is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: uri scheme must be redis or rediss, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		return fmt.Errorf("redis: host or uri is required")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("redis: port must be between 1 and 65535, got %d", c.Port)
	case c.PoolSize < 1:
		return fmt.Errorf("redis: pool_size must be >= 1, got %d", c.PoolSize)
	case c.DialTimeout < 0, c.ReadTimeout < 0, c.WriteTimeout < 0:
		return fmt.Errorf("redis: timeouts must not be negative")
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return string(runes[:maxStatementLen]) + "..."
}
