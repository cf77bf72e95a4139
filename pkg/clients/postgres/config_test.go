package postgres

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

// ===========================================================================
// Secret
// ===========================================================================

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	cfg := Config{Host: "db", Password: Secret("hunter2")}
	for _, out := range []string{fmt.Sprint(cfg.Password), fmt.Sprintf("%+v", cfg), fmt.Sprintf("%#v", cfg)} {
		if strings.Contains(out, "hunter2") {
			t.Errorf("secret leaked: %s", out)
		}
	}
	if cfg.Password.Value() != "hunter2" {
		t.Error("Value() did not return the secret")
	}
	if b, _ := cfg.Password.MarshalText(); string(b) != "[REDACTED]" {
		t.Errorf("MarshalText() = %q", b)
	}
}

// ===========================================================================
// Validate
// ===========================================================================

func TestConfig_Validate_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{Host: "db", Database: "directory", User: "gateway"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.SSLMode != SSLModeRequire || cfg.MaxConns != DefaultMaxConns ||
		cfg.MinConns != DefaultMinConns || cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestConfig_Validate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty", Config{}},
		{"no database", Config{Host: "db", User: "u"}},
		{"no user", Config{Host: "db", Database: "d"}},
		{"bad port", Config{Host: "db", Database: "d", User: "u", Port: 70000}},
		{"bad ssl mode", Config{Host: "db", Database: "d", User: "u", SSLMode: "sometimes"}},
		{"missing root cert", Config{Host: "db", Database: "d", User: "u", SSLRootCert: "/nonexistent/ca.pem"}},
		{"min above max", Config{Host: "db", Database: "d", User: "u", MaxConns: 2, MinConns: 3}},
		{"uri scheme", Config{URI: "mysql://db/d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()
	if (&Config{}).Enabled() {
		t.Error("empty config enabled")
	}
	if !(&Config{URI: "postgres://db/d"}).Enabled() {
		t.Error("uri config not enabled")
	}
}

// ===========================================================================
// ConnectionString
// ===========================================================================

func TestConfig_ConnectionString(t *testing.T) {
	t.Parallel()
	cfg := Config{Host: "db", Port: 5433, Database: "directory", User: "gateway", Password: "p@ss word",
		SSLMode: SSLModeVerifyFull, ConnectTimeout: 7 * time.Second}

	u, err := url.Parse(cfg.ConnectionString())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "db:5433" || u.Path != "/directory" || u.User.Username() != "gateway" {
		t.Errorf("url = %s", u.Redacted())
	}
	if pw, _ := u.User.Password(); pw != "p@ss word" {
		t.Errorf("password not round-tripped")
	}
	if u.Query().Get("sslmode") != "verify-full" || u.Query().Get("connect_timeout") != "7" {
		t.Errorf("query = %s", u.RawQuery)
	}

	withURI := Config{URI: "postgres://x/y", Host: "ignored"}
	if withURI.ConnectionString() != "postgres://x/y" {
		t.Error("URI not preferred")
	}
}

func TestConfig_TLSConfig(t *testing.T) {
	t.Parallel()
	cfg := Config{SSLMode: SSLModeRequire}
	if tc, err := cfg.tlsConfig(); tc != nil || err != nil {
		t.Errorf("tlsConfig() without root cert = %v, %v", tc, err)
	}

	bad := Config{SSLMode: SSLModeVerifyCA, SSLRootCert: writeTemp(t, "not a pem")}
	if _, err := bad.tlsConfig(); err == nil {
		t.Error("invalid PEM accepted")
	}
}

func TestTruncateSQL(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", maxSQLLen+10)
	if got := truncateSQL(long); len(got) != maxSQLLen+3 {
		t.Errorf("len = %d", len(got))
	}
	if truncateSQL("SELECT 1") != "SELECT 1" {
		t.Error("short SQL changed")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := t.TempDir() + "/ca.pem"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}
