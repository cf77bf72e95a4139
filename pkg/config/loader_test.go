package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type loaderTestSecret string

func (s loaderTestSecret) String() string { return "[REDACTED]" }

type loaderTestServer struct {
	Addr    string        `env:"ADDR" envDefault:":8080" yaml:"addr" json:"addr"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"3s" yaml:"timeout" json:"timeout"`
	Debug   bool          `env:"DEBUG" yaml:"debug" json:"debug"`
}

type loaderTestConfig struct {
	Server   loaderTestServer `env:"SERVER" yaml:"server" json:"server"`
	Project  string           `env:"PROJECT" required:"true" yaml:"project" json:"project"`
	AppIDs   []string         `env:"APP_IDS" envDefault:"ios.app, android.app" yaml:"app_ids" json:"app_ids"`
	Attempts int32            `env:"ATTEMPTS" envDefault:"3" yaml:"attempts" json:"attempts" validate:"gte=1,lte=10"`
	Jitter   float64          `env:"JITTER" envDefault:"1.0" yaml:"jitter" json:"jitter"`
	Secret   loaderTestSecret `env:"SECRET" yaml:"-" json:"-"`
}

type loaderTestCrossField struct {
	Domain string `env:"DOMAIN"`
	Region string `env:"REGION"`
}

func (c *loaderTestCrossField) Validate() error {
	if (c.Domain == "") != (c.Region == "") {
		return errors.New("domain and region must be set together")
	}
	return nil
}

type loaderTestTyped struct {
	Region string `env:"REGION"`
}

func (c *loaderTestTyped) Validate() error {
	if c.Region == "nowhere" {
		return sserr.New(sserr.CodeValidation, "config: unknown region")
	}
	return nil
}

func loaderTestEnv(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func loaderTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_RejectsNonStructPointers(t *testing.T) {
	t.Parallel()

	n := 1
	for _, target := range []any{nil, loaderTestConfig{}, (*loaderTestConfig)(nil), &n} {
		err := New().Load(target)
		require.Error(t, err)
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
	}
}

func TestLoad_DefaultsThenEnv(t *testing.T) {
	t.Parallel()

	var cfg loaderTestConfig
	err := New().WithEnvPrefix("authgw").WithLookup(loaderTestEnv(map[string]string{
		"AUTHGW_PROJECT":        "demo",
		"AUTHGW_SERVER_TIMEOUT": "750ms",
		"AUTHGW_SECRET":         "s3cret",
	})).Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.Server.Timeout)
	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, []string{"ios.app", "android.app"}, cfg.AppIDs)
	assert.Equal(t, int32(3), cfg.Attempts)
	assert.InDelta(t, 1.0, cfg.Jitter, 1e-9)
	assert.Equal(t, loaderTestSecret("s3cret"), cfg.Secret)
}

func TestLoad_DefaultsKeepPresetValues(t *testing.T) {
	t.Parallel()

	cfg := loaderTestConfig{Project: "preset", Server: loaderTestServer{Addr: ":9999"}}
	require.NoError(t, New().WithLookup(loaderTestEnv(nil)).Load(&cfg))

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "preset", cfg.Project)
}

func TestLoad_FilePrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "gw.yaml", "project: from-file\nserver:\n  addr: \":7000\"\n  timeout: 2s\n"},
		{"yml", "gw.yml", "project: from-file\nserver:\n  addr: \":7000\"\n  timeout: 2s\n"},
		{"json", "gw.json", `{"project":"from-file","server":{"addr":":7000","timeout":2000000000}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := loaderTestFile(t, tt.file, tt.content)
			var cfg loaderTestConfig
			err := New().WithFile(path).WithLookup(loaderTestEnv(map[string]string{
				"SERVER_ADDR": ":7100",
			})).Load(&cfg)
			require.NoError(t, err)

			assert.Equal(t, "from-file", cfg.Project)
			assert.Equal(t, 2*time.Second, cfg.Server.Timeout, "file overrides default")
			assert.Equal(t, ":7100", cfg.Server.Addr, "env overrides file")
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"unsupported extension", func(t *testing.T) string { return loaderTestFile(t, "gw.toml", "x = 1") }},
		{"malformed yaml", func(t *testing.T) string { return loaderTestFile(t, "gw.yaml", "project: [unclosed") }},
		{"malformed json", func(t *testing.T) string { return loaderTestFile(t, "gw.json", "{") }},
		{"parent reference", func(*testing.T) string { return "../gw.yaml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var cfg loaderTestConfig
			err := New().WithFile(tt.path(t)).WithLookup(loaderTestEnv(map[string]string{"PROJECT": "p"})).Load(&cfg)
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
		})
	}
}

func TestLoad_MissingFileIsSkipped(t *testing.T) {
	t.Parallel()

	var cfg loaderTestConfig
	err := New().
		WithFile(filepath.Join(t.TempDir(), "absent.yaml")).
		WithLookup(loaderTestEnv(map[string]string{"PROJECT": "p"})).
		Load(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "p", cfg.Project)
}

func TestLoad_BadEnvValues(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"SERVER_TIMEOUT": "soon",
		"SERVER_DEBUG":   "maybe",
		"ATTEMPTS":       "three",
		"JITTER":         "lots",
	}

	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Parallel()

			var cfg loaderTestConfig
			err := New().WithLookup(loaderTestEnv(map[string]string{"PROJECT": "p", key: val})).Load(&cfg)
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
			assert.Contains(t, err.Error(), key)
		})
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestLoad_RequiredField(t *testing.T) {
	t.Parallel()

	var cfg loaderTestConfig
	err := New().WithLookup(loaderTestEnv(nil)).Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
	assert.Contains(t, err.Error(), "Project")
}

func TestLoad_ValidateTags(t *testing.T) {
	t.Parallel()

	var cfg loaderTestConfig
	err := New().WithLookup(loaderTestEnv(map[string]string{"PROJECT": "p", "ATTEMPTS": "11"})).Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
	assert.Contains(t, err.Error(), "Attempts (lte)")
}

func TestLoad_ValidatorInterface(t *testing.T) {
	t.Parallel()

	var cross loaderTestCrossField
	err := New().WithLookup(loaderTestEnv(map[string]string{"DOMAIN": "auth"})).Load(&cross)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))

	var typed loaderTestTyped
	err = New().WithLookup(loaderTestEnv(map[string]string{"REGION": "nowhere"})).Load(&typed)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation), "typed errors pass through")
}

func TestMustLoad(t *testing.T) {
	t.Parallel()

	cfg := MustLoad[loaderTestConfig](New().WithLookup(loaderTestEnv(map[string]string{"PROJECT": "p"})))
	assert.Equal(t, "p", cfg.Project)

	assert.Panics(t, func() {
		MustLoad[loaderTestConfig](New().WithLookup(loaderTestEnv(nil)))
	})
}
