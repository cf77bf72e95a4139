// Package testutil holds helpers shared by the gateway's package tests:
// error-code assertions, temp files, RSA signing keys, JWKS documents and
// the HTTP servers that serve them.
//
// Every helper takes testing.TB and calls t.Helper().
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// RequireErrorCode stops the test unless err is an *sserr.Error whose
// outermost code is code.
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "code mismatch (message: %s)", e.Message)
}

// AssertErrorCode is the non-fatal form of RequireErrorCode.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code, "code mismatch (message: %s)", e.Message)
}

// RequireChainCode stops the test unless some *sserr.Error in err's chain
// carries code.
func RequireChainCode(t testing.TB, err error, code sserr.Code) {
	t.Helper()
	require.Error(t, err)
	require.True(t, sserr.ChainHasCode(err, code), "no %s in chain: %v", code, err)
}

// TempFile writes content to name inside a fresh temp dir and returns the
// path. Mode is 0600.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write %s", path)
	return path
}

// TempDirWith writes each name/content pair into one temp dir and returns
// the dir.
func TempDirWith(t testing.TB, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write %s", path)
	}
	return dir
}
