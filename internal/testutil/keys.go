package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

// SigningKey is an RSA key pair published under KID.
type SigningKey struct {
	KID     string
	Private *rsa.PrivateKey
}

// NewSigningKey generates a 2048-bit RSA key.
func NewSigningKey(t testing.TB, kid string) *SigningKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generate RSA key")
	return &SigningKey{KID: kid, Private: priv}
}

// PublicJWK returns the public half as a JWK with kid, alg RS256 and use
// sig.
func (k *SigningKey) PublicJWK(t testing.TB) jwk.Key {
	t.Helper()
	key, err := jwk.FromRaw(&k.Private.PublicKey)
	require.NoError(t, err, "jwk from public key")
	require.NoError(t, key.Set(jwk.KeyIDKey, k.KID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
	return key
}

// Sign produces an RS256 compact JWS. The header starts as
// {"alg":"RS256","kid":k.KID,"typ":"JWT"}; entries in header override it
// and a nil value removes the entry.
func (k *SigningKey) Sign(t testing.TB, claims jwt.MapClaims, header map[string]any) string {
	t.Helper()
	return SignWith(t, jwt.SigningMethodRS256, k.Private, k.KID, claims, header)
}

// SignWith signs claims with an arbitrary method and key, for algorithm
// confusion cases.
func SignWith(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims, header map[string]any) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = kid
	tok.Header["typ"] = "JWT"
	for name, v := range header {
		if v == nil {
			delete(tok.Header, name)
			continue
		}
		tok.Header[name] = v
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err, "sign token")
	return signed
}

// JWKSDocument renders {"keys":[...]} for the public halves of keys.
func JWKSDocument(t testing.TB, keys ...*SigningKey) []byte {
	t.Helper()
	set := jwk.NewSet()
	for _, k := range keys {
		require.NoError(t, set.AddKey(k.PublicJWK(t)))
	}
	doc, err := json.Marshal(set)
	require.NoError(t, err, "marshal key set")
	return doc
}

// JWKSServer serves a mutable JWKS document and counts requests.
type JWKSServer struct {
	*httptest.Server
	hits atomic.Int32

	mu           sync.Mutex
	doc          []byte
	cacheControl string
	status       int
}

// NewJWKSServer starts a server answering every request with doc and the
// given Cache-Control value (omitted when empty). It is closed on cleanup.
func NewJWKSServer(t testing.TB, doc []byte, cacheControl string) *JWKSServer {
	t.Helper()
	s := &JWKSServer{doc: doc, cacheControl: cacheControl, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *JWKSServer) serve(w http.ResponseWriter, _ *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	doc, cc, status := s.doc, s.cacheControl, s.status
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	w.WriteHeader(status)
	_, _ = w.Write(doc)
}

// Hits returns how many requests were served.
func (s *JWKSServer) Hits() int { return int(s.hits.Load()) }

// SetDocument replaces the served body.
func (s *JWKSServer) SetDocument(doc []byte) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

// SetStatus replaces the served status code.
func (s *JWKSServer) SetStatus(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
