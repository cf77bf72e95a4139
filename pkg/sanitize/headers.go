// Package sanitize projects inbound token-exchange requests onto the small
// set of headers and grant fields the gateway forwards, rejecting anything
// malformed before a network call is made.
package sanitize

import (
	"errors"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// Header names, lower-cased.
const (
	HeaderContentType      = "content-type"
	HeaderAccept           = "accept"
	HeaderUserAgent        = "user-agent"
	HeaderConnection       = "connection"
	HeaderAttestationToken = "x-attestation-token"
)

// MaxHeaderValueLength bounds accept and user-agent.
const MaxHeaderValueLength = 1024

// ContentTypes are the accepted content-type values, compared exactly.
var ContentTypes = []string{
	"application/x-www-form-urlencoded",
	"application/x-www-form-urlencoded; charset=UTF-8",
	"application/json",
	"application/json; charset=UTF-8",
}

// Headers is the allow-listed projection of an inbound request.
type Headers struct {
	ContentType      string `header:"content-type" validate:"required,content_type"`
	Accept           string `header:"accept" validate:"omitempty,printascii,max=1024"`
	UserAgent        string `header:"user-agent" validate:"omitempty,printascii,max=1024"`
	Connection       string `header:"connection" validate:"omitempty,oneof=keep-alive close"`
	AttestationToken string `header:"x-attestation-token"`
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "application/json")
}

// Sanitizer validates headers and grant bodies. It is safe for concurrent
// use.
type Sanitizer struct {
	rules *validator.Validate
}

// New builds a Sanitizer with the gateway's header and body rules.
func New() *Sanitizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"header", "form"} {
			if name := f.Tag.Get(tag); name != "" {
				return name
			}
		}
		return f.Name
	})
	_ = v.RegisterValidation("content_type", func(fl validator.FieldLevel) bool {
		return slices.Contains(ContentTypes, fl.Field().String())
	})
	return &Sanitizer{rules: v}
}

// Headers lower-cases header names, keeps the allow-listed ones and
// validates their values. x-attestation-token is kept, trimmed and
// required only when attestation is enabled. An allow-listed header sent
// more than once is rejected.
func (s *Sanitizer) Headers(raw http.Header, attestationEnabled bool) (Headers, error) {
	lower := make(map[string]string, len(raw))
	for name, values := range raw {
		key := strings.ToLower(name)
		if !allowed(key, attestationEnabled) || len(values) == 0 {
			continue
		}
		if _, seen := lower[key]; seen || len(values) > 1 {
			return Headers{}, sserr.Newf(sserr.CodeValidationHeader,
				"sanitize: header %s is repeated", key).
				WithDetail("header", key)
		}
		lower[key] = values[0]
	}

	h := Headers{
		ContentType: lower[HeaderContentType],
		Accept:      lower[HeaderAccept],
		UserAgent:   lower[HeaderUserAgent],
		Connection:  lower[HeaderConnection],
	}
	if err := s.rules.Struct(h); err != nil {
		return Headers{}, headerError(err)
	}

	if attestationEnabled {
		tok := strings.TrimSpace(lower[HeaderAttestationToken])
		if err := s.rules.Var(tok, "required,printascii"); err != nil {
			return Headers{}, sserr.Wrap(err, sserr.CodeValidationHeader,
				"sanitize: attestation token header is missing or invalid").
				WithDetail("header", HeaderAttestationToken)
		}
		h.AttestationToken = tok
	}
	return h, nil
}

// Forward returns the headers to send upstream. The attestation token is
// consumed by the gateway and never forwarded, and the body is always
// re-encoded as a form.
func (h Headers) Forward() http.Header {
	out := http.Header{}
	out.Set("Content-Type", "application/x-www-form-urlencoded")
	if h.Accept != "" {
		out.Set("Accept", h.Accept)
	}
	if h.UserAgent != "" {
		out.Set("User-Agent", h.UserAgent)
	}
	return out
}

func allowed(key string, attestationEnabled bool) bool {
	switch key {
	case HeaderContentType, HeaderAccept, HeaderUserAgent, HeaderConnection:
		return true
	case HeaderAttestationToken:
		return attestationEnabled
	default:
		return false
	}
}

func headerError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return sserr.Wrapf(err, sserr.CodeValidationHeader,
			"sanitize: header %s failed rule %s", fe.Field(), fe.Tag()).
			WithDetail("header", fe.Field())
	}
	return sserr.Wrap(err, sserr.CodeValidationHeader, "sanitize: headers rejected")
}
