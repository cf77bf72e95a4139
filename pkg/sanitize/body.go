package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// GrantType discriminates the grant union.
type GrantType string

// Supported grant types.
const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Grant is a validated token request body. Only the fields of its grant
// type are set.
type Grant struct {
	Type         GrantType
	ClientID     string
	RedirectURI  string
	Code         string
	CodeVerifier string
	Scope        string
	RefreshToken string
}

type authorizationCodeGrant struct {
	ClientID     string `form:"client_id" validate:"required,max=100"`
	RedirectURI  string `form:"redirect_uri" validate:"required,max=2000"`
	Code         string `form:"code" validate:"required,min=8,max=512"`
	CodeVerifier string `form:"code_verifier" validate:"required,max=128"`
	Scope        string `form:"scope" validate:"required,max=1000"`
}

type refreshTokenGrant struct {
	RefreshToken string `form:"refresh_token" validate:"required"`
	ClientID     string `form:"client_id" validate:"required,max=100"`
}

// grantFields are the only body fields read; anything else is dropped.
var grantFields = []string{
	"grant_type", "client_id", "redirect_uri", "code", "code_verifier", "scope", "refresh_token",
}

// Body decodes raw as JSON when contentType is a JSON media type and as a
// URL-encoded form otherwise, then validates it against the grant union.
// Fields outside the selected grant are discarded.
func (s *Sanitizer) Body(contentType string, raw []byte) (Grant, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Grant{}, sserr.New(sserr.CodeValidationBody, "sanitize: body is empty")
	}

	var (
		fields map[string]string
		err    error
	)
	if isJSON(contentType) {
		fields, err = jsonFields(raw)
	} else {
		fields, err = formFields(raw)
	}
	if err != nil {
		return Grant{}, err
	}

	switch GrantType(fields["grant_type"]) {
	case GrantAuthorizationCode:
		g := authorizationCodeGrant{
			ClientID:     fields["client_id"],
			RedirectURI:  fields["redirect_uri"],
			Code:         fields["code"],
			CodeVerifier: fields["code_verifier"],
			Scope:        fields["scope"],
		}
		if err := s.rules.Struct(g); err != nil {
			return Grant{}, bodyError(err)
		}
		return Grant{
			Type:         GrantAuthorizationCode,
			ClientID:     g.ClientID,
			RedirectURI:  g.RedirectURI,
			Code:         g.Code,
			CodeVerifier: g.CodeVerifier,
			Scope:        g.Scope,
		}, nil
	case GrantRefreshToken:
		g := refreshTokenGrant{
			RefreshToken: fields["refresh_token"],
			ClientID:     fields["client_id"],
		}
		if err := s.rules.Struct(g); err != nil {
			return Grant{}, bodyError(err)
		}
		return Grant{Type: GrantRefreshToken, ClientID: g.ClientID, RefreshToken: g.RefreshToken}, nil
	case "":
		return Grant{}, sserr.New(sserr.CodeValidationBody, "sanitize: grant_type is missing").
			WithDetail("field", "grant_type")
	default:
		return Grant{}, sserr.New(sserr.CodeValidationBody, "sanitize: grant_type is not supported").
			WithDetail("field", "grant_type")
	}
}

// Form encodes the grant for the identity provider, adding clientSecret
// when it is non-empty.
func (g Grant) Form(clientSecret string) url.Values {
	v := url.Values{}
	v.Set("grant_type", string(g.Type))
	v.Set("client_id", g.ClientID)
	switch g.Type {
	case GrantAuthorizationCode:
		v.Set("redirect_uri", g.RedirectURI)
		v.Set("code", g.Code)
		v.Set("code_verifier", g.CodeVerifier)
		v.Set("scope", g.Scope)
	case GrantRefreshToken:
		v.Set("refresh_token", g.RefreshToken)
	}
	if clientSecret != "" {
		v.Set("client_secret", clientSecret)
	}
	return v
}

func formFields(raw []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationBody, "sanitize: body is not a valid form")
	}
	out := make(map[string]string, len(grantFields))
	for _, name := range grantFields {
		vs, ok := values[name]
		if !ok {
			continue
		}
		if len(vs) != 1 {
			return nil, sserr.Newf(sserr.CodeValidationBody, "sanitize: field %s is repeated", name).
				WithDetail("field", name)
		}
		out[name] = vs[0]
	}
	return out, nil
}

func jsonFields(raw []byte) (map[string]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationBody, "sanitize: body is not a JSON object")
	}
	out := make(map[string]string, len(grantFields))
	for _, name := range grantFields {
		v, ok := doc[name]
		if !ok || string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeValidationBody, "sanitize: field %s must be a string", name).
				WithDetail("field", name)
		}
		out[name] = s
	}
	return out, nil
}

func bodyError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return sserr.Wrap(err, sserr.CodeValidationBody,
			fmt.Sprintf("sanitize: field %s failed rule %s", fe.Field(), ruleName(fe))).
			WithDetail("field", fe.Field())
	}
	return sserr.Wrap(err, sserr.CodeValidationBody, "sanitize: body rejected")
}

func ruleName(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return strings.Join([]string{fe.Tag(), fe.Param()}, "=")
}
