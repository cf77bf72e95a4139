package signals

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a SET delivery error code (RFC 8935 section 2.3).
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "invalid_request"
	ErrInvalidKey           ErrorCode = "invalid_key"
	ErrInvalidIssuer        ErrorCode = "invalid_issuer"
	ErrInvalidAudience      ErrorCode = "invalid_audience"
	ErrAuthenticationFailed ErrorCode = "authentication_failed"
	ErrAccessDenied         ErrorCode = "access_denied"
	ErrInternalServerError  ErrorCode = "internal_server_error"
)

var descriptions = map[ErrorCode]string{
	ErrInvalidRequest:       "The request is missing a required parameter, includes an invalid parameter value, or is otherwise malformed",
	ErrInvalidKey:           "The key used to sign the token is invalid or has been revoked",
	ErrInvalidIssuer:        "The token was issued by an unauthorized party",
	ErrInvalidAudience:      "The token is not intended for this service",
	ErrAuthenticationFailed: "The token signature verification failed",
	ErrAccessDenied:         "The request is not authorized to access this resource",
	ErrInternalServerError:  "An internal server error occurred while processing the request",
}

// Description returns the fixed public text for c.
func (c ErrorCode) Description() string { return descriptions[c] }

// Response is what the receiver endpoint writes back.
type Response struct {
	StatusCode int
	Body       []byte

	// Reached is the last state before the response was produced.
	Reached State
}

func message(status int) Response {
	body, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{http.StatusText(status)})
	return Response{StatusCode: status, Body: body}
}

func setError(status int, code ErrorCode) Response {
	body, _ := json.Marshal(struct {
		Err         ErrorCode `json:"err"`
		Description string    `json:"description"`
	}{code, code.Description()})
	return Response{StatusCode: status, Body: body}
}
