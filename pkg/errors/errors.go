// Package errors provides the structured error type used across the auth
// gateway. Every failure that crosses a package boundary is an [*Error]
// carrying a machine-readable [Code], a message that is safe to log, and
// an optional cause.
//
// # Error Categories
//
// Codes are grouped into categories that decide the HTTP status a
// pipeline boundary reports:
//
//   - VAL: rejected request input (headers, grant body, event schema)
//   - AUTH: token verification and attestation failures
//   - NF: a directory subject or JWKS key does not exist
//   - CONF: a conflicting request, such as a replayed event
//   - INT: directory, secret, configuration or JWKS failures
//   - UNAVAIL: a feature flag is off or an upstream is unavailable
//   - TIMEOUT: an upstream call exceeded its deadline
//
// # Usage
//
//	err := errors.New(errors.CodeValidationHeader, "content-type is not allowed")
//	err = errors.Wrap(cause, errors.CodeInternalSecret, "failed to read client secret")
//
//	if e, ok := errors.AsError(err); ok {
//	    slog.Error("request failed", "code", e.Code, "message", e.Message)
//	}
//
// The public response body for a failure is chosen at the HTTP boundary,
// never from Message, so that verification details are not disclosed to
// untrusted callers.
package errors
