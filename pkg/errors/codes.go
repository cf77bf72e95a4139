package errors

// Code is a machine-readable error code of the form CATEGORY_NNN.
type Code string

// Category prefixes and the status each maps to:
//
//	VAL_xxx     400 Bad Request
//	AUTH_xxx    401 Unauthorized
//	NF_xxx      404 Not Found
//	CONF_xxx    409 Conflict
//	INT_xxx     500 Internal Server Error
//	UNAVAIL_xxx 503 Service Unavailable
//	TIMEOUT_xxx 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationHeader indicates an inbound header failed the allow-list
	// or value rules.
	CodeValidationHeader Code = "VAL_002"

	// CodeValidationBody indicates the token-exchange body is not a valid
	// grant request.
	CodeValidationBody Code = "VAL_003"

	// CodeValidationEvent indicates a security event payload matched no
	// known event schema.
	CodeValidationEvent Code = "VAL_004"

	// CodeValidationChangeType indicates a credential-change event carries a
	// change/credential type combination the receiver does not act on.
	CodeValidationChangeType Code = "VAL_005"

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeTokenInvalid is the single code for every JWT verification failure
	// (header, key, signature, claims).
	CodeTokenInvalid Code = "AUTH_002"

	// CodeUnknownApp indicates a verified attestation token whose subject is
	// not one of the configured mobile application ids.
	CodeUnknownApp Code = "AUTH_003"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the directory has no such user.
	CodeNotFoundUser Code = "NF_002"

	// CodeNotFoundKey indicates no key in the cached JWKS matches a kid.
	CodeNotFoundKey Code = "NF_003"

	// CodeConflict indicates a general conflict.
	CodeConflict Code = "CONF_001"

	// CodeConflictReplay indicates a security event whose jti was already
	// claimed.
	CodeConflictReplay Code = "CONF_002"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDirectory indicates a User Directory call failed.
	CodeInternalDirectory Code = "INT_002"

	// CodeInternalConfiguration indicates missing or invalid configuration.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalSecret indicates the confidential client secret could not
	// be fetched or parsed.
	CodeInternalSecret Code = "INT_004"

	// CodeInternalJWKS indicates the JWKS document could not be fetched or
	// was malformed.
	CodeInternalJWKS Code = "INT_005"

	// CodeInternalDatabase indicates a Postgres or Redis operation failed.
	CodeInternalDatabase Code = "INT_006"

	// CodeUnavailable indicates a general unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableFeatureDisabled indicates the requested surface is
	// switched off by a feature flag.
	CodeUnavailableFeatureDisabled Code = "UNAVAIL_002"

	// CodeUnavailableUpstream indicates an upstream dependency could not be
	// reached.
	CodeUnavailableUpstream Code = "UNAVAIL_003"

	// CodeTimeout indicates a general timeout.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutUpstream indicates an upstream call exceeded its deadline.
	CodeTimeoutUpstream Code = "TIMEOUT_002"

	// CodeTimeoutDatabase indicates a Postgres or Redis operation exceeded
	// its deadline.
	CodeTimeoutDatabase Code = "TIMEOUT_003"
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
