// Package fixtures holds the identifiers shared across gateway tests so
// issuers, app ids and event URIs are spelled the same everywhere.
package fixtures

// Shared-signal transmitter.
const (
	SignalIssuer   = "https://ssf.account.example.test"
	SignalAudience = "https://receiver.gateway.example.test"
	SignalKeyID    = "ssf-signing-1"
)

// Mobile attestation.
const (
	AttestationProject  = "123456789012"
	AttestationAudience = "gateway-prod"
	AttestationKeyID    = "appcheck-1"
	IOSAppID            = "1:123456789012:ios:0a1b2c3d4e5f"
	AndroidAppID        = "1:123456789012:android:6a7b8c9d0e1f"
)

// Directory subjects.
const (
	UserID       = "urn:fdc:gov.uk:2022:user-one"
	UnknownUser  = "urn:fdc:gov.uk:2022:nobody"
	UserEmail    = "one@example.test"
	NewUserEmail = "one.changed@example.test"
)

// Event type URIs.
const (
	CredentialChangeURI = "https://schemas.openid.net/secevent/caep/event-type/credential-change"
	AccountPurgedURI    = "https://schemas.openid.net/secevent/risc/event-type/account-purged"
	EventInformationURI = "https://vocab.account.gov.uk/secevent/v1/credentialChange/eventInformation"
)

// OAuth client.
const (
	ClientID     = "mobile-client-01"
	ClientSecret = "client-secret-value"
	RedirectURI  = "govuk://auth/callback"
	AuthCode     = "auth-code-123456"
	CodeVerifier = "verifier-0123456789abcdef"
	Scope        = "openid email"
	RefreshToken = "refresh-token-abcdef"
)
