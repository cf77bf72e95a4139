package signals

import (
	"encoding/json"
	"time"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/token"
)

// Event-type URIs carried in the events claim.
const (
	EventCredentialChange     = "https://schemas.openid.net/secevent/caep/event-type/credential-change"
	EventAccountPurged        = "https://schemas.openid.net/secevent/risc/event-type/account-purged"
	EventCredentialChangeInfo = "https://vocab.account.gov.uk/secevent/v1/credentialChange/eventInformation"
)

// Kind is one of the closed set of events the receiver acts on.
type Kind string

const (
	KindCredentialChange Kind = "credential-change"
	KindAccountPurged    Kind = "account-purged"
)

// Change classifies a credential-change event.
type Change int

const (
	ChangeUnknown Change = iota
	ChangePassword
	ChangeEmail
)

func (c Change) String() string {
	switch c {
	case ChangePassword:
		return "UPDATE_PASSWORD"
	case ChangeEmail:
		return "UPDATE_EMAIL_ADDRESS"
	default:
		return "UNKNOWN"
	}
}

// Event is the part of a verified SET the handlers read. It is built once
// per request and never modified.
type Event struct {
	Kind          Kind
	ID            string
	Issuer        string
	IssuedAt      time.Time
	SubjectFormat string
	Subject       string

	// Credential-change fields; empty for other kinds.
	ChangeType     string
	CredentialType string

	// Email is the new address for an email change. It must not be logged.
	Email    string
	HasEmail bool
}

// Change maps (change_type, credential_type) to the action it requests.
func (e Event) Change() Change {
	if e.Kind != KindCredentialChange || e.ChangeType != "update" {
		return ChangeUnknown
	}
	switch e.CredentialType {
	case "password":
		return ChangePassword
	case "email":
		return ChangeEmail
	default:
		return ChangeUnknown
	}
}

type subjectClaim struct {
	Format string `json:"format"`
	URI    string `json:"uri"`
}

type eventsClaim struct {
	Jti    string                     `json:"jti"`
	Iss    string                     `json:"iss"`
	Iat    float64                    `json:"iat"`
	Events map[string]json.RawMessage `json:"events"`
}

// newEvent decodes claims that already matched kind's schema.
func newEvent(kind Kind, claims token.Claims) (Event, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return Event{}, sserr.Wrap(err, sserr.CodeValidationEvent, "signals: claims are not encodable")
	}
	var doc eventsClaim
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Event{}, sserr.Wrap(err, sserr.CodeValidationEvent, "signals: claims do not decode")
	}

	ev := Event{
		Kind:     kind,
		ID:       doc.Jti,
		Issuer:   doc.Iss,
		IssuedAt: time.Unix(int64(doc.Iat), 0).UTC(),
	}

	switch kind {
	case KindCredentialChange:
		var body struct {
			ChangeType     string       `json:"change_type"`
			CredentialType string       `json:"credential_type"`
			Subject        subjectClaim `json:"subject"`
		}
		if err := json.Unmarshal(doc.Events[EventCredentialChange], &body); err != nil {
			return Event{}, sserr.Wrap(err, sserr.CodeValidationEvent, "signals: credential-change event does not decode")
		}
		ev.ChangeType = body.ChangeType
		ev.CredentialType = body.CredentialType
		ev.SubjectFormat = body.Subject.Format
		ev.Subject = body.Subject.URI

		if info, ok := doc.Events[EventCredentialChangeInfo]; ok {
			var extra struct {
				Email *string `json:"email"`
			}
			if err := json.Unmarshal(info, &extra); err == nil && extra.Email != nil && *extra.Email != "" {
				ev.Email = *extra.Email
				ev.HasEmail = true
			}
		}

	case KindAccountPurged:
		var body struct {
			Subject subjectClaim `json:"subject"`
		}
		if err := json.Unmarshal(doc.Events[EventAccountPurged], &body); err != nil {
			return Event{}, sserr.Wrap(err, sserr.CodeValidationEvent, "signals: account-purged event does not decode")
		}
		ev.SubjectFormat = body.Subject.Format
		ev.Subject = body.Subject.URI

	default:
		return Event{}, sserr.Newf(sserr.CodeValidationEvent, "signals: unknown event kind %q", kind)
	}
	return ev, nil
}
