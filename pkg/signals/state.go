package signals

import (
	"context"
	"log/slog"
	"slices"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// State is a dispatcher stage. Every request starts at StateReceived and
// ends at StateResponded.
//
// The happy path is:
//
//	Received → SignatureVerified → SchemaMatched → SubjectVerified → Dispatched → Responded
//
// Every non-terminal state may also go straight to Responded.
type State string

const (
	StateReceived          State = "received"
	StateSignatureVerified State = "signature_verified"
	StateSchemaMatched     State = "schema_matched"
	StateSubjectVerified   State = "subject_verified"
	StateDispatched        State = "dispatched"
	StateResponded         State = "responded"
)

func (s State) String() string { return string(s) }

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether s is StateResponded.
func (s State) IsTerminal() bool { return s == StateResponded }

var validTransitions = map[State][]State{
	StateReceived:          {StateSignatureVerified, StateResponded},
	StateSignatureVerified: {StateSchemaMatched, StateResponded},
	StateSchemaMatched:     {StateSubjectVerified, StateResponded},
	StateSubjectVerified:   {StateDispatched, StateResponded},
	StateDispatched:        {StateResponded},
	StateResponded:         {},
}

// ValidTransition reports whether from may move to to.
func ValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// run tracks one request through the states and logs each move with the
// event's jti.
type run struct {
	state   State
	last    State
	jti     string
	logger  *slog.Logger
	history []State
}

func newRun(logger *slog.Logger) *run {
	return &run{state: StateReceived, last: StateReceived, logger: logger, history: []State{StateReceived}}
}

func (r *run) advance(ctx context.Context, to State) error {
	if !ValidTransition(r.state, to) {
		return sserr.Internalf("signals: invalid transition %s -> %s", r.state, to)
	}
	r.logger.DebugContext(ctx, "signals: transition", "jti", r.jti, "from", r.state, "to", to)
	if to != StateResponded {
		r.last = to
	}
	r.state = to
	r.history = append(r.history, to)
	return nil
}
