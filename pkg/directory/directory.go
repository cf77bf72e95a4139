// Package directory is the gateway's view of the User Directory: the
// account store the shared-signal handlers sign users out of, delete from
// and update.
//
// Operations return a Result for every outcome the directory can report,
// including an absent user. An error is returned only when the directory
// could not be asked.
package directory

import "context"

// Result is the outcome of a directory mutation.
type Result int

const (
	// ResultNotApplied means the directory answered but did not make the
	// change.
	ResultNotApplied Result = iota

	// ResultApplied means the change was made.
	ResultApplied

	// ResultUserNotFound means no account has the given id.
	ResultUserNotFound
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultUserNotFound:
		return "user_not_found"
	default:
		return "not_applied"
	}
}

// Directory is implemented by Postgres. Implementations must be safe for
// concurrent use.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	ForceGlobalSignOut(ctx context.Context, id string) (Result, error)
	DeleteUser(ctx context.Context, id string) (Result, error)
	UpdateEmail(ctx context.Context, id, email string) (Result, error)
}
