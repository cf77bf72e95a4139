package directory

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/auth-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// Schema creates the table Postgres reads and writes.
const Schema = `CREATE TABLE IF NOT EXISTS directory_users (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL,
	email_verified      BOOLEAN NOT NULL DEFAULT FALSE,
	token_generation    BIGINT NOT NULL DEFAULT 0,
	sessions_revoked_at TIMESTAMPTZ
)`

const (
	sqlUserExists = `SELECT EXISTS (SELECT 1 FROM directory_users WHERE id = $1)`
	sqlSignOut    = `UPDATE directory_users SET token_generation = token_generation + 1, sessions_revoked_at = now() WHERE id = $1`
	sqlDelete     = `DELETE FROM directory_users WHERE id = $1`
	sqlEmail      = `UPDATE directory_users SET email = $2, email_verified = TRUE WHERE id = $1`
)

// Querier is satisfied by *postgres.Client.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Querier = (*postgres.Client)(nil)

// Postgres keeps accounts in the directory_users table. Signing a user out
// bumps token_generation, which session validators compare against the
// generation embedded in issued tokens.
type Postgres struct {
	db     Querier
	logger *slog.Logger
}

var _ Directory = (*Postgres)(nil)

// PostgresOption configures Postgres.
type PostgresOption func(*Postgres)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PostgresOption {
	return func(p *Postgres) { p.logger = l }
}

// NewPostgres returns a directory backed by db.
func NewPostgres(db Querier, opts ...PostgresOption) (*Postgres, error) {
	if db == nil {
		return nil, sserr.Configuration("directory: database is required")
	}
	p := &Postgres{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureSchema creates directory_users if it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalDirectory, "directory: failed to create schema")
	}
	return nil
}

// UserExists reports whether id has an account.
func (p *Postgres) UserExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var exists bool
	if err := p.db.QueryRow(ctx, sqlUserExists, id).Scan(&exists); err != nil {
		return false, sserr.Wrap(postgres.ScanError(err, "directory: lookup failed"),
			sserr.CodeInternalDirectory, "directory: failed to look up user")
	}
	return exists, nil
}

// ForceGlobalSignOut revokes every session id holds.
func (p *Postgres) ForceGlobalSignOut(ctx context.Context, id string) (Result, error) {
	return p.mutate(ctx, "sign_out", sqlSignOut, id)
}

// DeleteUser removes the account.
func (p *Postgres) DeleteUser(ctx context.Context, id string) (Result, error) {
	return p.mutate(ctx, "delete", sqlDelete, id)
}

// UpdateEmail replaces the account's email address and marks it verified.
// The address is never logged.
func (p *Postgres) UpdateEmail(ctx context.Context, id, email string) (Result, error) {
	if email == "" {
		return ResultNotApplied, sserr.New(sserr.CodeValidation, "directory: email must not be empty")
	}
	return p.mutate(ctx, "update_email", sqlEmail, id, email)
}

func (p *Postgres) mutate(ctx context.Context, op, sql, id string, extra ...any) (Result, error) {
	if id == "" {
		return ResultUserNotFound, nil
	}
	tag, err := p.db.Exec(ctx, sql, append([]any{id}, extra...)...)
	if err != nil {
		p.logger.ErrorContext(ctx, "directory: operation failed", "operation", op, "user_id", id, "error", err)
		return ResultNotApplied, sserr.Wrapf(err, sserr.CodeInternalDirectory, "directory: %s failed", op)
	}
	if tag.RowsAffected() == 0 {
		return ResultUserNotFound, nil
	}
	return ResultApplied, nil
}
