package directory

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/auth-gateway/internal/testutil"
	"github.com/StricklySoft/auth-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

func postgresTestDirectory(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	dir, err := NewPostgres(postgres.NewFromPool(mock))
	require.NoError(t, err)
	return dir, mock
}

func TestNewPostgres_RequiresDatabase(t *testing.T) {
	t.Parallel()
	_, err := NewPostgres(nil)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestResult_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "applied", ResultApplied.String())
	assert.Equal(t, "not_applied", ResultNotApplied.String())
	assert.Equal(t, "user_not_found", ResultUserNotFound.String())
}

// ---------------------------------------------------------------------------
// UserExists
// ---------------------------------------------------------------------------

func TestPostgres_UserExists(t *testing.T) {
	t.Parallel()

	for _, exists := range []bool{true, false} {
		dir, mock := postgresTestDirectory(t)
		mock.ExpectQuery(regexp.QuoteMeta(sqlUserExists)).
			WithArgs("user-1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))

		got, err := dir.UserExists(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, exists, got)
	}
}

func TestPostgres_UserExists_EmptyID(t *testing.T) {
	t.Parallel()
	dir, _ := postgresTestDirectory(t)

	got, err := dir.UserExists(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPostgres_UserExists_Error(t *testing.T) {
	t.Parallel()
	dir, mock := postgresTestDirectory(t)
	mock.ExpectQuery(regexp.QuoteMeta(sqlUserExists)).WithArgs("user-1").WillReturnError(errors.New("connection reset"))

	_, err := dir.UserExists(context.Background(), "user-1")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDirectory)
	testutil.RequireChainCode(t, err, sserr.CodeInternalDatabase)
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestPostgres_Mutations(t *testing.T) {
	t.Parallel()

	type call func(d *Postgres) (Result, error)
	ops := []struct {
		name string
		sql  string
		args []any
		tag  string
		do   call
	}{
		{"sign out", sqlSignOut, []any{"user-1"}, "UPDATE",
			func(d *Postgres) (Result, error) { return d.ForceGlobalSignOut(context.Background(), "user-1") }},
		{"delete", sqlDelete, []any{"user-1"}, "DELETE",
			func(d *Postgres) (Result, error) { return d.DeleteUser(context.Background(), "user-1") }},
		{"update email", sqlEmail, []any{"user-1", "new@example.com"}, "UPDATE",
			func(d *Postgres) (Result, error) { return d.UpdateEmail(context.Background(), "user-1", "new@example.com") }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			t.Parallel()

			dir, mock := postgresTestDirectory(t)
			mock.ExpectExec(regexp.QuoteMeta(op.sql)).WithArgs(op.args...).WillReturnResult(pgxmock.NewResult(op.tag, 1))
			mock.ExpectExec(regexp.QuoteMeta(op.sql)).WithArgs(op.args...).WillReturnResult(pgxmock.NewResult(op.tag, 0))
			mock.ExpectExec(regexp.QuoteMeta(op.sql)).WithArgs(op.args...).WillReturnError(context.DeadlineExceeded)

			res, err := op.do(dir)
			require.NoError(t, err)
			assert.Equal(t, ResultApplied, res)

			res, err = op.do(dir)
			require.NoError(t, err)
			assert.Equal(t, ResultUserNotFound, res)

			res, err = op.do(dir)
			testutil.RequireErrorCode(t, err, sserr.CodeInternalDirectory)
			testutil.RequireChainCode(t, err, sserr.CodeTimeoutDatabase)
			assert.Equal(t, ResultNotApplied, res)
		})
	}
}

func TestPostgres_Mutations_EmptyID(t *testing.T) {
	t.Parallel()
	dir, _ := postgresTestDirectory(t)

	res, err := dir.ForceGlobalSignOut(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, ResultUserNotFound, res)

	res, err = dir.DeleteUser(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, ResultUserNotFound, res)
}

func TestPostgres_UpdateEmail_Empty(t *testing.T) {
	t.Parallel()
	dir, _ := postgresTestDirectory(t)

	res, err := dir.UpdateEmail(context.Background(), "user-1", "")
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
	assert.Equal(t, ResultNotApplied, res)
}

func TestPostgres_EnsureSchema(t *testing.T) {
	t.Parallel()
	dir, mock := postgresTestDirectory(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS directory_users")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS directory_users")).
		WillReturnError(errors.New("permission denied"))

	require.NoError(t, dir.EnsureSchema(context.Background()))
	testutil.RequireErrorCode(t, dir.EnsureSchema(context.Background()), sserr.CodeInternalDirectory)
}
