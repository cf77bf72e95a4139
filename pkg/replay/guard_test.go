package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/auth-gateway/internal/testutil"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// guardTestStore is a testify mock of Store.
type guardTestStore struct {
	mock.Mock
}

func (s *guardTestStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	args := s.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}

func (s *guardTestStore) Del(ctx context.Context, keys ...string) (int64, error) {
	args := s.Called(ctx, keys)
	return args.Get(0).(int64), args.Error(1)
}

func TestNew_RequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(nil, "authgw")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestClaim(t *testing.T) {
	t.Parallel()

	s := new(guardTestStore)
	s.On("SetNX", mock.Anything, "authgw:set-jti:evt-1", mock.AnythingOfType("string"), DefaultTTL).Return(true, nil).Once()
	s.On("SetNX", mock.Anything, "authgw:set-jti:evt-1", mock.AnythingOfType("string"), DefaultTTL).Return(false, nil).Once()
	g, err := New(s, "authgw")
	require.NoError(t, err)

	assert.True(t, g.Claim(context.Background(), "evt-1"))
	assert.False(t, g.Claim(context.Background(), "evt-1"))
	s.AssertExpectations(t)
}

func TestClaim_FailsOpen(t *testing.T) {
	t.Parallel()

	s := new(guardTestStore)
	s.On("SetNX", mock.Anything, "set-jti:evt-1", mock.Anything, time.Hour).Return(false, errors.New("connection refused"))
	g, err := New(s, "", WithTTL(time.Hour))
	require.NoError(t, err)

	assert.True(t, g.Claim(context.Background(), "evt-1"))
}

func TestClaim_UntrackableIDs(t *testing.T) {
	t.Parallel()

	s := new(guardTestStore)
	g, err := New(s, "authgw")
	require.NoError(t, err)

	assert.True(t, g.Claim(context.Background(), ""))
	var nilGuard *Guard
	assert.True(t, nilGuard.Claim(context.Background(), "evt-1"))
	nilGuard.Release(context.Background(), "evt-1")
	s.AssertNotCalled(t, "SetNX", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRelease(t *testing.T) {
	t.Parallel()

	s := new(guardTestStore)
	s.On("Del", mock.Anything, []string{"authgw:set-jti:evt-1"}).Return(int64(1), nil).Once()
	s.On("Del", mock.Anything, []string{"authgw:set-jti:evt-2"}).Return(int64(0), errors.New("timeout")).Once()
	g, err := New(s, "authgw")
	require.NoError(t, err)

	g.Release(context.Background(), "evt-1")
	g.Release(context.Background(), "evt-2")
	g.Release(context.Background(), "")
	s.AssertExpectations(t)
}
