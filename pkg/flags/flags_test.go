package flags

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

// flagsTestGetter is a testify mock of Getter.
type flagsTestGetter struct {
	mock.Mock
}

func (g *flagsTestGetter) Get(ctx context.Context, key string) (string, bool, error) {
	args := g.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func TestStatic(t *testing.T) {
	t.Parallel()

	s := Static{Attestation: true}
	on, err := s.Enabled(context.Background(), Attestation)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = s.Enabled(context.Background(), SharedSignal)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestNewRedis_Config(t *testing.T) {
	t.Parallel()

	_, err := NewRedis(nil, "authgw")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
	_, err = NewRedis(new(flagsTestGetter), "")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

func TestRedis_Values(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{" True\n", true},
		{"false", false},
		{"1", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			g := new(flagsTestGetter)
			g.On("Get", mock.Anything, "authgw:feature-flags:attestation").Return(tt.value, true, nil)
			r, err := NewRedis(g, "authgw")
			require.NoError(t, err)

			on, err := r.Enabled(context.Background(), Attestation)
			require.NoError(t, err)
			assert.Equal(t, tt.want, on)
		})
	}
}

func TestRedis_CachesPerFlag(t *testing.T) {
	t.Parallel()

	g := new(flagsTestGetter)
	g.On("Get", mock.Anything, "authgw:feature-flags:attestation").Return("true", true, nil).Twice()
	g.On("Get", mock.Anything, "authgw:feature-flags:shared-signal").Return("false", true, nil).Once()

	now := time.Unix(1_700_000_000, 0)
	r, err := NewRedis(g, "authgw", WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for range 3 {
		on, err := r.Enabled(context.Background(), Attestation)
		require.NoError(t, err)
		assert.True(t, on)
	}
	on, err := r.Enabled(context.Background(), SharedSignal)
	require.NoError(t, err)
	assert.False(t, on)

	now = now.Add(DefaultCacheTTL)
	_, err = r.Enabled(context.Background(), Attestation)
	require.NoError(t, err)

	g.AssertExpectations(t)
}

func TestRedis_Errors(t *testing.T) {
	t.Parallel()

	g := new(flagsTestGetter)
	g.On("Get", mock.Anything, "authgw:feature-flags:attestation").Return("", false, nil)
	g.On("Get", mock.Anything, "authgw:feature-flags:shared-signal").Return("", false, errors.New("connection reset"))
	r, err := NewRedis(g, "authgw")
	require.NoError(t, err)

	_, err = r.Enabled(context.Background(), Attestation)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
	assert.Contains(t, err.Error(), "not set")

	_, err = r.Enabled(context.Background(), SharedSignal)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)

	_, err = r.Enabled(context.Background(), SharedSignal)
	require.Error(t, err, "failures are not cached")
	g.AssertNumberOfCalls(t, "Get", 3)
}
