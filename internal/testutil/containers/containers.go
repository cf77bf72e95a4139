//go:build integration

// Package containers starts the Postgres and Redis containers used by the
// integration tests. Only files carrying the integration build tag may
// import it.
package containers

import (
	"context"
	"fmt"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	PostgresImage    = "docker.io/postgres:16-alpine"
	PostgresDatabase = "authgw_test"
	PostgresUser     = "authgw"
	PostgresPassword = "authgw-test-password"

	RedisImage = "docker.io/redis:7-alpine"
)

// Postgres starts a Postgres container, terminates it on cleanup and
// returns a sslmode=disable connection URI.
func Postgres(ctx context.Context, t testing.TB) string {
	t.Helper()
	c, err := tcpostgres.Run(ctx, PostgresImage,
		tcpostgres.WithDatabase(PostgresDatabase),
		tcpostgres.WithUsername(PostgresUser),
		tcpostgres.WithPassword(PostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("containers: start postgres: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	uri, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("containers: postgres connection string: %v", err)
	}
	return uri
}

// Redis starts a Redis container, terminates it on cleanup and returns its
// host:port address.
func Redis(ctx context.Context, t testing.TB) string {
	t.Helper()
	c, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		t.Fatalf("containers: start redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("containers: redis host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("containers: redis port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}
