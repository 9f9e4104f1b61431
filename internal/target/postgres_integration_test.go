//go:build integration

package target_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stanstork/aegis-api/internal/target"
)

func setupPostgres(t *testing.T) target.ConnectionSpec {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
		}),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	off := false
	return target.ConnectionSpec{
		Host:       host,
		Port:       port.Port(),
		DBName:     "testdb",
		User:       "test",
		Password:   "test",
		SSLEnabled: &off,
	}
}

func TestPostgresBroker(t *testing.T) {
	spec := setupPostgres(t)
	broker := target.NewBroker(target.Options{}, zerolog.Nop())
	ctx := context.Background()

	h, err := broker.Open(ctx, spec)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.DB().ExecContext(ctx, `
		CREATE TABLE customers (id SERIAL PRIMARY KEY, email TEXT, phone TEXT, created_at TIMESTAMPTZ DEFAULT now());
		CREATE TABLE order_lines (order_id INT, line INT, PRIMARY KEY (order_id, line));`)
	require.NoError(t, err)

	tables, err := h.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "order_lines"}, tables)

	cols, err := h.Columns(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, "id", cols.PrimaryKey)
	assert.Equal(t, []string{"id", "email", "phone", "created_at"}, cols.Names())
	assert.Equal(t, "timestamp with time zone", cols.Columns[3].Type)

	cols, err = h.Columns(ctx, "order_lines")
	require.NoError(t, err)
	assert.Equal(t, target.UnknownKey, cols.PrimaryKey)
	assert.True(t, cols.CompositeKey)

	var n int
	err = h.DB().QueryRowContext(ctx, target.SelectByKeys(h.Dialect(), "customers", "id", 1, 0), "1").Scan(&n)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPostgresAuthRejected(t *testing.T) {
	spec := setupPostgres(t)
	spec.Password = "wrong"

	_, err := target.NewBroker(target.Options{}, zerolog.Nop()).Open(context.Background(), spec)

	var connErr *target.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, target.ReasonAuthRejected, connErr.Reason)
	assert.False(t, connErr.Temporary)
}

func TestPostgresTLSRequiredButUnsupported(t *testing.T) {
	spec := setupPostgres(t)
	on := true
	spec.SSLEnabled = &on

	_, err := target.NewBroker(target.Options{}, zerolog.Nop()).Open(context.Background(), spec)

	var connErr *target.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, target.ReasonTLSFailed, connErr.Reason)
}
