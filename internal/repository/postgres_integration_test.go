//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stanstork/aegis-api/internal/erasure"
	"github.com/stanstork/aegis-api/internal/migration"
	"github.com/stanstork/aegis-api/internal/repository"
)

func setupControlPlane(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://test:test@%s:%s/aegis?sslmode=disable", host, port.Port())
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "aegis",
			},
			WaitingFor: wait.ForSQL("5432/tcp", "postgres", dsn),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn(host, port))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migration.Up(db, zerolog.Nop()))
	return db
}

func TestUserRegistrationAndVerification(t *testing.T) {
	db := setupControlPlane(t)
	users := repository.NewUserRepository(db)
	verifications := repository.NewVerificationRepository(db)

	user, tenant, err := users.Register(repository.Registration{
		Organization: "Acme",
		FullName:     "Ada Ops",
		Email:        "Ada@Acme.test",
		Password:     "correct horse",
	}, "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "ada@acme.test", user.Email)
	assert.Equal(t, tenant.ID, user.TenantID)
	assert.False(t, user.EmailVerified)

	_, _, err = users.Register(repository.Registration{
		Organization: "Other", FullName: "Dup", Email: "ada@acme.test", Password: "another pass",
	}, "hash-2", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrEmailTaken)

	_, err = users.AuthenticateUser("ada@acme.test", "wrong")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)

	_, err = verifications.Consume("hash-1", time.Now())
	require.NoError(t, err)
	_, err = verifications.Consume("hash-1", time.Now())
	assert.ErrorIs(t, err, repository.ErrTokenUsed)
	_, err = verifications.Consume("unknown", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)

	authed, err := users.AuthenticateUser("ada@acme.test", "correct horse")
	require.NoError(t, err)
	assert.True(t, authed.EmailVerified)
}

func TestVerificationExpiry(t *testing.T) {
	db := setupControlPlane(t)
	users := repository.NewUserRepository(db)
	verifications := repository.NewVerificationRepository(db)

	_, _, err := users.Register(repository.Registration{
		Organization: "Acme", FullName: "Late", Email: "late@acme.test", Password: "password1",
	}, "expired", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = verifications.Consume("expired", time.Now())
	assert.ErrorIs(t, err, repository.ErrTokenExpired)
}

func TestAuditTrail(t *testing.T) {
	db := setupControlPlane(t)
	users := repository.NewUserRepository(db)
	audit := repository.NewAuditRepository(db)
	ctx := context.Background()

	userA, tenantA, err := users.Register(repository.Registration{
		Organization: "A", FullName: "A", Email: "a@a.test", Password: "password1", Verified: true,
	}, "", time.Time{})
	require.NoError(t, err)
	_, tenantB, err := users.Register(repository.Registration{
		Organization: "B", FullName: "B", Email: "b@b.test", Password: "password1", Verified: true,
	}, "", time.Time{})
	require.NoError(t, err)

	jobID := uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, audit.RecordErasure(ctx, []erasure.AuditEntry{
		{TenantID: tenantA.ID, UserID: userA.ID, JobID: jobID, Database: "crm", Table: "customers", RecordID: "1", Status: "completed", ArtifactDigest: "d", ExecutedAt: now},
		{TenantID: tenantA.ID, UserID: userA.ID, JobID: jobID, Database: "crm", Table: "customers", RecordID: "2", Status: "completed", ArtifactDigest: "d", ExecutedAt: now},
	}))

	logs, err := audit.ListByTenant(ctx, tenantA.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a@a.test", logs[0].UserEmail)

	logs, err = audit.ListByTenant(ctx, tenantB.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	all, err := audit.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stats, err := audit.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Tenants)
	assert.Equal(t, 2, stats.ErasedRecords)
	assert.Equal(t, 1, stats.CompletedJobs)
	assert.Equal(t, 1, stats.ActiveTenants)
	assert.Len(t, stats.PerDay, 7)
}
