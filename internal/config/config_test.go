package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AEGIS_JWT_SECRET", "s3cret")
	t.Setenv("AEGIS_DATABASE_URL", "postgres://aegis@localhost/aegis")
	t.Setenv("AEGIS_WORKER_MAX_CONCURRENT_JOBS", "9")
	t.Setenv("AEGIS_SCOPE_LIST_CEILING", "50")
	t.Setenv("AEGIS_TARGET_CONNECT_TIMEOUT", "3s")

	cfg := Load()
	require.NotNil(t, cfg)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 9, cfg.Worker.MaxConcurrentJobs)
	assert.Equal(t, 50, cfg.Scope.ListCeiling)
	assert.Equal(t, 3*time.Second, cfg.Target.ConnectTimeout)
	assert.True(t, cfg.Auth.RequireVerification)
	assert.Equal(t, 5, cfg.Target.SampleSize, "content sampling is on by default")
	assert.Equal(t, 3, cfg.Worker.ConnectRetries)
}

func TestLoadKeepsExplicitZero(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("AEGIS_JWT_SECRET", "s3cret")
	t.Setenv("AEGIS_DATABASE_URL", "postgres://aegis@localhost/aegis")
	t.Setenv("AEGIS_TARGET_SAMPLE_SIZE", "0")
	t.Setenv("AEGIS_WORKER_CONNECT_RETRIES", "0")

	cfg := Load()
	assert.Zero(t, cfg.Target.SampleSize, "zero disables sampling")
	assert.Zero(t, cfg.Worker.ConnectRetries, "zero disables retries")
}

func TestDefaults(t *testing.T) {
	cfg := Config{JWTSecret: "k"}
	cfg.applyDefaults()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, []string{"postgres"}, cfg.Target.AllowedDrivers)
	assert.Equal(t, 2000, cfg.Scope.RangeCeiling)
	assert.Equal(t, 500, cfg.Scope.ListCeiling)
	assert.Equal(t, 24*time.Hour, cfg.Worker.Retention)
	assert.Equal(t, time.Hour, cfg.Worker.SweepInterval)
	assert.Equal(t, "k", cfg.Certificate.SigningKey, "certificates fall back to the JWT secret")
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.False(t, cfg.Email.Enabled())

	negative := Config{JWTSecret: "k", Target: TargetConfig{SampleSize: -1}, Worker: WorkerConfig{ConnectRetries: -2}}
	negative.applyDefaults()
	assert.Zero(t, negative.Target.SampleSize)
	assert.Zero(t, negative.Worker.ConnectRetries)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
