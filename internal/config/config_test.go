package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, ":9000", cfg.MetricsAddr)
	assert.Equal(t, 20, cfg.DatabaseMaxOpen)
	assert.Equal(t, 5, cfg.DatabaseMaxIdle)
	assert.Equal(t, 30*time.Minute, cfg.DatabaseLifetime)
	assert.Equal(t, "/srv/airlock/workspaces", cfg.WorkspaceRoot)
	assert.Equal(t, 5.0, cfg.JobsAPIRateLimit)
	assert.Equal(t, "@every 1m", cfg.UploadResumeCron)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("AIRLOCK_HTTP_ADDR", ":9999")
	t.Setenv("AIRLOCK_UPLOAD_MAX_IN_FLIGHT", "10")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 10, cfg.UploadMaxInFlight)
}

func TestLoad_MissingConfigFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/to/airlock.yaml")
	assert.Error(t, err)
}
