package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, 500, cfg.Pipeline.BatchSize)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 100, cfg.Source.PageSize)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FACILITY_STORE_DRIVER", "sqlite")
	t.Setenv("FACILITY_PIPELINE_BATCH_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
}

// Keys whose default is the empty string must still be reachable through
// the environment.
func TestLoad_EnvOverridesEmptyDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FACILITY_STORE_DATABASE_URL", "postgres://etl:secret@db/facilities")
	t.Setenv("FACILITY_SOURCE_API_BASE_URL", "https://locator.example.com/v1")
	t.Setenv("FACILITY_SOURCE_API_KEY", "k-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://etl:secret@db/facilities", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://locator.example.com/v1", cfg.Source.APIBaseURL)
	assert.Equal(t, "k-123", cfg.Source.APIKey)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	assert.Error(t, err)
}
