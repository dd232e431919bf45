package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLOORPLAN_DATA_DIR", "/var/lib/floorplan")
	cfg := Load()

	assert.Equal(t, 8585, cfg.ServerPort)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, filepath.Join("/var/lib/floorplan", "floorplan.db"), cfg.SQLitePath)
	assert.Equal(t, ProviderBedrock, cfg.Analyzer)
	assert.Equal(t, DefaultModel(ProviderBedrock), cfg.AnalyzerModel)
	assert.Equal(t, 50, cfg.MaxFiles)
	assert.Equal(t, int64(20<<20), cfg.MaxFileBytes)
	assert.Equal(t, 3, cfg.SyncThreshold)
	assert.Equal(t, 2*time.Minute, cfg.AnalyzerTimeout)
	assert.InDelta(t, 0.3, cfg.MatchMinScore, 1e-9)
	assert.Equal(t, "@every 5m", cfg.JanitorSchedule)
	assert.Equal(t, 15*time.Minute, cfg.StallAfter)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FLOORPLAN_ANALYZER", "Ollama")
	t.Setenv("FLOORPLAN_STORE", "MySQL")
	t.Setenv("FLOORPLAN_SYNC_THRESHOLD", "5")
	t.Setenv("FLOORPLAN_ANALYZER_RPS", "0.5")
	t.Setenv("FLOORPLAN_ANALYZER_TIMEOUT", "45s")
	t.Setenv("FLOORPLAN_LOG_LEVEL", "warning")
	t.Setenv("FLOORPLAN_DB_DEBUG", "true")

	cfg := Load()
	assert.Equal(t, ProviderOllama, cfg.Analyzer)
	assert.Equal(t, DefaultModel(ProviderOllama), cfg.AnalyzerModel)
	assert.Equal(t, StoreMySQL, cfg.Store)
	assert.Equal(t, 5, cfg.SyncThreshold)
	assert.InDelta(t, 0.5, cfg.AnalyzerRPS, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.AnalyzerTimeout)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.True(t, cfg.DBDebug)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("FLOORPLAN_MAX_FILES", "many")
	t.Setenv("FLOORPLAN_ANALYZER_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 50, cfg.MaxFiles)
	assert.Equal(t, 2*time.Minute, cfg.AnalyzerTimeout)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("FLOORPLAN_SERVER_URL", "http://imports.internal:9000")
	t.Setenv("FLOORPLAN_TENANT", "acme")
	t.Setenv("FLOORPLAN_CLIENT_TIMEOUT", "30s")

	cfg := LoadClient()
	assert.Equal(t, "http://imports.internal:9000", cfg.ServerURL)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("batch created", "batch_id", "b-1")

	assert.Contains(t, stderr.String(), "batch created")
	assert.NotContains(t, stderr.String(), "hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &line))
	assert.Equal(t, "b-1", line["batch_id"])
	assert.Equal(t, ServiceName, line["service"])
	assert.NotContains(t, line, "source")
}

func TestSetupLoggerCreatesLogDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestSetupLoggerFallsBackToStderr(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	logger, cleanup := SetupLogger(filepath.Join(blocker, "x.log"), slog.LevelInfo)
	require.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
