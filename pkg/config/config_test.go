package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, values map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(values)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func minimalConfig() map[string]any {
	return map[string]any{
		"database": map[string]any{
			"host":     "db.internal",
			"user":     "sync",
			"database": "bizsync",
		},
		"upstream": map[string]any{
			"service_key": "test-key",
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig()))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "json", cfg.Upstream.Format)
	assert.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 3, cfg.Upstream.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Upstream.Retry.InitialDelay)
	assert.InDelta(t, 2.0, cfg.Upstream.Retry.BackoffFactor, 0.0001)
	assert.Equal(t, "public-data-portal", cfg.Sync.Source)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.Schedule)
	assert.Equal(t, "Asia/Seoul", cfg.Scheduler.Timezone)
	assert.Empty(t, cfg.Notify.SlackWebhookURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATA_GO_KR_SERVICE_KEY", "env-key")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("SYNC_SCHEDULE", "*/5 * * * *")
	t.Setenv("SYNC_BATCH_SIZE", "25")

	cfg, err := Load(writeConfig(t, minimalConfig()))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Upstream.ServiceKey)
	assert.Equal(t, "https://hooks.slack.com/services/T/B/X", cfg.Notify.SlackWebhookURL)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Schedule)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{
			name: "missing service key",
			mutate: func(m map[string]any) {
				m["upstream"] = map[string]any{}
			},
		},
		{
			name: "unknown format",
			mutate: func(m map[string]any) {
				m["upstream"].(map[string]any)["format"] = "csv"
			},
		},
		{
			name: "bad timezone",
			mutate: func(m map[string]any) {
				m["scheduler"] = map[string]any{"timezone": "Mars/Olympus"}
			},
		},
		{
			name: "zero batch size",
			mutate: func(m map[string]any) {
				m["sync"] = map[string]any{"batch_size": 0}
			},
		},
		{
			name: "too many page retries",
			mutate: func(m map[string]any) {
				m["sync"] = map[string]any{"page_retries": 11}
			},
		},
		{
			name: "max delay below initial delay",
			mutate: func(m map[string]any) {
				m["upstream"].(map[string]any)["retry"] = map[string]any{
					"initial_delay": "10s",
					"max_delay":     "1s",
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := minimalConfig()
			tt.mutate(values)
			_, err := Load(writeConfig(t, values))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestLoad_ZeroPageRetriesIsKept(t *testing.T) {
	values := minimalConfig()
	values["sync"] = map[string]any{"page_retries": 0}

	cfg, err := Load(writeConfig(t, values))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Sync.PageRetries)
}

func TestLoad_DatabaseDisabled(t *testing.T) {
	values := minimalConfig()
	values["database"] = map[string]any{"enabled": false}

	cfg, err := Load(writeConfig(t, values))
	require.NoError(t, err)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadDatabase_IgnoresOtherSections(t *testing.T) {
	values := minimalConfig()
	values["upstream"] = map[string]any{"format": "csv"}

	dbCfg, err := LoadDatabase(writeConfig(t, values))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", dbCfg.Host)
	assert.Equal(t, "bizsync", dbCfg.Database)

	_, err = Load(writeConfig(t, values))
	require.Error(t, err)
}

func TestLoadDatabase_ValidatesDatabase(t *testing.T) {
	values := minimalConfig()
	values["database"] = map[string]any{"host": ""}

	_, err := LoadDatabase(writeConfig(t, values))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database config validation failed")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestNewLogger_WritesServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("sync finished")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sync finished", entry["msg"])
	assert.Equal(t, ServiceName, entry["service"])
}

func TestOutputPaths(t *testing.T) {
	assert.Equal(t, []string{"stdout"}, outputPaths(""))
	assert.Equal(t, []string{"stdout"}, outputPaths(" , "))
	assert.Equal(t, []string{"stdout", "/var/log/sync.log"}, outputPaths("stdout, /var/log/sync.log"))
}
