package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_MemoryStoreDefaults(t *testing.T) {
	path := writeConfig(t, `
substitution:
  store: memory
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "substitution-engine", cfg.App.Name)
	assert.Equal(t, time.Hour, cfg.Substitution.Window())
	assert.Equal(t, "@every 1m", cfg.Substitution.SweepSchedule)
	assert.Equal(t, 500, cfg.Substitution.BatchSize)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "substitution.handoff", cfg.Messaging.NATS.SubjectPrefix)
	assert.Equal(t, "substitution-handoff-events", cfg.Database.Elasticsearch.EventsIndex)
	assert.Equal(t, 10.0, cfg.Notifications.RateLimitPerSecond)
}

func TestLoadFromFile_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.internal")
	path := writeConfig(t, `
database:
  postgres:
    host: ${TEST_DB_HOST}
    database: substitution
    user: engine
substitution:
  confirmation_window: 900000
workers:
  substitution-timer-sweep:
    enabled: true
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, StorePostgres, cfg.Substitution.Store)
	assert.Equal(t, 15*time.Minute, cfg.Substitution.Window())

	w := GetWorkerConfig(cfg, "substitution-timer-sweep")
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 30000, w.Timeout)
	assert.True(t, IsWorkerEnabled(cfg, "unknown-worker"))
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"postgres without host", "substitution:\n  store: postgres\n", "database.postgres.host"},
		{"unknown store", "substitution:\n  store: sqlite\n", "substitution.store"},
		{"camunda without broker", "substitution:\n  store: memory\ncamunda:\n  enabled: true\n", "camunda.broker_address"},
		{"nats without url", "substitution:\n  store: memory\nmessaging:\n  nats:\n    enabled: true\n", "messaging.nats.url"},
		{"email without sender", "substitution:\n  store: memory\nnotifications:\n  email:\n    enabled: true\n", "from_email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
	assert.Equal(t, time.Duration(0), GetDuration(0))
}
