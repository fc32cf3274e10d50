package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/watchtower/pkg/eventstream/config"
)

// clearEnv unsets every WATCHTOWER_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range config.Keys {
		name := config.EnvName(key)
		if v, ok := os.LookupEnv(name); ok {
			require.NoError(t, os.Unsetenv(name))
			t.Cleanup(func() { os.Setenv(name, v) })
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	s := config.DefaultSettings()

	assert.Equal(t, "watch_tower:events", s.StreamPrefix)
	assert.Equal(t, "watch_tower_consumers", s.ConsumerGroup)
	assert.Equal(t, int64(100), s.BatchSize)
	assert.Equal(t, time.Second, s.Block)
	assert.Equal(t, int64(10000), s.MaxLen)
	assert.Equal(t, 5*time.Second, s.ErrorBackoff)
	assert.Equal(t, int64(100), s.PendingCount)
	assert.Equal(t, 10, s.RedisPoolSize)
	assert.NoError(t, s.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), s)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "watchtower.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis_url: redis://file:6379/1
consumer_group: file_group
batch_size: 25
claim_min_idle: 2m
`), 0o644))

	t.Setenv("WATCHTOWER_CONSUMER_GROUP", "env_group")
	t.Setenv("WATCHTOWER_BLOCK", "250ms")
	t.Setenv("WATCHTOWER_MAX_LEN", "500")

	s, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://file:6379/1", s.RedisURL)
	assert.Equal(t, "env_group", s.ConsumerGroup)
	assert.Equal(t, int64(25), s.BatchSize)
	assert.Equal(t, 2*time.Minute, s.ClaimMinIdle)
	assert.Equal(t, 250*time.Millisecond, s.Block)
	assert.Equal(t, int64(500), s.MaxLen)
	assert.Equal(t, "watch_tower:events", s.StreamPrefix)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHTOWER_BATCH_SIZE", "0")
	t.Setenv("WATCHTOWER_LOG_FORMAT", "xml")

	_, err := config.Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "batch_size")
	assert.ErrorContains(t, err, "log_format")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "WATCHTOWER_REDIS_URL", config.EnvName(config.KeyRedisURL))
}

func TestLoad_EventTypesAndOTel(t *testing.T) {
	clearEnv(t)
	t.Setenv("WATCHTOWER_EVENT_TYPES", "position.updated, state.changed")
	t.Setenv("WATCHTOWER_OTEL_ENABLED", "true")

	s, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"position.updated", "state.changed"}, s.EventTypes)
	assert.True(t, s.OTelEnabled)
}
