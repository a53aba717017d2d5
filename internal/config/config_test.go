package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Second, cfg.SchedulerTick)
	assert.Equal(t, 32, cfg.SchedulerBatch)
	assert.Equal(t, 8, cfg.SchedulerWorkers)
	assert.Equal(t, 4, cfg.NotifierWorkers)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.Providers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ORACLE_HTTP_ADDR", ":9090")
	t.Setenv("ORACLE_SCHEDULER_TICK", "250ms")
	t.Setenv("ORACLE_SCHEDULER_BATCH", "16")
	t.Setenv("ORACLE_CACHE_TTL", "90s")
	t.Setenv("ORACLE_MIN_SOURCES", "3")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.SchedulerTick)
	assert.Equal(t, 16, cfg.SchedulerBatch)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.MinSources)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("ORACLE_SCHEDULER_BATCH", "lots")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestProvidersInlineJSON(t *testing.T) {
	t.Setenv("ORACLE_PROVIDERS", `[{"name":"alpha","url":"https://api.alpha.test/price/{asset}/{currency}","price_path":"data.price"}]`)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "alpha", cfg.Providers[0].Name)
	assert.Equal(t, "data.price", cfg.Providers[0].PricePath)
}

func TestProvidersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	body := `[{"name":"alpha","url":"https://a.test/{asset}","price_path":"price"},{"name":"beta","url":"https://b.test/{asset}","price_path":"last"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("ORACLE_PROVIDERS_FILE", path)

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "beta", cfg.Providers[1].Name)
}

func TestProvidersRejectsMalformedJSON(t *testing.T) {
	t.Setenv("ORACLE_PROVIDERS", `{"not":"an array"`)
	_, err := FromEnv()
	assert.Error(t, err)
}
