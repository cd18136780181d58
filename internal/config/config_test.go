package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/noslate-project/alice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsUsable(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.VirtualMemoryPoolSize, int64(0))
	assert.Greater(t, cfg.Worker.MaxActivateRequests, 0)
	assert.Equal(t, domain.ShrinkLCC, cfg.Worker.DefaultShrinkStrategy)
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
virtual_memory_pool_size: 1073741824
worker:
  max_activate_requests: 20
  default_shrink_strategy: FIFO
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1073741824), cfg.VirtualMemoryPoolSize)
	assert.Equal(t, 20, cfg.Worker.MaxActivateRequests)
	assert.Equal(t, domain.ShrinkFIFO, cfg.Worker.DefaultShrinkStrategy)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.Worker.ReplicaCountLimit)
}

func TestLoadFromFileRejectsMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("NOSLATED_WORKER_MAX_ACTIVATE_REQUESTS", "42")
	t.Setenv("NOSLATED_WORKER_DEFAULT_SHRINK_STRATEGY", "FILO")
	t.Setenv("NOSLATED_LISTEN_ADDRESS", "0.0.0.0:9000")

	LoadFromEnv(cfg)

	assert.Equal(t, 42, cfg.Worker.MaxActivateRequests)
	assert.Equal(t, domain.ShrinkFILO, cfg.Worker.DefaultShrinkStrategy)
	assert.Equal(t, "0.0.0.0:9000", cfg.Daemon.ListenAddress)
}
