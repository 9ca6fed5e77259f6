package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, yaml string) (*Config, error) {
	t.Helper()

	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	}

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})

	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, "")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "kimi-k2p5", cfg.LLM.DefaultModel)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	cfg, err := loadFrom(t, `
server:
  addr: ":9090"
store:
  backend: sqlite
  dsn: weft.db
llm:
  base_url: http://localhost:9999/v1
  api_key: test-key
  prices:
    my-model:
      input_per_1k: 0.001
      output_per_1k: 0.003
log:
  level: debug
`)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.Equal(t, "weft.db", cfg.Store.DSN)
	require.Equal(t, "test-key", cfg.LLM.APIKey)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Contains(t, cfg.LLM.Prices, "my-model")
	require.Equal(t, 0.001, cfg.LLM.Prices["my-model"].InputPer1K)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("WEFT_LLM_API_KEY", "from-env")
	t.Setenv("WEFT_STORE_BACKEND", "redis")
	t.Setenv("WEFT_STORE_DSN", "localhost:6379")

	cfg, err := loadFrom(t, "")
	require.NoError(t, err)

	require.Equal(t, "from-env", cfg.LLM.APIKey)
	require.Equal(t, "redis", cfg.Store.Backend)
	require.Equal(t, "localhost:6379", cfg.Store.DSN)
}

func TestLoad_RejectsBadBackend(t *testing.T) {
	_, err := loadFrom(t, "store:\n  backend: dynamo\n")
	require.ErrorContains(t, err, "unknown store backend")
}

func TestLoad_RequiresDSN(t *testing.T) {
	_, err := loadFrom(t, "store:\n  backend: postgres\n")
	require.ErrorContains(t, err, "requires store.dsn")
}
