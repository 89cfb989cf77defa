package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"search": {"addr": "http://localhost:9200"},
		"embedding": {"provider": "openai", "args": {"api_key": "k", "model_id": "m", "dimension": 8}},
		"reindex": {"catalog_addr": "http://localhost:8585"}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, 100, cfg.Reindex.PageSize)
	require.NotEmpty(t, cfg.Reindex.EntityTypes)
	require.Equal(t, "0 3 * * *", cfg.Jobs.CacheCleanupSpec)
}

func TestLoadMissingPort(t *testing.T) {
	path := writeConfig(t, `{"search": {"addr": "http://localhost:9200"}}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "port")
}

func TestLoadMissingSearchAddr(t *testing.T) {
	path := writeConfig(t, `{"port": 8080}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "search.addr")
}

func TestLoadProviderWithoutArgs(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"search": {"addr": "http://localhost:9200"},
		"embedding": {"provider": "openai"},
		"reindex": {"catalog_addr": "http://localhost:8585"}
	}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "embedding.args")
}

func TestLoadPersistentCacheNeedsDatabase(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"search": {"addr": "http://localhost:9200"},
		"embedding": {"provider": "openai", "args": {}, "persistent_cache": true},
		"reindex": {"catalog_addr": "http://localhost:8585"}
	}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "database")
}

func TestLoadMissingCatalogAddr(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"search": {"addr": "http://localhost:9200"}
	}`)
	_, err := Load(path)
	require.ErrorContains(t, err, "catalog_addr")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
