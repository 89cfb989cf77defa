package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/metasearch/internal/repo"
	"github.com/xxxsen/metasearch/internal/search"
)

type Config struct {
	Port      int                     `json:"port"`
	LogConfig logger.LogConfig        `json:"log_config"`
	Database  repo.DatabaseConfig     `json:"database"`
	Search    search.RestEngineConfig `json:"search"`
	Embedding EmbeddingConfig         `json:"embedding"`
	Reindex   ReindexConfig           `json:"reindex"`
	Jobs      JobsConfig              `json:"jobs"`
}

type EmbeddingConfig struct {
	Provider string                 `json:"provider"`
	Args     map[string]interface{} `json:"args"`
	// CacheSize bounds the in-memory embedding cache; 0 disables it.
	CacheSize int `json:"cache_size"`
	// CacheTTLMinutes expires in-memory entries; 0 keeps them until evicted.
	CacheTTLMinutes int `json:"cache_ttl_minutes"`
	// PersistentCache stores embeddings in the database keyed by content hash.
	PersistentCache bool `json:"persistent_cache"`
}

type ReindexConfig struct {
	EntityTypes    []string `json:"entity_types"`
	PageSize       int      `json:"page_size"`
	MaxBulkActions int      `json:"max_bulk_actions"`
	MaxBulkBytes   int64    `json:"max_bulk_bytes"`
	CatalogAddr    string   `json:"catalog_addr"`
}

type JobsConfig struct {
	ReindexSpec      string `json:"reindex_spec"`
	CacheCleanupSpec string `json:"cache_cleanup_spec"`
	CacheMaxAgeDays  int    `json:"cache_max_age_days"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Search.Addr == "" {
		return nil, fmt.Errorf("search.addr is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Embedding.Provider != "" && cfg.Embedding.Args == nil {
		return nil, fmt.Errorf("embedding.args is required when a provider is set")
	}
	if cfg.Embedding.PersistentCache && cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database config is required for the persistent embedding cache")
	}
	if cfg.Reindex.CatalogAddr == "" {
		return nil, fmt.Errorf("reindex.catalog_addr is required")
	}
	if len(cfg.Reindex.EntityTypes) == 0 {
		cfg.Reindex.EntityTypes = []string{"table", "topic", "dashboard", "pipeline"}
	}
	if cfg.Reindex.PageSize <= 0 {
		cfg.Reindex.PageSize = 100
	}
	if cfg.Jobs.CacheCleanupSpec == "" {
		cfg.Jobs.CacheCleanupSpec = "0 3 * * *"
	}
	return &cfg, nil
}
