package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 4000, cfg.Pipeline.ContextBudget)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.MaxDelay)
	assert.Equal(t, 120*time.Second, cfg.Pipeline.ExtractionTimeout)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StorageTimeout)
	assert.Equal(t, BackendSQLite, cfg.Storage.Vectors)
	assert.Equal(t, BackendSQLite, cfg.Storage.Relational)
	assert.False(t, cfg.Progress.Redis)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
ai:
  provider: gemini
  api_key: secret
  generator_model: gemini-2.5-flash
  embedding_model: gemini-embedding-001
pipeline:
  chunk_size: 5
  extraction_timeout: 45s
storage:
  data_dir: /var/lib/folio
  relational: mysql
  sync_writes: true
  mysql:
    host: db.internal
progress:
  redis: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.ExtractionTimeout)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts, "unset fields keep defaults")
	assert.Equal(t, BackendMySQL, cfg.Storage.Relational)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, "db.internal", cfg.Storage.MySQL.Host)
	assert.Equal(t, 3306, cfg.Storage.MySQL.Port)
	assert.True(t, cfg.Progress.Redis)
	assert.Equal(t, "/var/lib/folio/meta", cfg.MetadataPath())
	assert.Equal(t, "/var/lib/folio/vectors.db", cfg.VectorsPath())
	assert.Equal(t, "/var/lib/folio/tables", cfg.TablesDir())

	aiCfg := cfg.AIConfig()
	assert.Equal(t, ai.ProviderGemini, aiCfg.Provider)
	assert.Empty(t, aiCfg.GeneratorHost, "local default host is dropped for gemini")
	assert.Equal(t, "gemini-2.5-flash", aiCfg.GeneratorModel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  chunk_size: 5\n")
	t.Setenv("FOLIO_CHUNK_SIZE", "20")
	t.Setenv("FOLIO_VECTOR_BACKEND", "redis")
	t.Setenv("FOLIO_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Pipeline.ChunkSize)
	assert.Equal(t, BackendRedis, cfg.Storage.Vectors)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "pipeline: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  vectors: qdrant\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(lookupMap(map[string]string{
		"FOLIO_AI_PROVIDER":         "gemini",
		"FOLIO_API_KEY":             "k",
		"FOLIO_MAX_ATTEMPTS":        "5",
		"FOLIO_BASE_DELAY":          "500ms",
		"FOLIO_PROGRESS_REDIS":      "true",
		"FOLIO_REQUESTS_PER_SECOND": "2.5",
		"FOLIO_MYSQL_PORT":          "3307",
		"FOLIO_DATA_DIR":            "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, "k", cfg.AI.APIKey)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.BaseDelay)
	assert.True(t, cfg.Progress.Redis)
	assert.Equal(t, 2.5, cfg.AI.RequestsPerSecond)
	assert.Equal(t, 3307, cfg.Storage.MySQL.Port)
	assert.Equal(t, "folio-data", cfg.Storage.DataDir, "empty values are ignored")
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	for key, value := range map[string]string{
		"FOLIO_CHUNK_SIZE":         "ten",
		"FOLIO_EXTRACTION_TIMEOUT": "soon",
		"FOLIO_PROGRESS_REDIS":     "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(lookupMap(map[string]string{key: value}))
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Pipeline.ChunkSize = 0 }},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }},
		{"negative delay", func(c *Config) { c.Pipeline.BaseDelay = -time.Second }},
		{"zero timeout", func(c *Config) { c.Pipeline.StorageTimeout = 0 }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"unknown relational backend", func(c *Config) { c.Storage.Relational = "postgres" }},
		{"missing data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"redis without addr", func(c *Config) { c.Progress.Redis = true; c.Storage.Redis.Addr = "" }},
		{"unknown provider", func(c *Config) { c.AI.Provider = "acme" }},
		{"gemini without key", func(c *Config) { c.AI.Provider = "gemini"; c.AI.APIKey = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
