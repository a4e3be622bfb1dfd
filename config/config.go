// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads folio settings from a YAML file and FOLIO_*
// environment variables. Environment values win over the file, which wins
// over the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/progress"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete folio configuration.
type Config struct {
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
	Progress ProgressConfig `yaml:"progress"`
	LogLevel string         `yaml:"log_level"`
}

// AIConfig selects and configures the model provider.
type AIConfig struct {
	Provider          string  `yaml:"provider"`
	EmbeddingHost     string  `yaml:"embedding_host"`
	GeneratorHost     string  `yaml:"generator_host"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	GeneratorModel    string  `yaml:"generator_model"`
	APIKey            string  `yaml:"api_key"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PipelineConfig tunes ingestion runs.
type PipelineConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	ContextBudget     int           `yaml:"context_budget"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
	StorageTimeout    time.Duration `yaml:"storage_timeout"`
	Workers           int           `yaml:"workers"`
	StoreConcurrency  int           `yaml:"store_concurrency"`
	EmbedBatchSize    int           `yaml:"embed_batch_size"`
}

// StorageConfig selects the backends. Local files live under DataDir.
type StorageConfig struct {
	DataDir    string      `yaml:"data_dir"`
	Vectors    string      `yaml:"vectors"`
	Relational string      `yaml:"relational"`
	SyncWrites bool        `yaml:"sync_writes"` // fsync metadata commits
	Redis      RedisConfig `yaml:"redis"`
	MySQL      MySQLConfig `yaml:"mysql"`
}

// RedisConfig is shared by the Redis vector store and progress channel.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MySQLConfig holds the MySQL server connection.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ProgressConfig controls where progress events go besides the log.
type ProgressConfig struct {
	// Redis publishes events on Redis pub/sub using Storage.Redis.
	Redis         bool   `yaml:"redis"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// Default returns the built-in configuration: a local OpenAI-compatible
// server and sqlite stores under ./folio-data.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		AI: AIConfig{
			Provider:       aiDefaults.Provider,
			EmbeddingHost:  aiDefaults.EmbeddingHost,
			GeneratorHost:  aiDefaults.GeneratorHost,
			EmbeddingModel: aiDefaults.EmbeddingModel,
			GeneratorModel: aiDefaults.GeneratorModel,
			APIKey:         aiDefaults.APIKey,
			Burst:          aiDefaults.Burst,
		},
		Pipeline: PipelineConfig{
			ChunkSize:         10,
			ContextBudget:     4000,
			MaxAttempts:       3,
			BaseDelay:         2 * time.Second,
			MaxDelay:          10 * time.Second,
			ExtractionTimeout: 120 * time.Second,
			StorageTimeout:    30 * time.Second,
			Workers:           2,
			StoreConcurrency:  4,
			EmbedBatchSize:    100,
		},
		Storage: StorageConfig{
			DataDir:    "folio-data",
			Vectors:    BackendSQLite,
			Relational: BackendSQLite,
			Redis:      RedisConfig{Addr: "localhost:6379"},
			MySQL:      MySQLConfig{Host: "localhost", Port: 3306, User: "root"},
		},
		Progress: ProgressConfig{ChannelPrefix: progress.DefaultChannelPrefix},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, applies FOLIO_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend names and numeric ranges.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	case p.MaxAttempts <= 0:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	case p.ExtractionTimeout <= 0 || p.StorageTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case p.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}

	switch c.Storage.Vectors {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown vector backend %q", ErrInvalidConfig, c.Storage.Vectors)
	}
	switch c.Storage.Relational {
	case BackendSQLite, BackendMySQL:
	default:
		return fmt.Errorf("%w: unknown relational backend %q", ErrInvalidConfig, c.Storage.Relational)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalidConfig)
	}
	if (c.Storage.Vectors == BackendRedis || c.Progress.Redis) && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
	}

	if err := c.AIConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// AIConfig converts the AI section into an ai.Config. With the gemini
// provider, hosts left at the local server defaults are dropped.
func (c *Config) AIConfig() *ai.Config {
	defaults := ai.DefaultConfig()
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGeneratorHost(c.AI.GeneratorHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGeneratorModel(c.AI.GeneratorModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithRateLimit(c.AI.RequestsPerSecond, c.AI.Burst),
	)
	cfg.Provider = c.AI.Provider
	if cfg.Provider == ai.ProviderGemini {
		if cfg.EmbeddingHost == defaults.EmbeddingHost {
			cfg.EmbeddingHost = ""
		}
		if cfg.GeneratorHost == defaults.GeneratorHost {
			cfg.GeneratorHost = ""
		}
	}
	return cfg
}

// MetadataPath is the badger directory.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.Storage.DataDir, "meta")
}

// VectorsPath is the sqlite vector database file.
func (c *Config) VectorsPath() string {
	return filepath.Join(c.Storage.DataDir, "vectors.db")
}

// TablesDir holds one sqlite database per document.
func (c *Config) TablesDir() string {
	return filepath.Join(c.Storage.DataDir, "tables")
}
