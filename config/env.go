package config

import (
	"fmt"
	"strconv"
	"time"
)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

type envVar struct {
	key   string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"FOLIO_AI_PROVIDER", str(func(c *Config) *string { return &c.AI.Provider })},
	{"FOLIO_EMBEDDING_HOST", str(func(c *Config) *string { return &c.AI.EmbeddingHost })},
	{"FOLIO_GENERATOR_HOST", str(func(c *Config) *string { return &c.AI.GeneratorHost })},
	{"FOLIO_EMBEDDING_MODEL", str(func(c *Config) *string { return &c.AI.EmbeddingModel })},
	{"FOLIO_GENERATOR_MODEL", str(func(c *Config) *string { return &c.AI.GeneratorModel })},
	{"FOLIO_API_KEY", str(func(c *Config) *string { return &c.AI.APIKey })},
	{"FOLIO_REQUESTS_PER_SECOND", func(c *Config, v string) error {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.AI.RequestsPerSecond = rps
		return nil
	}},

	{"FOLIO_CHUNK_SIZE", integer(func(c *Config) *int { return &c.Pipeline.ChunkSize })},
	{"FOLIO_CONTEXT_BUDGET", integer(func(c *Config) *int { return &c.Pipeline.ContextBudget })},
	{"FOLIO_MAX_ATTEMPTS", integer(func(c *Config) *int { return &c.Pipeline.MaxAttempts })},
	{"FOLIO_BASE_DELAY", duration(func(c *Config) *time.Duration { return &c.Pipeline.BaseDelay })},
	{"FOLIO_MAX_DELAY", duration(func(c *Config) *time.Duration { return &c.Pipeline.MaxDelay })},
	{"FOLIO_EXTRACTION_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Pipeline.ExtractionTimeout })},
	{"FOLIO_STORAGE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Pipeline.StorageTimeout })},
	{"FOLIO_WORKERS", integer(func(c *Config) *int { return &c.Pipeline.Workers })},

	{"FOLIO_DATA_DIR", str(func(c *Config) *string { return &c.Storage.DataDir })},
	{"FOLIO_VECTOR_BACKEND", str(func(c *Config) *string { return &c.Storage.Vectors })},
	{"FOLIO_RELATIONAL_BACKEND", str(func(c *Config) *string { return &c.Storage.Relational })},
	{"FOLIO_REDIS_ADDR", str(func(c *Config) *string { return &c.Storage.Redis.Addr })},
	{"FOLIO_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Storage.Redis.Password })},
	{"FOLIO_MYSQL_HOST", str(func(c *Config) *string { return &c.Storage.MySQL.Host })},
	{"FOLIO_MYSQL_PORT", integer(func(c *Config) *int { return &c.Storage.MySQL.Port })},
	{"FOLIO_MYSQL_USER", str(func(c *Config) *string { return &c.Storage.MySQL.User })},
	{"FOLIO_MYSQL_PASSWORD", str(func(c *Config) *string { return &c.Storage.MySQL.Password })},

	{"FOLIO_PROGRESS_REDIS", boolean(func(c *Config) *bool { return &c.Progress.Redis })},
	{"FOLIO_LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
}

// ApplyEnv overrides fields from FOLIO_* variables found by lookup. Empty
// values are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.key)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, ev.key, err)
		}
	}
	return nil
}
