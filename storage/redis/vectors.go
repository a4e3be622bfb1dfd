// Package redis provides a Redis-backed storage.VectorStore. Each vector is
// a hash holding the raw little-endian float32 values and the metadata.
package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/poiesic/folio/storage"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces vector hashes.
	DefaultKeyPrefix = "vec:"

	fieldVector     = "vector"
	fieldDimensions = "dimensions"
	metadataPrefix  = "meta:"

	scanBatch = 100
)

// Config holds Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// VectorStore implements storage.VectorStore using Redis hashes.
type VectorStore struct {
	client *redis.Client
	prefix string
	closed atomic.Bool
}

var _ storage.VectorStore = (*VectorStore)(nil)

// OpenVectorStore connects to Redis and verifies the connection.
func OpenVectorStore(ctx context.Context, cfg Config) (*VectorStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &VectorStore{client: client, prefix: prefix}, nil
}

// Upsert replaces the hash stored under id in one MULTI/EXEC.
func (s *VectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if id == "" || len(vector) == 0 {
		return fmt.Errorf("%w: vector id and values are required", storage.ErrInvalidQuery)
	}

	values := make([]any, 0, 4+2*len(metadata))
	values = append(values, fieldVector, encodeVector(vector), fieldDimensions, len(vector))
	for k, v := range metadata {
		values = append(values, metadataPrefix+k, v)
	}

	key := s.prefix + id
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", id, err)
	}
	return nil
}

// Get returns the vector and metadata stored under id.
func (s *VectorStore) Get(ctx context.Context, id string) ([]float32, map[string]string, error) {
	if s.closed.Load() {
		return nil, nil, storage.ErrStorageClosed
	}
	fields, err := s.client.HGetAll(ctx, s.prefix+id).Result()
	if err != nil {
		return nil, nil, err
	}
	raw, ok := fields[fieldVector]
	if !ok {
		return nil, nil, storage.ErrNotFound
	}

	vector, err := decodeVector([]byte(raw))
	if err != nil {
		return nil, nil, err
	}
	metadata := make(map[string]string)
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, metadataPrefix); ok {
			metadata[name] = v
		}
	}
	return vector, metadata, nil
}

// DeletePrefix scans for keys under prefix and deletes them in batches.
func (s *VectorStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	if prefix == "" {
		return 0, fmt.Errorf("%w: delete prefix is required", storage.ErrInvalidQuery)
	}

	deleted := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.prefix+escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("failed to delete vectors under %s: %w", prefix, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan vectors under %s: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("failed to delete vectors under %s: %w", prefix, err)
	}
	return deleted, nil
}

// Close closes the client.
func (s *VectorStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector of %d bytes", storage.ErrTruncatedData, len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vector, nil
}
