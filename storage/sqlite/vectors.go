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


package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/poiesic/folio/storage"
	_ "modernc.org/sqlite"
)

const vectorSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
	id         TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	vector     BLOB NOT NULL,
	metadata   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// VectorStore implements storage.VectorStore on a single SQLite file.
type VectorStore struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ storage.VectorStore = (*VectorStore)(nil)

// OpenVectorStore opens or creates the vector database at path.
func OpenVectorStore(ctx context.Context, path string) (*VectorStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating vector store directory: %w", err)
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, vectorSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating embeddings table: %w", err)
	}
	return &VectorStore{db: db}, nil
}

// Upsert inserts or replaces the vector stored under id.
func (s *VectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if id == "" || len(vector) == 0 {
		return fmt.Errorf("%w: vector id and values are required", storage.ErrInvalidQuery)
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, dimensions, vector, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dimensions = excluded.dimensions,
			vector = excluded.vector,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		id, len(vector), encodeVector(vector), string(meta), time.Now().UTC().UnixMicro())
	return err
}

// Get returns the vector and metadata stored under id.
func (s *VectorStore) Get(ctx context.Context, id string) ([]float32, map[string]string, error) {
	if s.closed.Load() {
		return nil, nil, storage.ErrStorageClosed
	}
	var (
		blob []byte
		meta string
	)
	err := s.db.QueryRowContext(ctx, `SELECT vector, metadata FROM embeddings WHERE id = ?`, id).Scan(&blob, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	vector, err := decodeVector(blob)
	if err != nil {
		return nil, nil, err
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return vector, metadata, nil
}

// Count returns the number of stored vectors whose id starts with prefix.
func (s *VectorStore) Count(ctx context.Context, prefix string) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE substr(id, 1, ?) = ?`, len(prefix), prefix).Scan(&n)
	return n, err
}

// DeletePrefix removes every vector whose id starts with prefix and returns
// how many were removed.
func (s *VectorStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	if prefix == "" {
		return 0, fmt.Errorf("%w: prefix is required", storage.ErrInvalidQuery)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE substr(id, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the underlying database.
func (s *VectorStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return db, nil
}

// encodeVector packs float32 values little-endian.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob of %d bytes", storage.ErrTruncatedData, len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vector, nil
}
