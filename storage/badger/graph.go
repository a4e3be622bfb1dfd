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


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/storage"
)

// GraphRepository implements storage.GraphRepository for BadgerDB.
type GraphRepository struct {
	backend *Backend
}

var _ storage.GraphRepository = (*GraphRepository)(nil)

// NewGraphRepository creates a new GraphRepository.
func NewGraphRepository(backend *Backend) *GraphRepository {
	return &GraphRepository{
		backend: backend,
	}
}

// SaveGraph persists the snapshot, replacing any earlier one.
func (r *GraphRepository) SaveGraph(ctx context.Context, snapshot *graph.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeGraphKey(snapshot.DocumentId), storage.MarshalSnapshot(snapshot))
	})
}

// LoadGraph retrieves the snapshot for a document.
func (r *GraphRepository) LoadGraph(ctx context.Context, documentID string) (*graph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var snapshot *graph.Snapshot
	err := r.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeGraphKey(documentID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			snapshot, unmarshalErr = storage.UnmarshalSnapshot(val)
			return unmarshalErr
		})
	})
	return snapshot, err
}

// DeleteGraph removes the snapshot for a document.
// Returns storage.ErrNotFound if none was saved.
func (r *GraphRepository) DeleteGraph(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeGraphKey(documentID)
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return tx.Delete(key)
	})
}
