package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	seq, err := backend.GetSequence(documentSeq)
	if err != nil {
		return nil, err
	}

	return &DocumentRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the insertion sequence.
func (r *DocumentRepository) Close() error {
	return r.seq.Release()
}

// CreateDocument stores a new document and indexes it under its client.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.Id)
		existing, err := r.readDocument(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return storage.ErrDuplicateKey
		}

		seq, err := r.seq.Next()
		if err != nil {
			return err
		}

		doc.InsertedAt = time.Now().UTC()
		doc.UpdatedAt = doc.InsertedAt

		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		return tx.Set(makeDocumentClientKey(doc.ClientId, seq), []byte(doc.Id))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocument replaces an existing document. The client and insertion
// time recorded at creation are preserved.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.Id)
		old, err := r.readDocument(tx, key)
		if err != nil {
			return err
		}
		if old == nil {
			return storage.ErrNotFound
		}

		doc.ClientId = old.ClientId
		doc.InsertedAt = old.InsertedAt
		doc.UpdatedAt = time.Now().UTC()

		return tx.Set(key, storage.MarshalDocument(doc))
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var doc *core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		doc, err = r.readDocument(tx, makeDocumentKey(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// ListDocumentsByClient retrieves a client's documents in insertion order.
func (r *DocumentRepository) ListDocumentsByClient(ctx context.Context, clientID string) ([]*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var results []*core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialDocumentClientKey(clientID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			// Read the document ID from the index
			var id string
			if err := iter.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			doc, err := r.readDocument(tx, makeDocumentKey(id))
			if err != nil {
				return err
			}
			if doc != nil {
				results = append(results, doc)
			}
		}
		return nil
	})

	return results, err
}

// DeleteDocument removes a document and its client index entry.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := r.readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}

		indexKey, err := findClientIndexKey(tx, doc.ClientId, id)
		if err != nil {
			return err
		}
		if indexKey != nil {
			if err := tx.Delete(indexKey); err != nil {
				return err
			}
		}
		return tx.Delete(key)
	})
}

// findClientIndexKey returns the client index key pointing at id, or nil.
// The insertion sequence is not stored on the record, so the client's
// index is scanned.
func findClientIndexKey(tx *badger.Txn, clientID, id string) ([]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialDocumentClientKey(clientID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		var match bool
		if err := item.Value(func(val []byte) error {
			match = string(val) == id
			return nil
		}); err != nil {
			return nil, err
		}
		if match {
			return item.KeyCopy(nil), nil
		}
	}
	return nil, nil
}

// readDocument reads a document from the transaction.
// Returns nil, nil if the key is absent.
func (r *DocumentRepository) readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		doc, unmarshalErr = storage.UnmarshalDocument(val)
		return unmarshalErr
	})
	return doc, err
}
