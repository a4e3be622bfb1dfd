package storage

import (
	"context"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
)

// DocumentRepository is the durable metadata store for Document records.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// CreateDocument stores a new document.
	// Sets InsertedAt and UpdatedAt.
	// Returns ErrDuplicateKey if a document with the same ID exists.
	CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// UpdateDocument replaces an existing document.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// ListDocumentsByClient retrieves all documents uploaded by a client,
	// ordered by insertion time.
	ListDocumentsByClient(ctx context.Context, clientID string) ([]*core.Document, error)

	// DeleteDocument removes a document and its client index entry.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// Close releases resources held by the repository.
	Close() error
}

// GraphRepository persists final knowledge graph snapshots.
type GraphRepository interface {
	// SaveGraph stores the snapshot, replacing any previous one for the document.
	SaveGraph(ctx context.Context, snapshot *graph.Snapshot) error

	// LoadGraph retrieves the snapshot for a document.
	// Returns ErrNotFound if none was saved.
	LoadGraph(ctx context.Context, documentID string) (*graph.Snapshot, error)

	// DeleteGraph removes the snapshot for a document.
	// Returns ErrNotFound if none was saved.
	DeleteGraph(ctx context.Context, documentID string) error
}

// VectorStore is the vector search backend.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert inserts or replaces the vector stored under id.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error

	// DeletePrefix removes every vector whose id starts with prefix and
	// returns how many were removed. An empty prefix is ErrInvalidQuery.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// RelationalStore is the tabular backend. Each document gets its own database.
// Implementations must be safe for concurrent use.
type RelationalStore interface {
	// EnsureDatabase creates the database if it does not exist.
	// An existing database is left untouched.
	EnsureDatabase(ctx context.Context, database string) error

	// CreateTable creates a table with one text column per entry in columns,
	// if a table with that name does not already exist.
	CreateTable(ctx context.Context, database, table string, columns []string) error

	// InsertRows appends rows to the table, values aligned to columns.
	// Returns the number of rows committed.
	InsertRows(ctx context.Context, database, table string, columns []string, rows [][]any) (int, error)

	// DropDatabase removes the database and its tables. A missing
	// database is not an error.
	DropDatabase(ctx context.Context, database string) error

	// Close releases resources held by the store.
	Close() error
}
