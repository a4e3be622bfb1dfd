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


// Package storage provides the storage abstraction layer for folio.
//
// This package defines the interfaces that decouple storage backends from the
// ingestion pipeline, so metadata, vector and relational backends can be
// swapped without touching pipeline code.
//
// # Architecture
//
//   - DocumentRepository: Durable Document records and the per-client index
//   - GraphRepository: Final knowledge graph snapshots
//   - VectorStore: Embeddings of paragraphs, table summaries and graph edges
//   - RelationalStore: Extracted tables, one database per document
//
// Implementations live in subpackages: badger (documents and graphs),
// sqlite (vectors and tables), mysql (tables) and redis (vectors).
//
// # Usage
//
// Open the metadata store:
//
//	backend, err := badger.OpenBackend("/path/to/db", false, badger.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	docs, err := badger.NewDocumentRepository(backend)
//
// Use in tests with in-memory storage:
//
//	docs, graphs, backend, err := badger.NewMemoryRepositories()
//
// Table, column and database names reach SQL only after SanitizeIdentifier
// or CheckIdentifier.
//
// # Thread Safety
//
// All implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support. Pass context.Background() for operations
// without specific timeout requirements.
package storage
