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


package core

import (
	"errors"
	"fmt"
)

// Ingestion error kinds. Every error surfaced by the pipeline wraps exactly one of these.
var (
	// ErrInvalidDocument indicates the source is unreadable or has no pages.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrExtractionUnavailable indicates the extraction backend could not be reached,
	// failed, or timed out.
	ErrExtractionUnavailable = errors.New("extraction unavailable")

	// ErrExtractionParse indicates the extraction backend responded with a
	// structure that does not match the extraction schema.
	ErrExtractionParse = errors.New("extraction parse error")

	// ErrVectorStore indicates an embedding or vector upsert failure.
	ErrVectorStore = errors.New("vector store error")

	// ErrRelationalStore indicates a relational schema or insert failure.
	ErrRelationalStore = errors.New("relational store error")
)

// Domain validation errors
var (
	// ErrInvalidTable indicates a Table failed validation.
	ErrInvalidTable = errors.New("invalid table")

	// ErrInvalidParagraph indicates a Paragraph failed validation.
	ErrInvalidParagraph = errors.New("invalid paragraph")

	// ErrInvalidRelation indicates a Relation failed validation.
	ErrInvalidRelation = errors.New("invalid relation")

	// ErrEmptyContent indicates a text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyColumns indicates a table has no columns.
	ErrEmptyColumns = errors.New("table must have at least one column")

	// ErrDuplicateColumn indicates a column name appears twice in one table.
	ErrDuplicateColumn = errors.New("duplicate column name")

	// ErrRowWidth indicates a row does not have one value per column.
	ErrRowWidth = errors.New("row width does not match column count")

	// ErrEmptyLabel indicates an entity or relation label is empty.
	ErrEmptyLabel = errors.New("label cannot be empty")

	// ErrNegativePage indicates a page number below zero.
	ErrNegativePage = errors.New("page number cannot be negative")
)

// RelationalStage identifies which step of a table store failed.
type RelationalStage string

const (
	RelationalStageSchema RelationalStage = "schema"
	RelationalStageInsert RelationalStage = "insert"
)

// RelationalStoreError reports a failed table store. Rows counted in Inserted
// were committed before the failure.
type RelationalStoreError struct {
	Stage    RelationalStage
	Database string
	Table    string
	Inserted int
	Err      error
}

func (e *RelationalStoreError) Error() string {
	return fmt.Sprintf("%s: %s failed for %s.%s (%d rows inserted): %v",
		ErrRelationalStore, e.Stage, e.Database, e.Table, e.Inserted, e.Err)
}

// Unwrap exposes both the error kind and the underlying cause.
func (e *RelationalStoreError) Unwrap() []error {
	return []error{ErrRelationalStore, e.Err}
}

// IsTransient reports whether err is eligible for a bounded retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExtractionUnavailable) ||
		errors.Is(err, ErrVectorStore) ||
		errors.Is(err, ErrRelationalStore)
}
