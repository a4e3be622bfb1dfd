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


package storage

import "errors"

// Lookup and write conflicts.
var (
	// ErrNotFound is returned when a document, graph snapshot or vector
	// does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when creating a document whose id is taken.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTransactionFailed wraps a commit that did not apply: a lost badger
	// conflict or a failed SQL transaction.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Caller mistakes. Retrying these never helps.
var (
	// ErrStorageClosed is returned by every operation after Close.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery is returned for malformed arguments: empty ids or
	// prefixes, empty vectors, rows that don't match their columns.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrInvalidIdentifier is returned when a database, table or column
	// name fails CheckIdentifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Encoding.
var (
	// ErrSerializationFailed wraps a record or vector that could not be
	// encoded or decoded.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData is returned when a stored value is shorter than its
	// encoding requires.
	ErrTruncatedData = errors.New("truncated data")
)

// IsPermanent reports whether err is a store failure that will fail the
// same way on every attempt.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrStorageClosed) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrInvalidIdentifier)
}
