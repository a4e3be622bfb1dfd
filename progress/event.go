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


// Package progress delivers ingestion progress events to subscribers.
//
// The pipeline pushes events through a Notifier. Implementations here fan
// events out in-process (Local), over Redis pub/sub (Redis), to a structured
// log (Log) or to a terminal (Tracker); Multi combines several of them.
// Delivery is at-most-once: a notifier that cannot deliver drops the event
// and reports the error, and the pipeline carries on.
package progress

import (
	"context"
	"time"

	"github.com/poiesic/folio/core"
)

// EventType identifies a pipeline milestone.
type EventType string

const (
	EventStarted       EventType = "started"
	EventSplitComplete EventType = "split_complete"
	EventChunkComplete EventType = "chunk_complete"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// IsTerminal reports whether no further events follow for the run.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is one progress notification for a document.
// Chunk is the chunk index the event refers to, or -1 when none applies.
// Message is human-readable; for failed events it is the failure reason.
type Event struct {
	Type       EventType   `json:"type"`
	DocumentId string      `json:"doc_id"`
	ClientId   string      `json:"client_id"`
	Filename   string      `json:"filename"`
	Status     core.Status `json:"status"`
	Message    string      `json:"message"`
	Chunk      int         `json:"current_chunk"`
	ChunkCount int         `json:"total_chunks"`
	Time       time.Time   `json:"timestamp"`
}

// Notifier receives progress events.
// Implementations must be safe for concurrent use.
type Notifier interface {
	// Notify delivers event for the document. An error means the event was
	// not delivered; it is never retried.
	Notify(ctx context.Context, documentID string, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, documentID string, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, documentID string, event Event) error {
	return f(ctx, documentID, event)
}

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(context.Context, string, Event) error { return nil })
