package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for graph entities.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width hex, the form used in vector metadata.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Status is the lifecycle status of a Document.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names a step of an ingestion run. A failed Document records the
// last stage that completed successfully.
type Stage string

const (
	StageReceived  Stage = "received"
	StageSplitting Stage = "splitting"
	StageChunk     Stage = "chunk"
	StageFlushing  Stage = "flushing"
	StageCompleted Stage = "completed"
)

// Document is the metadata record for one uploaded source file.
// It is created on upload and mutated only by the ingestion pipeline.
type Document struct {
	Id                 string
	ClientId           string
	Filename           string
	SourcePath         string
	DatabaseName       string   // Relational container holding this document's tables
	ChunkIds           []string // Ordered chunk identifiers, set after splitting
	Status             Status
	FailedStage        Stage  // Last good stage when Status is failed
	LastCompletedChunk int    // -1 until the first chunk completes
	Error              string // Human-readable failure reason
	ErrorDetail        string // Underlying error text, for operators
	TableSummaries     map[string]string
	InsertedAt         time.Time
	UpdatedAt          time.Time
}

// PageRange is a half-open range of zero-based page indexes [Start, End).
type PageRange struct {
	Start int
	End   int
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	return r.End - r.Start
}

// String renders the range inclusively, e.g. "0-9".
func (r PageRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End-1)
}

// Chunk is a contiguous page range of a document processed as one unit of extraction.
// Chunks are immutable once produced by the splitter.
type Chunk struct {
	DocumentId string
	Index      int
	Pages      PageRange
}

// Id returns the chunk identifier recorded on the owning Document.
func (c Chunk) Id() string {
	return ChunkID(c.DocumentId, c.Index)
}

// ChunkID builds the identifier of the chunk at index within a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// Paragraph is a block of text extracted from a chunk.
// Its identity is (DocumentId, Page, Ordinal).
type Paragraph struct {
	DocumentId string
	Chunk      int
	Page       int
	Ordinal    int
	Text       string
}

// Table is a tabular structure extracted from a chunk.
// Every row has exactly len(Columns) scalar values.
type Table struct {
	DocumentId  string
	Chunk       int
	Page        int
	Ordinal     int
	Name        string
	Explanation string
	Columns     []string
	Rows        [][]any
}

// Relation is a directed, labeled edge between two entity labels.
type Relation struct {
	Source string
	Target string
	Label  string
	Chunk  int // Originating chunk index
	Page   int
}

// ExtractionResult holds the structured content extracted from one chunk,
// in the order the model returned it.
type ExtractionResult struct {
	ChunkId    string
	Paragraphs []Paragraph
	Tables     []Table
	Relations  []Relation
}
