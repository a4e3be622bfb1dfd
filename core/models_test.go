package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "doc-1\x00acme corp",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}

	if IDFromContent("a") == IDFromContent("b") {
		t.Error("IDFromContent() collided for distinct content")
	}
}

func TestIDString(t *testing.T) {
	if got := ID(255).String(); got != "00000000000000ff" {
		t.Errorf("ID.String() = %q", got)
	}
}

func TestPageRange(t *testing.T) {
	r := PageRange{Start: 20, End: 25}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}
	if r.String() != "20-24" {
		t.Errorf("String() = %q, want 20-24", r.String())
	}
}

func TestChunkID(t *testing.T) {
	c := Chunk{DocumentId: "doc", Index: 2}
	if c.Id() != "doc_chunk_2" {
		t.Errorf("Id() = %q", c.Id())
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusReceived:   false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
	} {
		if status.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, !want, want)
		}
	}
}

func TestRelationalStoreError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("store table: %w", &RelationalStoreError{
		Stage:    RelationalStageInsert,
		Database: "doc_1",
		Table:    "prices",
		Inserted: 4,
		Err:      cause,
	})

	if !errors.Is(err, ErrRelationalStore) {
		t.Error("expected error to match ErrRelationalStore")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to match the cause")
	}

	var rse *RelationalStoreError
	if !errors.As(err, &rse) {
		t.Fatal("expected RelationalStoreError")
	}
	if rse.Stage != RelationalStageInsert || rse.Inserted != 4 {
		t.Errorf("unexpected error fields: %+v", rse)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: timeout", ErrExtractionUnavailable), true},
		{fmt.Errorf("%w: quota", ErrVectorStore), true},
		{&RelationalStoreError{Stage: RelationalStageSchema, Err: errors.New("x")}, true},
		{fmt.Errorf("%w: bad json", ErrExtractionParse), false},
		{fmt.Errorf("%w: zero pages", ErrInvalidDocument), false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
