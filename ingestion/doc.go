// Package ingestion orchestrates document ingestion runs.
//
// A Pipeline takes an uploaded document through splitting, a sequential
// per-chunk loop and a final knowledge graph flush:
//
//	received -> splitting -> chunk 0..N-1 -> flushing -> completed
//
// Each chunk is extracted with the knowledge graph built from the chunks
// before it as context. Extraction of chunk i+1 overlaps with storage of
// chunk i, and chunk i is reported complete once its storage succeeds.
// Any unrecovered failure moves the run to failed, recording a reason and
// the last completed chunk on the Document.
//
// Runs execute on a worker pool. Submit returns as soon as the Document
// record exists; the returned Handle observes, cancels and joins the run.
package ingestion
