// Package extraction turns one chunk of a document into structured content.
//
// A Client sends the chunk bytes and the current graph context to an
// ai.Generator in a single call and decodes the reply with Parse. Parse is
// strict: the reply must be one JSON object with paragraphs, tables and
// relations, and any deviation is reported as core.ErrExtractionParse.
// Backend failures and timeouts are reported as core.ErrExtractionUnavailable.
// The client never retries; callers own the retry policy.
package extraction
