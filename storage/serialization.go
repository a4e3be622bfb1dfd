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

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
)

// Record layouts are versioned so stored values can evolve.
const (
	documentVersion = 1
	snapshotVersion = 1
)

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	return marshal(func(c fieldCodec) { documentFields(c, doc) })
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc := &core.Document{}
	if err := unmarshal(data, func(c fieldCodec) { documentFields(c, doc) }); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarshalSnapshot serializes a graph snapshot to bytes.
func MarshalSnapshot(s *graph.Snapshot) []byte {
	return marshal(func(c fieldCodec) { snapshotFields(c, s) })
}

// UnmarshalSnapshot deserializes a graph snapshot from bytes.
func UnmarshalSnapshot(data []byte) (*graph.Snapshot, error) {
	s := &graph.Snapshot{}
	if err := unmarshal(data, func(c fieldCodec) { snapshotFields(c, s) }); err != nil {
		return nil, err
	}
	return s, nil
}

func documentFields(c fieldCodec, d *core.Document) {
	version := documentVersion
	c.int(&version)
	if c.decoding() && version != documentVersion {
		c.fail(fmt.Errorf("unsupported document version %d", version))
		return
	}
	c.str(&d.Id)
	c.str(&d.ClientId)
	c.str(&d.Filename)
	c.str(&d.SourcePath)
	c.str(&d.DatabaseName)
	stringSlice(c, &d.ChunkIds)
	c.str((*string)(&d.Status))
	c.str((*string)(&d.FailedStage))
	c.int(&d.LastCompletedChunk)
	c.str(&d.Error)
	c.str(&d.ErrorDetail)
	stringMap(c, &d.TableSummaries)
	timestamp(c, &d.InsertedAt)
	timestamp(c, &d.UpdatedAt)
}

func snapshotFields(c fieldCodec, s *graph.Snapshot) {
	version := snapshotVersion
	c.int(&version)
	if c.decoding() && version != snapshotVersion {
		c.fail(fmt.Errorf("unsupported snapshot version %d", version))
		return
	}
	c.str(&s.DocumentId)

	n := len(s.Nodes)
	length(c, &n)
	if c.decoding() {
		s.Nodes = make([]graph.Node, max(n, 0))
	}
	for i := range s.Nodes {
		node := &s.Nodes[i]
		c.u64((*uint64)(&node.Id))
		c.str(&node.Key)
		c.str(&node.Label)
	}

	n = len(s.Edges)
	length(c, &n)
	if c.decoding() {
		s.Edges = make([]graph.Edge, max(n, 0))
	}
	for i := range s.Edges {
		edge := &s.Edges[i]
		c.int(&edge.Seq)
		c.u64((*uint64)(&edge.Source))
		c.u64((*uint64)(&edge.Target))
		c.str(&edge.Label)
		c.int(&edge.Chunk)
		c.int(&edge.Page)
	}
}

func stringSlice(c fieldCodec, v *[]string) {
	n := len(*v)
	length(c, &n)
	if c.decoding() {
		if n <= 0 {
			*v = nil
			return
		}
		*v = make([]string, n)
	}
	for i := range *v {
		c.str(&(*v)[i])
	}
}

func stringMap(c fieldCodec, m *map[string]string) {
	n := len(*m)
	length(c, &n)
	if c.decoding() {
		if n <= 0 {
			*m = nil
			return
		}
		*m = make(map[string]string, n)
		for i := 0; i < n; i++ {
			var k, v string
			c.str(&k)
			c.str(&v)
			(*m)[k] = v
		}
		return
	}
	keys := make([]string, 0, n)
	for k := range *m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := (*m)[k]
		c.str(&k)
		c.str(&v)
	}
}

// length reads or writes a collection length. Every element takes at least
// one byte, so a decoded length larger than the remaining input is corrupt.
func length(c fieldCodec, n *int) {
	c.int(n)
	if c.decoding() && (*n < 0 || *n > c.remaining()) {
		c.fail(ErrTruncatedData)
		*n = 0
	}
}

func timestamp(c fieldCodec, t *time.Time) {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	c.i64(&micros)
	if c.decoding() {
		if micros == 0 {
			*t = time.Time{}
		} else {
			*t = time.UnixMicro(micros).UTC()
		}
	}
}

// fieldCodec walks a record's fields. The same walk sizes, writes and reads
// a record, so the three can never disagree on layout.
type fieldCodec interface {
	str(v *string)
	int(v *int)
	i64(v *int64)
	u64(v *uint64)
	decoding() bool
	remaining() int
	fail(err error)
}

func marshal(walk func(fieldCodec)) []byte {
	s := &sizer{}
	walk(s)
	w := &writer{bs: make([]byte, s.size)}
	walk(w)
	return w.bs[:w.n]
}

func unmarshal(data []byte, walk func(fieldCodec)) error {
	r := &reader{bs: data}
	walk(r)
	if r.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, r.err)
	}
	return nil
}

type sizer struct {
	size int
}

func (s *sizer) str(v *string) { s.size += ord.String.Size(*v) }
func (s *sizer) int(v *int) { s.size += varint.Int.Size(*v) }
func (s *sizer) i64(v *int64) { s.size += varint.Int64.Size(*v) }
func (s *sizer) u64(v *uint64) { s.size += varint.Uint64.Size(*v) }
func (s *sizer) decoding() bool { return false }
func (s *sizer) remaining() int { return math.MaxInt }
func (s *sizer) fail(error) {}

type writer struct {
	bs []byte
	n  int
}

func (w *writer) str(v *string) { w.n += ord.String.Marshal(*v, w.bs[w.n:]) }
func (w *writer) int(v *int) { w.n += varint.Int.Marshal(*v, w.bs[w.n:]) }
func (w *writer) i64(v *int64) { w.n += varint.Int64.Marshal(*v, w.bs[w.n:]) }
func (w *writer) u64(v *uint64) { w.n += varint.Uint64.Marshal(*v, w.bs[w.n:]) }
func (w *writer) decoding() bool { return false }
func (w *writer) remaining() int { return math.MaxInt }
func (w *writer) fail(error) {}

type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) str(v *string) {
	if r.err != nil {
		return
	}
	val, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.advance(n, err)
	*v = val
}

func (r *reader) int(v *int) {
	if r.err != nil {
		return
	}
	val, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.advance(n, err)
	*v = val
}

func (r *reader) i64(v *int64) {
	if r.err != nil {
		return
	}
	val, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.advance(n, err)
	*v = val
}

func (r *reader) u64(v *uint64) {
	if r.err != nil {
		return
	}
	val, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.advance(n, err)
	*v = val
}

func (r *reader) advance(n int, err error) {
	r.n += n
	if err != nil {
		r.err = err
	} else if r.n > len(r.bs) {
		r.err = ErrTruncatedData
	}
}

func (r *reader) decoding() bool { return true }

func (r *reader) remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.bs) - r.n
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
