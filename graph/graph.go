package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/folio/core"
)

// ErrUnknownNode is returned when a snapshot edge references a missing node.
var ErrUnknownNode = errors.New("edge references unknown node")

// Node is an entity in the graph. Key is the normalized label used for
// merging, Label the first-seen display form.
type Node struct {
	Id    core.ID
	Key   string
	Label string
}

// Edge is a directed, labeled relation between two nodes.
// Seq is the 0-based insertion position within the graph.
type Edge struct {
	Seq    int
	Source core.ID
	Target core.ID
	Label  string
	Chunk  int
	Page   int
}

// KnowledgeGraph is the entity graph accumulated across the chunks of one
// document. It is a value: Integrate returns a new graph and never mutates
// its input, so a graph can be shared freely between goroutines.
type KnowledgeGraph struct {
	documentID string
	nodes      []Node
	index      map[string]int  // normalized key -> position in nodes
	byID       map[core.ID]int // node id -> position in nodes
	edges      []Edge
}

// New returns an empty graph scoped to one document.
func New(documentID string) *KnowledgeGraph {
	return &KnowledgeGraph{
		documentID: documentID,
		index:      make(map[string]int),
		byID:       make(map[core.ID]int),
	}
}

// Normalize returns the merge key for a label: lower-cased, trimmed and
// with internal whitespace collapsed.
func Normalize(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// NodeID derives the id of the node for a normalized key in a document.
func NodeID(documentID, key string) core.ID {
	return core.IDFromContent(documentID + "\x00" + key)
}

// Integrate applies every relation to g and returns the resulting graph.
// Source and target nodes are resolved by normalized label and created when
// absent. Edges are always appended, duplicates included. If any relation is
// invalid, g is returned unchanged together with the error.
func Integrate(g *KnowledgeGraph, relations []core.Relation) (*KnowledgeGraph, error) {
	if g == nil {
		g = New("")
	}
	for i := range relations {
		if err := core.ValidateRelation(&relations[i]); err != nil {
			return g, fmt.Errorf("relation %d: %w", i, err)
		}
	}
	if len(relations) == 0 {
		return g, nil
	}

	next := g.clone(len(relations))
	for _, r := range relations {
		source := next.resolve(r.Source)
		target := next.resolve(r.Target)
		next.edges = append(next.edges, Edge{
			Seq:    len(next.edges),
			Source: source,
			Target: target,
			Label:  strings.Join(strings.Fields(r.Label), " "),
			Chunk:  r.Chunk,
			Page:   r.Page,
		})
	}
	return next, nil
}

// Finalize returns all edges in insertion order.
func Finalize(g *KnowledgeGraph) []Edge {
	if g == nil {
		return nil
	}
	return slices.Clone(g.edges)
}

// DocumentID returns the document the graph belongs to.
func (g *KnowledgeGraph) DocumentID() string {
	return g.documentID
}

// NodeCount returns the number of distinct nodes.
func (g *KnowledgeGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *KnowledgeGraph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns the nodes in creation order.
func (g *KnowledgeGraph) Nodes() []Node {
	return slices.Clone(g.nodes)
}

// Lookup finds the node for a label, using the same normalization as Integrate.
func (g *KnowledgeGraph) Lookup(label string) (Node, bool) {
	pos, ok := g.index[Normalize(label)]
	if !ok {
		return Node{}, false
	}
	return g.nodes[pos], true
}

// Node returns the node with the given id.
func (g *KnowledgeGraph) Node(id core.ID) (Node, bool) {
	pos, ok := g.byID[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[pos], true
}

// Text returns the canonical "<source> <relation> <target>" form of an edge.
func (g *KnowledgeGraph) Text(e Edge) string {
	return g.labelOf(e.Source) + " " + e.Label + " " + g.labelOf(e.Target)
}

func (g *KnowledgeGraph) labelOf(id core.ID) string {
	if n, ok := g.Node(id); ok {
		return n.Label
	}
	return id.String()
}

// clone copies g with room for extra edges. The copy shares no mutable state with g.
func (g *KnowledgeGraph) clone(extra int) *KnowledgeGraph {
	edges := make([]Edge, len(g.edges), len(g.edges)+extra)
	copy(edges, g.edges)
	index := maps.Clone(g.index)
	if index == nil {
		index = make(map[string]int)
	}
	byID := maps.Clone(g.byID)
	if byID == nil {
		byID = make(map[core.ID]int)
	}
	return &KnowledgeGraph{
		documentID: g.documentID,
		nodes:      slices.Clone(g.nodes),
		index:      index,
		byID:       byID,
		edges:      edges,
	}
}

// resolve returns the id of the node for label, creating it if needed.
func (g *KnowledgeGraph) resolve(label string) core.ID {
	key := Normalize(label)
	if pos, ok := g.index[key]; ok {
		return g.nodes[pos].Id
	}
	node := Node{
		Id:    NodeID(g.documentID, key),
		Key:   key,
		Label: strings.Join(strings.Fields(label), " "),
	}
	g.index[key] = len(g.nodes)
	g.byID[node.Id] = len(g.nodes)
	g.nodes = append(g.nodes, node)
	return node.Id
}
