package graph

import (
	"fmt"
	"slices"
)

// Snapshot is the externalized form of a KnowledgeGraph.
type Snapshot struct {
	DocumentId string
	Nodes      []Node
	Edges      []Edge
}

// Snapshot captures the current state of g.
func (g *KnowledgeGraph) Snapshot() *Snapshot {
	return &Snapshot{
		DocumentId: g.documentID,
		Nodes:      slices.Clone(g.nodes),
		Edges:      slices.Clone(g.edges),
	}
}

// Restore rebuilds a graph from a snapshot.
func Restore(s *Snapshot) (*KnowledgeGraph, error) {
	g := New(s.DocumentId)
	for _, n := range s.Nodes {
		g.index[n.Key] = len(g.nodes)
		g.byID[n.Id] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}
	for i, e := range s.Edges {
		if _, ok := g.byID[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge %d source %s", ErrUnknownNode, i, e.Source)
		}
		if _, ok := g.byID[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge %d target %s", ErrUnknownNode, i, e.Target)
		}
		e.Seq = i
		g.edges = append(g.edges, e)
	}
	return g, nil
}
