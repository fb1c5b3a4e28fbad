package graph

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Graph is an immutable, memory-resident history graph in compressed sparse
// row form. All methods are safe for concurrent use.
type Graph struct {
	ids        []SWHID // by handle
	timestamps []int64 // by handle
	byID       []Node  // handles sorted by identifier

	fwdOffsets []int64
	fwdDst     []Node
	fwdLabels  []int32

	bwdOffsets []int64
	bwdDst     []Node

	labels []string

	log logrus.FieldLogger
}

var _ Store = (*Graph)(nil)

// WithLogger returns a shallow copy of g reporting anomalies to log.
func (g *Graph) WithLogger(log logrus.FieldLogger) *Graph {
	c := *g
	c.log = log
	return &c
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int64 {
	return int64(len(g.ids))
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int64 {
	return int64(len(g.fwdDst))
}

func (g *Graph) contains(n Node) bool {
	return n >= 0 && int64(n) < int64(len(g.ids))
}

// Type returns the entity type of n. Out-of-range handles yield an invalid type.
func (g *Graph) Type(n Node) NodeType {
	if !g.contains(n) {
		return NodeType(len(typeNames))
	}
	return g.ids[n].Type
}

// Timestamp returns the timestamp recorded for n, or 0.
func (g *Graph) Timestamp(n Node) int64 {
	if !g.contains(n) {
		return 0
	}
	return g.timestamps[n]
}

// Successors returns the forward neighbours of n.
func (g *Graph) Successors(n Node, types ...NodeType) []Node {
	if !g.contains(n) {
		return nil
	}
	return g.filter(g.fwdDst[g.fwdOffsets[n]:g.fwdOffsets[n+1]], types)
}

// Predecessors returns the backward neighbours of n.
func (g *Graph) Predecessors(n Node, types ...NodeType) []Node {
	if !g.contains(n) {
		return nil
	}
	return g.filter(g.bwdDst[g.bwdOffsets[n]:g.bwdOffsets[n+1]], types)
}

func (g *Graph) filter(nodes []Node, types []NodeType) []Node {
	out := make([]Node, 0, len(nodes))
	for _, dst := range nodes {
		if matchesType(g.ids[dst].Type, types) {
			out = append(out, dst)
		}
	}
	return out
}

// LabelledSuccessors returns the labelled forward edges of n whose
// destination has one of the given types.
func (g *Graph) LabelledSuccessors(n Node, types ...NodeType) []LabelledEdge {
	if !g.contains(n) {
		return nil
	}
	start, end := g.fwdOffsets[n], g.fwdOffsets[n+1]
	out := make([]LabelledEdge, 0, end-start)
	for i := start; i < end; i++ {
		dst := g.fwdDst[i]
		if !matchesType(g.ids[dst].Type, types) {
			continue
		}
		label := g.fwdLabels[i]
		if label == noLabel || int(label) >= len(g.labels) {
			g.log.WithFields(logrus.Fields{"src": n, "dst": dst}).
				Warnf("expected a label between nodes (%d,%d)", n, dst)
			continue
		}
		out = append(out, LabelledEdge{Src: n, Dst: dst, Label: g.labels[label]})
	}
	return out
}

// Edge is a forward edge as stored, labelled or not.
type Edge struct {
	Dst      Node
	Label    string
	Labelled bool
}

// Edges returns every forward edge of n in storage order.
func (g *Graph) Edges(n Node) []Edge {
	if !g.contains(n) {
		return nil
	}
	start, end := g.fwdOffsets[n], g.fwdOffsets[n+1]
	out := make([]Edge, 0, end-start)
	for i := start; i < end; i++ {
		e := Edge{Dst: g.fwdDst[i]}
		if label := g.fwdLabels[i]; label != noLabel && int(label) < len(g.labels) {
			e.Label, e.Labelled = g.labels[label], true
		}
		out = append(out, e)
	}
	return out
}

// Resolve translates an identifier into its node handle.
func (g *Graph) Resolve(id SWHID) (Node, error) {
	i := sort.Search(len(g.byID), func(i int) bool {
		return g.ids[g.byID[i]].Compare(id) >= 0
	})
	if i < len(g.byID) && g.ids[g.byID[i]] == id {
		return g.byID[i], nil
	}
	return Absent, fmt.Errorf("%w: %s", ErrUnknownIdentifier, id)
}

// SWHID translates a node handle into its identifier.
func (g *Graph) SWHID(n Node) (SWHID, error) {
	if !g.contains(n) {
		return SWHID{}, fmt.Errorf("%w: node id %d should be between 0 and %d", ErrOutOfRange, n, len(g.ids))
	}
	return g.ids[n], nil
}

// Nodes returns every handle of the given types, in handle order.
func (g *Graph) Nodes(types ...NodeType) []Node {
	var out []Node
	for i, id := range g.ids {
		if matchesType(id.Type, types) {
			out = append(out, Node(i))
		}
	}
	return out
}
