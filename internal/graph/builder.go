package graph

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// noLabel marks an edge stored without a path segment.
const noLabel int32 = -1

type edge struct {
	src   Node
	dst   Node
	label int32
}

// Builder accumulates nodes and edges and produces an immutable Graph.
// Nodes are deduplicated by identifier, so identical subtrees share a handle.
// A Builder is not safe for concurrent use.
type Builder struct {
	index      map[SWHID]Node
	ids        []SWHID
	timestamps []int64
	edges      []edge
	labelIndex map[string]int32
	labels     []string
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		index:      make(map[SWHID]Node),
		labelIndex: make(map[string]int32),
	}
}

// AddNode returns the handle of id, allocating the next handle if id is new.
func (b *Builder) AddNode(id SWHID) Node {
	if n, ok := b.index[id]; ok {
		return n
	}
	n := Node(len(b.ids))
	b.index[id] = n
	b.ids = append(b.ids, id)
	b.timestamps = append(b.timestamps, 0)
	return n
}

// Lookup returns the handle of an already added identifier.
func (b *Builder) Lookup(id SWHID) (Node, bool) {
	n, ok := b.index[id]
	return n, ok
}

// SetTimestamp records a timestamp for n.
func (b *Builder) SetTimestamp(n Node, ts int64) {
	b.timestamps[n] = ts
}

// AddEdge adds an unlabelled edge.
func (b *Builder) AddEdge(src, dst Node) {
	b.edges = append(b.edges, edge{src: src, dst: dst, label: noLabel})
}

// AddLabelledEdge adds an edge carrying one path segment.
func (b *Builder) AddLabelledEdge(src, dst Node, label string) {
	id, ok := b.labelIndex[label]
	if !ok {
		id = int32(len(b.labels))
		b.labelIndex[label] = id
		b.labels = append(b.labels, label)
	}
	b.edges = append(b.edges, edge{src: src, dst: dst, label: id})
}

// NumNodes returns the number of nodes added so far.
func (b *Builder) NumNodes() int {
	return len(b.ids)
}

// Build freezes the builder's content into a Graph. The builder must not be
// used afterwards.
func (b *Builder) Build() *Graph {
	n := len(b.ids)
	g := &Graph{
		ids:        b.ids,
		timestamps: b.timestamps,
		labels:     b.labels,
		log:        logrus.StandardLogger(),
	}

	// Stable sorts keep insertion order among the edges of one node, which is
	// the order directory entries were added in.
	fwd := make([]edge, len(b.edges))
	copy(fwd, b.edges)
	sort.SliceStable(fwd, func(i, j int) bool { return fwd[i].src < fwd[j].src })
	g.fwdOffsets = make([]int64, n+1)
	g.fwdDst = make([]Node, len(fwd))
	g.fwdLabels = make([]int32, len(fwd))
	for i, e := range fwd {
		g.fwdOffsets[e.src+1]++
		g.fwdDst[i] = e.dst
		g.fwdLabels[i] = e.label
	}
	for i := 1; i <= n; i++ {
		g.fwdOffsets[i] += g.fwdOffsets[i-1]
	}

	bwd := b.edges
	sort.SliceStable(bwd, func(i, j int) bool { return bwd[i].dst < bwd[j].dst })
	g.bwdOffsets = make([]int64, n+1)
	g.bwdDst = make([]Node, len(bwd))
	for i, e := range bwd {
		g.bwdOffsets[e.dst+1]++
		g.bwdDst[i] = e.src
	}
	for i := 1; i <= n; i++ {
		g.bwdOffsets[i] += g.bwdOffsets[i-1]
	}

	g.byID = make([]Node, n)
	for i := range g.byID {
		g.byID[i] = Node(i)
	}
	sort.Slice(g.byID, func(i, j int) bool {
		return g.ids[g.byID[i]].Compare(g.ids[g.byID[j]]) < 0
	})

	b.index = nil
	b.labelIndex = nil
	b.edges = nil
	return g
}
