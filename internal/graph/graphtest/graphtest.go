// Package graphtest builds small graphs for tests.
package graphtest

import (
	"lukechampine.com/blake3"

	"github.com/k13n/swhdiff/internal/graph"
)

// ID derives a stable identifier of type t from a readable name.
func ID(t graph.NodeType, name string) graph.SWHID {
	sum := blake3.Sum256([]byte(t.String() + ":" + name))
	return graph.NewSWHID(t, sum[:graph.HashSize])
}

// Entry is one labelled child of a directory.
type Entry struct {
	Label string
	Node  graph.Node
}

// E is shorthand for an Entry.
func E(label string, n graph.Node) Entry {
	return Entry{Label: label, Node: n}
}

// Fixture wraps a builder with helpers keyed by readable names. Equal names
// yield equal handles, mirroring content addressing.
type Fixture struct {
	B *graph.Builder
}

// New returns an empty fixture.
func New() *Fixture {
	return &Fixture{B: graph.NewBuilder()}
}

// File adds a content node.
func (f *Fixture) File(name string) graph.Node {
	return f.B.AddNode(ID(graph.Content, name))
}

// Dir adds a directory node with the given entries. Entries are only added the
// first time a name is seen.
func (f *Fixture) Dir(name string, entries ...Entry) graph.Node {
	id := ID(graph.Directory, name)
	if n, ok := f.B.Lookup(id); ok {
		return n
	}
	n := f.B.AddNode(id)
	for _, e := range entries {
		f.B.AddLabelledEdge(n, e.Node, e.Label)
	}
	return n
}

// Rev adds a revision pointing at root with forward edges to its parents.
func (f *Fixture) Rev(name string, ts int64, root graph.Node, parents ...graph.Node) graph.Node {
	n := f.B.AddNode(ID(graph.Revision, name))
	f.B.SetTimestamp(n, ts)
	f.B.AddEdge(n, root)
	for _, p := range parents {
		f.B.AddEdge(n, p)
	}
	return n
}

// Build freezes the fixture.
func (f *Fixture) Build() *graph.Graph {
	return f.B.Build()
}
