// Package treediff computes the leaf paths that differ between two
// content-addressed directory trees.
package treediff

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/k13n/swhdiff/internal/graph"
)

// ErrInvalidArgument is returned for diff calls that violate a precondition.
var ErrInvalidArgument = errors.New("invalid argument")

// MaxDepth bounds the number of path segments below a diffed root.
const MaxDepth = 1000

// childTypes are the entry types that make up a file tree.
var childTypes = []graph.NodeType{graph.Directory, graph.Content}

// Side is one side of a comparison: a present tree or Absent.
type Side struct {
	node    graph.Node
	present bool
}

// Absent is the missing side of a comparison, e.g. the parent of an initial
// revision. It is also the zero Side.
var Absent = Side{}

// Present returns the side rooted at n.
func Present(n graph.Node) Side {
	return Side{node: n, present: true}
}

// Node returns the root handle, or graph.Absent.
func (s Side) Node() graph.Node {
	if !s.present {
		return graph.Absent
	}
	return s.node
}

// IsPresent reports whether the side holds a tree.
func (s Side) IsPresent() bool {
	return s.present
}

func (s Side) String() string {
	if !s.present {
		return "absent"
	}
	return fmt.Sprintf("%d", s.node)
}

// Differ walks pairs of trees of one graph. It holds no per-call state and
// may be shared between goroutines.
type Differ struct {
	g graph.Store
}

// New returns a Differ reading from g.
func New(g graph.Store) *Differ {
	return &Differ{g: g}
}

// errStop unwinds the walk when the consumer asks to stop.
var errStop = errors.New("stop")

// Diff reports every leaf path that differs between a and b to fn, in walk
// order. A path changed in several places is reported once per place. If fn
// returns false the walk stops and Diff returns nil.
func (d *Differ) Diff(a, b Side, fn func(path string) bool) error {
	if !a.present && !b.present {
		return fmt.Errorf("%w: at least one side must exist", ErrInvalidArgument)
	}
	w := &walk{g: d.g, emit: fn, labels: make([]string, 0, 16)}
	err := w.diff(a, b, 0)
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

// Paths returns the changed paths between a and b as a single-use sequence.
// A failing walk yields its error as the last element.
func (d *Differ) Paths(a, b Side) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stopped := false
		err := d.Diff(a, b, func(path string) bool {
			if !yield(path, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield("", err)
		}
	}
}

// Collect returns the distinct changed paths between a and b.
func (d *Differ) Collect(a, b Side) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	err := d.Diff(a, b, func(path string) bool {
		paths[path] = struct{}{}
		return true
	})
	return paths, err
}

// walk is the state of one Diff call. labels holds the path segments from
// the diffed roots down to the current position, indexed by depth.
type walk struct {
	g      graph.Store
	emit   func(string) bool
	labels []string
}

func (w *walk) setLabel(depth int, label string) error {
	if depth >= MaxDepth {
		return fmt.Errorf("%w: path deeper than %d segments", ErrInvalidArgument, MaxDepth)
	}
	if depth < len(w.labels) {
		w.labels[depth] = label
	} else {
		w.labels = append(w.labels, label)
	}
	return nil
}

func (w *walk) diff(a, b Side, depth int) error {
	if !a.present {
		return w.collect(b.node, depth)
	}
	if !b.present {
		return w.collect(a.node, depth)
	}
	if a.node == b.node {
		return nil
	}

	childrenA := w.g.LabelledSuccessors(a.node, childTypes...)
	childrenB := w.g.LabelledSuccessors(b.node, childTypes...)

	if len(childrenA) == 0 && len(childrenB) == 0 {
		return w.leaf(depth)
	}

	for _, ea := range childrenA {
		if err := w.setLabel(depth, ea.Label); err != nil {
			return err
		}
		eb, ok := find(childrenB, ea.Label)
		switch {
		case !ok:
			if err := w.diff(Present(ea.Dst), Absent, depth+1); err != nil {
				return err
			}
		case ea.Dst != eb.Dst:
			if err := w.diff(Present(ea.Dst), Present(eb.Dst), depth+1); err != nil {
				return err
			}
		}
	}
	for _, eb := range childrenB {
		if _, ok := find(childrenA, eb.Label); ok {
			continue
		}
		if err := w.setLabel(depth, eb.Label); err != nil {
			return err
		}
		if err := w.diff(Absent, Present(eb.Dst), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// collect reports every leaf below n.
func (w *walk) collect(n graph.Node, depth int) error {
	children := w.g.LabelledSuccessors(n, childTypes...)
	if len(children) == 0 {
		return w.leaf(depth)
	}
	for _, child := range children {
		if err := w.setLabel(depth, child.Label); err != nil {
			return err
		}
		if err := w.collect(child.Dst, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) leaf(depth int) error {
	var sb strings.Builder
	sb.WriteByte('/')
	for i := 0; i < depth; i++ {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(w.labels[i])
	}
	if !w.emit(sb.String()) {
		return errStop
	}
	return nil
}

// find returns the edge carrying label, scanning edges in order.
func find(edges []graph.LabelledEdge, label string) (graph.LabelledEdge, bool) {
	for _, e := range edges {
		if e.Label == label {
			return e, true
		}
	}
	return graph.LabelledEdge{}, false
}
