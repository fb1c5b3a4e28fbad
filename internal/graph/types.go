// Package graph provides the read-only history graph the differ walks.
package graph

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownIdentifier is returned when a SWHID is not part of the graph.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrOutOfRange is returned for node handles outside [0, NumNodes).
	ErrOutOfRange = errors.New("node handle out of range")
	// ErrFormat is returned for graph files that cannot be decoded.
	ErrFormat = errors.New("malformed graph file")
	// ErrChecksum is returned when a pack body does not match its checksum.
	ErrChecksum = errors.New("graph checksum mismatch")
)

// Node is a dense integer handle for any entity in a loaded graph.
type Node int64

// Absent denotes "no such tree".
const Absent Node = -1

// NodeType is the entity type of a node.
type NodeType uint8

// The numeric values follow the on-disk type byte of the identifier maps.
const (
	Content NodeType = iota
	Directory
	Origin
	Release
	Revision
	Snapshot
)

var typeNames = [...]string{
	Content:   "cnt",
	Directory: "dir",
	Origin:    "ori",
	Release:   "rel",
	Revision:  "rev",
	Snapshot:  "snp",
}

func (t NodeType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", t)
}

// Valid reports whether t is one of the known entity types.
func (t NodeType) Valid() bool {
	return int(t) < len(typeNames)
}

// ParseNodeType parses the three-letter SWHID form of a node type.
func ParseNodeType(s string) (NodeType, error) {
	for i, name := range typeNames {
		if name == s {
			return NodeType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

// HashSize is the length of the intrinsic hash carried by a SWHID.
const HashSize = 20

const swhidPrefix = "swh:1:"

// SWHID is a persistent software heritage identifier: swh:1:<type>:<hex>.
type SWHID struct {
	Type NodeType
	Hash [HashSize]byte
}

// ParseSWHID parses the string form of an identifier.
func ParseSWHID(s string) (SWHID, error) {
	var id SWHID
	if !strings.HasPrefix(s, swhidPrefix) {
		return id, fmt.Errorf("invalid SWHID %q: missing %q prefix", s, swhidPrefix)
	}
	rest := s[len(swhidPrefix):]
	typ, digest, ok := strings.Cut(rest, ":")
	if !ok {
		return id, fmt.Errorf("invalid SWHID %q: missing hash", s)
	}
	t, err := ParseNodeType(typ)
	if err != nil {
		return id, fmt.Errorf("invalid SWHID %q: %w", s, err)
	}
	if len(digest) != 2*HashSize {
		return id, fmt.Errorf("invalid SWHID %q: hash must be %d hex digits", s, 2*HashSize)
	}
	if _, err := hex.Decode(id.Hash[:], []byte(digest)); err != nil {
		return id, fmt.Errorf("invalid SWHID %q: %w", s, err)
	}
	id.Type = t
	return id, nil
}

// MustParseSWHID is like ParseSWHID but panics on error. Meant for tests and
// constants.
func MustParseSWHID(s string) SWHID {
	id, err := ParseSWHID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewSWHID builds an identifier from a type and a raw hash.
func NewSWHID(t NodeType, hash []byte) SWHID {
	id := SWHID{Type: t}
	copy(id.Hash[:], hash)
	return id
}

func (id SWHID) String() string {
	return swhidPrefix + id.Type.String() + ":" + id.HexHash()
}

// HexHash returns the hash part of the identifier, without the scheme prefix.
func (id SWHID) HexHash() string {
	return hex.EncodeToString(id.Hash[:])
}

// Compare orders identifiers the same way their string forms sort.
func (id SWHID) Compare(other SWHID) int {
	if c := strings.Compare(id.Type.String(), other.Type.String()); c != 0 {
		return c
	}
	return bytes.Compare(id.Hash[:], other.Hash[:])
}

// LabelledEdge is a directory entry: an edge annotated with one path segment.
type LabelledEdge struct {
	Src   Node
	Dst   Node
	Label string
}

// Store is the query surface the differ and the pipeline consume. An
// implementation must be safe for concurrent reads.
type Store interface {
	// Successors returns forward neighbours, restricted to types if any are given.
	Successors(n Node, types ...NodeType) []Node
	// Predecessors returns backward neighbours, restricted to types if any are given.
	Predecessors(n Node, types ...NodeType) []Node
	// LabelledSuccessors returns forward edges carrying a label. Edges without a
	// label are reported as anomalies and skipped.
	LabelledSuccessors(n Node, types ...NodeType) []LabelledEdge
	// Resolve translates an identifier into a node handle.
	Resolve(id SWHID) (Node, error)
	// SWHID translates a node handle into its identifier.
	SWHID(n Node) (SWHID, error)
	// Type returns the entity type of n.
	Type(n Node) NodeType
	// Timestamp returns the recorded timestamp of n, or 0.
	Timestamp(n Node) int64
	// NumNodes returns the number of nodes in the graph.
	NumNodes() int64
}

func matchesType(t NodeType, types []NodeType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}
