package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format is an on-disk graph encoding.
type Format int

const (
	FormatPack Format = iota
	FormatSQLite
)

// FormatFor picks the encoding from the file extension: .sqlite and .db are
// SQLite, everything else is a pack.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".db":
		return FormatSQLite
	default:
		return FormatPack
	}
}

// Open loads the graph stored at path.
func Open(path string) (*Graph, error) {
	if FormatFor(path) == FormatSQLite {
		return LoadSQLite(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening graph: %w", err)
	}
	defer f.Close()
	g, err := ReadPack(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return g, nil
}

// Save writes g to path in the encoding chosen by FormatFor.
func Save(path string, g *Graph) error {
	if FormatFor(path) == FormatSQLite {
		return SaveSQLite(path, g)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating graph file: %w", err)
	}
	if err := WritePack(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
