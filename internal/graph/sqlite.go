package graph

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqliteSchema string

// DB wraps a SQLite database holding a graph.
type DB struct {
	conn *sql.DB
}

// OpenDB opens or creates the database at the given path and applies the schema.
func OpenDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Fail early if connection is bad
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	conn.Exec("PRAGMA busy_timeout=5000")

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Save replaces the database content with g.
func (db *DB) Save(g *Graph) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"edges", "labels", "nodes"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	nodeStmt, err := tx.Prepare(`INSERT INTO nodes (handle, swhid, type, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing node insert: %w", err)
	}
	defer nodeStmt.Close()
	for i, id := range g.ids {
		if _, err := nodeStmt.Exec(i, id.String(), int(id.Type), g.timestamps[i]); err != nil {
			return fmt.Errorf("inserting node %d: %w", i, err)
		}
	}

	labelStmt, err := tx.Prepare(`INSERT INTO labels (id, label) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing label insert: %w", err)
	}
	defer labelStmt.Close()
	for i, label := range g.labels {
		if _, err := labelStmt.Exec(i, []byte(label)); err != nil {
			return fmt.Errorf("inserting label %d: %w", i, err)
		}
	}

	edgeStmt, err := tx.Prepare(`INSERT INTO edges (seq, src, dst, label) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing edge insert: %w", err)
	}
	defer edgeStmt.Close()
	var seq int64
	for src := range g.ids {
		for i := g.fwdOffsets[src]; i < g.fwdOffsets[src+1]; i++ {
			var label interface{}
			if g.fwdLabels[i] != noLabel {
				label = g.fwdLabels[i]
			}
			if _, err := edgeStmt.Exec(seq, src, int64(g.fwdDst[i]), label); err != nil {
				return fmt.Errorf("inserting edge %d: %w", seq, err)
			}
			seq++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Load reads the stored graph. Handles are preserved.
func (db *DB) Load() (*Graph, error) {
	b := NewBuilder()

	rows, err := db.conn.Query(`SELECT handle, swhid, timestamp FROM nodes ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	for rows.Next() {
		var handle, ts int64
		var swhid string
		if err := rows.Scan(&handle, &swhid, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		id, err := ParseSWHID(swhid)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: node %d: %v", ErrFormat, handle, err)
		}
		n := b.AddNode(id)
		if int64(n) != handle {
			rows.Close()
			return nil, fmt.Errorf("%w: node handles are not dense at %d", ErrFormat, handle)
		}
		b.SetTimestamp(n, ts)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading nodes: %w", err)
	}
	rows.Close()

	var labels []string
	rows, err = db.conn.Query(`SELECT label FROM labels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying labels: %w", err)
	}
	for rows.Next() {
		var label []byte
		if err := rows.Scan(&label); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning label: %w", err)
		}
		labels = append(labels, string(label))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	rows.Close()

	n := Node(b.NumNodes())
	rows, err = db.conn.Query(`SELECT src, dst, label FROM edges ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src, dst Node
		var label sql.NullInt64
		if err := rows.Scan(&src, &dst, &label); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		if src < 0 || src >= n || dst < 0 || dst >= n {
			return nil, fmt.Errorf("%w: edge (%d,%d) out of range", ErrFormat, src, dst)
		}
		switch {
		case !label.Valid:
			b.AddEdge(src, dst)
		case label.Int64 >= 0 && label.Int64 < int64(len(labels)):
			b.AddLabelledEdge(src, dst, labels[label.Int64])
		default:
			return nil, fmt.Errorf("%w: edge (%d,%d) has unknown label %d", ErrFormat, src, dst, label.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading edges: %w", err)
	}

	return b.Build(), nil
}

// SaveSQLite writes g to a fresh SQLite file at path.
func SaveSQLite(path string, g *Graph) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old database: %w", err)
	}
	db, err := OpenDB(path)
	if err != nil {
		return err
	}
	if err := db.Save(g); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

// LoadSQLite reads a graph from the SQLite file at path.
func LoadSQLite(path string) (*Graph, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening graph: %w", err)
	}
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Load()
}
