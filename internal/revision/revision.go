// Package revision reads the list of revisions to diff.
package revision

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/k13n/swhdiff/internal/graph"
)

// Revision is one input record.
type Revision struct {
	ID        graph.SWHID
	Node      graph.Node
	Timestamp int64
	// Tag is free-form, typically the ids of the repositories the revision
	// was found in.
	Tag string
}

// Hash returns the identifier without its "swh:1:rev:" prefix.
func (r Revision) Hash() string {
	return r.ID.HexHash()
}

// Source hands out revisions, each exactly once. Implementations are safe for
// concurrent use.
type Source interface {
	// Next returns the next revision, or false once the source is exhausted.
	Next() (Revision, bool)
}

// Resolver translates identifiers into node handles.
type Resolver interface {
	Resolve(id graph.SWHID) (graph.Node, error)
}

// ParseLine parses "<hash-or-swhid>;<timestamp>[;<tag>]" and resolves the
// identifier against g. Fields after the tag are ignored.
func ParseLine(line string, g Resolver) (Revision, error) {
	fields := strings.Split(strings.TrimRight(line, "\r"), ";")
	if len(fields) < 2 {
		return Revision{}, fmt.Errorf("expected at least 2 fields, got %d", len(fields))
	}

	raw := strings.TrimSpace(fields[0])
	if !strings.HasPrefix(raw, "swh:") {
		raw = "swh:1:rev:" + raw
	}
	id, err := graph.ParseSWHID(raw)
	if err != nil {
		return Revision{}, err
	}
	if id.Type != graph.Revision {
		return Revision{}, fmt.Errorf("%s is not a revision", id)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Revision{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	n, err := g.Resolve(id)
	if err != nil {
		return Revision{}, err
	}

	rev := Revision{ID: id, Node: n, Timestamp: ts}
	if len(fields) > 2 {
		rev.Tag = fields[2]
	}
	return rev, nil
}

// Reader streams revisions from an input file. Lines that cannot be parsed or
// resolved are dropped. Next is serialized by a mutex, so revisions are handed
// out in input order.
type Reader struct {
	mu      sync.Mutex
	sc      *bufio.Scanner
	g       Resolver
	log     logrus.FieldLogger
	line    int64
	dropped int64
	err     error
}

var _ Source = (*Reader)(nil)

// NewReader returns a Reader over r. A nil log falls back to the standard
// logger.
func NewReader(r io.Reader, g Resolver, log logrus.FieldLogger) *Reader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{sc: sc, g: g, log: log}
}

// Next returns the next usable revision.
func (r *Reader) Next() (Revision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.err == nil && r.sc.Scan() {
		r.line++
		text := r.sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		rev, err := ParseLine(text, r.g)
		if err != nil {
			r.dropped++
			r.log.WithField("line", r.line).Debugf("dropping input line: %v", err)
			continue
		}
		return rev, true
	}
	if r.err == nil {
		r.err = r.sc.Err()
	}
	return Revision{}, false
}

// Err returns the read error that ended the stream, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Dropped returns how many lines were skipped so far.
func (r *Reader) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// List is a pre-loaded Source handing out revisions through an atomic cursor.
type List struct {
	revs   []Revision
	cursor atomic.Int64
}

var _ Source = (*List)(nil)

// NewList returns a Source over revs.
func NewList(revs []Revision) *List {
	return &List{revs: revs}
}

// Next returns the next revision in list order.
func (l *List) Next() (Revision, bool) {
	i := l.cursor.Add(1) - 1
	if i >= int64(len(l.revs)) {
		return Revision{}, false
	}
	return l.revs[i], true
}

// Len returns the number of revisions in the list.
func (l *List) Len() int {
	return len(l.revs)
}

// Load reads every usable revision of r into a List.
func Load(r io.Reader, g Resolver, log logrus.FieldLogger) (*List, error) {
	rd := NewReader(r, g, log)
	var revs []Revision
	for {
		rev, ok := rd.Next()
		if !ok {
			break
		}
		revs = append(revs, rev)
	}
	if err := rd.Err(); err != nil {
		return nil, fmt.Errorf("reading revisions: %w", err)
	}
	return NewList(revs), nil
}

// CountLines returns the number of non-empty lines in the file at path. It is
// an upper bound on the number of revisions the file yields.
func CountLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var n int64
	for sc.Scan() {
		if len(strings.TrimSpace(sc.Text())) > 0 {
			n++
		}
	}
	return n, sc.Err()
}
