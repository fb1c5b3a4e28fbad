// Package sink writes changed paths as semicolon separated rows.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/k13n/swhdiff/internal/revision"
)

// Sink receives the changed paths of one revision at a time.
type Sink interface {
	Write(rev revision.Revision, paths []string) error
}

// Writer renders one row per path:
//
//	<path>;<timestamp>;<hash>;<tag or handle>
//
// All rows of a revision are written under one lock acquisition, so rows of
// different revisions never interleave.
type Writer struct {
	mu       sync.Mutex
	w        *bufio.Writer
	closer   io.Closer
	excludes []string
	rows     int64
	excluded int64
}

var _ Sink = (*Writer)(nil)

// Option configures a Writer.
type Option func(*Writer) error

// WithExcludes drops rows whose path matches one of the doublestar patterns.
// Patterns are matched against the path without its leading slash.
func WithExcludes(patterns ...string) Option {
	return func(w *Writer) error {
		for _, p := range patterns {
			if err := ValidatePattern(p); err != nil {
				return err
			}
			w.excludes = append(w.excludes, p)
		}
		return nil
	}
}

// ValidatePattern reports whether p is a usable exclude pattern.
func ValidatePattern(p string) error {
	if p == "" {
		return fmt.Errorf("empty exclude pattern")
	}
	if !doublestar.ValidatePattern(p) {
		return fmt.Errorf("invalid exclude pattern %q", p)
	}
	return nil
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	sw := &Writer{w: bufio.NewWriterSize(w, 1<<20)}
	for _, opt := range opts {
		if err := opt(sw); err != nil {
			return nil, err
		}
	}
	return sw, nil
}

// Create opens path for writing, truncating any existing file.
func Create(path string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Sanitize removes the characters that would break the row format.
func Sanitize(path string) string {
	if !strings.ContainsAny(path, ";\n\r") {
		return path
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ';', '\n', '\r':
			return -1
		}
		return r
	}, path)
}

func (w *Writer) isExcluded(path string) bool {
	rel := strings.TrimPrefix(path, "/")
	for _, p := range w.excludes {
		// Patterns were validated when the writer was built.
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Write emits one row per path of rev.
func (w *Writer) Write(rev revision.Revision, paths []string) error {
	suffix := ";" + strconv.FormatInt(rev.Timestamp, 10) + ";" + rev.Hash() + ";"
	if rev.Tag != "" {
		suffix += Sanitize(rev.Tag)
	} else {
		suffix += strconv.FormatInt(int64(rev.Node), 10)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range paths {
		if len(w.excludes) > 0 && w.isExcluded(p) {
			w.excluded++
			continue
		}
		if _, err := w.w.WriteString(Sanitize(p)); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
		if _, err := w.w.WriteString(suffix); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
		if err := w.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
		w.rows++
	}
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Excluded returns the number of rows dropped by exclude patterns.
func (w *Writer) Excluded() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.excluded
}

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Close flushes and closes the underlying file, if the Writer owns one.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
