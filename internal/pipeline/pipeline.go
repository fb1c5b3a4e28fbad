// Package pipeline diffs every revision of a source against its parents using
// a fixed pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/k13n/swhdiff/internal/graph"
	"github.com/k13n/swhdiff/internal/revision"
	"github.com/k13n/swhdiff/internal/sink"
	"github.com/k13n/swhdiff/internal/treediff"
)

// ErrStructuralAnomaly marks a revision whose neighbourhood does not have the
// expected shape.
var ErrStructuralAnomaly = errors.New("structural anomaly")

// Direction tells how parent relations are stored in the graph.
type Direction uint8

const (
	// Forward graphs hold child -> parent edges.
	Forward Direction = iota
	// Backward graphs hold parent -> child edges.
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return fmt.Sprintf("Direction(%d)", d)
}

// ParseDirection parses "forward" or "backward".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "":
		return Forward, nil
	case "backward":
		return Backward, nil
	}
	return Forward, fmt.Errorf("unknown parent direction %q (want forward or backward)", s)
}

// Progress is reported every Config.ProgressEvery revisions.
type Progress struct {
	Processed int64
	Total     int64
	// Ratio is Processed/Total, or 0 when the total is unknown.
	Ratio float64
}

// Config holds pipeline tuning.
type Config struct {
	Workers       int
	ProgressEvery int64
	// Total is the expected number of revisions, 0 if unknown.
	Total      int64
	Parents    Direction
	OnProgress func(Progress)
}

// DefaultConfig returns a single-worker configuration.
func DefaultConfig() Config {
	return Config{Workers: 1, ProgressEvery: 1000, Parents: Forward}
}

// Stats summarizes a run.
type Stats struct {
	Processed int64
	Failed    int64
	// Paths counts the changed paths handed to the sink, before any
	// exclusion the sink applies.
	Paths int64
}

// Pipeline drives the diff of every revision of a source into a sink.
type Pipeline struct {
	g      graph.Store
	src    revision.Source
	out    sink.Sink
	cfg    Config
	log    logrus.FieldLogger
	differ *treediff.Differ

	processed atomic.Int64
	failed    atomic.Int64
	paths     atomic.Int64

	// progressMu orders progress reports; lastReported only grows.
	progressMu   sync.Mutex
	lastReported int64

	mu     sync.Mutex
	states []State
}

// New returns a pipeline. Zero config values fall back to DefaultConfig.
func New(g graph.Store, src revision.Source, out sink.Sink, cfg Config, log logrus.FieldLogger) *Pipeline {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	states := make([]State, cfg.Workers)
	for i := range states {
		states[i] = Idle
	}
	return &Pipeline{
		g:      g,
		src:    src,
		out:    out,
		cfg:    cfg,
		log:    log,
		differ: treediff.New(g),
		states: states,
	}
}

// Run processes revisions until the source is exhausted, a sink or source
// read fails, or ctx is cancelled. Per-revision failures are logged and
// counted, not returned.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	p.log.WithFields(logrus.Fields{
		"workers": p.cfg.Workers,
		"parents": p.cfg.Parents.String(),
	}).Info("starting diff")

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		eg.Go(func() error {
			defer p.setState(id, Drained)
			return p.work(ctx, id)
		})
	}
	err := eg.Wait()

	if err == nil {
		if rerr, ok := p.src.(interface{ Err() error }); ok && rerr.Err() != nil {
			err = fmt.Errorf("reading revisions: %w", rerr.Err())
		}
	}

	stats := Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Paths:     p.paths.Load(),
	}
	fields := logrus.Fields{
		"processed": humanize.Comma(stats.Processed),
		"failed":    humanize.Comma(stats.Failed),
		"paths":     humanize.Comma(stats.Paths),
	}
	if err != nil {
		p.log.WithFields(fields).WithError(err).Error("diff aborted")
		return stats, err
	}
	p.log.WithFields(fields).Info("diff finished")
	return stats, nil
}

func (p *Pipeline) work(ctx context.Context, worker int) error {
	log := p.log.WithField("worker", worker)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.setState(worker, Fetching)
		rev, ok := p.src.Next()
		if !ok {
			return nil
		}

		paths, err := p.process(worker, rev)
		if err != nil {
			p.failed.Add(1)
			log.WithFields(logrus.Fields{
				"rev":  rev.ID.String(),
				"node": rev.Node,
			}).WithError(err).Error("skipping revision")
		} else {
			p.setState(worker, Writing)
			if err := p.out.Write(rev, paths); err != nil {
				return fmt.Errorf("writing revision %s: %w", rev.ID, err)
			}
			p.paths.Add(int64(len(paths)))
		}

		p.tick()
	}
}

// process computes the sorted changed paths of one revision. A panic is
// returned as an error.
func (p *Pipeline) process(worker int, rev revision.Revision) (paths []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			paths = nil
			err = fmt.Errorf("%w: panic while diffing revision %s (ID %d): %v",
				ErrStructuralAnomaly, rev.ID, rev.Node, r)
		}
	}()

	p.setState(worker, Resolving)
	root, err := p.rootDirectory(rev.ID, rev.Node)
	if err != nil {
		return nil, err
	}
	parents := p.parents(rev.Node)

	p.setState(worker, Diffing)
	changed := make(map[string]struct{})
	add := func(path string) bool {
		changed[path] = struct{}{}
		return true
	}

	if len(parents) == 0 {
		if err := p.differ.Diff(treediff.Present(root), treediff.Absent, add); err != nil {
			return nil, err
		}
	}
	for _, parent := range parents {
		parentID, err := p.g.SWHID(parent)
		if err != nil {
			return nil, err
		}
		parentRoot, err := p.rootDirectory(parentID, parent)
		if err != nil {
			return nil, err
		}
		if err := p.differ.Diff(treediff.Present(root), treediff.Present(parentRoot), add); err != nil {
			return nil, err
		}
	}

	paths = make([]string, 0, len(changed))
	for path := range changed {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths, nil
}

func (p *Pipeline) rootDirectory(id graph.SWHID, n graph.Node) (graph.Node, error) {
	dirs := p.g.Successors(n, graph.Directory)
	if len(dirs) != 1 {
		return graph.Absent, fmt.Errorf("%w: revision %s (ID %d) points to %d root directories (1 expected)",
			ErrStructuralAnomaly, id, n, len(dirs))
	}
	return dirs[0], nil
}

func (p *Pipeline) parents(n graph.Node) []graph.Node {
	if p.cfg.Parents == Backward {
		return p.g.Predecessors(n, graph.Revision)
	}
	return p.g.Successors(n, graph.Revision)
}

func (p *Pipeline) tick() {
	n := p.processed.Add(1)
	if n%p.cfg.ProgressEvery != 0 {
		return
	}

	p.progressMu.Lock()
	defer p.progressMu.Unlock()
	// A worker that got a later count may have reported first.
	if n <= p.lastReported {
		return
	}
	p.lastReported = n

	prog := Progress{Processed: n, Total: p.cfg.Total}
	if prog.Total > 0 {
		prog.Ratio = float64(n) / float64(prog.Total)
	}

	entry := p.log.WithField("processed", humanize.Comma(n))
	if prog.Total > 0 {
		entry = entry.WithFields(logrus.Fields{
			"total":   humanize.Comma(prog.Total),
			"percent": humanize.FtoaWithDigits(prog.Ratio*100, 2),
		})
	}
	entry.Info("progress")

	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(prog)
	}
}
