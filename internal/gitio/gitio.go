// Package gitio builds history graphs from Git repositories using go-git.
package gitio

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"github.com/k13n/swhdiff/internal/graph"
)

// Options controls an import.
type Options struct {
	// Origin is the URL recorded for the repository. Empty means the URL of
	// the "origin" remote, or the repository path if there is none.
	Origin string
	// BackwardParents stores parent -> child edges instead of child -> parent.
	BackwardParents bool
	Logger          logrus.FieldLogger
}

// Stats counts the nodes created by an import.
type Stats struct {
	Revisions   int
	Directories int
	Contents    int
	Releases    int
	Submodules  int
}

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	path string
}

// Open opens an existing Git repository.
func Open(repoPath string) (*Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: repoPath}, nil
}

// Import opens the repository at repoPath and converts it into a graph.
func Import(repoPath string, opts Options) (*graph.Graph, Stats, error) {
	r, err := Open(repoPath)
	if err != nil {
		return nil, Stats{}, err
	}
	return r.Import(opts)
}

// importer holds the state of one import. Trees are visited once each.
type importer struct {
	repo  *git.Repository
	b     *graph.Builder
	opts  Options
	log   logrus.FieldLogger
	trees map[plumbing.Hash]graph.Node
	stats Stats
}

// Import converts every commit, tree, blob and annotated tag of the
// repository into a graph, plus one snapshot of its references and one
// origin.
func (r *Repository) Import(opts Options) (*graph.Graph, Stats, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	imp := &importer{
		repo:  r.repo,
		b:     graph.NewBuilder(),
		opts:  opts,
		log:   log,
		trees: make(map[plumbing.Hash]graph.Node),
	}

	if err := imp.commits(); err != nil {
		return nil, Stats{}, err
	}
	if err := imp.tags(); err != nil {
		return nil, Stats{}, err
	}
	snp, err := imp.snapshot()
	if err != nil {
		return nil, Stats{}, err
	}
	if snp != graph.Absent {
		url := opts.Origin
		if url == "" {
			url = r.originURL()
		}
		ori := imp.b.AddNode(OriginID(url))
		imp.b.AddEdge(ori, snp)
		log.WithField("origin", url).Debug("recorded origin")
	}

	g := imp.b.Build().WithLogger(log)
	log.WithFields(logrus.Fields{
		"revisions":   imp.stats.Revisions,
		"directories": imp.stats.Directories,
		"contents":    imp.stats.Contents,
		"releases":    imp.stats.Releases,
	}).Info("imported repository")
	return g, imp.stats, nil
}

func (r *Repository) originURL() string {
	if remote, err := r.repo.Remote(git.DefaultRemoteName); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			return urls[0]
		}
	}
	if abs, err := filepath.Abs(r.path); err == nil {
		return "file://" + filepath.ToSlash(abs)
	}
	return r.path
}

func swhid(t graph.NodeType, h plumbing.Hash) graph.SWHID {
	return graph.NewSWHID(t, h[:])
}

// RevisionID returns the identifier of a commit.
func RevisionID(h plumbing.Hash) graph.SWHID {
	return swhid(graph.Revision, h)
}

// OriginID derives the identifier of an origin from its URL.
func OriginID(url string) graph.SWHID {
	sum := blake3.Sum256([]byte(url))
	return graph.NewSWHID(graph.Origin, sum[:graph.HashSize])
}

func (imp *importer) commits() error {
	iter, err := imp.repo.CommitObjects()
	if err != nil {
		return fmt.Errorf("listing commits: %w", err)
	}
	defer iter.Close()

	return iter.ForEach(func(c *object.Commit) error {
		n := imp.b.AddNode(RevisionID(c.Hash))
		imp.b.SetTimestamp(n, c.Committer.When.Unix())
		imp.stats.Revisions++

		root, err := imp.tree(c.TreeHash)
		if err != nil {
			return fmt.Errorf("commit %s: %w", c.Hash, err)
		}
		imp.b.AddEdge(n, root)

		for _, ph := range c.ParentHashes {
			p := imp.b.AddNode(RevisionID(ph))
			if imp.opts.BackwardParents {
				imp.b.AddEdge(p, n)
			} else {
				imp.b.AddEdge(n, p)
			}
		}
		return nil
	})
}

func (imp *importer) tree(h plumbing.Hash) (graph.Node, error) {
	if n, ok := imp.trees[h]; ok {
		return n, nil
	}
	t, err := imp.repo.TreeObject(h)
	if err != nil {
		return graph.Absent, fmt.Errorf("reading tree %s: %w", h, err)
	}

	n := imp.b.AddNode(swhid(graph.Directory, h))
	imp.trees[h] = n
	imp.stats.Directories++

	for _, e := range t.Entries {
		var child graph.Node
		switch e.Mode {
		case filemode.Dir:
			child, err = imp.tree(e.Hash)
			if err != nil {
				return graph.Absent, err
			}
		case filemode.Submodule:
			imp.stats.Submodules++
			imp.log.WithField("entry", e.Name).Debug("skipping submodule")
			continue
		default:
			child = imp.content(e.Hash)
		}
		imp.b.AddLabelledEdge(n, child, e.Name)
	}
	return n, nil
}

func (imp *importer) content(h plumbing.Hash) graph.Node {
	id := swhid(graph.Content, h)
	if n, ok := imp.b.Lookup(id); ok {
		return n
	}
	imp.stats.Contents++
	return imp.b.AddNode(id)
}

// target returns the node of an arbitrary object.
func (imp *importer) target(h plumbing.Hash, t plumbing.ObjectType) (graph.Node, error) {
	switch t {
	case plumbing.CommitObject:
		return imp.b.AddNode(RevisionID(h)), nil
	case plumbing.TagObject:
		return imp.b.AddNode(swhid(graph.Release, h)), nil
	case plumbing.TreeObject:
		return imp.tree(h)
	case plumbing.BlobObject:
		return imp.content(h), nil
	}
	return graph.Absent, fmt.Errorf("unsupported object type %s", t)
}

func (imp *importer) tags() error {
	iter, err := imp.repo.TagObjects()
	if err != nil {
		return fmt.Errorf("listing tags: %w", err)
	}
	defer iter.Close()

	return iter.ForEach(func(tag *object.Tag) error {
		n := imp.b.AddNode(swhid(graph.Release, tag.Hash))
		imp.b.SetTimestamp(n, tag.Tagger.When.Unix())
		imp.stats.Releases++

		dst, err := imp.target(tag.Target, tag.TargetType)
		if err != nil {
			return fmt.Errorf("tag %s: %w", tag.Name, err)
		}
		imp.b.AddEdge(n, dst)
		return nil
	})
}

// snapshot adds one node for the current references, or returns graph.Absent
// when there are none. Branch edges are labelled with the reference name.
func (imp *importer) snapshot() (graph.Node, error) {
	iter, err := imp.repo.References()
	if err != nil {
		return graph.Absent, fmt.Errorf("listing references: %w", err)
	}
	defer iter.Close()

	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return graph.Absent, fmt.Errorf("listing references: %w", err)
	}
	if len(refs) == 0 {
		return graph.Absent, nil
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name() < refs[j].Name() })

	n := imp.b.AddNode(SnapshotID(refs))
	for _, ref := range refs {
		obj, err := imp.repo.Object(plumbing.AnyObject, ref.Hash())
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			imp.log.WithField("ref", ref.Name().String()).Warn("dangling reference")
			continue
		}
		if err != nil {
			return graph.Absent, fmt.Errorf("resolving %s: %w", ref.Name(), err)
		}
		dst, err := imp.target(ref.Hash(), obj.Type())
		if err != nil {
			return graph.Absent, fmt.Errorf("resolving %s: %w", ref.Name(), err)
		}
		imp.b.AddLabelledEdge(n, dst, ref.Name().String())
	}
	return n, nil
}

// SnapshotID derives the identifier of a set of references from their sorted
// "name target" lines.
func SnapshotID(refs []*plumbing.Reference) graph.SWHID {
	lines := make([]string, 0, len(refs))
	for _, ref := range refs {
		lines = append(lines, ref.Name().String()+" "+ref.Hash().String())
	}
	sort.Strings(lines)
	sum := blake3.Sum256([]byte(strings.Join(lines, "\n")))
	return graph.NewSWHID(graph.Snapshot, sum[:graph.HashSize])
}

// ChangedPaths returns the files that differ between two commits, as
// rooted paths.
func (r *Repository) ChangedPaths(base, head plumbing.Hash) ([]string, error) {
	baseCommit, err := r.repo.CommitObject(base)
	if err != nil {
		return nil, fmt.Errorf("getting base commit: %w", err)
	}
	headCommit, err := r.repo.CommitObject(head)
	if err != nil {
		return nil, fmt.Errorf("getting head commit: %w", err)
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("getting base tree: %w", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("getting head tree: %w", err)
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, fmt.Errorf("computing diff: %w", err)
	}
	seen := make(map[string]struct{})
	for _, change := range changes {
		for _, name := range []string{change.From.Name, change.To.Name} {
			if name != "" {
				seen["/"+name] = struct{}{}
			}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
