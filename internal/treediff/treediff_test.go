package treediff

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k13n/swhdiff/internal/graph"
	"github.com/k13n/swhdiff/internal/graph/graphtest"
)

// countingStore records how often directory entries are listed.
type countingStore struct {
	graph.Store
	listed int
}

func (s *countingStore) LabelledSuccessors(n graph.Node, types ...graph.NodeType) []graph.LabelledEdge {
	s.listed++
	return s.Store.LabelledSuccessors(n, types...)
}

func sorted(t *testing.T, d *Differ, a, b Side) []string {
	t.Helper()
	paths, err := d.Collect(a, b)
	require.NoError(t, err)
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func sampleTree(f *graphtest.Fixture) graph.Node {
	lib := f.Dir("lib", graphtest.E("util.go", f.File("util")), graphtest.E("io.go", f.File("io")))
	return f.Dir("root",
		graphtest.E("README", f.File("readme")),
		graphtest.E("lib", lib),
		graphtest.E("empty", f.Dir("emptydir")),
	)
}

func TestDiff_IdentityVisitsNothing(t *testing.T) {
	f := graphtest.New()
	root := sampleTree(f)
	store := &countingStore{Store: f.Build()}

	var got []string
	err := New(store).Diff(Present(root), Present(root), func(p string) bool {
		got = append(got, p)
		return true
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, store.listed)
}

func TestDiff_AbsenceCollectsEveryLeaf(t *testing.T) {
	f := graphtest.New()
	root := sampleTree(f)
	d := New(f.Build())

	want := []string{"/README", "/empty", "/lib/io.go", "/lib/util.go"}
	assert.Equal(t, want, sorted(t, d, Present(root), Absent))
	assert.Equal(t, want, sorted(t, d, Absent, Present(root)))
}

func TestDiff_BothAbsentIsInvalid(t *testing.T) {
	d := New(graphtest.New().Build())
	err := d.Diff(Absent, Absent, func(string) bool { return true })
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Contains(t, err.Error(), "at least one side must exist")

	var zero Side
	assert.False(t, zero.IsPresent())
	assert.Equal(t, graph.Absent, zero.Node())
}

func TestDiff_SameLabelSameHandleIsSkipped(t *testing.T) {
	f := graphtest.New()
	shared := f.Dir("shared", graphtest.E("keep.txt", f.File("keep")))
	a := f.Dir("a", graphtest.E("x", shared), graphtest.E("one.txt", f.File("1")))
	b := f.Dir("b", graphtest.E("x", shared), graphtest.E("one.txt", f.File("2")))
	d := New(f.Build())

	assert.Equal(t, []string{"/one.txt"}, sorted(t, d, Present(a), Present(b)))
}

func TestDiff_AdditionAndRemovalCarryFullPrefix(t *testing.T) {
	f := graphtest.New()
	nested := f.Dir("nested", graphtest.E("deep.txt", f.File("deep")))
	y := f.Dir("y", graphtest.E("a.txt", f.File("a")), graphtest.E("z", nested))
	common := f.File("common")
	a := f.Dir("a", graphtest.E("common", common))
	b := f.Dir("b", graphtest.E("common", common), graphtest.E("y", y))
	d := New(f.Build())

	want := []string{"/y/a.txt", "/y/z/deep.txt"}
	assert.Equal(t, want, sorted(t, d, Present(a), Present(b)))
	assert.Equal(t, want, sorted(t, d, Present(b), Present(a)))
}

func TestDiff_ChangedLeafDirectory(t *testing.T) {
	// Both sides hold "dir" pointing at different childless directories.
	f := graphtest.New()
	leaf := f.File("L1")
	d1 := f.Dir("D1")
	d2 := f.Dir("D2")
	a := f.Dir("A", graphtest.E("f.txt", leaf), graphtest.E("dir", d1))
	b := f.Dir("B", graphtest.E("f.txt", leaf), graphtest.E("dir", d2))
	d := New(f.Build())

	assert.Equal(t, []string{"/dir"}, sorted(t, d, Present(a), Present(b)))
}

func TestDiff_ChangedSubdirectory(t *testing.T) {
	f := graphtest.New()
	leaf := f.File("L1")
	d1 := f.Dir("D1")
	d2 := f.Dir("D2", graphtest.E("g.txt", f.File("L2")))
	a := f.Dir("A", graphtest.E("f.txt", leaf), graphtest.E("dir", d1))
	b := f.Dir("B", graphtest.E("f.txt", leaf), graphtest.E("dir", d2))
	d := New(f.Build())

	assert.Equal(t, []string{"/dir/g.txt"}, sorted(t, d, Present(a), Present(b)))
}

func TestDiff_EmptyRootAgainstAbsence(t *testing.T) {
	f := graphtest.New()
	root := f.Dir("empty-root")
	d := New(f.Build())
	assert.Equal(t, []string{"/"}, sorted(t, d, Present(root), Absent))
}

func TestDiff_IgnoresNonTreeChildren(t *testing.T) {
	f := graphtest.New()
	a := f.Dir("a", graphtest.E("f", f.File("1")))
	b := f.Dir("b", graphtest.E("f", f.File("1")))
	// A revision hanging below a directory (e.g. a submodule) is not a file.
	sub := f.B.AddNode(graphtest.ID(graph.Revision, "submodule"))
	f.B.AddLabelledEdge(b, sub, "vendor")
	d := New(f.Build())

	assert.Empty(t, sorted(t, d, Present(a), Present(b)))
}

func TestDiff_SkipsUnlabelledEdges(t *testing.T) {
	f := graphtest.New()
	a := f.Dir("a", graphtest.E("f", f.File("1")))
	b := f.Dir("b", graphtest.E("f", f.File("2")))
	f.B.AddEdge(b, f.File("corrupt"))
	g := f.Build()
	logger, hook := logtest.NewNullLogger()
	d := New(g.WithLogger(logger))

	assert.Equal(t, []string{"/f"}, sorted(t, d, Present(a), Present(b)))
	assert.NotEmpty(t, hook.Entries)
}

func chain(f *graphtest.Fixture, depth int) graph.Node {
	n := f.File("bottom")
	for i := depth - 1; i >= 0; i-- {
		n = f.Dir(fmt.Sprintf("chain-%d-%d", depth, i), graphtest.E(fmt.Sprintf("d%d", i), n))
	}
	return n
}

func TestDiff_MaxDepth(t *testing.T) {
	f := graphtest.New()
	ok := chain(f, MaxDepth)
	tooDeep := chain(f, MaxDepth+1)
	d := New(f.Build())

	paths, err := d.Collect(Present(ok), Absent)
	require.NoError(t, err)
	assert.Len(t, paths, 1)

	_, err = d.Collect(Present(tooDeep), Absent)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = d.Collect(Present(ok), Present(tooDeep))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPaths_StopsEarly(t *testing.T) {
	f := graphtest.New()
	root := sampleTree(f)
	store := &countingStore{Store: f.Build()}
	d := New(store)

	var got []string
	for p, err := range d.Paths(Present(root), Absent) {
		require.NoError(t, err)
		got = append(got, p)
		break
	}
	assert.Len(t, got, 1)
	full := store.listed
	store.listed = 0
	_ = sorted(t, d, Present(root), Absent)
	assert.Less(t, full, store.listed)
}

func TestPaths_YieldsError(t *testing.T) {
	d := New(graphtest.New().Build())
	var errs []error
	for _, err := range d.Paths(Absent, Absent) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrInvalidArgument))
}

func TestDiff_ConcurrentCallsShareDiffer(t *testing.T) {
	f := graphtest.New()
	root := sampleTree(f)
	other := f.Dir("other", graphtest.E("README", f.File("readme2")))
	d := New(f.Build())

	done := make(chan []string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			paths, _ := d.Collect(Present(root), Present(other))
			out := make([]string, 0, len(paths))
			for p := range paths {
				out = append(out, p)
			}
			sort.Strings(out)
			done <- out
		}()
	}
	want := []string{"/README", "/empty", "/lib/io.go", "/lib/util.go"}
	for i := 0; i < 8; i++ {
		assert.Equal(t, want, <-done)
	}
}
