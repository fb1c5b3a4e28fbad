package revision

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k13n/swhdiff/internal/graph"
	"github.com/k13n/swhdiff/internal/graph/graphtest"
)

func testGraph(t *testing.T, n int) (*graph.Graph, []graph.SWHID) {
	t.Helper()
	f := graphtest.New()
	root := f.Dir("root")
	var ids []graph.SWHID
	for i := 0; i < n; i++ {
		id := graphtest.ID(graph.Revision, string(rune('a'+i)))
		rev := f.B.AddNode(id)
		f.B.AddEdge(rev, root)
		ids = append(ids, id)
	}
	return f.Build(), ids
}

func quietLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

func TestParseLine(t *testing.T) {
	g, ids := testGraph(t, 1)

	rev, err := ParseLine(ids[0].HexHash()+";1600000000;repo1,repo2", g)
	require.NoError(t, err)
	assert.Equal(t, ids[0], rev.ID)
	assert.Equal(t, int64(1600000000), rev.Timestamp)
	assert.Equal(t, "repo1,repo2", rev.Tag)
	assert.Equal(t, ids[0].HexHash(), rev.Hash())
	want, _ := g.Resolve(ids[0])
	assert.Equal(t, want, rev.Node)

	rev, err = ParseLine(ids[0].String()+";42", g)
	require.NoError(t, err)
	assert.Equal(t, "", rev.Tag)
	assert.Equal(t, int64(42), rev.Timestamp)

	// Only the third field is the tag.
	rev, err = ParseLine(ids[0].HexHash()+";1;r1;r2\r", g)
	require.NoError(t, err)
	assert.Equal(t, "r1", rev.Tag)
}

func TestParseLine_Errors(t *testing.T) {
	g, ids := testGraph(t, 1)
	unknown := graphtest.ID(graph.Revision, "unknown")
	dir := graphtest.ID(graph.Directory, "root")

	for _, line := range []string{
		ids[0].HexHash(),
		"nothex;1;x",
		ids[0].HexHash() + ";notanumber;x",
		unknown.HexHash() + ";1;x",
		dir.String() + ";1;x",
	} {
		_, err := ParseLine(line, g)
		assert.Error(t, err, "line %q", line)
	}

	_, err := ParseLine(unknown.HexHash()+";1", g)
	assert.True(t, errors.Is(err, graph.ErrUnknownIdentifier))
}

func TestReader_DropsBadLinesAndKeepsOrder(t *testing.T) {
	g, ids := testGraph(t, 3)
	input := strings.Join([]string{
		ids[0].HexHash() + ";1;r",
		"garbage",
		"",
		ids[1].HexHash() + ";2;r",
		graphtest.ID(graph.Revision, "unknown").HexHash() + ";3;r",
		ids[2].HexHash() + ";4;r",
	}, "\n")

	rd := NewReader(strings.NewReader(input), g, quietLogger())
	var got []graph.SWHID
	for {
		rev, ok := rd.Next()
		if !ok {
			break
		}
		got = append(got, rev.ID)
	}
	assert.Equal(t, ids, got)
	assert.Equal(t, int64(2), rd.Dropped())
	assert.NoError(t, rd.Err())

	_, ok := rd.Next()
	assert.False(t, ok)
}

func TestReader_NilLoggerDropsLines(t *testing.T) {
	g, ids := testGraph(t, 1)
	input := "garbage\n" + ids[0].HexHash() + ";1;r\n"

	rd := NewReader(strings.NewReader(input), g, nil)
	var rev Revision
	var ok bool
	require.NotPanics(t, func() { rev, ok = rd.Next() })
	require.True(t, ok)
	assert.Equal(t, ids[0], rev.ID)
	assert.Equal(t, int64(1), rd.Dropped())
}

func TestReader_ReportsReadErrors(t *testing.T) {
	g, _ := testGraph(t, 1)
	boom := errors.New("boom")
	rd := NewReader(iotest.ErrReader(boom), g, quietLogger())
	_, ok := rd.Next()
	assert.False(t, ok)
	assert.True(t, errors.Is(rd.Err(), boom))
}

func drainConcurrently(src Source, workers int) []Revision {
	var (
		mu  sync.Mutex
		out []Revision
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rev, ok := src.Next()
				if !ok {
					return
				}
				mu.Lock()
				out = append(out, rev)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return out
}

func TestSources_HandOutEachRevisionOnce(t *testing.T) {
	g, ids := testGraph(t, 20)
	var lines []string
	for i, id := range ids {
		lines = append(lines, id.HexHash()+";"+string(rune('0'+i%10))+";t")
	}
	input := strings.Join(lines, "\n")

	list, err := Load(strings.NewReader(input), g, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, len(ids), list.Len())

	for name, src := range map[string]Source{
		"reader": NewReader(strings.NewReader(input), g, quietLogger()),
		"list":   list,
	} {
		got := drainConcurrently(src, 4)
		seen := map[graph.SWHID]int{}
		for _, rev := range got {
			seen[rev.ID]++
		}
		assert.Len(t, got, len(ids), name)
		for _, id := range ids {
			assert.Equal(t, 1, seen[id], "%s: %s", name, id)
		}
	}
}

func TestCountLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte("a;1\n\nb;2\nc;3"), 0644))
	n, err := CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = CountLines(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
