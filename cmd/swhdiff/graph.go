package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/k13n/swhdiff/internal/gitio"
	"github.com/k13n/swhdiff/internal/graph"
	"github.com/k13n/swhdiff/internal/pipeline"
)

var importCmd = &cobra.Command{
	Use:   "import <repo> <graph-out>",
	Short: "Build a history graph from a Git repository",
	Long: `Build a history graph from every commit, tree, blob and annotated tag of a
Git repository. The output format follows the extension of <graph-out>
(.sqlite or .db for SQLite, anything else for a pack).

Examples:
  swhdiff import . history.pack
  swhdiff import ~/src/linux linux.sqlite --origin https://github.com/torvalds/linux`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var convertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Convert a graph between the pack and SQLite formats",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <graph> <swhid-or-handle>",
	Short: "Show the edges of one node",
	Args:  cobra.ExactArgs(2),
	RunE:  runNeighbors,
}

var revisionsCmd = &cobra.Command{
	Use:   "revisions <graph>",
	Short: "List the revisions of a graph",
	Long: `List every revision of a graph as "<swhid> <timestamp> <handle>".

With --as-input the lines are written in the input format of 'swhdiff diff'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevisions,
}

var (
	importOrigin  string
	importParents string
	revsAsInput   bool
)

func init() {
	importCmd.Flags().StringVar(&importOrigin, "origin", "", "Origin URL to record (default: the origin remote)")
	importCmd.Flags().StringVar(&importParents, "parents", "forward", "Parent edge direction to store (forward or backward)")
	revisionsCmd.Flags().BoolVar(&revsAsInput, "as-input", false, "Emit lines for 'swhdiff diff'")
}

func runImport(cmd *cobra.Command, args []string) error {
	dir, err := pipeline.ParseDirection(importParents)
	if err != nil {
		return err
	}
	g, stats, err := gitio.Import(args[0], gitio.Options{
		Origin:          importOrigin,
		BackwardParents: dir == pipeline.Backward,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if err := graph.Save(args[1], g); err != nil {
		return fmt.Errorf("saving graph: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s revisions, %s directories, %s contents into %s\n",
		humanize.Comma(int64(stats.Revisions)),
		humanize.Comma(int64(stats.Directories)),
		humanize.Comma(int64(stats.Contents)),
		args[1])
	if stats.Submodules > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Skipped %d submodule entries\n", stats.Submodules)
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	if graph.FormatFor(args[0]) == graph.FormatFor(args[1]) {
		return fmt.Errorf("%s and %s have the same format", args[0], args[1])
	}
	g, err := graph.Open(args[0])
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	if err := graph.Save(args[1], g); err != nil {
		return fmt.Errorf("saving graph: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Converted %s nodes and %s edges\n",
		humanize.Comma(g.NumNodes()), humanize.Comma(g.NumEdges()))
	return nil
}

// resolveNode accepts either an SWHID or a numeric handle.
func resolveNode(g *graph.Graph, arg string) (graph.Node, graph.SWHID, error) {
	if strings.HasPrefix(arg, "swh:") {
		id, err := graph.ParseSWHID(arg)
		if err != nil {
			return graph.Absent, graph.SWHID{}, err
		}
		n, err := g.Resolve(id)
		return n, id, err
	}
	h, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return graph.Absent, graph.SWHID{}, fmt.Errorf("%q is neither an SWHID nor a node handle", arg)
	}
	n := graph.Node(h)
	id, err := g.SWHID(n)
	return n, id, err
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	g, err := graph.Open(args[0])
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	n, id, err := resolveNode(g, args[1])
	if err != nil {
		return err
	}

	w := bufio.NewWriter(cmd.OutOrStdout())
	defer w.Flush()

	fmt.Fprintf(w, "%s (handle %d, timestamp %d)\n", id, n, g.Timestamp(n))

	fmt.Fprintln(w, "successors:")
	for _, e := range g.Edges(n) {
		sid, err := g.SWHID(e.Dst)
		if err != nil {
			return err
		}
		if e.Labelled {
			fmt.Fprintf(w, "  %s %s\n", sid, e.Label)
		} else {
			fmt.Fprintf(w, "  %s\n", sid)
		}
	}
	fmt.Fprintln(w, "predecessors:")
	for _, p := range g.Predecessors(n) {
		pid, err := g.SWHID(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s\n", pid)
	}
	return nil
}

func runRevisions(cmd *cobra.Command, args []string) error {
	g, err := graph.Open(args[0])
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}

	w := bufio.NewWriter(cmd.OutOrStdout())
	defer w.Flush()

	for _, n := range g.Nodes(graph.Revision) {
		id, err := g.SWHID(n)
		if err != nil {
			return err
		}
		if revsAsInput {
			fmt.Fprintf(w, "%s;%d;\n", id.HexHash(), g.Timestamp(n))
		} else {
			fmt.Fprintf(w, "%s %d %d\n", id, g.Timestamp(n), n)
		}
	}
	return nil
}
