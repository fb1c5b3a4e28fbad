package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/k13n/swhdiff/internal/graph"
	"github.com/k13n/swhdiff/internal/pipeline"
	"github.com/k13n/swhdiff/internal/revision"
	"github.com/k13n/swhdiff/internal/sink"
)

var diffCmd = &cobra.Command{
	Use:   "diff <graph> <input> <output>",
	Short: "Write the changed paths of every input revision",
	Long: `Diff every revision listed in <input> against its parents and write one
row per changed path to <output>:

  <path>;<timestamp>;<revision hash>;<tag>

Input lines are "<hash-or-swhid>;<timestamp>;<tag>". Lines naming unknown
or non-revision identifiers are skipped.

Examples:
  swhdiff diff history.pack revisions.csv changes.csv
  swhdiff diff history.sqlite revisions.csv changes.csv --workers 16
  swhdiff diff history.pack revisions.csv changes.csv --exclude 'vendor/**'`,
	Args: cobra.ExactArgs(3),
	RunE: runDiff,
}

var (
	diffWorkers       int
	diffProgressEvery int64
	diffParents       string
	diffExcludes      []string
	diffPreload       bool
)

func init() {
	diffCmd.Flags().IntVarP(&diffWorkers, "workers", "w", 1, "Number of concurrent diff workers")
	diffCmd.Flags().Int64Var(&diffProgressEvery, "progress-every", 1000, "Log progress every N revisions")
	diffCmd.Flags().StringVar(&diffParents, "parents", "forward", "Parent edge direction in the graph (forward or backward)")
	diffCmd.Flags().StringArrayVar(&diffExcludes, "exclude", nil, "Leave out paths matching this pattern (repeatable)")
	diffCmd.Flags().BoolVar(&diffPreload, "preload", false, "Read the whole input before starting")
}

// applyDiffFlags overlays explicitly set flags on the loaded configuration.
func applyDiffFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = diffWorkers
	}
	if flags.Changed("progress-every") {
		cfg.ProgressEvery = diffProgressEvery
	}
	if flags.Changed("parents") {
		cfg.Parents = diffParents
	}
	if flags.Changed("exclude") {
		cfg.Excludes = diffExcludes
	}
	if flags.Changed("preload") {
		cfg.Preload = diffPreload
	}
	return cfg.Validate()
}

func runDiff(cmd *cobra.Command, args []string) error {
	graphPath, inputPath, outputPath := args[0], args[1], args[2]
	if err := applyDiffFlags(cmd); err != nil {
		return err
	}
	log := logger.WithField("run", uuid.New().String())

	pc, err := cfg.Pipeline()
	if err != nil {
		return err
	}

	g, err := graph.Open(graphPath)
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	g = g.WithLogger(log)
	log.WithFields(logrus.Fields{
		"graph": graphPath,
		"nodes": humanize.Comma(g.NumNodes()),
		"edges": humanize.Comma(g.NumEdges()),
	}).Info("graph loaded")

	if cfg.CountInput {
		if pc.Total, err = revision.CountLines(inputPath); err != nil {
			return fmt.Errorf("counting input: %w", err)
		}
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	var (
		src    revision.Source
		reader *revision.Reader
	)
	if cfg.Preload {
		list, err := revision.Load(in, g, log)
		if err != nil {
			return err
		}
		pc.Total = int64(list.Len())
		src = list
	} else {
		reader = revision.NewReader(in, g, log)
		src = reader
	}

	out, err := sink.Create(outputPath, sink.WithExcludes(cfg.Excludes...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, runErr := pipeline.New(g, src, out, pc, log).Run(ctx)
	if err := out.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("closing output: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	fields := logrus.Fields{
		"rows":     humanize.Comma(out.Rows()),
		"excluded": humanize.Comma(out.Excluded()),
		"failed":   humanize.Comma(stats.Failed),
	}
	if reader != nil {
		fields["dropped"] = humanize.Comma(reader.Dropped())
	}
	log.WithFields(fields).Info("wrote " + outputPath)
	return nil
}
