// Package main provides the swhdiff CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/k13n/swhdiff/internal/config"
	"github.com/k13n/swhdiff/internal/logging"
)

// Version is the current swhdiff version
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "swhdiff",
	Short: "swhdiff - changed paths of every revision in a history graph",
	Long: `swhdiff walks a content-addressed history graph and reports, for every
revision, the file paths that changed relative to its parents.

Graphs are read from .pack or .sqlite files. Use 'swhdiff import' to build one
from a Git repository.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath string
	logLevel   string
	logFormat  string

	// Set up by setup before any command runs.
	cfg    *config.Config
	logger *logrus.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(neighborsCmd)
	rootCmd.AddCommand(revisionsCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		c.LogFormat = logFormat
	}

	l, err := logging.New(cmd.ErrOrStderr(), c.LogLevel, c.LogFormat)
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
