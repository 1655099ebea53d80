// Package cmd defines the CLI commands for the progress-crawler executable.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// loggedError marks an error the command already reported through zap.
type loggedError struct {
	err error
}

func (e *loggedError) Error() string { return e.err.Error() }

func (e *loggedError) Unwrap() error { return e.err }

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress-crawler",
		Short: "Incremental crawler for student progress certificates.",
		Long: `progress-crawler signs in to the learning portal, asks the usage report
which students were active since the last successful run, and collects the
latest certificate and avatar for each of them. Every run exports a CSV log
and advances the crawl checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		var logged *loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintf(os.Stderr, "progress-crawler: %v\n", err)
		}
		os.Exit(1)
	}
}
