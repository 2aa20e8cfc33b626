// Package main is the entry point for the jobprogress CLI.
//
// jobprogress can be used as a library (SDK) or as a standalone binary that
// follows a job status endpoint from the terminal.
//
// Usage:
//
//	jobprogress watch --url https://jobs.example.com/api/jobs/42  # Progress bar in the terminal
//	jobprogress watch -c job.yaml                                 # Same, from a config file
//	jobprogress serve -c job.yaml                                 # Headless with an HTTP mirror
//	jobprogress validate -c job.yaml                              # Validate configuration
//	jobprogress version                                           # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// envPrefix prefixes environment overrides, e.g. JOBPROGRESS_URL.
const envPrefix = "JOBPROGRESS"

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "jobprogress",
	Short: "Follow the progress of a long-running server job",
	Long: `jobprogress polls a job status endpoint and shows how far along the job is.

Each response is read for a value, a maximum, an optional status message and
stop or error signals. The tracker completes when the job reports it has
stopped or errored, when the value passes the maximum, or after too many
failed polls in a row.

Quick start:
  jobprogress watch --url https://jobs.example.com/api/jobs/42/progress

Every flag can also be set from the environment, e.g. JOBPROGRESS_URL or
JOBPROGRESS_MAX_FAILURES.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this jobprogress binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "jobprogress %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "human-readable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// bindFlags returns a viper instance that resolves each flag of cmd from the
// command line first, then from JOBPROGRESS_<FLAG> in the environment.
func bindFlags(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	bind := func(f *pflag.Flag) {
		if bindErr == nil {
			bindErr = v.BindPFlag(f.Name, f)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}
	return v, nil
}

// newLogger creates the CLI logger: JSON at Info on stderr, or text at Debug
// when verbose.
func newLogger(verbose bool) *slog.Logger {
	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
