package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/jpalmerr/jobprogress"
	"github.com/jpalmerr/jobprogress/config"
	"github.com/jpalmerr/jobprogress/render"
)

// errJobFailed is returned when the job errored or polling was abandoned.
var errJobFailed = errors.New("job did not finish")

// watchCmd follows a job in the terminal.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show a progress bar for a job",
	Long: `Poll a job status endpoint and draw a progress bar on stderr.

The job is read from a config file (-c) or directly from --url. Flags
override values from the file. When stderr is not a terminal, progress is
written as structured log lines instead of a bar.

Extractor flags take a dot-notation JSON path, or a jq query with --jq.

Exit codes:
  0 - The job stopped or ran to completion
  1 - The job errored, polling failed too many times, or the config is invalid

Example:
  jobprogress watch --url https://jobs.example.com/api/jobs/42/progress
  jobprogress watch --url http://localhost:8081/progress --value progress.done --max progress.total
  jobprogress watch -c job.yaml --interval 250ms
  jobprogress watch --url http://localhost:8081/progress --jq --max '.pages | length'`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.StringP("config", "c", "", "path to config file")
	f.String("url", "", "job status endpoint")
	f.Duration("interval", 0, "time between polls (default 1s)")
	f.Int("max-failures", -1, "consecutive failed polls before giving up, 0 disables (default 5)")
	f.String("value", "", "extractor for the progress value")
	f.String("max", "", "extractor for the maximum")
	f.String("status", "", "extractor for the status message")
	f.String("stopped", "", "extractor for the stopped signal")
	f.String("errored", "", "extractor for the error signal")
	f.Bool("jq", false, "treat extractor flags as jq queries")
	f.Bool("no-color", false, "disable colour output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	v, err := bindFlags(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(v.GetBool("verbose"))

	cfg, err := resolveConfig(v)
	if err != nil {
		return err
	}

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build tracker options: %w", err)
	}
	opts = append(opts,
		jobprogress.WithLogger(logger),
		jobprogress.WithRenderer(watchRenderer(cmd.ErrOrStderr(), cfg.Name, v.GetBool("no-color"), logger)),
	)

	tr, err := jobprogress.New(cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := tr.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("watch interrupted", "value", snap.Value, "max", snap.Max)
			return nil
		}
		return err
	}

	return finalStatus(cmd.OutOrStdout(), snap)
}

// resolveConfig loads the config file when one is given, applies flag and
// environment overrides and validates the result.
func resolveConfig(v *viper.Viper) (*config.Config, error) {
	cfg := &config.Config{}
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if u := v.GetString("url"); u != "" {
		cfg.URL = u
	}
	if cfg.URL == "" {
		return nil, errors.New("either --config or --url is required")
	}

	if d := v.GetDuration("interval"); d > 0 {
		cfg.RefreshInterval = config.Duration(d)
	}
	if n := v.GetInt("max-failures"); n >= 0 {
		cfg.MaxConsecutiveFailures = &n
	}

	useJQ := v.GetBool("jq")
	overrides := []struct {
		flag string
		ext  *config.ExtractorConfig
	}{
		{"value", &cfg.Extractors.Value},
		{"max", &cfg.Extractors.Max},
		{"status", &cfg.Extractors.Status},
		{"stopped", &cfg.Extractors.Stopped},
		{"errored", &cfg.Extractors.Errored},
	}
	for _, o := range overrides {
		expr := v.GetString(o.flag)
		if expr == "" {
			continue
		}
		if useJQ {
			*o.ext = config.ExtractorConfig{Type: "jq", Query: expr}
		} else {
			*o.ext = config.ExtractorConfig{Type: "json", Path: expr}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// watchRenderer draws a bar when w is a terminal and logs progress otherwise.
func watchRenderer(w io.Writer, name string, noColor bool, logger *slog.Logger) jobprogress.Renderer {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return render.NewBar(w, render.WithLabel(name), render.WithColor(!noColor))
	}
	return render.NewLog(logger.With("job", name))
}

// finalStatus prints a one-line summary and maps failed completions to an
// error so the process exits non-zero.
func finalStatus(w io.Writer, snap jobprogress.Snapshot) error {
	line := fmt.Sprintf("%s: %s (%d/%d, %s)", snap.Name, snap.Reason, snap.Value, snap.Max, snap.PercentText)
	if snap.HasStatus && snap.Status != "" {
		line += " " + snap.Status
	}
	fmt.Fprintln(w, line)

	if snap.Reason.Failed() {
		return fmt.Errorf("%w: %s", errJobFailed, snap.Reason)
	}
	return nil
}
