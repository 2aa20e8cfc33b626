package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/jobprogress/config"
)

// validateCmd validates a config file without polling.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a jobprogress configuration file without contacting the job.

This command parses the YAML, expands environment variables, validates all
fields and compiles every jq extractor. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  jobprogress validate -c job.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// compiling catches jq errors that only surface after parsing
	if _, err := config.BuildOptions(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Name:             %s\n", cfg.Name)
	fmt.Fprintf(out, "  URL:              %s\n", cfg.URL)
	fmt.Fprintf(out, "  Refresh interval: %s\n", cfg.RefreshInterval.Duration())
	fmt.Fprintf(out, "  Extractors:       %s\n", describeExtractors(cfg.Extractors))

	return nil
}

// describeExtractors lists the fields with custom extractors.
func describeExtractors(ec config.ExtractorsConfig) string {
	fields := []struct {
		name string
		ext  config.ExtractorConfig
	}{
		{"value", ec.Value},
		{"max", ec.Max},
		{"status", ec.Status},
		{"stopped", ec.Stopped},
		{"errored", ec.Errored},
	}

	custom := 0
	desc := ""
	for _, f := range fields {
		if f.ext.Type != "json" && f.ext.Type != "jq" {
			continue
		}
		if custom > 0 {
			desc += ", "
		}
		desc += f.name + "=" + f.ext.Type
		custom++
	}
	if custom == 0 {
		return "default"
	}
	return desc
}
