package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/jobprogress"
)

// BuildOptions converts parsed configuration into tracker options.
//
// Fields left unset in the file produce no option, so the library defaults
// apply. jq queries are compiled here; a query that parses but fails to
// compile is reported as an error.
func BuildOptions(cfg *Config) ([]jobprogress.Option, error) {
	opts := []jobprogress.Option{
		jobprogress.WithName(cfg.Name),
		jobprogress.WithRefreshInterval(cfg.RefreshInterval.Duration()),
		jobprogress.WithInitialValue(cfg.InitialValue),
	}

	if cfg.MaxConsecutiveFailures != nil {
		opts = append(opts, jobprogress.WithMaxConsecutiveFailures(*cfg.MaxConsecutiveFailures))
	}

	if cfg.Timeout != 0 {
		opts = append(opts, jobprogress.WithTimeout(cfg.Timeout.Duration()))
	}

	if cfg.Overlap != "" {
		opts = append(opts, jobprogress.WithOverlapPolicy(jobprogress.OverlapPolicy(cfg.Overlap)))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, jobprogress.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}

	if cfg.Max != nil {
		opts = append(opts, jobprogress.WithMax(*cfg.Max))
	}

	if cfg.ShowStatus != nil {
		opts = append(opts, jobprogress.WithShowStatus(*cfg.ShowStatus))
	}
	if cfg.ShowSteps != nil {
		opts = append(opts, jobprogress.WithShowSteps(*cfg.ShowSteps))
	}
	if cfg.ShowPercent != nil {
		opts = append(opts, jobprogress.WithShowPercent(*cfg.ShowPercent))
	}

	extractors, err := BuildExtractors(cfg.Extractors)
	if err != nil {
		return nil, err
	}
	opts = append(opts, jobprogress.WithExtractors(extractors))

	return opts, nil
}

// BuildExtractors converts extractor configuration into [jobprogress.Extractors].
// Default or empty entries are left nil so the tracker keeps its defaults.
func BuildExtractors(ec ExtractorsConfig) (jobprogress.Extractors, error) {
	var (
		out jobprogress.Extractors
		err error
	)

	if out.Value, err = buildIntExtractor(ec.Value); err != nil {
		return out, fmt.Errorf("extractors.value: %w", err)
	}
	if out.Max, err = buildIntExtractor(ec.Max); err != nil {
		return out, fmt.Errorf("extractors.max: %w", err)
	}
	if out.Status, err = buildStringExtractor(ec.Status); err != nil {
		return out, fmt.Errorf("extractors.status: %w", err)
	}
	if out.Stopped, err = buildBoolExtractor(ec.Stopped); err != nil {
		return out, fmt.Errorf("extractors.stopped: %w", err)
	}
	if out.Errored, err = buildBoolExtractor(ec.Errored); err != nil {
		return out, fmt.Errorf("extractors.errored: %w", err)
	}

	return out, nil
}

func buildIntExtractor(ec ExtractorConfig) (jobprogress.IntExtractor, error) {
	switch ec.Type {
	case "json":
		return jobprogress.JSONInt(ec.Path), nil
	case "jq":
		return jobprogress.JQInt(ec.Query)
	default:
		return nil, nil
	}
}

func buildStringExtractor(ec ExtractorConfig) (jobprogress.StringExtractor, error) {
	switch ec.Type {
	case "json":
		return jobprogress.JSONString(ec.Path), nil
	case "jq":
		return jobprogress.JQString(ec.Query)
	default:
		return nil, nil
	}
}

func buildBoolExtractor(ec ExtractorConfig) (jobprogress.BoolExtractor, error) {
	switch ec.Type {
	case "json":
		return jobprogress.JSONBool(ec.Path), nil
	case "jq":
		return jobprogress.JQBool(ec.Query)
	default:
		return nil, nil
	}
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
