// Package config provides YAML configuration parsing for jobprogress.
//
// This package enables running a tracker from the jobprogress binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	name: nightly-export
//	url: https://jobs.example.com/api/jobs/${JOB_ID}/progress
//	refresh_interval: 500ms
//	max_consecutive_failures: 10
//	headers:
//	  Authorization: Bearer ${TOKEN}
//
//	extractors:
//	  value: json:progress.done
//	  max: jq:.pages | length
//	  status: json:state
//	  errored: jq:.state == "failed"
//
//	server:
//	  port: 8080
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// minRefreshInterval is the minimum allowed refresh interval. It keeps a
// misconfigured file from hammering the job server.
const minRefreshInterval = 100 * time.Millisecond

const (
	defaultName            = "job"
	defaultRefreshInterval = time.Second
	defaultPort            = 8080
)

// Config is the root configuration structure for a tracker.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Name identifies the tracker in logs and metrics. Defaults to "job".
	Name string `yaml:"name"`

	// URL is the job status endpoint.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// RefreshInterval is the time between polls. Defaults to 1s.
	// Accepts duration strings like "500ms", "2s".
	RefreshInterval Duration `yaml:"refresh_interval"`

	// MaxConsecutiveFailures is how many failed polls in a row are tolerated.
	// Zero disables the ceiling. Unset uses the library default (5).
	MaxConsecutiveFailures *int `yaml:"max_consecutive_failures"`

	// Timeout is the per-request timeout. Unset uses the library default (10s).
	Timeout Duration `yaml:"timeout"`

	// Overlap is what happens when a poll is due while the previous request
	// is outstanding: "skip" (default), "cancel" or "allow".
	Overlap string `yaml:"overlap"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// InitialValue is the starting progress value.
	InitialValue int `yaml:"initial_value"`

	// Max is the initial maximum. Unset uses the library default (100).
	Max *int `yaml:"max"`

	// ShowStatus, ShowSteps and ShowPercent toggle display sections.
	// All default to true.
	ShowStatus  *bool `yaml:"show_status"`
	ShowSteps   *bool `yaml:"show_steps"`
	ShowPercent *bool `yaml:"show_percent"`

	// Extractors configures how responses map onto progress.
	Extractors ExtractorsConfig `yaml:"extractors"`

	// Server configures the HTTP mirror used by "jobprogress serve".
	Server ServerConfig `yaml:"server"`
}

// ExtractorsConfig holds one extractor per progress field. Empty entries keep
// the default extractor for that field.
type ExtractorsConfig struct {
	Value   ExtractorConfig `yaml:"value"`
	Max     ExtractorConfig `yaml:"max"`
	Status  ExtractorConfig `yaml:"status"`
	Stopped ExtractorConfig `yaml:"stopped"`
	Errored ExtractorConfig `yaml:"errored"`
}

// ServerConfig configures the HTTP mirror.
type ServerConfig struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`
}

// ExtractorConfig specifies how to read one field from a response.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	value: json:progress.done
//	max: jq:.pages | length
//	status: default
//
// Structured object:
//
//	value:
//	  type: jq
//	  query: .progress.done
type ExtractorConfig struct {
	// Type is the extractor type: "default", "json" or "jq".
	Type string

	// Path is the dot-notation field path (for type: json).
	Path string

	// Query is the jq expression (for type: jq).
	Query string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for ExtractorConfig.
func (e *ExtractorConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return e.parseShorthand(s)
	}

	if node.Kind == yaml.MappingNode {
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type  string `yaml:"type"`
			Path  string `yaml:"path"`
			Query string `yaml:"query"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		e.Type = raw.Type
		e.Path = raw.Path
		e.Query = raw.Query
		return nil
	}

	return fmt.Errorf("extractor must be a string or object, got %v", node.Kind)
}

// parseShorthand parses extractor shorthand syntax.
//
// Supported formats:
//   - "default" → keep the default extractor
//   - "json:path" → read a JSON field by dot-notation path
//   - "jq:query" → evaluate a jq expression
func (e *ExtractorConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if idx := strings.Index(s, ":"); idx != -1 {
		e.Type = s[:idx]
		value := strings.TrimSpace(s[idx+1:])

		switch e.Type {
		case "json":
			e.Path = value
		case "jq":
			e.Query = value
		default:
			return fmt.Errorf("unknown extractor type %q", e.Type)
		}
		return nil
	}

	if s != "default" {
		return fmt.Errorf("unknown extractor %q (expected 'default', 'json:path', or 'jq:query')", s)
	}
	e.Type = s
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URL and Header values.
// Defaults are applied for Name ("job"), RefreshInterval (1s) and
// Server.Port (8080).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate applies defaults for unset fields, expands environment variables
// and checks every field. [Parse] calls it; callers that build or modify a
// Config in code (for example from command-line flags) call it themselves.
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(defaultRefreshInterval)
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	return c.expandAndValidate()
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	expanded, err := expandEnvVars(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	c.URL = expanded

	if err := validateURL(c.URL); err != nil {
		return err
	}

	for k, v := range c.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	if c.RefreshInterval.Duration() < minRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %s, got %s", minRefreshInterval, c.RefreshInterval.Duration())
	}

	if c.Timeout.Duration() < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Timeout.Duration())
	}

	if c.MaxConsecutiveFailures != nil && *c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max_consecutive_failures cannot be negative, got %d", *c.MaxConsecutiveFailures)
	}

	switch c.Overlap {
	case "", "skip", "cancel", "allow":
	default:
		return fmt.Errorf("overlap must be skip, cancel or allow, got %q", c.Overlap)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	fields := []struct {
		name string
		ext  *ExtractorConfig
	}{
		{"value", &c.Extractors.Value},
		{"max", &c.Extractors.Max},
		{"status", &c.Extractors.Status},
		{"stopped", &c.Extractors.Stopped},
		{"errored", &c.Extractors.Errored},
	}
	for _, f := range fields {
		if err := validateExtractor(f.ext, "extractors."+f.name); err != nil {
			return err
		}
	}

	return nil
}

func validateURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

// validateExtractor validates an extractor configuration.
func validateExtractor(e *ExtractorConfig, field string) error {
	switch e.Type {
	case "", "default":
		// empty means default, which is valid
	case "json":
		if e.Path == "" {
			return fmt.Errorf("%s: extractor type 'json' requires a path", field)
		}
	case "jq":
		if e.Query == "" {
			return fmt.Errorf("%s: extractor type 'jq' requires a query", field)
		}
		// fail fast before the tracker tries to compile it
		if _, err := gojq.Parse(e.Query); err != nil {
			return fmt.Errorf("%s: invalid jq query: %w", field, err)
		}
	default:
		return fmt.Errorf("%s: unknown extractor type %q", field, e.Type)
	}

	return nil
}
