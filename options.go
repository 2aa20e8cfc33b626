package jobprogress

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"
)

const (
	defaultRefreshInterval        = time.Second
	defaultMaxConsecutiveFailures = 5
	defaultRequestTimeout         = 10 * time.Second
	defaultMax                    = 100
	defaultName                   = "job"
)

// OverlapPolicy decides what happens when the refresh timer fires while the
// previous request is still outstanding.
type OverlapPolicy string

const (
	// OverlapSkip skips the tick; at most one request is in flight. Default.
	OverlapSkip OverlapPolicy = "skip"

	// OverlapCancel cancels the outstanding request and sends a new one.
	// The cancelled request does not count as a failure.
	OverlapCancel OverlapPolicy = "cancel"

	// OverlapAllow sends a new request regardless. Responses are applied in
	// the order they arrive, which may differ from send order.
	OverlapAllow OverlapPolicy = "allow"
)

// ErrURLRequired is returned by [New] when the request URL is empty.
var ErrURLRequired = errors.New("request URL is required")

// trackerConfig holds the typed configuration of a [Tracker].
type trackerConfig struct {
	name                   string
	url                    string
	refreshInterval        time.Duration
	maxConsecutiveFailures int
	timeout                time.Duration
	headers                map[string]string
	extractors             Extractors
	showStatus             bool
	showSteps              bool
	showPercent            bool
	initialValue           int
	max                    int
	overlap                OverlapPolicy
	logger                 *slog.Logger
	renderer               Renderer
	rendererSwaps          int // bumped by WithRenderer
	changeCallbacks        []func(ChangeEvent)
	completeCallbacks      []func(CompleteEvent)
	pollCallbacks          []func(PollResult)
	snapshotCallbacks      []func(Snapshot)
}

func defaultConfig() trackerConfig {
	return trackerConfig{
		name:                   defaultName,
		refreshInterval:        defaultRefreshInterval,
		maxConsecutiveFailures: defaultMaxConsecutiveFailures,
		timeout:                defaultRequestTimeout,
		headers:                make(map[string]string),
		extractors:             DefaultExtractors(),
		showStatus:             true,
		showSteps:              true,
		showPercent:            true,
		max:                    defaultMax,
		overlap:                OverlapSkip,
		renderer:               nopRenderer{},
	}
}

// clone returns a copy whose maps and slices can be modified independently.
func (c trackerConfig) clone() trackerConfig {
	c.headers = copyMap(c.headers)
	if c.headers == nil {
		c.headers = make(map[string]string)
	}
	c.changeCallbacks = slices.Clone(c.changeCallbacks)
	c.completeCallbacks = slices.Clone(c.completeCallbacks)
	c.pollCallbacks = slices.Clone(c.pollCallbacks)
	c.snapshotCallbacks = slices.Clone(c.snapshotCallbacks)
	return c
}

// validate checks cross-field constraints after all options are applied.
func (c *trackerConfig) validate() error {
	if c.url == "" {
		return ErrURLRequired
	}
	parsed, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

// Option configures a [Tracker] at construction ([New]) or later via
// [Tracker.Reconfigure].
//
// Option implements the functional options pattern. Options return an error
// if validation fails; a failing option leaves the tracker unchanged.
type Option func(*trackerConfig) error

// WithName sets the name used to identify the tracker in logs, metrics and
// snapshots. Defaults to "job".
func WithName(name string) Option {
	return func(cfg *trackerConfig) error {
		if name == "" {
			return errors.New("name cannot be empty")
		}
		cfg.name = name
		return nil
	}
}

// WithRequestURL replaces the status endpoint URL. Mostly useful with
// [Tracker.Reconfigure] when a job is resubmitted under a new ID.
func WithRequestURL(rawURL string) Option {
	return func(cfg *trackerConfig) error {
		if rawURL == "" {
			return ErrURLRequired
		}
		cfg.url = rawURL
		return nil
	}
}

// WithRefreshInterval sets how often the status endpoint is polled.
// Defaults to 1 second.
//
// Returns an error if the duration is zero or negative.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("refresh interval must be positive")
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithMaxConsecutiveFailures sets how many back-to-back failed or empty polls
// are tolerated before the tracker gives up and completes with
// [ReasonFailureCeiling]. Zero disables the ceiling. Defaults to 5.
//
// Returns an error if n is negative.
func WithMaxConsecutiveFailures(n int) Option {
	return func(cfg *trackerConfig) error {
		if n < 0 {
			return errors.New("max consecutive failures cannot be negative")
		}
		cfg.maxConsecutiveFailures = n
		return nil
	}
}

// WithTimeout sets the per-request timeout. A request that exceeds it counts
// as a failed poll. Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) Option {
	return func(cfg *trackerConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithHeaders adds custom HTTP headers to every poll request.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
//
// Example:
//
//	tr, err := jobprogress.New(url,
//	    jobprogress.WithHeaders("Authorization", "Bearer token123"),
//	)
//
// Returns an error if an odd number of arguments is provided.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *trackerConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithExtractors replaces several extractors at once. Nil fields keep the
// extractor currently configured.
func WithExtractors(e Extractors) Option {
	return func(cfg *trackerConfig) error {
		cfg.extractors = e.merge(cfg.extractors)
		return nil
	}
}

// WithValueExtractor sets the extractor for the current progress value.
func WithValueExtractor(e IntExtractor) Option {
	return func(cfg *trackerConfig) error {
		if e == nil {
			return errors.New("value extractor cannot be nil")
		}
		cfg.extractors.Value = e
		return nil
	}
}

// WithMaxExtractor sets the extractor for the maximum progress value.
func WithMaxExtractor(e IntExtractor) Option {
	return func(cfg *trackerConfig) error {
		if e == nil {
			return errors.New("max extractor cannot be nil")
		}
		cfg.extractors.Max = e
		return nil
	}
}

// WithStatusExtractor sets the extractor for the status text.
func WithStatusExtractor(e StringExtractor) Option {
	return func(cfg *trackerConfig) error {
		if e == nil {
			return errors.New("status extractor cannot be nil")
		}
		cfg.extractors.Status = e
		return nil
	}
}

// WithStoppedExtractor sets the extractor for the stopped flag.
func WithStoppedExtractor(e BoolExtractor) Option {
	return func(cfg *trackerConfig) error {
		if e == nil {
			return errors.New("stopped extractor cannot be nil")
		}
		cfg.extractors.Stopped = e
		return nil
	}
}

// WithErroredExtractor sets the extractor for the errored flag.
func WithErroredExtractor(e BoolExtractor) Option {
	return func(cfg *trackerConfig) error {
		if e == nil {
			return errors.New("errored extractor cannot be nil")
		}
		cfg.extractors.Errored = e
		return nil
	}
}

// WithShowStatus shows or hides the status section. Defaults to true.
func WithShowStatus(show bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.showStatus = show
		return nil
	}
}

// WithShowSteps shows or hides the "value/max" section. Defaults to true.
func WithShowSteps(show bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.showSteps = show
		return nil
	}
}

// WithShowPercent shows or hides the percentage section. Defaults to true.
func WithShowPercent(show bool) Option {
	return func(cfg *trackerConfig) error {
		cfg.showPercent = show
		return nil
	}
}

// WithInitialValue sets the starting value. It is clamped into [0, max].
// With [Tracker.Reconfigure] it sets the current value.
func WithInitialValue(n int) Option {
	return func(cfg *trackerConfig) error {
		cfg.initialValue = n
		return nil
	}
}

// WithMax sets the maximum value. Values below 0 are raised to 0.
// Defaults to 100. Responses carrying a max override it.
func WithMax(n int) Option {
	return func(cfg *trackerConfig) error {
		cfg.max = n
		return nil
	}
}

// WithOverlapPolicy sets what happens when a refresh fires while a request is
// still outstanding. Defaults to [OverlapSkip].
func WithOverlapPolicy(p OverlapPolicy) Option {
	return func(cfg *trackerConfig) error {
		switch p {
		case OverlapSkip, OverlapCancel, OverlapAllow:
			cfg.overlap = p
			return nil
		default:
			return fmt.Errorf("unknown overlap policy %q (expected skip, cancel or allow)", p)
		}
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *trackerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRenderer sets the [Renderer] that receives presentation updates.
// If not specified, updates are discarded. Passed to [Tracker.Reconfigure],
// it releases the previous renderer and draws the full state on the new one.
//
// Returns an error if the renderer is nil.
func WithRenderer(r Renderer) Option {
	return func(cfg *trackerConfig) error {
		if r == nil {
			return errors.New("renderer cannot be nil")
		}
		cfg.renderer = r
		cfg.rendererSwaps++
		return nil
	}
}

// WithChangeCallback registers a function called on every effective value
// transition with the old and new value.
//
// Multiple callbacks may be registered; they execute in registration order.
// Callbacks run synchronously on the goroutine that changed the value and
// must be non-blocking. Panics are recovered and logged. Callbacks must not
// call [Tracker.Stop]. Nil callbacks are silently ignored.
func WithChangeCallback(cb func(ChangeEvent)) Option {
	return func(cfg *trackerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.changeCallbacks = append(cfg.changeCallbacks, cb)
		return nil
	}
}

// WithCompleteCallback registers a function called when the tracker reaches
// its terminal state. It fires at most once per tracker.
//
// The same execution rules as [WithChangeCallback] apply.
//
// Example:
//
//	tr, err := jobprogress.New(url,
//	    jobprogress.WithCompleteCallback(func(e jobprogress.CompleteEvent) {
//	        if e.Reason.Failed() {
//	            log.Printf("job gave up at %d/%d", e.Snapshot.Value, e.Snapshot.Max)
//	        }
//	    }),
//	)
func WithCompleteCallback(cb func(CompleteEvent)) Option {
	return func(cfg *trackerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.completeCallbacks = append(cfg.completeCallbacks, cb)
		return nil
	}
}

// WithPollCallback registers a function called after every poll cycle,
// including cycles that sent no request because the failure ceiling was hit.
//
// The same execution rules as [WithChangeCallback] apply.
func WithPollCallback(cb func(PollResult)) Option {
	return func(cfg *trackerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.pollCallbacks = append(cfg.pollCallbacks, cb)
		return nil
	}
}

// WithSnapshotCallback registers a function called with a fresh [Snapshot]
// whenever the tracker's state changes.
//
// The same execution rules as [WithChangeCallback] apply.
func WithSnapshotCallback(cb func(Snapshot)) Option {
	return func(cfg *trackerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.snapshotCallbacks = append(cfg.snapshotCallbacks, cb)
		return nil
	}
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
