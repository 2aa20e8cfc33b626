// Package jobprogress provides a polling progress indicator for long-running
// server-side jobs.
//
// A [Tracker] periodically requests a job-status endpoint, derives the
// current step, total steps, status text and stopped/errored flags from each
// response through pluggable extractors, and reflects them into a [Renderer].
// It stops on its own once the job is stopped or errored, once too many polls
// in a row fail, or once a value beyond max is set.
//
// # Quick Start
//
// Track a job and draw a terminal bar until it finishes:
//
//	tr, err := jobprogress.New("https://jobs.example.com/api/jobs/42/progress",
//	    jobprogress.WithRenderer(render.NewBar(os.Stderr)),
//	)
//	if err != nil {
//	    return err
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	snap, err := tr.Run(ctx) // blocks until the job completes or ctx is cancelled
//
// # Configuration
//
// jobprogress uses the functional options pattern for configuration:
//
//	tr, err := jobprogress.New(url,
//	    jobprogress.WithRefreshInterval(500*time.Millisecond),
//	    jobprogress.WithMaxConsecutiveFailures(10),
//	    jobprogress.WithHeaders("Authorization", "Bearer token"),
//	    jobprogress.WithShowPercent(false),
//	    jobprogress.WithCompleteCallback(onDone),
//	)
//
// The same options can be applied to a live tracker with [Tracker.Reconfigure].
//
// # Extractors
//
// Extractors decide how a response body maps onto progress. The defaults
// ([DefaultExtractors]) read "value", "max", "status", "stopped" and
// "errorOccurred" from a JSON object. Built-in constructors cover dot-path
// lookups ([JSONInt], [JSONString], [JSONBool]) and jq expressions ([JQInt],
// [JQString], [JQBool]); any function with the right signature works.
//
// # Architecture
//
// jobprogress consists of several packages:
//
//   - internal/poller: resty-backed HTTP client and the tick scheduler
//   - internal/store: latest snapshot with pub/sub for live updates
//   - internal/server: HTTP mirror with JSON, Server-Sent Events and metrics
//   - internal/metrics: Prometheus collectors fed from tracker callbacks
//   - render: terminal, log and composite renderers
//   - config: YAML configuration files
//
// The internal packages are not part of the public API and may change
// without notice.
package jobprogress
