package jobprogress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/jobprogress/internal/poller"
)

// minValue is the lower bound of every progress range.
const minValue = 0

// ErrStopped is returned by [Tracker.Reconfigure] after [Tracker.Stop].
var ErrStopped = errors.New("tracker is stopped")

// emptyObject is what extractors see when the endpoint returns no data.
var emptyObject = []byte("{}")

// Tracker polls a status endpoint and reflects the reported progress into a
// [Renderer].
//
// A Tracker owns the progress state (value, max, status, consecutive failure
// count) and keeps value within [0, max] on every write. It is created with
// [New], started with [Tracker.Start] and torn down with [Tracker.Stop].
//
// The typical lifecycle is:
//
//	tr, err := jobprogress.New("https://jobs.example.com/api/jobs/42/progress",
//	    jobprogress.WithRenderer(render.NewBar(os.Stderr)),
//	)
//	if err != nil {
//	    return err
//	}
//	tr.Start(ctx)
//	<-tr.Done()
//	tr.Stop()
//
// A tracker completes exactly once: when the failure ceiling is reached, when
// a response reports the job stopped or errored, or when a value greater than
// max is set. Completion halts polling and closes [Tracker.Done].
//
// All methods are safe for concurrent use.
type Tracker struct {
	id       string
	client   *poller.Client
	sched    *poller.Scheduler
	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	cfg       trackerConfig
	logger    *slog.Logger
	value     int
	max       int
	oldValue  int
	status    string
	hasStatus bool
	failCount int
	completed bool
	reason    CompleteReason
	started   bool
	stopped   bool
	updatedAt time.Time
}

// New creates a [Tracker] for the status endpoint at rawURL.
//
// The URL is required and must use the http or https scheme; otherwise the
// setup is aborted, an error is logged and returned. Options are applied in
// order. Defaults:
//   - Refresh interval: 1 second
//   - Max consecutive failures: 5
//   - Request timeout: 10 seconds
//   - Max: 100, initial value: 0
//   - All sections visible
//   - Extractors: [DefaultExtractors]
//
// New does not send any request; call [Tracker.Start].
func New(rawURL string, opts ...Option) (*Tracker, error) {
	cfg := defaultConfig()
	cfg.url = rawURL

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	if err := cfg.validate(); err != nil {
		cfg.logger.Error("progress tracker requires a valid request URL", "url", rawURL, "error", err)
		return nil, err
	}

	t := &Tracker{
		id:        uuid.NewString(),
		client:    poller.NewClient(),
		done:      make(chan struct{}),
		cfg:       cfg,
		updatedAt: time.Now(),
	}
	t.logger = t.scopedLogger(cfg)
	t.max = clampMax(cfg.max)
	t.value = t.clamp(cfg.initialValue)
	t.oldValue = t.value
	t.sched = poller.NewScheduler(cfg.refreshInterval, toPollerPolicy(cfg.overlap), t.poll, t.logger)

	return t, nil
}

// Start renders the initial state, polls once immediately and then keeps
// polling at the refresh interval until completion, [Tracker.Stop], or ctx
// cancellation.
//
// Start is non-blocking and idempotent. If ctx is nil, context.Background()
// is used. Starting a stopped tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.renderAllLocked()
	completed := t.completed
	cfg := t.cfg
	logger := t.logger
	t.mu.Unlock()

	logger.Info("progress tracker started",
		"url", cfg.url,
		"refresh_interval", cfg.refreshInterval.String(),
		"max_consecutive_failures", cfg.maxConsecutiveFailures,
		"overlap", string(cfg.overlap),
	)

	if completed {
		t.finish()
		return
	}

	t.sched.Start(ctx)
	go func() {
		<-t.sched.Done()
		t.finish()
	}()
}

// Run starts the tracker and blocks until it completes or ctx is cancelled,
// then tears it down and returns the final [Snapshot].
//
// Returns ctx.Err() if the context ended before the tracker completed.
func (t *Tracker) Run(ctx context.Context) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.Start(ctx)
	<-t.Done()
	t.Stop()

	snap := t.Snapshot()
	if !snap.Completed && ctx.Err() != nil {
		return snap, ctx.Err()
	}
	return snap, nil
}

// Done returns a channel that is closed when the tracker halts: after
// completion, after [Tracker.Stop], or when the context passed to
// [Tracker.Start] is cancelled.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Stop cancels the refresh timer, waits for in-flight requests to return and
// releases the renderer.
//
// Stop is idempotent and safe to call before Start. It must not be called
// from a callback, since it waits for the poll that invoked the callback.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	renderer := t.cfg.renderer
	logger := t.logger
	t.mu.Unlock()

	t.sched.Stop()

	t.mu.Lock()
	renderer.Release()
	t.mu.Unlock()

	t.client.Close()
	t.finish()
	logger.Debug("progress tracker stopped")
}

// SetValue sets the progress value.
//
// n is clamped into [0, max] before it is stored and rendered. When the
// stored value changes, change callbacks receive the old and new value. When
// n is strictly greater than max the tracker completes with
// [ReasonValueExceeded]; n equal to max is the last step, not completion.
//
// SetValue is ignored after [Tracker.Stop].
func (t *Tracker) SetValue(n int) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	p := t.pendingLocked()
	p.change, p.complete = t.setValueLocked(n)
	p.snapshot = t.snapshotPtrLocked()
	t.mu.Unlock()

	t.dispatch(p)
}

// SetValueString is like [Tracker.SetValue] for textual input. Input that is
// not an integer is treated as 0.
func (t *Tracker) SetValueString(s string) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		n = 0
	}
	t.SetValue(n)
}

// Reconfigure applies options to a running or idle tracker.
//
// The options are applied to a copy of the current configuration and
// validated; on error the tracker is left unchanged. [WithMax] and
// [WithInitialValue] act on the live state, max first: after max changes the
// current value is re-clamped, so shrinking max below the value pulls the
// value down with it (and fires a change callback) without completing.
// A new refresh interval takes effect from the next tick.
//
// Returns [ErrStopped] after [Tracker.Stop].
func (t *Tracker) Reconfigure(opts ...Option) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}

	cfg := t.cfg.clone()
	cfg.max = t.max
	cfg.initialValue = t.value

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	if err := cfg.validate(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("reconfigure: %w", err)
	}

	prev := t.cfg
	t.cfg = cfg
	t.logger = t.scopedLogger(cfg)

	if cfg.refreshInterval != prev.refreshInterval {
		t.sched.Reset(cfg.refreshInterval)
	}
	if cfg.overlap != prev.overlap {
		t.sched.SetPolicy(toPollerPolicy(cfg.overlap))
	}

	// max before value
	t.max = clampMax(cfg.max)
	t.value = t.clamp(cfg.initialValue)
	if cfg.rendererSwaps != prev.rendererSwaps && t.started {
		prev.renderer.Release()
		t.renderAllLocked()
	} else {
		r := t.rendererLocked()
		r.SetMaxText(t.max)
		r.SetVisibility(SectionStatus, cfg.showStatus)
		r.SetVisibility(SectionSteps, cfg.showSteps)
		r.SetVisibility(SectionPercent, cfg.showPercent)
	}

	p := t.pendingLocked()
	p.change = t.refreshValueLocked()
	p.snapshot = t.snapshotPtrLocked()
	t.mu.Unlock()

	p.logger.Debug("progress tracker reconfigured")
	t.dispatch(p)
	return nil
}

// ID returns the tracker's unique identifier.
func (t *Tracker) ID() string {
	return t.id
}

// Name returns the tracker's name.
func (t *Tracker) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.name
}

// URL returns the status endpoint URL.
func (t *Tracker) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.url
}

// Value returns the current progress value.
func (t *Tracker) Value() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Max returns the current maximum value.
func (t *Tracker) Max() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

// Status returns the last status text and whether the last response
// carried one.
func (t *Tracker) Status() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.hasStatus
}

// FailCount returns the number of consecutive failed or empty polls.
func (t *Tracker) FailCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failCount
}

// Completed reports whether the tracker reached its terminal state, and why.
func (t *Tracker) Completed() (bool, CompleteReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed, t.reason
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// poll is the scheduler's PollFunc: one request/response cycle.
func (t *Tracker) poll(ctx context.Context) {
	t.mu.Lock()
	if t.completed || t.stopped {
		t.mu.Unlock()
		return
	}
	cfg := t.cfg

	if cfg.maxConsecutiveFailures > 0 && t.failCount >= cfg.maxConsecutiveFailures {
		t.logger.Info("progress reached max consecutive fail count, completing",
			"max_consecutive_failures", cfg.maxConsecutiveFailures,
		)
		p := t.pendingLocked()
		p.complete = t.completeLocked(ReasonFailureCeiling)
		p.snapshot = t.snapshotPtrLocked()
		p.poll = &PollResult{
			URL:       cfg.url,
			Outcome:   OutcomeCeiling,
			FailCount: t.failCount,
			CheckedAt: time.Now(),
		}
		t.mu.Unlock()
		t.dispatch(p)
		return
	}

	t.setBusyLocked(true)
	t.mu.Unlock()

	resp := t.client.Fetch(ctx, cfg.url, cfg.headers, cfg.timeout)

	t.mu.Lock()
	p := t.handleResponseLocked(ctx, cfg.url, resp)
	t.setBusyLocked(false)
	t.mu.Unlock()

	t.dispatch(p)
}

// handleResponseLocked interprets one response and updates state.
func (t *Tracker) handleResponseLocked(ctx context.Context, url string, resp poller.Response) pending {
	p := t.pendingLocked()
	result := &PollResult{
		URL:        url,
		StatusCode: resp.StatusCode,
		Latency:    resp.Latency,
		CheckedAt:  time.Now(),
	}
	p.poll = result

	switch {
	case t.completed || t.stopped:
		// response arrived after the tracker halted
		result.Outcome = OutcomeCanceled
		result.Error = resp.Error
	case resp.Error != nil && ctx.Err() != nil:
		result.Outcome = OutcomeCanceled
		result.Error = resp.Error
		t.logger.Debug("progress request cancelled", "url", url)
	case resp.Error != nil:
		t.failCount++
		t.touch()
		result.Outcome = OutcomeError
		result.Error = resp.Error
		t.logger.Warn("progress request failed",
			"url", url,
			"status_code", resp.StatusCode,
			"fail_count", t.failCount,
			"error", resp.Error.Error(),
		)
		p.snapshot = t.snapshotPtrLocked()
	default:
		result.Outcome = t.applyLocked(&p, resp)
		p.snapshot = t.snapshotPtrLocked()
	}

	result.FailCount = t.failCount
	return p
}

// applyLocked runs the extractors over a successful response body.
func (t *Tracker) applyLocked(p *pending, resp poller.Response) PollOutcome {
	body := resp.Body
	outcome := OutcomeSuccess

	empty := isEmptyBody(body)
	if empty {
		t.failCount++
		outcome = OutcomeEmpty
		body = emptyObject
		t.logger.Warn("progress request returned empty data", "fail_count", t.failCount)
	} else {
		t.failCount = 0
		t.logger.Debug("progress request succeeded",
			"status_code", resp.StatusCode,
			"latency_ms", resp.Latency.Milliseconds(),
		)
	}
	t.touch()

	ex := t.cfg.extractors
	value, hasValue := t.extractInt("value", ex.Value, body)
	newMax, hasMax := t.extractInt("max", ex.Max, body)
	status, hasStatus := t.extractString("status", ex.Status, body)
	stopped := t.extractBool("stopped", ex.Stopped, body)
	errored := t.extractBool("errored", ex.Errored, body)

	r := t.rendererLocked()

	maxChanged := false
	if hasMax && newMax != 0 && clampMax(newMax) != t.max {
		t.max = clampMax(newMax)
		r.SetMaxText(t.max)
		maxChanged = true
	}

	if hasStatus {
		t.status = status
		t.hasStatus = true
		r.SetStatusText(status)
	} else if !empty && t.hasStatus {
		t.status = ""
		t.hasStatus = false
		r.SetStatusText("")
	}

	switch {
	case stopped || errored:
		if maxChanged {
			t.value = t.clamp(t.value)
			p.change = t.refreshValueLocked()
		}
		reason := ReasonStopped
		if errored {
			reason = ReasonErrored
		}
		t.logger.Info("progress stopped or errored, completing", "reason", string(reason))
		p.complete = t.completeLocked(reason)
	case !empty:
		// a missing or non-numeric value counts as 0
		if !hasValue {
			value = 0
		}
		p.change, p.complete = t.setValueLocked(value)
	case maxChanged:
		t.value = t.clamp(t.value)
		p.change = t.refreshValueLocked()
	}

	return outcome
}

// setValueLocked stores the clamped value, renders it and reports the
// resulting change and completion events.
func (t *Tracker) setValueLocked(n int) (*ChangeEvent, *CompleteEvent) {
	t.value = t.clamp(n)
	change := t.refreshValueLocked()

	// value == max is the last step; only strictly greater completes
	var complete *CompleteEvent
	if n > t.max {
		t.logger.Info("value greater than max, completing", "value", n, "max", t.max)
		complete = t.completeLocked(ReasonValueExceeded)
	}
	return change, complete
}

// refreshValueLocked pushes value, percentage and attributes to the renderer
// and reports a change event if the value differs from the last one reported.
func (t *Tracker) refreshValueLocked() *ChangeEvent {
	text := formatPercent(percentage(t.value, minValue, t.max))

	r := t.rendererLocked()
	r.SetWidth(text)
	r.SetStepText(t.value)
	r.SetPercentText(text)
	r.SetAriaAttributes(t.value, t.max)
	t.touch()

	if t.oldValue == t.value {
		return nil
	}
	ev := &ChangeEvent{OldValue: t.oldValue, NewValue: t.value}
	t.oldValue = t.value
	return ev
}

// renderAllLocked pushes the full state to the renderer; used on Start and
// when Reconfigure swaps the renderer.
func (t *Tracker) renderAllLocked() {
	r := t.rendererLocked()
	r.SetMaxText(t.max)
	if t.hasStatus {
		r.SetStatusText(t.status)
	}
	r.SetVisibility(SectionStatus, t.cfg.showStatus)
	r.SetVisibility(SectionSteps, t.cfg.showSteps)
	r.SetVisibility(SectionPercent, t.cfg.showPercent)

	text := formatPercent(percentage(t.value, minValue, t.max))
	r.SetWidth(text)
	r.SetStepText(t.value)
	r.SetPercentText(text)
	r.SetAriaAttributes(t.value, t.max)
}

// completeLocked moves the tracker into its terminal state. Returns nil if it
// was already there.
func (t *Tracker) completeLocked(reason CompleteReason) *CompleteEvent {
	if t.completed {
		return nil
	}
	t.completed = true
	t.reason = reason
	t.touch()
	t.sched.Halt()

	return &CompleteEvent{Reason: reason, Snapshot: t.snapshotLocked()}
}

// rendererLocked returns the configured renderer once the tracker has been
// started, and a no-op renderer before Start and after Stop.
func (t *Tracker) rendererLocked() Renderer {
	if !t.started || t.stopped {
		return nopRenderer{}
	}
	return t.cfg.renderer
}

func (t *Tracker) setBusyLocked(busy bool) {
	if b, ok := t.rendererLocked().(BusyIndicator); ok {
		b.SetBusy(busy)
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	pct := percentage(t.value, minValue, t.max)
	return Snapshot{
		Name:        t.cfg.name,
		URL:         t.cfg.url,
		Value:       t.value,
		Min:         minValue,
		Max:         t.max,
		Percent:     pct,
		PercentText: formatPercent(pct),
		Status:      t.status,
		HasStatus:   t.hasStatus,
		FailCount:   t.failCount,
		Completed:   t.completed,
		Reason:      t.reason,
		UpdatedAt:   t.updatedAt,
	}
}

func (t *Tracker) snapshotPtrLocked() *Snapshot {
	s := t.snapshotLocked()
	return &s
}

func (t *Tracker) touch() {
	t.updatedAt = time.Now()
}

func (t *Tracker) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Tracker) clamp(n int) int {
	return min(t.max, max(minValue, n))
}

func (t *Tracker) scopedLogger(cfg trackerConfig) *slog.Logger {
	return cfg.logger.With("tracker", cfg.name, "tracker_id", t.id)
}

// clampMax keeps max from dropping below the range minimum.
func clampMax(n int) int {
	return max(minValue, n)
}

// percentage returns 100 * (value - min) / (max - min). An empty range
// (max == min) reports 0.
func percentage(value, lo, hi int) float64 {
	if hi <= lo {
		return 0
	}
	return 100 * float64(value-lo) / float64(hi-lo)
}

// formatPercent rounds half away from zero and appends "%".
func formatPercent(p float64) string {
	return strconv.FormatFloat(math.Round(p), 'f', 0, 64) + "%"
}

// isEmptyBody reports whether a response body carries no data: nothing but
// whitespace, or a JSON null, false, 0 or empty string.
func isEmptyBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	switch string(trimmed) {
	case "", "null", "false", "0", `""`:
		return true
	default:
		return false
	}
}

func toPollerPolicy(p OverlapPolicy) poller.OverlapPolicy {
	switch p {
	case OverlapCancel:
		return poller.OverlapCancel
	case OverlapAllow:
		return poller.OverlapAllow
	default:
		return poller.OverlapSkip
	}
}

func (t *Tracker) extractInt(field string, e IntExtractor, body []byte) (v int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logExtractorPanic(field, r)
			v, ok = 0, false
		}
	}()
	return e(body)
}

func (t *Tracker) extractString(field string, e StringExtractor, body []byte) (s string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logExtractorPanic(field, r)
			s, ok = "", false
		}
	}()
	return e(body)
}

func (t *Tracker) extractBool(field string, e BoolExtractor, body []byte) (b bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logExtractorPanic(field, r)
			b = false
		}
	}()
	return e(body)
}

// logExtractorPanic logs the full stack trace with a correlation ID.
func (t *Tracker) logExtractorPanic(field string, r any) {
	t.logger.Error("extractor panic",
		"correlation_id", uuid.NewString(),
		"field", field,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
}
