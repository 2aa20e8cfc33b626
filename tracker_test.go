package jobprogress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/jobprogress/internal/poller"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// renderState is what a recordingRenderer has been told so far.
type renderState struct {
	width    string
	step     int
	max      int
	percent  string
	status   string
	aria     [2]int
	visible  map[Section]bool
	busy     []bool
	calls    int
	released int
}

// recordingRenderer keeps the last value of every presentation call.
type recordingRenderer struct {
	mu    sync.Mutex
	state renderState
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{state: renderState{visible: make(map[Section]bool)}}
}

func (r *recordingRenderer) record(fn func(s *renderState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.calls++
	fn(&r.state)
}

func (r *recordingRenderer) SetWidth(p string) { r.record(func(s *renderState) { s.width = p }) }
func (r *recordingRenderer) SetStepText(v int) { r.record(func(s *renderState) { s.step = v }) }
func (r *recordingRenderer) SetMaxText(n int)  { r.record(func(s *renderState) { s.max = n }) }
func (r *recordingRenderer) Release()          { r.record(func(s *renderState) { s.released++ }) }

func (r *recordingRenderer) SetPercentText(p string) {
	r.record(func(s *renderState) { s.percent = p })
}

func (r *recordingRenderer) SetStatusText(status string) {
	r.record(func(s *renderState) { s.status = status })
}

func (r *recordingRenderer) SetAriaAttributes(v, m int) {
	r.record(func(s *renderState) { s.aria = [2]int{v, m} })
}

func (r *recordingRenderer) SetVisibility(section Section, v bool) {
	r.record(func(s *renderState) { s.visible[section] = v })
}

func (r *recordingRenderer) SetBusy(b bool) {
	r.record(func(s *renderState) { s.busy = append(s.busy, b) })
}

func (r *recordingRenderer) snapshot() renderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.state
	cp.visible = make(map[Section]bool, len(r.state.visible))
	for k, v := range r.state.visible {
		cp.visible[k] = v
	}
	cp.busy = append([]bool(nil), r.state.busy...)
	return cp
}

type response struct {
	status int
	body   string
}

func okBody(body string) response {
	return response{status: http.StatusOK, body: body}
}

// sequenceServer answers with the given responses in order and repeats the
// last one. It returns the server and a request counter.
func sequenceServer(t *testing.T, responses ...response) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(count.Add(1)) - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		w.WriteHeader(responses[i].status)
		_, _ = w.Write([]byte(responses[i].body))
	}))
	t.Cleanup(srv.Close)
	return srv, &count
}

// harness drives a tracker one poll at a time. The refresh interval is an
// hour, so only the immediate poll on Start and explicit pollNow calls send
// requests.
type harness struct {
	tr    *Tracker
	r     *recordingRenderer
	polls chan PollResult

	mu        sync.Mutex
	changes   []ChangeEvent
	completes []CompleteEvent
	snapshots []Snapshot
}

func newHarness(t *testing.T, url string, opts ...Option) *harness {
	t.Helper()

	h := &harness{r: newRecordingRenderer(), polls: make(chan PollResult, 64)}
	base := []Option{
		WithLogger(discardLogger()),
		WithRefreshInterval(time.Hour),
		WithRenderer(h.r),
		WithPollCallback(func(p PollResult) { h.polls <- p }),
		WithChangeCallback(func(e ChangeEvent) {
			h.mu.Lock()
			h.changes = append(h.changes, e)
			h.mu.Unlock()
		}),
		WithCompleteCallback(func(e CompleteEvent) {
			h.mu.Lock()
			h.completes = append(h.completes, e)
			h.mu.Unlock()
		}),
		WithSnapshotCallback(func(s Snapshot) {
			h.mu.Lock()
			h.snapshots = append(h.snapshots, s)
			h.mu.Unlock()
		}),
	}

	tr, err := New(url, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.tr = tr
	t.Cleanup(tr.Stop)
	return h
}

func (h *harness) start(t *testing.T) PollResult {
	t.Helper()
	h.tr.Start(context.Background())
	return h.waitPoll(t)
}

func (h *harness) pollNow(t *testing.T) PollResult {
	t.Helper()
	h.tr.poll(context.Background())
	return h.waitPoll(t)
}

func (h *harness) waitPoll(t *testing.T) PollResult {
	t.Helper()
	select {
	case p := <-h.polls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for poll result")
		return PollResult{}
	}
}

func (h *harness) events() ([]ChangeEvent, []CompleteEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChangeEvent(nil), h.changes...), append([]CompleteEvent(nil), h.completes...)
}

func waitDone(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Done")
	}
}

func TestTracker_AppliesResponse(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 3, "max": 10, "status": "Rendering"}`))
	h := newHarness(t, srv.URL)

	res := h.start(t)

	if res.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", res.Outcome)
	}
	if res.StatusCode != http.StatusOK || res.FailCount != 0 || res.URL != srv.URL {
		t.Errorf("PollResult = %+v", res)
	}
	if h.tr.Value() != 3 || h.tr.Max() != 10 {
		t.Errorf("Value/Max = %d/%d, want 3/10", h.tr.Value(), h.tr.Max())
	}
	if s, ok := h.tr.Status(); !ok || s != "Rendering" {
		t.Errorf("Status() = %q, %v, want Rendering, true", s, ok)
	}

	r := h.r.snapshot()
	if r.width != "30%" || r.percent != "30%" {
		t.Errorf("width/percent = %q/%q, want 30%%", r.width, r.percent)
	}
	if r.step != 3 || r.max != 10 || r.status != "Rendering" {
		t.Errorf("step/max/status = %d/%d/%q", r.step, r.max, r.status)
	}
	if r.aria != [2]int{3, 10} {
		t.Errorf("aria = %v, want [3 10]", r.aria)
	}
	if len(r.busy) != 2 || !r.busy[0] || r.busy[1] {
		t.Errorf("busy = %v, want [true false]", r.busy)
	}

	changes, completes := h.events()
	if len(changes) != 1 || changes[0] != (ChangeEvent{OldValue: 0, NewValue: 3}) {
		t.Errorf("changes = %+v, want one 0->3", changes)
	}
	if len(completes) != 0 {
		t.Errorf("completes = %+v, want none", completes)
	}
}

func TestTracker_InitialRenderOnStart(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 2, "status": "Queued"}`))
	h := newHarness(t, srv.URL,
		WithMax(8),
		WithInitialValue(2),
		WithShowSteps(false),
	)

	if r := h.r.snapshot(); r.calls != 0 {
		t.Fatalf("renderer received %d calls before Start, want 0", r.calls)
	}

	h.start(t)

	r := h.r.snapshot()
	if r.max != 8 || r.step != 2 || r.width != "25%" || r.percent != "25%" {
		t.Errorf("initial render = max %d step %d width %q percent %q", r.max, r.step, r.width, r.percent)
	}
	if !r.visible[SectionStatus] || r.visible[SectionSteps] || !r.visible[SectionPercent] {
		t.Errorf("visibility = %v, want steps hidden only", r.visible)
	}
}

func TestTracker_ChangeOnlyOnEffectiveTransition(t *testing.T) {
	srv, _ := sequenceServer(t,
		okBody(`{"value": 4}`),
		okBody(`{"value": 4}`),
		okBody(`{"value": 6}`),
	)
	h := newHarness(t, srv.URL)

	h.start(t)
	h.pollNow(t)
	h.pollNow(t)

	changes, _ := h.events()
	want := []ChangeEvent{{0, 4}, {4, 6}}
	if len(changes) != len(want) {
		t.Fatalf("changes = %+v, want %+v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}
}

func TestTracker_ValueClamping(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantValue    int
		wantComplete bool
	}{
		{"negative clamps to min", `{"value": -4, "max": 10}`, 0, false},
		{"equal to max is not completion", `{"value": 10, "max": 10}`, 10, false},
		{"greater than max completes", `{"value": 15, "max": 10}`, 10, true},
		{"numeric string", `{"value": "7", "max": "10"}`, 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := sequenceServer(t, okBody(tt.body))
			h := newHarness(t, srv.URL)
			h.start(t)

			if h.tr.Value() != tt.wantValue {
				t.Errorf("Value() = %d, want %d", h.tr.Value(), tt.wantValue)
			}
			done, reason := h.tr.Completed()
			if done != tt.wantComplete {
				t.Errorf("Completed() = %v (%s), want %v", done, reason, tt.wantComplete)
			}
			if tt.wantComplete && reason != ReasonValueExceeded {
				t.Errorf("reason = %s, want %s", reason, ReasonValueExceeded)
			}
		})
	}
}

func TestTracker_CompletionHaltsPolling(t *testing.T) {
	srv, count := sequenceServer(t, okBody(`{"value": 11, "max": 10}`))
	h := newHarness(t, srv.URL)

	h.start(t)
	waitDone(t, h.tr)

	// a completed tracker ignores further polls
	h.tr.poll(context.Background())
	if got := count.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}

	_, completes := h.events()
	if len(completes) != 1 {
		t.Fatalf("completes = %d, want exactly 1", len(completes))
	}
	if completes[0].Reason != ReasonValueExceeded || completes[0].Snapshot.Value != 10 {
		t.Errorf("complete event = %+v", completes[0])
	}
}

func TestTracker_FailureCeiling(t *testing.T) {
	srv, count := sequenceServer(t, response{status: http.StatusInternalServerError, body: `{"value": 50}`})
	h := newHarness(t, srv.URL, WithMaxConsecutiveFailures(2))

	first := h.start(t)
	if first.Outcome != OutcomeError || first.FailCount != 1 || first.StatusCode != http.StatusInternalServerError {
		t.Errorf("first poll = %+v", first)
	}
	if first.Error == nil {
		t.Error("first poll should carry the error")
	}
	if h.tr.Value() != 0 {
		t.Errorf("Value() = %d, a non-2xx body must not be applied", h.tr.Value())
	}

	second := h.pollNow(t)
	if second.FailCount != 2 {
		t.Errorf("second FailCount = %d, want 2", second.FailCount)
	}
	if done, _ := h.tr.Completed(); done {
		t.Fatal("completed before the ceiling check")
	}

	third := h.pollNow(t)
	if third.Outcome != OutcomeCeiling {
		t.Errorf("third Outcome = %q, want ceiling", third.Outcome)
	}
	if got := count.Load(); got != 2 {
		t.Errorf("requests = %d, want 2 (no request once the ceiling is hit)", got)
	}

	done, reason := h.tr.Completed()
	if !done || reason != ReasonFailureCeiling {
		t.Errorf("Completed() = %v, %s, want true, failure_ceiling", done, reason)
	}
	waitDone(t, h.tr)
}

func TestTracker_CeilingDisabled(t *testing.T) {
	srv, count := sequenceServer(t, response{status: http.StatusBadGateway})
	h := newHarness(t, srv.URL, WithMaxConsecutiveFailures(0))

	h.start(t)
	for i := 0; i < 9; i++ {
		h.pollNow(t)
	}

	if h.tr.FailCount() != 10 {
		t.Errorf("FailCount() = %d, want 10", h.tr.FailCount())
	}
	if done, _ := h.tr.Completed(); done {
		t.Error("tracker completed with the ceiling disabled")
	}
	if got := count.Load(); got != 10 {
		t.Errorf("requests = %d, want 10", got)
	}
}

func TestTracker_EmptyBody(t *testing.T) {
	for _, body := range []string{"", "   ", "null", "false", "0", `""`} {
		t.Run(fmt.Sprintf("%q", body), func(t *testing.T) {
			srv, _ := sequenceServer(t,
				okBody(`{"value": 4, "max": 8, "status": "Working"}`),
				okBody(body),
				okBody(`{"value": 5}`),
			)
			h := newHarness(t, srv.URL)
			h.start(t)

			res := h.pollNow(t)
			if res.Outcome != OutcomeEmpty || res.FailCount != 1 {
				t.Errorf("empty poll = %+v, want empty outcome with fail count 1", res)
			}
			if h.tr.Value() != 4 || h.tr.Max() != 8 {
				t.Errorf("Value/Max = %d/%d, empty body must not change them", h.tr.Value(), h.tr.Max())
			}
			if s, ok := h.tr.Status(); !ok || s != "Working" {
				t.Errorf("Status() = %q, %v, empty body must not clear it", s, ok)
			}

			res = h.pollNow(t)
			if res.FailCount != 0 || h.tr.Value() != 5 {
				t.Errorf("after success FailCount = %d Value = %d, want 0 and 5", res.FailCount, h.tr.Value())
			}
		})
	}
}

func TestTracker_MissingValueResetsToZero(t *testing.T) {
	tests := []struct {
		name string
		body string
		max  int
	}{
		{"no value field", `{"status": "Queued"}`, 10},
		{"non-numeric value", `{"value": "abc", "max": 10}`, 10},
		{"max only", `{"max": 20}`, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := sequenceServer(t,
				okBody(`{"value": 5, "max": 10}`),
				okBody(tt.body),
			)
			h := newHarness(t, srv.URL)

			h.start(t)
			if h.tr.Value() != 5 {
				t.Fatalf("Value() = %d, want 5", h.tr.Value())
			}

			h.pollNow(t)
			if h.tr.Value() != 0 || h.tr.Max() != tt.max {
				t.Errorf("Value/Max = %d/%d, want 0/%d", h.tr.Value(), h.tr.Max(), tt.max)
			}

			changes, completes := h.events()
			if last := changes[len(changes)-1]; last != (ChangeEvent{5, 0}) {
				t.Errorf("last change = %+v, want 5->0", last)
			}
			if len(completes) != 0 {
				t.Errorf("completes = %+v, want none", completes)
			}
			if r := h.r.snapshot(); r.step != 0 || r.percent != "0%" {
				t.Errorf("rendered step/percent = %d/%q, want 0/0%%", r.step, r.percent)
			}
		})
	}
}

func TestTracker_StatusCleared(t *testing.T) {
	srv, _ := sequenceServer(t,
		okBody(`{"value": 1, "status": "Uploading"}`),
		okBody(`{"value": 2}`),
	)
	h := newHarness(t, srv.URL)

	h.start(t)
	if s, _ := h.tr.Status(); s != "Uploading" {
		t.Fatalf("Status() = %q, want Uploading", s)
	}

	h.pollNow(t)
	if s, ok := h.tr.Status(); ok || s != "" {
		t.Errorf("Status() = %q, %v, want cleared", s, ok)
	}
	if r := h.r.snapshot(); r.status != "" {
		t.Errorf("rendered status = %q, want cleared", r.status)
	}
}

func TestTracker_MaxUpdates(t *testing.T) {
	srv, _ := sequenceServer(t,
		okBody(`{"value": 50, "max": 0}`),
		okBody(`{"value": 15, "max": 20}`),
	)
	h := newHarness(t, srv.URL, WithInitialValue(50))

	h.start(t)
	if h.tr.Max() != 100 {
		t.Errorf("Max() = %d, a zero max must be ignored", h.tr.Max())
	}

	h.pollNow(t)
	if h.tr.Max() != 20 || h.tr.Value() != 15 {
		t.Errorf("Value/Max = %d/%d, want 15/20", h.tr.Value(), h.tr.Max())
	}
	if done, _ := h.tr.Completed(); done {
		t.Error("shrinking max must not complete the tracker")
	}

	changes, _ := h.events()
	if len(changes) != 1 || changes[0] != (ChangeEvent{50, 15}) {
		t.Errorf("changes = %+v, want one 50->15", changes)
	}
	if r := h.r.snapshot(); r.max != 20 || r.width != "75%" {
		t.Errorf("rendered max/width = %d/%q", r.max, r.width)
	}
}

func TestTracker_StoppedAndErrored(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantReason CompleteReason
		wantValue  int
		wantMax    int
	}{
		{"stopped", `{"value": 3, "stopped": true}`, ReasonStopped, 8, 100},
		{"errored", `{"errorOccurred": true}`, ReasonErrored, 8, 100},
		{"stopped with smaller max", `{"max": 5, "stopped": true}`, ReasonStopped, 5, 5},
		{"errored wins over stopped", `{"stopped": true, "errorOccurred": true}`, ReasonErrored, 8, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := sequenceServer(t, okBody(tt.body))
			h := newHarness(t, srv.URL, WithInitialValue(8))

			res := h.start(t)
			if res.Outcome != OutcomeSuccess || res.FailCount != 0 {
				t.Errorf("poll = %+v, a stop signal is not a failure", res)
			}

			done, reason := h.tr.Completed()
			if !done || reason != tt.wantReason {
				t.Errorf("Completed() = %v, %s, want true, %s", done, reason, tt.wantReason)
			}
			if h.tr.Value() != tt.wantValue || h.tr.Max() != tt.wantMax {
				t.Errorf("Value/Max = %d/%d, want %d/%d", h.tr.Value(), h.tr.Max(), tt.wantValue, tt.wantMax)
			}
			waitDone(t, h.tr)
		})
	}
}

func TestTracker_CancelledRequestIsNotFailure(t *testing.T) {
	tr, err := New("https://example.com/progress", WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tr.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr.mu.Lock()
	p := tr.handleResponseLocked(ctx, tr.cfg.url, poller.Response{Error: context.Canceled})
	tr.mu.Unlock()

	if p.poll.Outcome != OutcomeCanceled {
		t.Errorf("Outcome = %q, want canceled", p.poll.Outcome)
	}
	if tr.FailCount() != 0 {
		t.Errorf("FailCount() = %d, want 0", tr.FailCount())
	}
}

func TestTracker_ExtractorPanicRecovered(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	srv, _ := sequenceServer(t, okBody(`{"value": 4, "max": 10}`))
	h := newHarness(t, srv.URL,
		WithLogger(logger),
		WithValueExtractor(func([]byte) (int, bool) {
			panic("boom")
		}),
	)

	res := h.start(t)
	if res.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", res.Outcome)
	}
	if h.tr.Value() != 0 || h.tr.Max() != 10 {
		t.Errorf("Value/Max = %d/%d, want 0/10 (panicking field treated as absent)", h.tr.Value(), h.tr.Max())
	}

	out := logs.String()
	for _, want := range []string{`"msg":"extractor panic"`, `"correlation_id"`, `"field":"value"`, `"panic":"boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s\n%s", want, out)
		}
	}
}

func TestTracker_SetValue(t *testing.T) {
	h := newHarness(t, "https://example.com/progress", WithMax(10))

	h.tr.SetValue(4)
	h.tr.SetValue(10)
	if done, _ := h.tr.Completed(); done {
		t.Fatal("SetValue(max) must not complete")
	}

	h.tr.SetValue(25)
	h.tr.SetValue(30)

	if h.tr.Value() != 10 {
		t.Errorf("Value() = %d, want 10", h.tr.Value())
	}
	changes, completes := h.events()
	if len(changes) != 2 {
		t.Errorf("changes = %+v, want 0->4 and 4->10", changes)
	}
	if len(completes) != 1 || completes[0].Reason != ReasonValueExceeded {
		t.Errorf("completes = %+v, want one value_exceeded_max", completes)
	}
}

func TestTracker_SetValueString(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"7", 7},
		{" 12 ", 12},
		{"abc", 0},
		{"", 0},
		{"-3", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tr, err := New("https://example.com/progress", WithInitialValue(50), WithLogger(discardLogger()))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer tr.Stop()

			tr.SetValueString(tt.in)
			if tr.Value() != tt.want {
				t.Errorf("SetValueString(%q) -> Value() = %d, want %d", tt.in, tr.Value(), tt.want)
			}
		})
	}
}

func TestTracker_Reconfigure(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 60}`))
	h := newHarness(t, srv.URL)
	h.start(t)

	if err := h.tr.Reconfigure(WithMax(40), WithShowPercent(false)); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	if h.tr.Max() != 40 || h.tr.Value() != 40 {
		t.Errorf("Value/Max = %d/%d, want 40/40", h.tr.Value(), h.tr.Max())
	}
	if done, _ := h.tr.Completed(); done {
		t.Error("Reconfigure must not complete the tracker")
	}

	r := h.r.snapshot()
	if r.max != 40 || r.step != 40 || r.visible[SectionPercent] {
		t.Errorf("rendered max %d step %d percent visible %v", r.max, r.step, r.visible[SectionPercent])
	}

	changes, _ := h.events()
	if last := changes[len(changes)-1]; last != (ChangeEvent{60, 40}) {
		t.Errorf("last change = %+v, want 60->40", last)
	}

	if err := h.tr.Reconfigure(WithInitialValue(12), WithName("renamed")); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if h.tr.Value() != 12 || h.tr.Name() != "renamed" {
		t.Errorf("Value/Name = %d/%q, want 12/renamed", h.tr.Value(), h.tr.Name())
	}
}

func TestTracker_ReconfigureErrors(t *testing.T) {
	h := newHarness(t, "https://example.com/progress")

	if err := h.tr.Reconfigure(WithRefreshInterval(0)); err == nil {
		t.Error("Reconfigure() expected option error")
	}
	if err := h.tr.Reconfigure(WithRequestURL("ftp://example.com")); err == nil || !strings.Contains(err.Error(), "reconfigure") {
		t.Errorf("Reconfigure() error = %v, want wrapped validation error", err)
	}
	if h.tr.URL() != "https://example.com/progress" {
		t.Errorf("URL() = %q, a failed Reconfigure must leave the tracker unchanged", h.tr.URL())
	}

	h.tr.Stop()
	if err := h.tr.Reconfigure(WithMax(5)); !errors.Is(err, ErrStopped) {
		t.Errorf("Reconfigure() after Stop error = %v, want ErrStopped", err)
	}
}

func TestTracker_ReconfigureSwapsRenderer(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 3, "max": 12, "status": "Rendering"}`))
	h := newHarness(t, srv.URL, WithShowPercent(false))
	h.start(t)

	next := newRecordingRenderer()
	if err := h.tr.Reconfigure(WithRenderer(next)); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}

	if old := h.r.snapshot(); old.released != 1 {
		t.Errorf("previous renderer released %d times, want 1", old.released)
	}

	r := next.snapshot()
	if r.status != "Rendering" || r.max != 12 || r.step != 3 || r.percent != "25%" {
		t.Errorf("new renderer = status %q max %d step %d percent %q", r.status, r.max, r.step, r.percent)
	}
	if r.visible[SectionPercent] || !r.visible[SectionStatus] {
		t.Errorf("new renderer visibility = %v, want percent hidden", r.visible)
	}

	// other options leave the renderer alone
	if err := h.tr.Reconfigure(WithMax(20)); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	h.tr.Stop()
	if r := next.snapshot(); r.released != 1 || r.max != 20 {
		t.Errorf("renderer released %d times with max %d, want 1 and 20", r.released, r.max)
	}
	if old := h.r.snapshot(); old.released != 1 {
		t.Errorf("previous renderer released %d times after Stop, want 1", old.released)
	}
}

func TestTracker_ReconfigureSwapBeforeStart(t *testing.T) {
	h := newHarness(t, "https://example.com/progress")

	next := newRecordingRenderer()
	if err := h.tr.Reconfigure(WithRenderer(next)); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	if old := h.r.snapshot(); old.calls != 0 {
		t.Errorf("unstarted renderer received %d calls, want 0", old.calls)
	}
	if r := next.snapshot(); r.calls != 0 {
		t.Errorf("new renderer received %d calls before Start, want 0", r.calls)
	}
}

func TestTracker_ConcurrentReconfigureAndLifecycle(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 1}`))
	h := newHarness(t, srv.URL)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.tr.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = h.tr.Reconfigure(WithName(fmt.Sprintf("job-%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		h.tr.Stop()
	}()
	wg.Wait()

	waitDone(t, h.tr)
}

func TestTracker_StopLifecycle(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 1}`))
	h := newHarness(t, srv.URL)
	h.start(t)

	h.tr.Stop()
	h.tr.Stop()
	waitDone(t, h.tr)

	if r := h.r.snapshot(); r.released != 1 {
		t.Errorf("released = %d, want 1", r.released)
	}

	before := h.r.snapshot().calls
	h.tr.SetValue(5)
	h.tr.Start(context.Background())
	if h.tr.Value() != 1 {
		t.Errorf("Value() = %d, SetValue after Stop must be ignored", h.tr.Value())
	}
	if after := h.r.snapshot().calls; after != before {
		t.Errorf("renderer received %d calls after Stop", after-before)
	}
}

func TestTracker_StopBeforeStart(t *testing.T) {
	tr, err := New("https://example.com/progress", WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tr.Stop()
	waitDone(t, tr)
	tr.Start(context.Background())
}

func TestTracker_ContextCancelClosesDone(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 1}`))
	h := newHarness(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	h.tr.Start(ctx)
	h.waitPoll(t)

	cancel()
	waitDone(t, h.tr)
}

func TestTracker_Run(t *testing.T) {
	srv, _ := sequenceServer(t,
		okBody(`{"value": 2, "max": 4}`),
		okBody(`{"value": 4, "max": 4, "stopped": true}`),
	)

	tr, err := New(srv.URL, WithRefreshInterval(10*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	snap, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !snap.Completed || snap.Reason != ReasonStopped {
		t.Errorf("snapshot = %+v, want completed with stopped", snap)
	}
	if snap.Value != 2 || snap.Max != 4 || snap.PercentText != "50%" {
		t.Errorf("snapshot value/max/percent = %d/%d/%s", snap.Value, snap.Max, snap.PercentText)
	}
}

func TestTracker_RunContextCancelled(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 1}`))

	tr, err := New(srv.URL, WithRefreshInterval(10*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	snap, err := tr.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want DeadlineExceeded", err)
	}
	if snap.Completed || snap.Value != 1 {
		t.Errorf("snapshot = %+v, want incomplete with value 1", snap)
	}
}

func TestTracker_OverlapSkipNeverConcurrent(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		_, _ = w.Write([]byte(`{"value": 1}`))
	}))
	defer srv.Close()

	tr, err := New(srv.URL, WithRefreshInterval(5*time.Millisecond), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tr.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	tr.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent requests = %d, want 1", got)
	}
}

func TestTracker_Headers(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"value": 1}`))
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL, WithHeaders("Authorization", "Bearer abc"))
	h.start(t)

	if got.Load() != "Bearer abc" {
		t.Errorf("Authorization = %v, want Bearer abc", got.Load())
	}
}

func TestTracker_Snapshot(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 1, "max": 3, "status": "Parsing"}`))
	h := newHarness(t, srv.URL, WithName("parse"))

	before := time.Now()
	h.start(t)
	snap := h.tr.Snapshot()

	if snap.Name != "parse" || snap.URL != srv.URL {
		t.Errorf("Name/URL = %q/%q", snap.Name, snap.URL)
	}
	if snap.Value != 1 || snap.Min != 0 || snap.Max != 3 {
		t.Errorf("Value/Min/Max = %d/%d/%d", snap.Value, snap.Min, snap.Max)
	}
	if snap.PercentText != "33%" {
		t.Errorf("PercentText = %q, want 33%%", snap.PercentText)
	}
	if !snap.HasStatus || snap.Status != "Parsing" {
		t.Errorf("Status = %q, %v", snap.Status, snap.HasStatus)
	}
	if snap.UpdatedAt.Before(before) {
		t.Errorf("UpdatedAt = %v, want after %v", snap.UpdatedAt, before)
	}

	h.mu.Lock()
	n := len(h.snapshots)
	h.mu.Unlock()
	if n == 0 {
		t.Error("snapshot callback was not invoked")
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		value, lo, hi int
		want          string
	}{
		{0, 0, 10, "0%"},
		{3, 0, 10, "30%"},
		{1, 0, 3, "33%"},
		{2, 0, 3, "67%"},
		{1, 0, 200, "1%"},
		{10, 0, 10, "100%"},
		{0, 0, 0, "0%"},
	}

	for _, tt := range tests {
		if got := formatPercent(percentage(tt.value, tt.lo, tt.hi)); got != tt.want {
			t.Errorf("percentage(%d, %d, %d) = %s, want %s", tt.value, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestIsEmptyBody(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"", true},
		{" \n", true},
		{"null", true},
		{"false", true},
		{"0", true},
		{`""`, true},
		{"{}", false},
		{"[]", false},
		{`{"value": 0}`, false},
		{"1", false},
	}

	for _, tt := range tests {
		if got := isEmptyBody([]byte(tt.body)); got != tt.want {
			t.Errorf("isEmptyBody(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}
