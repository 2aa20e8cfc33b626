package jobprogress

import (
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestCallbacks_DispatchOrder(t *testing.T) {
	srv, _ := sequenceServer(t, okBody(`{"value": 12, "max": 10}`))

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(kind string) {
		mu.Lock()
		order = append(order, kind)
		mu.Unlock()
	}

	h := newHarness(t, srv.URL,
		WithChangeCallback(func(ChangeEvent) { record("change") }),
		WithCompleteCallback(func(CompleteEvent) { record("complete") }),
		WithSnapshotCallback(func(Snapshot) { record("snapshot") }),
		WithPollCallback(func(PollResult) { record("poll") }),
	)
	h.start(t)
	// Done closes only after the poll goroutine, and its callbacks, returned
	waitDone(t, h.tr)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"change", "complete", "snapshot", "poll"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestCallbacks_RegistrationOrder(t *testing.T) {
	var order []int
	tr, err := New("https://example.com/progress",
		WithLogger(discardLogger()),
		WithChangeCallback(func(ChangeEvent) { order = append(order, 1) }),
		WithChangeCallback(func(ChangeEvent) { order = append(order, 2) }),
		WithChangeCallback(nil),
		WithChangeCallback(func(ChangeEvent) { order = append(order, 3) }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tr.Stop()

	tr.SetValue(1)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

func TestCallbacks_PanicRecovered(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	var after bool
	tr, err := New("https://example.com/progress",
		WithLogger(logger),
		WithChangeCallback(func(ChangeEvent) { panic("callback boom") }),
		WithChangeCallback(func(ChangeEvent) { after = true }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tr.Stop()

	tr.SetValue(3)

	if !after {
		t.Error("a panicking callback must not stop later callbacks")
	}
	if tr.Value() != 3 {
		t.Errorf("Value() = %d, want 3", tr.Value())
	}

	out := logs.String()
	if !strings.Contains(out, `"msg":"callback panicked"`) || !strings.Contains(out, `"callback":"change"`) {
		t.Errorf("log output missing panic record:\n%s", out)
	}
}

func TestCallbacks_MayCallTracker(t *testing.T) {
	var (
		tr   *Tracker
		seen Snapshot
	)
	var err error
	tr, err = New("https://example.com/progress",
		WithLogger(discardLogger()),
		WithChangeCallback(func(ChangeEvent) {
			// the lock is released before callbacks run
			seen = tr.Snapshot()
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tr.Stop()

	tr.SetValue(9)

	if seen.Value != 9 {
		t.Errorf("snapshot from callback Value = %d, want 9", seen.Value)
	}
}

func TestInvokeCallbackSafe(t *testing.T) {
	var got int
	invokeCallbackSafe("poll", func(n int) { got = n }, 7, discardLogger())
	if got != 7 {
		t.Errorf("got = %d, want 7", got)
	}

	// must not propagate
	invokeCallbackSafe("poll", func(int) { panic("x") }, 1, discardLogger())
}
