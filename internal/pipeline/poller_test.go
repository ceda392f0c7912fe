package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testPoller(opts Options) *Poller {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPoller(opts)
}

// statusScript serves a fixed sequence of statuses, repeating the last one
// once the script runs out.
type statusScript struct {
	mu      sync.Mutex
	seq     []Status
	fetches int
}

func (s *statusScript) fetch(_ context.Context, _ string) (StatusUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.fetches
	s.fetches++
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	return StatusUpdate{Status: s.seq[i]}, nil
}

func (s *statusScript) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func collectChanges() (ChangeFunc, func() []Status) {
	var mu sync.Mutex
	var seen []Status
	fn := func(_ string, upd StatusUpdate) {
		mu.Lock()
		seen = append(seen, upd.Status)
		mu.Unlock()
	}
	get := func() []Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]Status(nil), seen...)
	}
	return fn, get
}

func TestPollerSingleFlight(t *testing.T) {
	p := testPoller(Options{Interval: 5 * time.Millisecond, Grace: time.Millisecond})
	script := &statusScript{seq: []Status{StatusResearchRunning}}
	onChange, _ := collectChanges()

	if !p.Start(context.Background(), "pl-1", script.fetch, onChange) {
		t.Fatal("first Start should begin a watch")
	}
	defer p.StopAll()

	if p.Start(context.Background(), "pl-1", script.fetch, onChange) {
		t.Error("second Start for the same id should be a no-op")
	}
	if !p.Start(context.Background(), "pl-2", script.fetch, onChange) {
		t.Error("a different id should get its own watch")
	}
}

func TestPollerStopsOnTerminalAfterGrace(t *testing.T) {
	p := testPoller(Options{Interval: 5 * time.Millisecond, Grace: time.Millisecond})
	script := &statusScript{seq: []Status{
		StatusResearchRunning,
		StatusResearchRunning,
		StatusResearchComplete,
	}}
	onChange, changes := collectChanges()

	p.Start(context.Background(), "pl-1", script.fetch, onChange)

	deadline := time.After(2 * time.Second)
	for p.Watching("pl-1") {
		select {
		case <-deadline:
			t.Fatal("watch did not stop on terminal status")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := changes()
	want := []Status{StatusResearchRunning, StatusResearchRunning, StatusResearchComplete}
	if len(got) != len(want) {
		t.Fatalf("expected changes %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// A terminal status inside the grace window is a leftover from before the
// stage started; the watch reports it but must keep polling instead of
// stopping on it.
func TestPollerGraceRidesOutStaleTerminal(t *testing.T) {
	p := testPoller(Options{Interval: 5 * time.Millisecond, Grace: 100 * time.Millisecond})
	script := &statusScript{seq: []Status{
		StatusResearchComplete, // stale: the previous stage's resting status
		StatusLegalResolutionRunning,
		StatusLegalResolutionRunning,
		StatusLegalResolutionComplete,
	}}
	onChange, changes := collectChanges()

	p.Start(context.Background(), "pl-1", script.fetch, onChange)

	deadline := time.After(3 * time.Second)
	for p.Watching("pl-1") {
		select {
		case <-deadline:
			t.Fatal("watch did not finish")
		case <-time.After(10 * time.Millisecond):
		}
	}

	got := changes()
	if len(got) < 4 {
		t.Fatalf("expected the watch to poll past the stale terminal, got %v", got)
	}
	if got[0] != StatusResearchComplete {
		t.Errorf("first fetch should be reported as observed, got %s", got[0])
	}
	if got[1] != StatusLegalResolutionRunning {
		t.Errorf("watch stopped on the stale terminal: second change was %s", got[1])
	}
	if got[len(got)-1] != StatusLegalResolutionComplete {
		t.Errorf("expected final change %s, got %s", StatusLegalResolutionComplete, got[len(got)-1])
	}
}

func TestPollerFetchesNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var fetches atomic.Int32
	fetch := func(_ context.Context, _ string) (StatusUpdate, error) {
		n := inFlight.Add(1)
		if m := maxInFlight.Load(); n > m {
			maxInFlight.Store(n)
		}
		time.Sleep(10 * time.Millisecond) // slower than the interval
		inFlight.Add(-1)
		fetches.Add(1)
		return StatusUpdate{Status: StatusResearchRunning}, nil
	}

	p := testPoller(Options{Interval: time.Millisecond, Grace: time.Millisecond})
	onChange, _ := collectChanges()
	p.Start(context.Background(), "pl-1", fetch, onChange)

	deadline := time.After(2 * time.Second)
	for fetches.Load() < 5 {
		select {
		case <-deadline:
			t.Fatal("not enough fetches completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.Stop("pl-1")

	if maxInFlight.Load() > 1 {
		t.Errorf("fetches overlapped: max in flight %d", maxInFlight.Load())
	}
}

func TestPollerContinuesOnFetchError(t *testing.T) {
	var calls atomic.Int32
	fetchErr := errors.New("dashboard unreachable")
	fetch := func(_ context.Context, _ string) (StatusUpdate, error) {
		if calls.Add(1) == 1 {
			return StatusUpdate{}, fetchErr
		}
		return StatusUpdate{Status: StatusResearchComplete}, nil
	}

	var gotErr error
	var errMu sync.Mutex
	p := testPoller(Options{
		Interval: 5 * time.Millisecond,
		Grace:    time.Millisecond,
		OnError: func(_ string, err error) {
			errMu.Lock()
			gotErr = err
			errMu.Unlock()
		},
	})
	onChange, changes := collectChanges()
	p.Start(context.Background(), "pl-1", fetch, onChange)

	deadline := time.After(2 * time.Second)
	for p.Watching("pl-1") {
		select {
		case <-deadline:
			t.Fatal("watch did not recover from fetch error")
		case <-time.After(5 * time.Millisecond):
		}
	}

	errMu.Lock()
	defer errMu.Unlock()
	if !errors.Is(gotErr, fetchErr) {
		t.Errorf("expected OnError with %v, got %v", fetchErr, gotErr)
	}
	if got := changes(); len(got) != 1 || got[0] != StatusResearchComplete {
		t.Errorf("expected a single terminal change, got %v", got)
	}
}

func TestPollerStopIdempotent(t *testing.T) {
	p := testPoller(Options{Interval: 5 * time.Millisecond, Grace: time.Millisecond})
	script := &statusScript{seq: []Status{StatusResearchRunning}}
	onChange, _ := collectChanges()

	p.Start(context.Background(), "pl-1", script.fetch, onChange)
	p.Stop("pl-1")
	if p.Watching("pl-1") {
		t.Error("watch should be gone after Stop")
	}

	fetched := script.count()
	p.Stop("pl-1")            // second stop, no-op
	p.Stop("never-started")   // unknown id, no-op
	time.Sleep(20 * time.Millisecond)
	if script.count() != fetched {
		t.Error("fetches continued after Stop")
	}
}

// Repeated statuses are reported once per fetch; de-duplication belongs to
// the caller.
func TestPollerReportsEveryFetch(t *testing.T) {
	p := testPoller(Options{Interval: time.Millisecond, Grace: time.Millisecond})
	script := &statusScript{seq: []Status{
		StatusResearchRunning,
		StatusResearchRunning,
		StatusResearchRunning,
		StatusResearchFailed,
	}}
	onChange, changes := collectChanges()

	p.Start(context.Background(), "pl-1", script.fetch, onChange)

	deadline := time.After(2 * time.Second)
	for p.Watching("pl-1") {
		select {
		case <-deadline:
			t.Fatal("watch did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	got := changes()
	want := []Status{
		StatusResearchRunning,
		StatusResearchRunning,
		StatusResearchRunning,
		StatusResearchFailed,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
