package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/metrics"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollGrace    = 10 * time.Second
)

// FetchFunc retrieves the current status of one pipeline.
type FetchFunc func(ctx context.Context, id string) (StatusUpdate, error)

// ChangeFunc receives the status from every successful fetch. The Poller
// does not suppress repeats; callers that only care about transitions
// de-duplicate themselves.
type ChangeFunc func(id string, upd StatusUpdate)

// Options tunes a Poller. Zero values fall back to 2s interval and 10s
// grace.
type Options struct {
	// Interval is the pause between the end of one fetch and the start of
	// the next. Fetches for one pipeline never overlap.
	Interval time.Duration

	// Grace is the window after Start during which terminal statuses are
	// treated as possibly stale and polling continues. A stage that was
	// just (re)started can briefly report the previous stage's resting
	// status; the grace window rides that out.
	Grace time.Duration

	// OnError is invoked for fetch failures. Polling continues. May be nil.
	OnError func(id string, err error)

	Logger *slog.Logger
}

// Poller runs one polling loop per watched pipeline. Starting an id that is
// already being watched is a no-op, so at most one loop exists per pipeline
// at any time.
type Poller struct {
	interval time.Duration
	grace    time.Duration
	onError  func(id string, err error)
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]*watch
}

type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultPollGrace
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		interval: opts.Interval,
		grace:    opts.Grace,
		onError:  opts.OnError,
		log:      log,
		active:   make(map[string]*watch),
	}
}

// Start begins watching id: one immediate fetch, then one fetch per interval
// until a terminal status is observed past the grace window, Stop is called,
// or ctx is cancelled. Returns false without side effects if id is already
// being watched.
func (p *Poller) Start(ctx context.Context, id string, fetch FetchFunc, onChange ChangeFunc) bool {
	p.mu.Lock()
	if _, exists := p.active[id]; exists {
		p.mu.Unlock()
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}
	p.active[id] = w
	p.mu.Unlock()

	go p.loop(loopCtx, id, w, fetch, onChange)
	return true
}

// Stop halts the watch for id and waits for its loop to finish. Stopping an
// id that is not being watched is a no-op.
func (p *Poller) Stop(id string) {
	p.mu.Lock()
	w, ok := p.active[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// StopAll halts every active watch.
func (p *Poller) StopAll() {
	p.mu.Lock()
	watches := make([]*watch, 0, len(p.active))
	for _, w := range p.active {
		watches = append(watches, w)
	}
	p.mu.Unlock()

	for _, w := range watches {
		w.cancel()
		<-w.done
	}
}

// Watching reports whether id currently has a polling loop.
func (p *Poller) Watching(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[id]
	return ok
}

func (p *Poller) loop(ctx context.Context, id string, w *watch, fetch FetchFunc, onChange ChangeFunc) {
	defer func() {
		p.mu.Lock()
		if p.active[id] == w {
			delete(p.active, id)
		}
		p.mu.Unlock()
		close(w.done)
	}()

	started := time.Now()

	for {
		upd, err := fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.PollTicks.WithLabelValues("error").Inc()
			if p.onError != nil {
				p.onError(id, err)
			}
			p.log.Warn("status fetch failed", "pipeline", id, "error", err)
		} else {
			metrics.PollTicks.WithLabelValues("ok").Inc()
			onChange(id, upd)
			if upd.Status.Terminal() {
				if time.Since(started) < p.grace {
					// Possibly the resting status from before this run
					// started; keep polling until the grace window passes.
					p.log.Debug("terminal status inside grace window",
						"pipeline", id, "status", upd.Status)
				} else {
					p.log.Debug("pipeline at rest, stopping watch",
						"pipeline", id, "status", upd.Status)
					return
				}
			}
		}

		// Full interval between the end of one fetch and the start of the
		// next, so a slow fetch never causes overlap or a burst.
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
