package toolserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/jsonrpc"
)

// Outcome is the settled result of one request. Exactly one of Result or Err
// is meaningful.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

type pendingCall struct {
	ch    chan Outcome
	timer *time.Timer
}

// Correlator matches responses read off the wire to the requests that are
// waiting for them. Every registered call settles exactly once: a response, a
// timeout, a cancel, and session shutdown race for the same slot, and the
// first to claim it wins. The losers find the slot empty and do nothing.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
	nextID  int64
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*pendingCall)}
}

// NextID returns a fresh request id, unique for the life of the correlator.
func (c *Correlator) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// Register creates a pending slot for key and returns the channel its outcome
// will arrive on. The channel is buffered; delivery never blocks the reader
// goroutine. If timeout is positive the slot self-settles with a TimeoutError
// when it elapses.
func (c *Correlator) Register(key string, timeout time.Duration) <-chan Outcome {
	p := &pendingCall{ch: make(chan Outcome, 1)}

	c.mu.Lock()
	c.pending[key] = p
	c.mu.Unlock()

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			c.Fail(key, &TimeoutError{Timeout: timeout})
		})
	}
	return p.ch
}

// Complete settles the call matching msg's id. Responses with an error member
// settle with a RemoteError. Responses for ids nobody is waiting on (already
// timed out, cancelled, or never ours) are dropped.
func (c *Correlator) Complete(msg *jsonrpc.Message) bool {
	key, ok := msg.IDKey()
	if !ok {
		return false
	}
	p := c.take(key)
	if p == nil {
		return false
	}
	if msg.Error != nil {
		p.ch <- Outcome{Err: &RemoteError{
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Data:    msg.Error.Data,
		}}
	} else {
		p.ch <- Outcome{Result: msg.Result}
	}
	return true
}

// Fail settles the call for key with err. Returns false if the call already
// settled.
func (c *Correlator) Fail(key string, err error) bool {
	p := c.take(key)
	if p == nil {
		return false
	}
	p.ch <- Outcome{Err: err}
	return true
}

// CancelAll settles every outstanding call with err. Used on session
// shutdown so no waiter hangs.
func (c *Correlator) CancelAll(err error) {
	c.mu.Lock()
	taken := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, p := range taken {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- Outcome{Err: err}
	}
}

// Pending returns the number of unsettled calls. Diagnostic only.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending slot for key, or nil if it has
// already been claimed. Removal under the lock is what makes settlement
// exclusive.
func (c *Correlator) take(key string) *pendingCall {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}
