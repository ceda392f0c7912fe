package toolserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/jsonrpc"
)

func response(id int64, result string) *jsonrpc.Message {
	return &jsonrpc.Message{
		JSONRPC: jsonrpc.Version,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Result:  json.RawMessage(result),
	}
}

func TestCorrelatorCompleteDelivers(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("1", 0)

	if !c.Complete(response(1, `{"ok":true}`)) {
		t.Fatal("Complete should settle a registered call")
	}

	out := <-ch
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if string(out.Result) != `{"ok":true}` {
		t.Errorf("unexpected result: %s", out.Result)
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending calls, got %d", c.Pending())
	}
}

func TestCorrelatorErrorResponse(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("1", 0)

	msg := response(1, "")
	msg.Result = nil
	msg.Error = &jsonrpc.Error{Code: -32000, Message: "boom"}
	c.Complete(msg)

	out := <-ch
	var re *RemoteError
	if !errors.As(out.Err, &re) {
		t.Fatalf("expected *RemoteError, got %v", out.Err)
	}
	if re.Code != -32000 || re.Message != "boom" {
		t.Errorf("unexpected remote error: %+v", re)
	}
}

// A call settles exactly once: whichever of response, failure, or cancel
// claims it first wins, the rest are no-ops.
func TestCorrelatorSettlementExclusive(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("7", 0)

	if !c.Complete(response(7, `"first"`)) {
		t.Fatal("first settlement should win")
	}
	if c.Fail("7", errors.New("late failure")) {
		t.Error("Fail after Complete should be a no-op")
	}
	if c.Complete(response(7, `"second"`)) {
		t.Error("second Complete should be a no-op")
	}

	out := <-ch
	if out.Err != nil || string(out.Result) != `"first"` {
		t.Errorf("expected first result to stick, got %+v", out)
	}
	select {
	case extra := <-ch:
		t.Errorf("call settled twice: %+v", extra)
	default:
	}
}

func TestCorrelatorOutOfOrderResponses(t *testing.T) {
	c := NewCorrelator()
	ch1 := c.Register("1", 0)
	ch2 := c.Register("2", 0)

	c.Complete(response(2, `"second"`))
	c.Complete(response(1, `"first"`))

	if out := <-ch1; string(out.Result) != `"first"` {
		t.Errorf("call 1 got %s", out.Result)
	}
	if out := <-ch2; string(out.Result) != `"second"` {
		t.Errorf("call 2 got %s", out.Result)
	}
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator()
	timeout := 20 * time.Millisecond
	start := time.Now()
	ch := c.Register("9", timeout)

	out := <-ch
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("settled after %s, before the %s deadline", elapsed, timeout)
	}
	var te *TimeoutError
	if !errors.As(out.Err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", out.Err)
	}

	// The response arriving after expiry finds nothing to settle.
	if c.Complete(response(9, `"late"`)) {
		t.Error("late response should be dropped")
	}
}

func TestCorrelatorCancelAll(t *testing.T) {
	c := NewCorrelator()
	var chans []<-chan Outcome
	for i := 1; i <= 3; i++ {
		chans = append(chans, c.Register(fmt.Sprintf("%d", i), time.Minute))
	}

	c.CancelAll(ErrClosed)

	for i, ch := range chans {
		out := <-ch
		if !errors.Is(out.Err, ErrClosed) {
			t.Errorf("call %d: expected ErrClosed, got %v", i+1, out.Err)
		}
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending calls, got %d", c.Pending())
	}
}

func TestCorrelatorUnknownResponseIgnored(t *testing.T) {
	c := NewCorrelator()
	if c.Complete(response(99, `{}`)) {
		t.Error("response for unregistered id should be ignored")
	}
}

func TestCorrelatorNextIDMonotonic(t *testing.T) {
	c := NewCorrelator()
	prev := c.NextID()
	for i := 0; i < 100; i++ {
		id := c.NextID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}
