package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/jsonrpc"
)

// pipeSession wires a session to in-process pipes instead of a subprocess so
// the request/response conversation can be tested without spawning anything.
// requests carries each message the session writes; respond writes raw lines
// back to the session's reader.
func pipeSession(t *testing.T, cfg ServerConfig) (s *Session, requests <-chan *jsonrpc.Message, respond func(v any)) {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	s = NewSession(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.stdin = reqW
	s.stdout = respR
	s.state = StateReady

	reqCh := make(chan *jsonrpc.Message, 16)
	go func() {
		scanner := bufio.NewScanner(reqR)
		for scanner.Scan() {
			var msg jsonrpc.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				t.Errorf("session wrote invalid JSON: %v", err)
				continue
			}
			reqCh <- &msg
		}
		close(reqCh)
	}()
	go s.readLoop()

	t.Cleanup(func() {
		reqW.Close()
		respW.Close()
	})

	return s, reqCh, func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal response: %v", err)
		}
		if _, err := respW.Write(append(data, '\n')); err != nil {
			t.Errorf("write response: %v", err)
		}
	}
}

func addTool(s *Session, def ToolDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[def.Name] = def
	if len(def.InputSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def.InputSchema))
		if err == nil {
			s.schemas[def.Name] = schema
		}
	}
}

func TestSessionInvokeRoundTrip(t *testing.T) {
	s, requests, respond := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{Name: "search_web"})

	go func() {
		req := <-requests
		if req.Method != "tools/call" {
			t.Errorf("expected tools/call, got %q", req.Method)
		}
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			t.Errorf("decode params: %v", err)
		}
		if params.Name != "search_web" || params.Arguments["query"] != "acme portfolio" {
			t.Errorf("unexpected params: %+v", params)
		}
		respond(map[string]any{
			"jsonrpc": jsonrpc.Version,
			"id":      json.RawMessage(req.ID),
			"result":  map[string]any{"content": []any{}},
		})
	}()

	raw, err := s.Invoke(context.Background(), "search_web", map[string]any{"query": "acme portfolio"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(raw) != `{"content":[]}` {
		t.Errorf("unexpected result: %s", raw)
	}
}

// An unknown tool fails locally without sending a request.
func TestSessionInvokeUnknownToolFastFails(t *testing.T) {
	s, requests, _ := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{Name: "search_web"})

	_, err := s.Invoke(context.Background(), "extract_pdf", nil)
	var ute *UnknownToolError
	if !errors.As(err, &ute) {
		t.Fatalf("expected *UnknownToolError, got %v", err)
	}
	if ute.Server != "research" || ute.Tool != "extract_pdf" {
		t.Errorf("unexpected error fields: %+v", ute)
	}

	select {
	case req := <-requests:
		t.Errorf("unexpected request on the wire: %+v", req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionInvokeSchemaRejectsBadArgs(t *testing.T) {
	s, _, _ := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{
		Name:        "search_web",
		InputSchema: json.RawMessage(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
	})

	_, err := s.Invoke(context.Background(), "search_web", map[string]any{"q": "typo"})
	var iae *InvalidArgumentsError
	if !errors.As(err, &iae) {
		t.Fatalf("expected *InvalidArgumentsError, got %v", err)
	}
	if len(iae.Causes) == 0 {
		t.Error("expected at least one cause")
	}
}

func TestSessionInvokeRemoteError(t *testing.T) {
	s, requests, respond := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{Name: "search_web"})

	go func() {
		req := <-requests
		respond(map[string]any{
			"jsonrpc": jsonrpc.Version,
			"id":      json.RawMessage(req.ID),
			"error":   map[string]any{"code": -32001, "message": "rate limited"},
		})
	}()

	_, err := s.Invoke(context.Background(), "search_web", map[string]any{})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if re.Code != -32001 || re.Message != "rate limited" {
		t.Errorf("unexpected remote error: %+v", re)
	}
}

func TestSessionInvokeTimeout(t *testing.T) {
	s, requests, respond := pipeSession(t, ServerConfig{Name: "research", InvokeTimeout: 30 * time.Millisecond})
	addTool(s, ToolDef{Name: "search_web"})

	// Drain the first request but never answer it.
	go func() { <-requests }()

	start := time.Now()
	_, err := s.Invoke(context.Background(), "search_web", map[string]any{})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if te.Tool != "search_web" {
		t.Errorf("timeout should name the tool, got %q", te.Tool)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("invoke returned before the deadline")
	}

	// A fired timeout must not wedge the session: the next call round-trips
	// normally.
	go func() {
		req := <-requests
		respond(map[string]any{
			"jsonrpc": jsonrpc.Version,
			"id":      json.RawMessage(req.ID),
			"result":  map[string]any{"recovered": true},
		})
	}()
	raw, err := s.Invoke(context.Background(), "search_web", map[string]any{})
	if err != nil {
		t.Fatalf("invoke after timeout: %v", err)
	}
	if string(raw) != `{"recovered":true}` {
		t.Errorf("unexpected result: %s", raw)
	}
}

func TestSessionCloseSettlesWaiters(t *testing.T) {
	s, requests, _ := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{Name: "search_web"})

	go func() { <-requests }()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), "search_web", map[string]any{})
		errCh <- err
	}()

	// Let the invoke get registered and written before closing.
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter did not settle after Close")
	}

	if _, err := s.Invoke(context.Background(), "search_web", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Invoke after Close: expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestSessionNotificationsDoNotSettleCalls(t *testing.T) {
	s, requests, respond := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{Name: "search_web"})

	go func() {
		req := <-requests
		respond(map[string]any{"jsonrpc": jsonrpc.Version, "method": "notifications/progress", "params": map[string]any{"pct": 50}})
		respond(map[string]any{
			"jsonrpc": jsonrpc.Version,
			"id":      json.RawMessage(req.ID),
			"result":  map[string]any{"done": true},
		})
	}()

	raw, err := s.Invoke(context.Background(), "search_web", map[string]any{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(raw) != `{"done":true}` {
		t.Errorf("unexpected result: %s", raw)
	}
}

// A response that settles the call before cancellation takes effect must be
// delivered; Invoke never returns a nil result with a nil error.
func TestSessionInvokeResponseWinsOverCancel(t *testing.T) {
	s, requests, respond := pipeSession(t, ServerConfig{Name: "research"})
	addTool(s, ToolDef{Name: "search_web"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		req := <-requests
		respond(map[string]any{
			"jsonrpc": jsonrpc.Version,
			"id":      json.RawMessage(req.ID),
			"result":  map[string]any{"done": true},
		})
		// Cancel only once the response has claimed the pending slot, so
		// cancellation is guaranteed to lose the race.
		for s.corr.Pending() > 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	raw, err := s.Invoke(ctx, "search_web", map[string]any{})
	if err != nil {
		t.Fatalf("settled response must be delivered, got error %v", err)
	}
	if string(raw) != `{"done":true}` {
		t.Errorf("unexpected result: %s", raw)
	}
}

func TestSessionInvokeBeforeStart(t *testing.T) {
	s := NewSession(ServerConfig{Name: "research"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := s.Invoke(context.Background(), "anything", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestSessionStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateUnstarted: "unstarted",
		StateStarting:  "starting",
		StateReady:     "ready",
		StateClosed:    "closed",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
