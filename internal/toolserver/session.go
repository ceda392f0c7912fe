// Package toolserver manages tool-server subprocesses: spawning, the
// line-delimited JSON-RPC conversation over stdio, and correlation of
// responses back to in-flight calls.
package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/executil"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/jsonrpc"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/metrics"
)

// State tracks a session through its life. Transitions only move forward.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	protocolVersion      = "2025-06-18"
	defaultInvokeTimeout = 30 * time.Second
)

// ServerConfig describes one tool server to spawn.
type ServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`

	// InvokeTimeout bounds each tools/call round trip. Zero means the
	// default of 30s.
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`
}

func (c ServerConfig) invokeTimeout() time.Duration {
	if c.InvokeTimeout > 0 {
		return c.InvokeTimeout
	}
	return defaultInvokeTimeout
}

// ToolDef is one entry from the server's tools/list response.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Session is one running tool-server subprocess. Start spawns and performs
// the handshake; after that Invoke may be called from any number of
// goroutines. A session is single-use: once closed it cannot be restarted.
type Session struct {
	cfg  ServerConfig
	log  *slog.Logger
	corr *Correlator

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	tools    map[string]ToolDef
	schemas  map[string]*gojsonschema.Schema
	exitCode int

	done chan struct{}
}

// NewSession prepares a session for cfg. Nothing runs until Start.
func NewSession(cfg ServerConfig, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		log:      log.With("server", cfg.Name),
		corr:     NewCorrelator(),
		state:    StateUnstarted,
		tools:    make(map[string]ToolDef),
		schemas:  make(map[string]*gojsonschema.Schema),
		exitCode: -1,
		done:     make(chan struct{}),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel that closes when the subprocess has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExitCode returns the subprocess exit code, valid after Done closes.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Tools returns the advertised tools, sorted by name.
func (s *Session) Tools() []ToolDef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolDef, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasTool reports whether the server advertised name.
func (s *Session) HasTool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tools[name]
	return ok
}

// Start spawns the subprocess and runs the handshake: initialize, the
// initialized notification, then tools/list. ctx bounds the handshake only;
// the session outlives it. On any failure the subprocess is torn down and
// the session is closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnstarted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start: session is %s", state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.spawn(); err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
		return err
	}

	go s.readLoop()
	go s.stderrLoop()
	go s.waitLoop()

	if err := s.handshake(ctx); err != nil {
		s.Close()
		return fmt.Errorf("handshake with %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.state = StateReady
	n := len(s.tools)
	s.mu.Unlock()

	s.log.Info("tool server ready", "pid", s.cmd.Process.Pid, "tools", n)
	return nil
}

func (s *Session) spawn() error {
	cmd, err := executil.Command(s.cfg.Command, s.cfg.Args...)
	if err != nil {
		return err
	}
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		for k, v := range s.cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", s.cfg.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	initParams := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    "smart-insurance",
			"version": "1.0",
		},
		"capabilities": map[string]any{},
	}
	if _, err := s.call(ctx, "initialize", initParams, s.cfg.invokeTimeout()); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if err := s.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	raw, err := s.call(ctx, "tools/list", map[string]any{}, s.cfg.invokeTimeout())
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	var listed struct {
		Tools []ToolDef `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return fmt.Errorf("decode tools/list result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range listed.Tools {
		s.tools[t.Name] = t
		if len(t.InputSchema) > 0 {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.InputSchema))
			if err != nil {
				s.log.Warn("unusable input schema, skipping validation", "tool", t.Name, "error", err)
				continue
			}
			s.schemas[t.Name] = schema
		}
	}
	return nil
}

// Invoke calls a tool and returns its raw result. Unknown tool names and
// schema-invalid arguments fail locally without touching the wire. Invoke
// blocks until the server responds, the per-call timeout elapses, ctx is
// cancelled, or the session closes.
func (s *Session) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrClosed
	case StateUnstarted, StateStarting:
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	_, known := s.tools[tool]
	schema := s.schemas[tool]
	s.mu.Unlock()

	if !known {
		metrics.ToolInvocations.WithLabelValues(s.cfg.Name, tool, "unknown_tool").Inc()
		return nil, &UnknownToolError{Server: s.cfg.Name, Tool: tool}
	}
	if schema != nil {
		if err := validateArgs(schema, tool, args); err != nil {
			metrics.ToolInvocations.WithLabelValues(s.cfg.Name, tool, "invalid_args").Inc()
			return nil, err
		}
	}

	params := map[string]any{
		"name":      tool,
		"arguments": args,
	}
	if args == nil {
		params["arguments"] = map[string]any{}
	}

	start := time.Now()
	raw, err := s.call(ctx, "tools/call", params, s.cfg.invokeTimeout())
	metrics.InvokeDuration.WithLabelValues(s.cfg.Name, tool).Observe(time.Since(start).Seconds())
	metrics.ToolInvocations.WithLabelValues(s.cfg.Name, tool, invokeOutcome(err)).Inc()

	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			te.Tool = tool
		}
		return nil, err
	}
	return raw, nil
}

func invokeOutcome(err error) string {
	var te *TimeoutError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &te):
		return "timeout"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "remote_error"
	}
}

// call performs one request/response round trip. The response, the timeout,
// ctx cancellation, and session shutdown all settle the same pending slot;
// whichever happens first wins.
func (s *Session) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := s.corr.NextID()
	msg, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	key, _ := msg.IDKey()
	ch := s.corr.Register(key, timeout)

	if err := s.write(msg); err != nil {
		s.corr.Fail(key, err)
		<-ch
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case out := <-ch:
		return out.Result, out.Err
	case <-ctx.Done():
		s.corr.Fail(key, ctx.Err())
		// The slot settles exactly once; if a response claimed it before
		// the Fail could, that settled outcome stands.
		out := <-ch
		if out.Err == nil {
			return out.Result, nil
		}
		return nil, out.Err
	}
}

func (s *Session) notify(method string, params any) error {
	msg, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.write(msg)
}

func (s *Session) write(msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.stdin == nil {
		return ErrClosed
	}
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}

// Close tears the session down: pending calls settle with ErrClosed and the
// subprocess is killed if still alive. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.corr.CancelAll(ErrClosed)

	s.writeMu.Lock()
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	s.writeMu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		// Grace period for a clean exit after stdin closes.
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.cmd.Process.Kill()
			<-s.done
		}
	}
	return nil
}

func (s *Session) readLoop() {
	fr := jsonrpc.NewFrameReader(
		func(msg *jsonrpc.Message) {
			if msg.IsResponse() {
				if !s.corr.Complete(msg) {
					key, _ := msg.IDKey()
					s.log.Debug("dropping response for settled request", "id", key)
				}
				return
			}
			if msg.IsNotification() {
				s.log.Debug("server notification", "method", msg.Method)
				return
			}
			s.log.Warn("unexpected server-initiated request", "method", msg.Method)
		},
		func(err error) {
			metrics.FrameParseErrors.WithLabelValues(s.cfg.Name).Inc()
			s.log.Warn("undecodable line from server", "error", err)
		},
	)

	buf := make([]byte, 64*1024)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			fr.Feed(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				s.log.Debug("stdout read ended", "error", err)
			}
			return
		}
	}
}

func (s *Session) stderrLoop() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		s.log.Debug("server stderr", "line", scanner.Text())
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.state = StateClosed
	if s.cmd.ProcessState != nil {
		s.exitCode = s.cmd.ProcessState.ExitCode()
	}
	code := s.exitCode
	s.mu.Unlock()

	// Exit settles whatever is still in flight. A response that raced the
	// exit and already settled its call is unaffected.
	s.corr.CancelAll(ErrClosed)

	if err != nil {
		s.log.Warn("tool server exited", "code", code, "error", err)
	} else {
		s.log.Info("tool server exited", "code", code)
	}
	close(s.done)
}

func validateArgs(schema *gojsonschema.Schema, tool string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments for %q: %w", tool, err)
	}
	if res.Valid() {
		return nil
	}
	causes := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		causes = append(causes, e.String())
	}
	return &InvalidArgumentsError{Tool: tool, Causes: causes}
}

