package toolserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is delivered to every caller still waiting when a session shuts
// down, and returned by Invoke on a session that is no longer usable.
var ErrClosed = errors.New("tool server session closed")

// ErrNotReady is returned by Invoke before the handshake has completed.
var ErrNotReady = errors.New("tool server session not ready")

// UnknownToolError is returned locally when a tool name is not in the
// server's advertised tool list. No request is sent.
type UnknownToolError struct {
	Server string
	Tool   string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q not provided by server %q", e.Tool, e.Server)
}

// TimeoutError is delivered when a request's deadline elapses before the
// server responds. A late response for the same id is discarded.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("call %q timed out after %s", e.Tool, e.Timeout)
	}
	return fmt.Sprintf("call timed out after %s", e.Timeout)
}

// RemoteError carries the error member of a JSON-RPC response.
type RemoteError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
	}
	return "server error: " + e.Message
}

// InvalidArgumentsError is returned locally when tool arguments fail the
// tool's declared input schema. No request is sent.
type InvalidArgumentsError struct {
	Tool   string
	Causes []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %q: %s", e.Tool, strings.Join(e.Causes, "; "))
}
