// Package jsonrpc implements the newline-delimited JSON-RPC 2.0 wire layer
// spoken by tool-server subprocesses.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version stamped on every outgoing message.
const Version = "2.0"

// Message is a single JSON-RPC object. Depending on which fields are set it
// is a request (ID + Method), a response (ID + Result or Error), or a
// notification (Method, no ID).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a response.
type Error struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
	}
	return "jsonrpc error: " + e.Message
}

// IsResponse reports whether the message completes an outstanding request.
func (m *Message) IsResponse() bool {
	return len(m.ID) > 0 && m.Method == ""
}

// IsNotification reports whether the message is a notification. Notifications
// never complete a pending request.
func (m *Message) IsNotification() bool {
	return len(m.ID) == 0 && m.Method != ""
}

// IDKey returns the canonical correlation key for the message id: string ids
// are unquoted, numeric ids keep their literal form. The second return is
// false when the message carries no id.
func (m *Message) IDKey() (string, bool) {
	if len(m.ID) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		return s, true
	}
	return string(m.ID), true
}

// NewRequest builds a request envelope with a numeric id.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification builds a notification envelope (no id).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
