package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseError reports a line that could not be decoded as JSON. The stream
// itself is fine; processing continues with the next line.
type ParseError struct {
	Line []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v (raw: %s)", e.Err, truncate(string(e.Line), 200))
}

func (e *ParseError) Unwrap() error { return e.Err }

// FrameReader reassembles newline-delimited JSON messages from arbitrarily
// chunked stream input. Feed may be called with any split of the byte stream;
// messages are emitted in the exact order their terminating newlines appear.
//
// FrameReader is not safe for concurrent use: a single reader goroutine owns
// it for the lifetime of the stream.
type FrameReader struct {
	onMessage func(*Message)
	onError   func(error)
	buf       []byte
}

// NewFrameReader creates a reader that delivers parsed messages to onMessage
// and parse failures to onError. onError may be nil.
func NewFrameReader(onMessage func(*Message), onError func(error)) *FrameReader {
	return &FrameReader{onMessage: onMessage, onError: onError}
}

// Feed appends chunk to the internal buffer and emits one message per
// complete line. The trailing fragment (no newline yet) is retained for the
// next call. An empty chunk is a no-op.
func (r *FrameReader) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.buf = append(r.buf, chunk...)
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return
		}
		line := r.buf[:i]
		r.buf = r.buf[i+1:]
		r.emit(line)
	}
}

// Buffered returns the number of bytes held as an incomplete trailing
// fragment. Diagnostic only.
func (r *FrameReader) Buffered() int { return len(r.buf) }

func (r *FrameReader) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		if r.onError != nil {
			// Copy: the slice aliases the live buffer.
			r.onError(&ParseError{Line: append([]byte(nil), line...), Err: err})
		}
		return
	}
	r.onMessage(&msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
