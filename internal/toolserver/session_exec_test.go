package toolserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"
)

// shellServer answers the handshake and one tools/call by hand, then idles
// until stdin closes.
const shellServer = `read line
echo '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-06-18","serverInfo":{"name":"sh-server"}}}'
read line
read line
echo '{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"ping","description":"echo back"}]}}'
read line
echo '{"jsonrpc":"2.0","id":3,"result":{"content":[{"type":"text","text":"pong"}]}}'
cat >/dev/null
`

func TestSessionAgainstRealSubprocess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	s := NewSession(ServerConfig{
		Name:          "shell",
		Command:       "sh",
		Args:          []string{"-c", shellServer},
		InvokeTimeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if got := s.State(); got != StateReady {
		t.Fatalf("state after start: %s", got)
	}
	if !s.HasTool("ping") {
		t.Fatalf("tools/list not applied: %v", s.Tools())
	}

	raw, err := s.Invoke(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var res struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &res); err != nil || len(res.Content) != 1 || res.Content[0].Text != "pong" {
		t.Fatalf("invoke result: %s (%v)", raw, err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subprocess did not exit after close")
	}
}
