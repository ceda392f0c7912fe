package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestMessageClassification(t *testing.T) {
	t.Run("Response", func(t *testing.T) {
		var m Message
		if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":3,"result":{"ok":true}}`), &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !m.IsResponse() || m.IsNotification() {
			t.Errorf("expected response, got response=%v notification=%v", m.IsResponse(), m.IsNotification())
		}
		key, ok := m.IDKey()
		if !ok || key != "3" {
			t.Errorf("expected id key '3', got %q (ok=%v)", key, ok)
		}
	})

	t.Run("Notification", func(t *testing.T) {
		var m Message
		if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`), &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !m.IsNotification() || m.IsResponse() {
			t.Error("expected notification")
		}
		if _, ok := m.IDKey(); ok {
			t.Error("notification should have no id key")
		}
	})

	t.Run("StringID", func(t *testing.T) {
		var m Message
		if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"req-9","result":null}`), &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		key, ok := m.IDKey()
		if !ok || key != "req-9" {
			t.Errorf("expected id key 'req-9', got %q", key)
		}
	})
}

func TestNewRequestRoundTrip(t *testing.T) {
	msg, err := NewRequest(42, "tools/call", map[string]any{"name": "search_web"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Message
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.JSONRPC != Version {
		t.Errorf("expected jsonrpc %q, got %q", Version, back.JSONRPC)
	}
	if back.Method != "tools/call" {
		t.Errorf("expected method tools/call, got %q", back.Method)
	}
	key, _ := back.IDKey()
	if key != "42" {
		t.Errorf("expected id key '42', got %q", key)
	}
}

func TestNewNotificationHasNoID(t *testing.T) {
	msg, err := NewNotification("notifications/initialized", nil)
	if err != nil {
		t.Fatalf("NewNotification failed: %v", err)
	}
	if len(msg.ID) != 0 {
		t.Errorf("notification must not carry an id, got %s", msg.ID)
	}
	if msg.Params != nil {
		t.Errorf("nil params should stay empty, got %s", msg.Params)
	}
}
