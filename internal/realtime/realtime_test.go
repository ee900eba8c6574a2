package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNotification_JSONRoundTrip(t *testing.T) {
	n := Notification{
		ID:        "evt-1",
		SessionID: "sess-1",
		EventType: "pre_tool_use",
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Notification
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != n.ID || got.EventType != n.EventType {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, n)
	}
}

func TestNewSubscriber_DefaultsPollInterval(t *testing.T) {
	s := NewSubscriber(nil, zerolog.Nop(), 0)
	if s.pollInterval != time.Second {
		t.Errorf("expected default 1s poll interval, got %v", s.pollInterval)
	}
}
