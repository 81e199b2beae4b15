package events

import (
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		ID:        "evt-1",
		EventKind: KindPermissionRequested,
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Payload: PermissionRequested{
			RequestID:        "pr-1",
			SessionProcessID: "sp-1",
			ProjectID:        "proj-1",
			ToolName:         "Bash",
		},
	}

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != env.ID || decoded.EventKind != env.EventKind {
		t.Errorf("envelope metadata mismatch: %+v", decoded)
	}
	payload, ok := decoded.Payload.(PermissionRequested)
	if !ok {
		t.Fatalf("unexpected payload type %T", decoded.Payload)
	}
	if payload.RequestID != "pr-1" || payload.ToolName != "Bash" {
		t.Errorf("payload mismatch: %+v", payload)
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"x","kind":"bogus.kind","payload":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown event kind")
	}
}
