package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/trydex/claude-code-viewer/internal/events"
	eventbus "github.com/trydex/claude-code-viewer/internal/events/bus"
)

func TestBroadcasterForwardsAllKinds(t *testing.T) {
	b := eventbus.NewMemoryEventBus(nil)
	defer b.Close()

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	bc := NewBroadcaster(hub, b, nil)
	if err := bc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer bc.Stop()

	// A fake client wired straight into the hub.
	client := &Client{ID: "test", send: make(chan []byte, 16), hub: hub}
	hub.Register(client)

	deadline := time.After(2 * time.Second)
	for hub.ClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for client registration")
		case <-time.After(5 * time.Millisecond):
		}
	}

	payloads := []events.Payload{
		events.SessionProcessChanged{SessionProcessID: "sp-1", State: "running"},
		events.PermissionRequested{RequestID: "pr-1", ToolName: "Bash"},
		events.SchedulerJobFinished{JobID: "job-1", Status: "success"},
	}
	for _, p := range payloads {
		if err := b.Publish(context.Background(), events.NewEnvelope(p)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for i := range payloads {
		select {
		case frame := <-client.send:
			env, err := events.Unmarshal(frame)
			if err != nil {
				t.Fatalf("frame %d is not a valid envelope: %v", i, err)
			}
			if env.EventKind != payloads[i].Kind() {
				t.Errorf("frame %d: expected kind %s, got %s", i, payloads[i].Kind(), env.EventKind)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestBroadcasterStopUnsubscribes(t *testing.T) {
	b := eventbus.NewMemoryEventBus(nil)
	defer b.Close()

	hub := NewHub(nil)
	bc := NewBroadcaster(hub, b, nil)
	if err := bc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	bc.Stop()

	// After Stop, publishing must not queue frames into the hub.
	if err := b.Publish(context.Background(), events.NewEnvelope(events.SessionChanged{ProjectID: "p", SessionID: "s"})); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case frame := <-hub.broadcast:
		t.Fatalf("unexpected frame after Stop: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}
