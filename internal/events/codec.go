package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEnvelope is the JSON shape used when an envelope crosses a process
// boundary (the NATS bus). The payload is kept raw until the kind is known.
type wireEnvelope struct {
	ID        string          `json:"id"`
	EventKind Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Marshal encodes an envelope for transport.
func Marshal(env *Envelope) ([]byte, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return json.Marshal(wireEnvelope{
		ID:        env.ID,
		EventKind: env.EventKind,
		Timestamp: env.Timestamp,
		Payload:   payload,
	})
}

// Unmarshal decodes an envelope from transport, reconstructing the typed
// payload from the kind field.
func Unmarshal(data []byte) (*Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	payload, err := decodePayload(wire.EventKind, wire.Payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:        wire.ID,
		EventKind: wire.EventKind,
		Timestamp: wire.Timestamp,
		Payload:   payload,
	}, nil
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	switch kind {
	case KindSessionProcessChanged:
		var p SessionProcessChanged
		return p, json.Unmarshal(data, &p)
	case KindSessionChanged:
		var p SessionChanged
		return p, json.Unmarshal(data, &p)
	case KindPermissionRequested:
		var p PermissionRequested
		return p, json.Unmarshal(data, &p)
	case KindPermissionResolved:
		var p PermissionResolved
		return p, json.Unmarshal(data, &p)
	case KindProjectSessionListChanged:
		var p ProjectSessionListChanged
		return p, json.Unmarshal(data, &p)
	case KindSchedulerJobFinished:
		var p SchedulerJobFinished
		return p, json.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
}
