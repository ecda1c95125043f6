// Package streaming defines the journal streaming protocol: JSON envelopes
// sent over a WebSocket, acknowledged by the collector for activation
// boundaries.
package streaming

import (
	"encoding/json"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeActivation = "activation"
	TypeTransition = "transition"
	TypeScene      = "scene"
	TypeAnchor     = "anchor"
	TypeSpawn      = "spawn"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the collector's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
	ID   string `json:"id,omitempty"`
}

// ScenePayload carries a fetched scene. Records hold a pointer to the
// descriptor; the payload flattens it for the collector.
type ScenePayload struct {
	ActivationID string                `json:"activationId"`
	Scene        *core.SceneDescriptor `json:"scene"`
}
