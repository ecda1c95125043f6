// Package stream implements the storage.Backend interface by streaming
// journal records to a remote collector over a WebSocket.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/pkg/core"
	"github.com/rookie-ar/markerscene/pkg/streaming"
)

// Backend streams journal records. Activation records wait for the
// collector's ack; everything else is fire-and-forget.
type Backend struct {
	conn *connection
	cfg  config.StreamConfig
}

// New creates a new streaming backend.
func New(cfg config.StreamConfig, log zerolog.Logger) *Backend {
	return &Backend{
		conn: newConnection(log.With().Str("component", "stream").Logger()),
		cfg:  cfg,
	}
}

// Init connects to the collector.
func (b *Backend) Init() error {
	if b.cfg.URL == "" {
		return errors.New("stream URL is required")
	}
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the collector.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	if !b.conn.send(data) {
		return fmt.Errorf("stream queue full, %s dropped", msgType)
	}
	return nil
}

// RecordActivation sends the activation and waits for the collector's ack.
// The message is kept for replay after a reconnect.
func (b *Backend) RecordActivation(r *core.ActivationRecord) error {
	data, err := marshalEnvelope(streaming.TypeActivation, r)
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.replay = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeActivation, r.ActivationID, ackTimeout)
}

func (b *Backend) RecordTransition(r *core.TransitionRecord) error {
	return b.sendEnvelope(streaming.TypeTransition, r)
}

func (b *Backend) RecordScene(r *core.SceneRecord) error {
	return b.sendEnvelope(streaming.TypeScene, streaming.ScenePayload{
		ActivationID: r.ActivationID,
		Scene:        r.Descriptor,
	})
}

func (b *Backend) RecordAnchor(r *core.AnchorRecord) error {
	return b.sendEnvelope(streaming.TypeAnchor, r)
}

func (b *Backend) RecordSpawn(r *core.SpawnRecord) error {
	return b.sendEnvelope(streaming.TypeSpawn, r)
}
