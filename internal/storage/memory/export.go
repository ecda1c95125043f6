package memory

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/rookie-ar/markerscene/internal/geo"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// ExportVersion is written into every export file.
const ExportVersion = 1

// Export is the root of an export file.
type Export struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exportedAt"`
	Activations []ActivationExport `json:"activations"`
}

// ActivationExport is one activation in an export file.
type ActivationExport struct {
	ActivationID string                  `json:"activationId"`
	Generation   uint64                  `json:"generation"`
	MarkerID     string                  `json:"markerId"`
	BackendURL   string                  `json:"backendUrl"`
	StartedAt    time.Time               `json:"startedAt"`
	Scene        *core.SceneDescriptor   `json:"scene,omitempty"`
	Transitions  []core.TransitionRecord `json:"transitions"`
	Anchors      []core.AnchorRecord     `json:"anchors"`
	Spawns       []core.SpawnRecord      `json:"spawns"`
	// AnchorTrack is the anchor path as WKT, empty with fewer than two samples.
	AnchorTrack string `json:"anchorTrack,omitempty"`
}

// Export writes the journal to path as msgpack.
func (b *Backend) Export(path string) error {
	start := time.Now()
	export := b.buildExport()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	b.log.Info().
		Str("path", path).
		Int("activations", len(export.Activations)).
		Dur("duration", time.Since(start)).
		Msg("Journal exported")
	return nil
}

func (b *Backend) buildExport() Export {
	logs := b.Activations()
	export := Export{
		Version:     ExportVersion,
		ExportedAt:  time.Now().UTC(),
		Activations: make([]ActivationExport, 0, len(logs)),
	}
	for _, l := range logs {
		ae := ActivationExport{
			ActivationID: l.Activation.ActivationID,
			Generation:   l.Activation.Generation,
			MarkerID:     l.Activation.MarkerID,
			BackendURL:   l.Activation.BackendURL,
			StartedAt:    l.Activation.StartedAt,
			Scene:        l.Scene,
			Transitions:  l.Transitions,
			Anchors:      l.Anchors,
			Spawns:       l.Spawns,
		}
		if len(l.Anchors) >= 2 {
			positions := make([]core.Vec3, len(l.Anchors))
			for i, a := range l.Anchors {
				positions[i] = a.Pose.Position
			}
			if track, err := geo.TrackFromPositions(positions); err == nil {
				ae.AnchorTrack = track.AsText()
			}
		}
		export.Activations = append(export.Activations, ae)
	}
	return export
}

// ReadExport decodes an export file.
func ReadExport(path string) (*Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := msgpack.NewDecoder(bufio.NewReader(f))
	dec.SetCustomStructTag("json")
	var export Export
	if err := dec.Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}
	if export.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %d", export.Version)
	}
	return &export, nil
}
