package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookie-ar/markerscene/internal/content"
	"github.com/rookie-ar/markerscene/internal/dispatcher"
	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/engine/headless"
	"github.com/rookie-ar/markerscene/internal/orchestrator"
	"github.com/rookie-ar/markerscene/pkg/bridge"
	"github.com/rookie-ar/markerscene/pkg/core"
)

type markerScenes struct{}

func (markerScenes) FetchSceneAt(_ context.Context, _, markerID string) (*core.SceneDescriptor, error) {
	return &core.SceneDescriptor{
		SceneID: "scene-" + markerID,
		Marker:  &core.Marker{MarkerID: markerID, ImageURL: "https://img.example/" + markerID, PhysicalWidthM: 0.2},
	}, nil
}

type acceptingRegistrar struct{}

func (acceptingRegistrar) Register(context.Context, string, string, float64) error { return nil }

type emptyLoader struct{}

func (emptyLoader) Fetch(context.Context, string) (*content.Document, error) {
	return nil, errors.New("no content")
}
func (emptyLoader) Instantiate(*content.Document) (engine.NodeID, error) {
	return engine.NoNode, errors.New("no content")
}
func (emptyLoader) Unload(engine.NodeID) error                  { return nil }
func (emptyLoader) Prefetch(context.Context, []string, int) int { return 0 }
func (emptyLoader) ClearPrefetched()                            {}

func TestBridge_LaterActivationWins(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch, err := orchestrator.New(orchestrator.Deps{
		Scenes:    markerScenes{},
		Registrar: acceptingRegistrar{},
		Loader:    emptyLoader{},
		Graph:     headless.NewGraph(),
		Tracker:   headless.NewTracker(),
		Logger:    logger,
	}, orchestrator.Config{})
	require.NoError(t, err)
	defer orch.Close()

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	defer d.Close()
	b := bridge.New(d, io.Discard, logger)
	s := NewService(Dependencies{Orchestrator: orch, Notifier: b, Logger: logger})
	s.Register(d)
	defer s.Close()

	for round := 1; round <= 20; round++ {
		for _, id := range []string{"OLD", "NEW"} {
			reply := b.Handle(fmt.Sprintf(`%s|{"markerId":%q,"backendBase":"https://api.example"}`, CmdActivate, id))
			require.Contains(t, reply, `"ok"`, reply)
		}

		wantGen := uint64(2 * round)
		var st orchestrator.Status
		require.Eventually(t, func() bool {
			st, err = orch.Status(context.Background())
			return err == nil && st.Generation == wantGen && st.State == orchestrator.StateAwaitingTracking
		}, 2*time.Second, 5*time.Millisecond, "round %d", round)
		assert.Equal(t, "NEW", st.MarkerID, "round %d", round)
		assert.Equal(t, "scene-NEW", st.SceneID, "round %d", round)
	}
}
