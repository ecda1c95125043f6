package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rookie-ar/markerscene/internal/api"
	"github.com/rookie-ar/markerscene/internal/content"
	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/engine/headless"
	"github.com/rookie-ar/markerscene/internal/locator"
	"github.com/rookie-ar/markerscene/internal/marker"
	"github.com/rookie-ar/markerscene/pkg/core"
)

const assetGLTF = `{
	"asset": {"version": "2.0"},
	"scene": 0,
	"scenes": [{"nodes": [0]}],
	"nodes": [{"name": "body"}]
}`

const waitFor = 2 * time.Second

// gate blocks handlers until opened.
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) wait(r *http.Request) {
	select {
	case <-g.ch:
	case <-r.Context().Done():
	}
}

// backend serves scenes, marker images and assets.
type backend struct {
	mu          sync.Mutex
	scenes      map[string]*core.SceneDescriptor
	sceneStatus int
	sceneGates  map[string]*gate
	assetGate   *gate
	sceneHits   int
	markerHits  int
	assetHits   map[string]int
	assetOrder  []string

	srv *httptest.Server
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		scenes:     make(map[string]*core.SceneDescriptor),
		sceneGates: make(map[string]*gate),
		assetHits:  make(map[string]int),
	}

	var pngBuf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	require.NoError(t, png.Encode(&pngBuf, img))

	mux := http.NewServeMux()
	mux.HandleFunc(api.ScenePath, func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, api.ScenePath)
		b.mu.Lock()
		b.sceneHits++
		status, scene, g := b.sceneStatus, b.scenes[id], b.sceneGates[id]
		b.mu.Unlock()

		if g != nil {
			g.wait(r)
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if scene == nil {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(scene)
	})
	mux.HandleFunc("/markers/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.markerHits++
		b.mu.Unlock()
		w.Write(pngBuf.Bytes())
	})
	mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
		name := path.Base(r.URL.Path)
		b.mu.Lock()
		b.assetHits[name]++
		b.assetOrder = append(b.assetOrder, name)
		g := b.assetGate
		b.mu.Unlock()

		if g != nil {
			g.wait(r)
		}
		if strings.HasPrefix(name, "missing") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, assetGLTF)
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) assetURL(name string) string {
	return b.srv.URL + "/assets/" + name
}

func (b *backend) setScene(s *core.SceneDescriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scenes[s.Marker.MarkerID] = s
}

func (b *backend) counts() (scenes, markers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sceneHits, b.markerHits
}

func (b *backend) hits(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.assetHits[name]
}

func (b *backend) order() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.assetOrder...)
}

// scene builds a descriptor for markerID; every item's asset is served
// from the backend under "<assetId>.gltf" unless listed in assets.
func (b *backend) scene(markerID string, items ...core.Item) *core.SceneDescriptor {
	s := &core.SceneDescriptor{
		SceneID: "scene-" + markerID,
		Marker: &core.Marker{
			MarkerID:       markerID,
			ImageURL:       b.srv.URL + "/markers/" + markerID + ".png",
			PhysicalWidthM: 0.2,
		},
		Items: items,
	}
	seen := map[string]bool{}
	for _, it := range items {
		if it.AssetID == "" || seen[it.AssetID] {
			continue
		}
		seen[it.AssetID] = true
		s.Assets = append(s.Assets, core.Asset{
			AssetID:  it.AssetID,
			AssetURL: b.assetURL(it.AssetID + ".gltf"),
			Format:   "GLB",
		})
	}
	return s
}

type fakeJournal struct {
	mu          sync.Mutex
	activations []core.ActivationRecord
	transitions []core.TransitionRecord
	scenes      []core.SceneRecord
	anchors     []core.AnchorRecord
	spawns      []core.SpawnRecord
}

func (j *fakeJournal) RecordActivation(r *core.ActivationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.activations = append(j.activations, *r)
	return nil
}

func (j *fakeJournal) RecordTransition(r *core.TransitionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, *r)
	return nil
}

func (j *fakeJournal) RecordScene(r *core.SceneRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scenes = append(j.scenes, *r)
	return nil
}

func (j *fakeJournal) RecordAnchor(r *core.AnchorRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.anchors = append(j.anchors, *r)
	return nil
}

func (j *fakeJournal) RecordSpawn(r *core.SpawnRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.spawns = append(j.spawns, *r)
	return nil
}

type fakeTelemetry struct {
	mu      sync.Mutex
	loads   []string
	spawned []int
}

func (f *fakeTelemetry) AssetLoaded(_, assetID string, _ int64, _ time.Duration, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, assetID)
}

func (f *fakeTelemetry) SpawnFinished(_, _ string, spawned, _ int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, spawned)
}

type harness struct {
	t         *testing.T
	backend   *backend
	graph     *headless.Graph
	tracker   *headless.Tracker
	journal   *fakeJournal
	telemetry *fakeTelemetry
	orch      *Orchestrator
	ready     chan string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		t:         t,
		backend:   newBackend(t),
		graph:     headless.NewGraph(),
		tracker:   headless.NewTracker(),
		journal:   &fakeJournal{},
		telemetry: &fakeTelemetry{},
		ready:     make(chan string, 8),
	}
	client := api.New(h.backend.srv.URL, api.WithTimeout(5*time.Second))
	eng := engine.Engine{
		Graph:   h.graph,
		Shaders: headless.NewShaders(content.ShaderPBR),
		Tracker: h.tracker,
	}
	loader := content.NewLoader(locator.NewPublicResolver(""), client, eng,
		content.Options{FallbackShaders: []string{content.ShaderPBR}}, logger)

	cfg.OnSceneReady = func(_ string, req core.ActivationRequest) {
		h.ready <- req.MarkerID
	}
	o, err := New(Deps{
		Scenes:    client,
		Registrar: marker.NewRegistrar(h.tracker, client, 5*time.Second, logger),
		Loader:    loader,
		Graph:     h.graph,
		Tracker:   h.tracker,
		Journal:   h.journal,
		Telemetry: h.telemetry,
		Logger:    logger,
	}, cfg)
	require.NoError(t, err)
	h.orch = o
	t.Cleanup(func() { o.Close() })
	return h
}

func (h *harness) activate(markerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return h.orch.Activate(ctx, core.ActivationRequest{MarkerID: markerID, BackendBaseURL: h.backend.srv.URL})
}

func (h *harness) status() Status {
	h.t.Helper()
	st, err := h.orch.Status(context.Background())
	require.NoError(h.t, err)
	return st
}

func (h *harness) waitState(want State) Status {
	h.t.Helper()
	var st Status
	require.Eventually(h.t, func() bool {
		st = h.status()
		return st.State == want
	}, waitFor, 5*time.Millisecond, "state never reached %s", want)
	return st
}

func (h *harness) emit(name string, state core.TrackingState, pose core.Pose) {
	h.tracker.Emit(core.TrackedImagesChanged{
		Updated: []core.TrackedImage{{ReferenceName: name, State: state, Pose: pose}},
	})
}

func pose(x, y, z float64) core.Pose {
	return core.Pose{Position: core.Vec3{X: x, Y: y, Z: z}, Rotation: core.IdentityQuat}
}

func item(assetID string, order int) core.Item {
	return core.Item{AssetID: assetID, OrderIndex: order, Scale: core.One}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scene source is required")
}

func TestScenarioA_SpawnsItemAtAnchor(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))

	require.NoError(t, h.activate("M1"))
	assert.Equal(t, "M1", <-h.ready)
	assert.Equal(t, StateAwaitingTracking, h.status().State)
	assert.Equal(t, 1, h.tracker.Subscribers())

	at := pose(0.1, 0.2, -1)
	h.emit("M1", core.TrackingTracking, at)

	st := h.waitState(StateSteady)
	require.Len(t, st.Spawned, 1)
	node, ok := st.Spawned["A1"]
	require.True(t, ok)

	anchor, ok := h.graph.FindNode(AnchorName)
	require.True(t, ok)
	assert.Equal(t, anchor, st.Anchor)
	assert.Equal(t, h.graph.DefaultParent(), h.graph.Parent(anchor))
	got, err := h.graph.WorldPose(anchor)
	require.NoError(t, err)
	assert.Equal(t, at, got)

	assert.Equal(t, "ARItem_A1", h.graph.Name(node))
	assert.Equal(t, anchor, h.graph.Parent(node))
	local, err := h.graph.LocalTransform(node)
	require.NoError(t, err)
	assert.Equal(t, core.One, local.Scale)
	assert.Equal(t, core.Vec3{}, local.Position)
}

func TestScenarioB_ZeroScaleBecomesDefault(t *testing.T) {
	h := newHarness(t, Config{})
	it := item("A1", 0)
	it.Scale = core.Vec3{}
	h.backend.setScene(h.backend.scene("M1", it))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))

	st := h.waitState(StateSteady)
	local, err := h.graph.LocalTransform(st.Spawned["A1"])
	require.NoError(t, err)
	assert.Equal(t, core.Vec3{X: 0.2, Y: 0.2, Z: 0.2}, local.Scale)
}

func TestScenarioC_UnknownAssetIsSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.backend.scene("M1")
	s.Items = []core.Item{item("A2", 0)}
	h.backend.setScene(s)

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))

	st := h.waitState(StateSteady)
	assert.Empty(t, st.Spawned)
	assert.Empty(t, st.LastError)
	assert.Empty(t, h.backend.order())
}

func TestScenarioD_SceneFetchFailureStopsBeforeRegistration(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.sceneStatus = http.StatusInternalServerError

	err := h.activate("M1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNetwork)

	st := h.status()
	assert.Equal(t, StateFailed, st.State)
	assert.NotEmpty(t, st.LastError)

	scenes, markers := h.backend.counts()
	assert.Equal(t, 1, scenes)
	assert.Equal(t, 0, markers)
	assert.Equal(t, 0, h.tracker.Scheduled())
	assert.Equal(t, 0, h.tracker.Subscribers())
}

func TestActivate_InvalidInputMakesNoNetworkCall(t *testing.T) {
	h := newHarness(t, Config{})

	for _, req := range []core.ActivationRequest{
		{MarkerID: "", BackendBaseURL: h.backend.srv.URL},
		{MarkerID: "M1", BackendBaseURL: "  "},
	} {
		err := h.orch.Activate(context.Background(), req)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	}

	assert.Equal(t, StateIdle, h.status().State)
	scenes, _ := h.backend.counts()
	assert.Equal(t, 0, scenes)
}

func TestActivate_SceneWithoutMarkerFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.scenes["M1"] = &core.SceneDescriptor{SceneID: "bare"}

	err := h.activate("M1")
	assert.ErrorIs(t, err, core.ErrDecode)
	assert.Equal(t, StateFailed, h.status().State)
}

func TestActivate_RegistrationFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	h.tracker.FailRegistration("M1", errors.New("image has too few features"))

	err := h.activate("M1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too few features")
	assert.Equal(t, StateFailed, h.status().State)
	assert.Equal(t, 0, h.tracker.Subscribers())
}

func TestTracking_IgnoresOtherMarkersAndStateNone(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))

	h.emit("OTHER", core.TrackingTracking, pose(1, 1, 1))
	h.emit("M1", core.TrackingNone, pose(2, 2, 2))

	st := h.status()
	assert.Equal(t, StateAwaitingTracking, st.State)
	assert.Equal(t, engine.NoNode, st.Anchor)
	_, ok := h.graph.FindNode(AnchorName)
	assert.False(t, ok)
	assert.Empty(t, h.backend.order())
}

func TestTracking_LimitedPlacesAnchorWithoutSpawning(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))

	h.emit("M1", core.TrackingLimited, pose(1, 0, 0))
	st := h.status()
	assert.Equal(t, StateAwaitingTracking, st.State)
	require.NotEqual(t, engine.NoNode, st.Anchor)

	h.emit("M1", core.TrackingTracking, pose(2, 0, 0))
	st = h.waitState(StateSteady)
	assert.Len(t, st.Spawned, 1)

	// One anchor, moved rather than recreated.
	got, err := h.graph.WorldPose(st.Anchor)
	require.NoError(t, err)
	assert.Equal(t, pose(2, 0, 0), got)
	assert.Len(t, h.graph.Children(h.graph.DefaultParent()), 1)
}

func TestTracking_AddedStartsSpawn(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))

	h.tracker.Emit(core.TrackedImagesChanged{
		Added: []core.TrackedImage{{ReferenceName: "M1", State: core.TrackingTracking, Pose: pose(0, 0, -1)}},
	})
	st := h.waitState(StateSteady)
	assert.Contains(t, st.Spawned, "A1")
	got, err := h.graph.WorldPose(st.Anchor)
	require.NoError(t, err)
	assert.Equal(t, pose(0, 0, -1), got)
}

func TestTracking_AddedThenUpdatedInOneEvent(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))

	h.tracker.Emit(core.TrackedImagesChanged{
		Added:   []core.TrackedImage{{ReferenceName: "M1", State: core.TrackingLimited, Pose: pose(1, 0, 0)}},
		Updated: []core.TrackedImage{{ReferenceName: "M1", State: core.TrackingTracking, Pose: pose(2, 0, 0)}},
	})
	st := h.waitState(StateSteady)
	got, err := h.graph.WorldPose(st.Anchor)
	require.NoError(t, err)
	assert.Equal(t, pose(2, 0, 0), got)
	assert.Len(t, h.graph.Children(h.graph.DefaultParent()), 1)
}

func TestTracking_RemovedIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))

	removed := core.TrackedImagesChanged{
		Removed: []core.TrackedImage{{ReferenceName: "M1", State: core.TrackingTracking, Pose: pose(5, 5, 5)}},
	}
	h.tracker.Emit(removed)

	st := h.status()
	assert.Equal(t, StateAwaitingTracking, st.State)
	assert.Equal(t, engine.NoNode, st.Anchor)
	_, ok := h.graph.FindNode(AnchorName)
	assert.False(t, ok)
	assert.Empty(t, h.backend.order())

	// Once an anchor exists, removals neither move it nor start the spawn.
	h.emit("M1", core.TrackingLimited, pose(1, 0, 0))
	h.tracker.Emit(removed)

	st = h.status()
	assert.Equal(t, StateAwaitingTracking, st.State)
	require.NotEqual(t, engine.NoNode, st.Anchor)
	got, err := h.graph.WorldPose(st.Anchor)
	require.NoError(t, err)
	assert.Equal(t, pose(1, 0, 0), got)
	assert.Empty(t, h.backend.order())
}

func TestTracking_FullMailboxDelaysButKeepsEvents(t *testing.T) {
	h := newHarness(t, Config{MailboxSize: 1})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))

	for i := 1; i <= 50; i++ {
		h.emit("M1", core.TrackingLimited, pose(float64(i), 0, 0))
	}

	st := h.status()
	require.NotEqual(t, engine.NoNode, st.Anchor)
	got, err := h.graph.WorldPose(st.Anchor)
	require.NoError(t, err)
	assert.Equal(t, pose(50, 0, 0), got)
	assert.Equal(t, StateAwaitingTracking, st.State)
}

func TestTracking_SteadyOnlyMovesAnchor(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	before := h.waitState(StateSteady)

	h.emit("M1", core.TrackingTracking, pose(0, 1, 0))
	h.emit("M1", core.TrackingLimited, pose(0, 2, 0))

	after := h.status()
	assert.Equal(t, StateSteady, after.State)
	assert.Equal(t, before.Spawned, after.Spawned)
	assert.Equal(t, 1, h.backend.hits("A1.gltf"))
	got, err := h.graph.WorldPose(after.Anchor)
	require.NoError(t, err)
	assert.Equal(t, pose(0, 2, 0), got)
}

func TestSpawn_RepeatedTrackingRunsOnce(t *testing.T) {
	tests := []struct {
		name       string
		deliveries int
	}{
		{"once", 1},
		{"three times", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.backend.setScene(h.backend.scene("M1", item("A1", 0), item("A2", 1)))
			g := newGate()
			h.backend.assetGate = g
			t.Cleanup(g.open)
			require.NoError(t, h.activate("M1"))

			var wg sync.WaitGroup
			for i := 0; i < tt.deliveries; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
				}()
			}
			wg.Wait()
			assert.Equal(t, StateSpawning, h.status().State)
			g.open()

			st := h.waitState(StateSteady)
			assert.Len(t, st.Spawned, 2)
			assert.Equal(t, 1, h.backend.hits("A1.gltf"))
			assert.Equal(t, 1, h.backend.hits("A2.gltf"))
		})
	}
}

func TestSpawn_OrderSkipsAndPartialFailure(t *testing.T) {
	h := newHarness(t, Config{})
	s := h.backend.scene("M1", item("C", 2), item("A", 0), item("B", 1), item("A", 3))
	s.Items = append(s.Items,
		core.Item{Malformed: true},
		item("", 4),
		item("ghost", 5),
	)
	for i := range s.Assets {
		if s.Assets[i].AssetID == "B" {
			s.Assets[i].AssetURL = h.backend.assetURL("missing-B.gltf")
		}
	}
	h.backend.setScene(s)

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	st := h.waitState(StateSteady)

	assert.Equal(t, []string{"A.gltf", "missing-B.gltf", "C.gltf"}, h.backend.order())
	assert.Len(t, st.Spawned, 2)
	assert.Contains(t, st.Spawned, "A")
	assert.Contains(t, st.Spawned, "C")
	assert.NotContains(t, st.Spawned, "B")
	_, ok := h.graph.FindNode("ARItem_B")
	assert.False(t, ok)

	require.NoError(t, h.orch.Close())
	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	outcomes := map[core.SpawnOutcome]int{}
	for _, r := range h.journal.spawns {
		outcomes[r.Outcome]++
	}
	assert.Equal(t, 2, outcomes[core.SpawnOK])
	assert.Equal(t, 1, outcomes[core.SpawnLoadFailed])
	assert.Equal(t, 1, outcomes[core.SpawnUnknownAsset])
	assert.Equal(t, 3, outcomes[core.SpawnSkipped]) // malformed, empty id, duplicate A
}

func TestSpawn_EmptySceneGoesSteady(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1"))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))

	st := h.waitState(StateSteady)
	assert.Empty(t, st.Spawned)
	assert.NotEqual(t, engine.NoNode, st.Anchor)
}

func TestSpawn_SanitizesFarAndLargeItems(t *testing.T) {
	h := newHarness(t, Config{})
	it := item("A1", 0)
	it.Position = core.Vec3{X: 3, Y: 0, Z: 4}
	it.Rotation = core.Vec3{X: 10, Y: 20, Z: 30}
	it.Scale = core.Vec3{X: 5, Y: 0.01, Z: -2}
	h.backend.setScene(h.backend.scene("M1", it))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	st := h.waitState(StateSteady)

	local, err := h.graph.LocalTransform(st.Spawned["A1"])
	require.NoError(t, err)
	assert.InDelta(t, 0.3, local.Position.X, 1e-9)
	assert.InDelta(t, 0.4, local.Position.Z, 1e-9)
	assert.InDelta(t, 0.5, local.Position.Magnitude(), 1e-9)
	assert.Equal(t, it.Rotation, local.RotationEuler)
	assert.Equal(t, core.Vec3{X: 1.5, Y: 0.05, Z: 0.05}, local.Scale)
}

func TestSpawn_UnplacedContentIsUnloaded(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0), item("A2", 1)))
	g := newGate()
	h.backend.assetGate = g
	t.Cleanup(g.open)

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	require.Eventually(t, func() bool { return h.backend.hits("A1.gltf") == 1 }, waitFor, 5*time.Millisecond)

	st := h.status()
	assert.Equal(t, StateSpawning, st.State)
	assert.Equal(t, 1, st.Pending)

	// Without an anchor the loaded content cannot be parented.
	require.NoError(t, h.graph.DestroyNode(st.Anchor))
	g.open()

	st = h.waitState(StateSteady)
	assert.Empty(t, st.Spawned)
	assert.Zero(t, st.Pending)
	for _, name := range []string{"GLB:A1.gltf", "ARItem_A1", "GLB:A2.gltf", "ARItem_A2"} {
		_, ok := h.graph.FindNode(name)
		assert.False(t, ok, name)
	}
}

func TestActivate_WorldRoot(t *testing.T) {
	h := newHarness(t, Config{WorldRoot: "World"})
	world, err := h.graph.CreateNode("World", engine.NoNode)
	require.NoError(t, err)
	h.backend.setScene(h.backend.scene("M1"))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	st := h.waitState(StateSteady)
	assert.Equal(t, world, h.graph.Parent(st.Anchor))
}

func TestActivate_ResetsPreviousActivation(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	h.backend.setScene(h.backend.scene("M2", item("B1", 0)))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	first := h.waitState(StateSteady)
	oldNode := first.Spawned["A1"]

	require.NoError(t, h.activate("M2"))
	st := h.status()
	assert.Equal(t, StateAwaitingTracking, st.State)
	assert.Equal(t, "M2", st.MarkerID)
	assert.Greater(t, st.Generation, first.Generation)
	assert.Empty(t, st.Spawned)
	assert.Equal(t, engine.NoNode, st.Anchor)
	assert.False(t, h.graph.Exists(first.Anchor))
	assert.False(t, h.graph.Exists(oldNode))
	assert.Equal(t, 1, h.tracker.Subscribers())

	// The old marker no longer drives anything.
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	assert.Equal(t, StateAwaitingTracking, h.status().State)

	h.emit("M2", core.TrackingTracking, pose(0, 0, 0))
	st = h.waitState(StateSteady)
	assert.Contains(t, st.Spawned, "B1")
}

func TestActivate_SupersededDuringFetch(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("SLOW"))
	h.backend.setScene(h.backend.scene("M2"))
	g := newGate()
	h.backend.sceneGates["SLOW"] = g
	t.Cleanup(g.open)

	errCh := make(chan error, 1)
	go func() { errCh <- h.activate("SLOW") }()
	require.Eventually(t, func() bool {
		scenes, _ := h.backend.counts()
		return scenes == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, h.activate("M2"))
	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	g.open()

	st := h.status()
	assert.Equal(t, "M2", st.MarkerID)
	assert.Equal(t, StateAwaitingTracking, st.State)
	assert.Equal(t, "scene-M2", st.SceneID)
}

func recvResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitFor):
		t.Fatal("no activation result")
		return nil
	}
}

func TestSubmit_AppliesInSubmissionOrder(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("OLD"))
	h.backend.setScene(h.backend.scene("NEW"))

	ctx := context.Background()
	first, err := h.orch.Submit(ctx, core.ActivationRequest{MarkerID: "OLD", BackendBaseURL: h.backend.srv.URL})
	require.NoError(t, err)
	second, err := h.orch.Submit(ctx, core.ActivationRequest{MarkerID: "NEW", BackendBaseURL: h.backend.srv.URL})
	require.NoError(t, err)

	assert.ErrorIs(t, recvResult(t, first), ErrSuperseded)
	require.NoError(t, recvResult(t, second))

	st := h.status()
	assert.Equal(t, "NEW", st.MarkerID)
	assert.Equal(t, "scene-NEW", st.SceneID)
	assert.Equal(t, StateAwaitingTracking, st.State)
}

func TestSubmit_AfterClose(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.orch.Close())

	_, err := h.orch.Submit(context.Background(), core.ActivationRequest{MarkerID: "M1", BackendBaseURL: h.backend.srv.URL})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestActivate_StaleAssetIsDiscarded(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))
	h.backend.setScene(h.backend.scene("M2"))
	g := newGate()
	h.backend.assetGate = g
	t.Cleanup(g.open)

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	require.Eventually(t, func() bool { return h.backend.hits("A1.gltf") == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, h.activate("M2"))
	g.open()

	// Let any late completion reach the loop before checking.
	time.Sleep(50 * time.Millisecond)
	st := h.status()
	assert.Empty(t, st.Spawned)
	_, ok := h.graph.FindNode("ARItem_A1")
	assert.False(t, ok)
	_, ok = h.graph.FindNode("GLB:A1.gltf")
	assert.False(t, ok)
}

func TestActivate_PrefetchLoadsEachAssetOnce(t *testing.T) {
	h := newHarness(t, Config{Prefetch: true, PrefetchLimit: 2})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0), item("A2", 1), item("A3", 2)))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	st := h.waitState(StateSteady)

	assert.Len(t, st.Spawned, 3)
	for _, name := range []string{"A1.gltf", "A2.gltf", "A3.gltf"} {
		assert.Equal(t, 1, h.backend.hits(name), name)
	}
}

func TestJournalAndTelemetry(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1", item("A1", 0)))

	require.NoError(t, h.activate("M1"))
	h.emit("M1", core.TrackingTracking, pose(0, 0, 0))
	st := h.waitState(StateSteady)
	require.NoError(t, h.orch.Close())

	h.journal.mu.Lock()
	defer h.journal.mu.Unlock()
	require.Len(t, h.journal.activations, 1)
	assert.Equal(t, st.ActivationID, h.journal.activations[0].ActivationID)
	require.Len(t, h.journal.scenes, 1)
	assert.Equal(t, "scene-M1", h.journal.scenes[0].Descriptor.SceneID)
	require.NotEmpty(t, h.journal.anchors)
	assert.True(t, h.journal.anchors[0].Created)

	var path []string
	for _, tr := range h.journal.transitions {
		path = append(path, tr.To)
	}
	assert.Equal(t, []string{"fetching", "registering", "awaiting_tracking", "spawning", "steady"}, path)

	h.telemetry.mu.Lock()
	defer h.telemetry.mu.Unlock()
	assert.Equal(t, []string{"A1"}, h.telemetry.loads)
	assert.Equal(t, []int{1}, h.telemetry.spawned)
}

func TestClose(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("M1"))
	require.NoError(t, h.activate("M1"))
	require.Equal(t, 1, h.tracker.Subscribers())

	require.NoError(t, h.orch.Close())
	require.NoError(t, h.orch.Close())

	assert.Equal(t, 0, h.tracker.Subscribers())
	assert.ErrorIs(t, h.activate("M1"), ErrClosed)
	_, err := h.orch.Status(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_ReleasesPendingActivate(t *testing.T) {
	h := newHarness(t, Config{})
	h.backend.setScene(h.backend.scene("SLOW"))
	g := newGate()
	h.backend.sceneGates["SLOW"] = g
	t.Cleanup(g.open)

	errCh := make(chan error, 1)
	go func() { errCh <- h.activate("SLOW") }()
	require.Eventually(t, func() bool {
		scenes, _ := h.backend.counts()
		return scenes == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, h.orch.Close())
	assert.ErrorIs(t, <-errCh, ErrClosed)
}

func TestStatus_JSON(t *testing.T) {
	st := Status{State: StateAwaitingTracking, MarkerID: "M1", Spawned: map[string]engine.NodeID{}}
	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"awaiting_tracking"`)
	assert.Contains(t, string(data), `"markerId":"M1"`)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "steady", StateSteady.String())
	assert.Equal(t, "State(42)", State(42).String())
}
