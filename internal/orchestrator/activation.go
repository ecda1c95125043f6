package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/queue"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// activation is the per-activation state. Only the loop touches it.
type activation struct {
	id     string
	gen    uint64
	req    core.ActivationRequest
	ctx    context.Context
	cancel context.CancelFunc
	reply  chan<- error

	scene           *core.SceneDescriptor
	anchor          engine.NodeID
	anchorJournaled time.Time

	spawn        spawnStatus
	plan         *queue.Queue[core.Item]
	spawnStarted time.Time
	visited      int
	spawned      int
}

// resolve answers the pending Activate call, once.
func (a *activation) resolve(err error) {
	if a.reply != nil {
		a.reply <- err
		a.reply = nil
	}
}

// current returns the activation with generation gen, or nil when it has
// been superseded.
func (o *Orchestrator) current(gen uint64) *activation {
	if o.act == nil || o.act.gen != gen || !o.session.IsCurrent(gen) {
		return nil
	}
	return o.act
}

// reset drops everything the previous activation owned.
func (o *Orchestrator) reset(reason error) {
	if a := o.act; a != nil {
		a.cancel()
		a.resolve(reason)
		if a.anchor != engine.NoNode {
			if err := o.graph.DestroyNode(a.anchor); err != nil {
				o.logger.Warn("Failed to destroy anchor", "node", a.anchor, "error", err)
			}
		}
		o.setState(StateIdle, "reset")
		o.act = nil
	}
	o.registry.Reset()
	o.loader.ClearPrefetched()
	o.lastErr = nil
}

func (o *Orchestrator) onActivate(m activateMsg) {
	o.reset(ErrSuperseded)

	id, gen := o.session.Begin(m.req.MarkerID)
	if err := m.req.Validate(); err != nil {
		o.metrics.activation("invalid")
		o.lastErr = err
		o.session.SetState(StateIdle.String())
		o.logger.Warn("Activation rejected", "activationId", id, "error", err)
		m.reply <- err
		return
	}

	ctx, cancel := context.WithCancel(o.ctx)
	a := &activation{
		id:     id,
		gen:    gen,
		req:    m.req,
		ctx:    ctx,
		cancel: cancel,
		reply:  m.reply,
	}
	o.act = a
	o.metrics.activation("started")
	o.logger.Info("Activation started",
		"activationId", id,
		"generation", gen,
		"markerId", m.req.MarkerID,
		"backend", m.req.BackendBaseURL)

	rec := &core.ActivationRecord{
		ActivationID: id,
		Generation:   gen,
		MarkerID:     m.req.MarkerID,
		BackendURL:   m.req.BackendBaseURL,
		StartedAt:    time.Now(),
	}
	o.record(func(j Journal) error { return j.RecordActivation(rec) })
	o.setState(StateFetching, "activate")

	req := m.req
	go func() {
		scene, err := o.scenes.FetchSceneAt(ctx, req.BackendBaseURL, req.MarkerID)
		o.post(sceneFetchedMsg{gen: gen, scene: scene, err: err})
	}()
}

func (o *Orchestrator) onSceneFetched(m sceneFetchedMsg) {
	a := o.current(m.gen)
	if a == nil {
		o.logger.Debug("Discarding stale scene", "generation", m.gen)
		return
	}
	if m.err != nil {
		o.fail(a, m.err, "scene fetch failed")
		return
	}
	if m.scene == nil || m.scene.Marker == nil {
		o.fail(a, core.Errorf(core.ErrDecode, "scene for %q has no marker", a.req.MarkerID), "scene has no marker")
		return
	}

	a.scene = m.scene
	o.logger.Info("Scene fetched",
		"sceneId", m.scene.SceneID,
		"marker", m.scene.Marker.MarkerID,
		"items", len(m.scene.Items),
		"assets", len(m.scene.Assets))

	rec := &core.SceneRecord{ActivationID: a.id, Descriptor: m.scene, Time: time.Now()}
	o.record(func(j Journal) error { return j.RecordScene(rec) })
	o.setState(StateRegistering, "scene fetched")

	mk := *m.scene.Marker
	ctx, gen := a.ctx, a.gen
	go func() {
		err := o.registrar.Register(ctx, mk.MarkerID, mk.ImageURL, mk.PhysicalWidthM)
		o.post(markerRegisteredMsg{gen: gen, err: err})
	}()
}

func (o *Orchestrator) onMarkerRegistered(m markerRegisteredMsg) {
	a := o.current(m.gen)
	if a == nil {
		o.logger.Debug("Discarding stale registration", "generation", m.gen)
		return
	}
	if m.err != nil {
		o.fail(a, m.err, "marker registration failed")
		return
	}

	o.subscribe()
	o.setState(StateAwaitingTracking, "marker registered")
	o.logger.Info("Awaiting marker tracking", "marker", a.scene.Marker.MarkerID)
	a.resolve(nil)
	if o.cfg.OnSceneReady != nil {
		o.cfg.OnSceneReady(a.id, a.req)
	}
}

// subscribe attaches to the tracker, dropping any earlier subscription so
// events are never delivered twice. The callback blocks the emitter while the
// mailbox is full; Close releases it.
func (o *Orchestrator) subscribe() {
	if o.sub != nil {
		o.sub.Unsubscribe()
	}
	o.sub = o.tracker.Subscribe(func(evt core.TrackedImagesChanged) {
		o.post(trackingMsg{evt: evt})
	})
}

func (o *Orchestrator) fail(a *activation, err error, reason string) {
	o.lastErr = err
	o.metrics.activation("failed")
	o.logger.Error("Activation failed", "reason", reason, "error", err)
	o.setState(StateFailed, reason)
	a.cancel()
	a.resolve(err)
}

func (o *Orchestrator) onTracking(evt core.TrackedImagesChanged) {
	o.logTrackingEvent(evt)

	a := o.act
	if a == nil || a.scene == nil || !o.state.acceptsTracking() {
		return
	}
	expected := a.scene.Marker.MarkerID
	for _, img := range evt.Relevant() {
		if img.ReferenceName != expected {
			continue
		}
		if img.State == core.TrackingNone {
			continue
		}
		if !o.placeAnchor(a, img.Pose) {
			continue
		}
		if img.State == core.TrackingTracking && a.spawn == spawnNotStarted {
			o.startSpawn(a)
		}
	}
}

func (o *Orchestrator) logTrackingEvent(evt core.TrackedImagesChanged) {
	if !o.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, set := range []struct {
		name   string
		images []core.TrackedImage
	}{{"added", evt.Added}, {"updated", evt.Updated}, {"removed", evt.Removed}} {
		for _, img := range set.images {
			o.logger.Debug("Tracked image "+set.name,
				"reference", img.ReferenceName,
				"trackingState", img.State.String())
		}
	}
}

// placeAnchor creates the anchor on first use, then keeps its pose current.
// It reports whether an anchor exists afterwards.
func (o *Orchestrator) placeAnchor(a *activation, pose core.Pose) bool {
	created := false
	if a.anchor == engine.NoNode {
		id, err := o.graph.CreateNode(AnchorName, o.anchorParent())
		if err != nil {
			o.logger.Error("Failed to create anchor", "error", err)
			return false
		}
		a.anchor = id
		created = true
	}
	if err := o.graph.SetWorldPose(a.anchor, pose); err != nil {
		o.logger.Error("Failed to move anchor", "node", a.anchor, "error", err)
		return true
	}

	now := time.Now()
	if created {
		o.logger.Info("Anchor created", "node", a.anchor, "position", pose.Position)
	}
	if created || now.Sub(a.anchorJournaled) >= anchorJournalInterval {
		a.anchorJournaled = now
		rec := &core.AnchorRecord{ActivationID: a.id, Created: created, Pose: pose, Time: now}
		o.record(func(j Journal) error { return j.RecordAnchor(rec) })
	}
	return true
}

func (o *Orchestrator) anchorParent() engine.NodeID {
	if o.cfg.WorldRoot != "" {
		if id, ok := o.graph.FindNode(o.cfg.WorldRoot); ok {
			return id
		}
		o.logger.Warn("World root not found, using default parent", "worldRoot", o.cfg.WorldRoot)
	}
	return o.graph.DefaultParent()
}
