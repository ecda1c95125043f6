// Package orchestrator sequences an activation: scene fetch, marker
// registration, tracking confirmation and the once-only content spawn.
//
// All state lives on a single loop goroutine. Public calls, tracker
// callbacks and the completions of asynchronous work are messages on its
// mailbox, so nothing the loop owns is ever touched from two goroutines.
// Completions carry the generation of the activation that started them and
// are discarded when a newer activation has taken over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rookie-ar/markerscene/internal/cache"
	"github.com/rookie-ar/markerscene/internal/channel"
	"github.com/rookie-ar/markerscene/internal/content"
	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/session"
	"github.com/rookie-ar/markerscene/pkg/core"
)

var (
	// ErrSuperseded is returned by Activate when a newer activation replaced
	// this one before its setup finished.
	ErrSuperseded = errors.New("activation superseded")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("orchestrator closed")
)

const (
	AnchorName         = "MarkerAnchor"
	ItemPrefix         = "ARItem_"
	DefaultMailboxSize = 256

	anchorJournalInterval = time.Second
)

// SceneSource fetches scene descriptors. *api.Client implements it.
type SceneSource interface {
	FetchSceneAt(ctx context.Context, baseURL, markerID string) (*core.SceneDescriptor, error)
}

// Registrar installs a reference image in the tracker. *marker.Registrar implements it.
type Registrar interface {
	Register(ctx context.Context, name, imageURL string, widthM float64) error
}

// Loader loads content. Fetch runs off the loop; Instantiate runs on it
// because it mutates the scene graph. *content.Loader implements it.
type Loader interface {
	Fetch(ctx context.Context, locator string) (*content.Document, error)
	Instantiate(d *content.Document) (engine.NodeID, error)
	Unload(root engine.NodeID) error
	Prefetch(ctx context.Context, locators []string, limit int) int
	ClearPrefetched()
}

// Telemetry receives per-activation measurements. *influx.Manager implements it.
type Telemetry interface {
	AssetLoaded(activationID, assetID string, size int64, d time.Duration, err error)
	SpawnFinished(activationID, markerID string, spawned, visited int, d time.Duration)
}

// Deps are the collaborators of an Orchestrator. Journal, Telemetry,
// Session, Registry and Logger are optional.
type Deps struct {
	Scenes    SceneSource
	Registrar Registrar
	Loader    Loader
	Graph     engine.SceneGraph
	Tracker   engine.ImageTracker

	Session   *session.Context
	Registry  *cache.SpawnRegistry
	Journal   Journal
	Telemetry Telemetry
	Logger    *slog.Logger
}

// Config tunes an Orchestrator.
type Config struct {
	// WorldRoot names the node anchors are parented to. Empty, or a name
	// that is not found, uses the graph's default parent.
	WorldRoot   string
	MailboxSize int
	// Prefetch warms every asset of the scene concurrently before the
	// sequential spawn starts.
	Prefetch      bool
	PrefetchLimit int
	// OnSceneReady is called on the loop once an activation's setup is
	// complete and tracking events are awaited. It must not block.
	OnSceneReady func(activationID string, req core.ActivationRequest)
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State        State                    `json:"state"`
	ActivationID string                   `json:"activationId,omitempty"`
	Generation   uint64                   `json:"generation"`
	MarkerID     string                   `json:"markerId,omitempty"`
	SceneID      string                   `json:"sceneId,omitempty"`
	Items        int                      `json:"items"`
	Pending      int                      `json:"pending"`
	Anchor       engine.NodeID            `json:"anchor,omitempty"`
	Spawned      map[string]engine.NodeID `json:"spawned"`
	LastError    string                   `json:"lastError,omitempty"`
}

// Orchestrator is the activation state machine.
type Orchestrator struct {
	scenes    SceneSource
	registrar Registrar
	loader    Loader
	graph     engine.SceneGraph
	tracker   engine.ImageTracker
	session   *session.Context
	telemetry Telemetry
	journal   *journalWriter
	metrics   *metrics
	logger    *slog.Logger
	cfg       Config

	mailbox channel.Channel[message]
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Owned by the loop.
	state    State
	act      *activation
	registry *cache.SpawnRegistry
	sub      engine.Subscription
	lastErr  error
}

// New validates deps and starts the loop. Call Close to stop it.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Scenes == nil:
		return nil, errors.New("orchestrator: scene source is required")
	case deps.Registrar == nil:
		return nil, errors.New("orchestrator: registrar is required")
	case deps.Loader == nil:
		return nil, errors.New("orchestrator: loader is required")
	case deps.Graph == nil:
		return nil, errors.New("orchestrator: scene graph is required")
	case deps.Tracker == nil:
		return nil, errors.New("orchestrator: tracker is required")
	}

	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("orchestrator metrics: %w", err)
	}

	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.Registry == nil {
		deps.Registry = cache.NewSpawnRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		scenes:    deps.Scenes,
		registrar: deps.Registrar,
		loader:    deps.Loader,
		graph:     deps.Graph,
		tracker:   deps.Tracker,
		session:   deps.Session,
		telemetry: deps.Telemetry,
		metrics:   m,
		logger:    deps.Logger,
		cfg:       cfg,
		mailbox:   channel.New[message](cfg.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
		registry:  deps.Registry,
	}
	if deps.Journal != nil {
		o.journal = newJournalWriter(deps.Journal, deps.Logger)
	}
	go o.loop()
	return o, nil
}

// Activate starts a new activation, superseding any current one, and waits
// until its setup finishes: nil once the marker is registered and tracking
// is awaited, or the error that failed it. Cancelling ctx stops the wait,
// not the activation.
func (o *Orchestrator) Activate(ctx context.Context, req core.ActivationRequest) error {
	result, err := o.Submit(ctx, req)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues an activation and returns once it is on the mailbox, so
// activations submitted one after another are applied in that order. The
// returned channel receives the setup result exactly once; ErrClosed when
// the orchestrator stops before answering. ctx bounds only the enqueue.
func (o *Orchestrator) Submit(ctx context.Context, req core.ActivationRequest) (<-chan error, error) {
	reply := make(chan error, 1)
	if err := o.send(ctx, activateMsg{req: req, reply: reply}); err != nil {
		return nil, err
	}
	result := make(chan error, 1)
	go func() {
		select {
		case err := <-reply:
			result <- err
		case <-o.done:
			select {
			case err := <-reply:
				result <- err
			default:
				result <- ErrClosed
			}
		}
	}()
	return result, nil
}

// Status returns a snapshot taken on the loop.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := o.send(ctx, statusMsg{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-o.done:
		return Status{}, ErrClosed
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Close unsubscribes from the tracker, cancels in-flight work, flushes the
// journal and stops the loop. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	err := o.send(context.Background(), closeMsg{})
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	<-o.done
	return nil
}

func (o *Orchestrator) send(ctx context.Context, m message) error {
	err := o.mailbox.Send(ctx, m)
	if errors.Is(err, channel.ErrClosed) {
		return ErrClosed
	}
	return err
}

// post delivers a completion from a worker goroutine or tracker callback.
func (o *Orchestrator) post(m message) {
	if err := o.mailbox.Send(o.ctx, m); err != nil {
		o.logger.Debug("Message dropped", "kind", m.kind(), "error", err)
	}
}

func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case m := <-o.mailbox.Receive():
			if o.handle(m) {
				return
			}
		case <-o.mailbox.Done():
			return
		}
	}
}

// handle processes one message and reports whether the loop must stop.
func (o *Orchestrator) handle(m message) bool {
	switch m := m.(type) {
	case activateMsg:
		o.onActivate(m)
	case sceneFetchedMsg:
		o.onSceneFetched(m)
	case markerRegisteredMsg:
		o.onMarkerRegistered(m)
	case trackingMsg:
		o.onTracking(m.evt)
	case prefetchedMsg:
		o.onPrefetched(m)
	case assetFetchedMsg:
		o.onAssetFetched(m)
	case statusMsg:
		m.reply <- o.status()
	case closeMsg:
		o.shutdown()
		return true
	default:
		o.logger.Error("Unknown message", "kind", m.kind())
	}
	return false
}

func (o *Orchestrator) status() Status {
	snap := o.session.Snapshot()
	st := Status{
		State:        o.state,
		ActivationID: snap.ActivationID,
		Generation:   snap.Generation,
		MarkerID:     snap.MarkerID,
		Spawned:      o.registry.Snapshot(),
	}
	if a := o.act; a != nil {
		st.Anchor = a.anchor
		if a.scene != nil {
			st.SceneID = a.scene.SceneID
			st.Items = len(a.scene.Items)
		}
		if a.plan != nil {
			st.Pending = a.plan.Len()
		}
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

func (o *Orchestrator) shutdown() {
	if o.sub != nil {
		o.sub.Unsubscribe()
		o.sub = nil
	}
	if a := o.act; a != nil {
		a.cancel()
		a.resolve(ErrClosed)
	}
	o.cancel()
	o.mailbox.Close()
	if o.journal != nil {
		o.journal.close()
	}
	o.logger.Info("Orchestrator stopped", "state", o.state.String())
}

// setState records a transition. Transitions to the current state are ignored.
func (o *Orchestrator) setState(to State, reason string) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.session.SetState(to.String())
	o.logger.Debug("State changed", "from", from.String(), "to", to.String(), "reason", reason)

	if a := o.act; a != nil {
		rec := &core.TransitionRecord{
			ActivationID: a.id,
			From:         from.String(),
			To:           to.String(),
			Reason:       reason,
			Time:         time.Now(),
		}
		o.record(func(j Journal) error { return j.RecordTransition(rec) })
	}
}

func (o *Orchestrator) record(fn func(Journal) error) {
	if o.journal != nil {
		o.journal.write(fn)
	}
}
