// Package handlers implements the host commands served over the bridge.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rookie-ar/markerscene/internal/dispatcher"
	"github.com/rookie-ar/markerscene/internal/orchestrator"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Commands served by the Service.
const (
	CmdVersion  = ":VERSION:"
	CmdActivate = ":ACTIVATE:"
	CmdTracking = ":TRACKING:"
	CmdStatus   = ":STATUS:"
	CmdHealth   = ":HEALTH:"
)

// Events sent to the host.
const (
	EventSceneReady       = "SceneReady"
	EventActivationFailed = "ActivationFailed"
)

// DefaultQueryTimeout bounds STATUS and HEALTH.
const DefaultQueryTimeout = 5 * time.Second

// Activator runs activations. *orchestrator.Orchestrator implements it.
// Submit must enqueue req before returning; the channel yields the setup result.
type Activator interface {
	Submit(ctx context.Context, req core.ActivationRequest) (<-chan error, error)
	Status(ctx context.Context) (orchestrator.Status, error)
}

// TrackingSink receives tracking events pushed by the host. *headless.Tracker implements it.
type TrackingSink interface {
	Emit(evt core.TrackedImagesChanged)
}

// HealthChecker probes the scene backend. *api.Client implements it.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Notifier sends events to the host. *bridge.Bridge implements it.
type Notifier interface {
	Emit(event string, args ...any)
}

// Dependencies holds all dependencies needed by handlers. Tracking and
// Health are optional; their commands are not registered without them.
type Dependencies struct {
	Orchestrator Activator
	Tracking     TrackingSink
	Health       HealthChecker
	Notifier     Notifier
	Logger       *slog.Logger

	Version      string
	BuildDate    string
	QueryTimeout time.Duration
}

// Service provides the handler methods.
type Service struct {
	deps   Dependencies
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new handler service.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.QueryTimeout <= 0 {
		deps.QueryTimeout = DefaultQueryTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:   deps,
		logger: deps.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds every command to d.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(CmdVersion, s.Version)
	d.Register(CmdActivate, s.Activate, dispatcher.Logged())
	d.Register(CmdStatus, s.Status)
	if s.deps.Tracking != nil {
		d.Register(CmdTracking, s.Tracking)
	}
	if s.deps.Health != nil {
		d.Register(CmdHealth, s.Health, dispatcher.Logged())
	}
}

// Close waits for activations started by Activate to return.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Version returns the version and build date.
func (s *Service) Version(dispatcher.Event) (any, error) {
	return []string{s.deps.Version, s.deps.BuildDate}, nil
}

// Activate parses an activation request and starts it in the background.
// Malformed requests fail immediately; a pipeline failure is reported later
// as an ActivationFailed event.
func (s *Service) Activate(e dispatcher.Event) (any, error) {
	var req core.ActivationRequest
	payload := strings.TrimSpace(e.Arg(0))
	if payload == "" {
		return nil, core.Errorf(core.ErrInvalidInput, "activation request is empty")
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, core.Errorf(core.ErrInvalidInput, "activation request: %v", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Enqueue on the dispatch goroutine so a later request always supersedes
	// an earlier one; only the wait for the outcome runs in the background.
	result, err := s.deps.Orchestrator.Submit(s.ctx, req)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		select {
		case err = <-result:
		case <-s.ctx.Done():
			err = s.ctx.Err()
		}
		switch {
		case err == nil:
		case errors.Is(err, orchestrator.ErrSuperseded),
			errors.Is(err, orchestrator.ErrClosed),
			errors.Is(err, context.Canceled):
			s.logger.Debug("Activation ended early", "markerId", req.MarkerID, "error", err)
		default:
			s.logger.Warn("Activation failed", "markerId", req.MarkerID, "error", err)
			s.notify(EventActivationFailed, req.MarkerID, err.Error())
		}
	}()
	return "queued", nil
}

// SceneReady notifies the host that an activation is waiting for tracking.
// It matches orchestrator.Config.OnSceneReady.
func (s *Service) SceneReady(activationID string, req core.ActivationRequest) {
	s.logger.Debug("Scene ready", "activationId", activationID, "markerId", req.MarkerID)
	s.notify(EventSceneReady)
}

// Tracking forwards a tracking event pushed by the host.
func (s *Service) Tracking(e dispatcher.Event) (any, error) {
	var evt core.TrackedImagesChanged
	if err := json.Unmarshal([]byte(e.Arg(0)), &evt); err != nil {
		return nil, core.Errorf(core.ErrInvalidInput, "tracking event: %v", err)
	}
	s.deps.Tracking.Emit(evt)
	return nil, nil
}

// Status returns the orchestrator snapshot.
func (s *Service) Status(dispatcher.Event) (any, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.deps.QueryTimeout)
	defer cancel()
	return s.deps.Orchestrator.Status(ctx)
}

// Health checks the scene backend.
func (s *Service) Health(dispatcher.Event) (any, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.deps.QueryTimeout)
	defer cancel()
	if err := s.deps.Health.Healthcheck(ctx); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *Service) notify(event string, args ...any) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Emit(event, args...)
	}
}
