package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rookie-ar/markerscene/internal/engine/headless"
	"github.com/rookie-ar/markerscene/internal/orchestrator"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// runReplay activates a marker, plays a recorded tracking session into the
// headless tracker and prints the final status and scene graph.
func runReplay(args []string) error {
	fs, configDir := newFlags("replay")
	markerID := fs.String("marker", "", "marker id, overrides the script")
	backend := fs.String("backend", "", "backend base URL, overrides the script")
	settle := fs.Duration("settle", 30*time.Second, "how long to wait for the spawn to finish")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: markerscene replay [--config dir] [--marker id] [--backend url] <script.yaml>")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	script, err := headless.LoadScript(f)
	f.Close()
	if err != nil {
		return err
	}
	req, _ := script.Request()
	if *markerID != "" {
		req.MarkerID = *markerID
	}
	if *backend != "" {
		req.BackendBaseURL = *backend
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt := newRuntime(*configDir, os.Stderr)
	defer rt.close()
	logger := rt.logger

	s, err := newStack(ctx, rt, func(id string, req core.ActivationRequest) {
		logger.Info("Scene ready", "activationId", id, "markerId", req.MarkerID)
	})
	if err != nil {
		return err
	}
	defer s.close(rt)

	sub := s.tracker.Subscribe(func(evt core.TrackedImagesChanged) {
		for _, img := range evt.Added {
			logger.Info("Tracked image added", "reference", img.ReferenceName, "trackingState", img.State.String())
		}
		for _, img := range evt.Updated {
			logger.Info("Tracked image updated", "reference", img.ReferenceName, "trackingState", img.State.String())
		}
		for _, img := range evt.Removed {
			logger.Info("Tracked image removed", "reference", img.ReferenceName)
		}
	})
	defer sub.Unsubscribe()

	if err := s.orch.Activate(ctx, req); err != nil {
		return fmt.Errorf("activate %q: %w", req.MarkerID, err)
	}
	if err := script.Play(ctx, s.tracker); err != nil {
		return err
	}

	st, err := waitSettled(ctx, s.orch, *settle)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return err
	}
	return s.graph.Dump(os.Stdout)
}

// waitSettled polls the orchestrator until no spawn is running or the
// timeout passes, and returns the last status.
func waitSettled(ctx context.Context, o *orchestrator.Orchestrator, timeout time.Duration) (orchestrator.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		st, err := o.Status(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return st, fmt.Errorf("spawn did not finish within %s", timeout)
			}
			return st, err
		}
		if st.State != orchestrator.StateSpawning {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("spawn did not finish within %s", timeout)
		case <-ticker.C:
		}
	}
}
