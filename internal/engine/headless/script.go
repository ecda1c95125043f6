package headless

import (
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// ScriptActivation is the activation a replay script starts with.
type ScriptActivation struct {
	MarkerID       string `yaml:"markerId"`
	BackendBaseURL string `yaml:"backendBase"`
}

// Step is one tracking notification, emitted After the previous step.
type Step struct {
	After                     time.Duration `yaml:"after"`
	core.TrackedImagesChanged `yaml:",inline"`
}

// Script is a recorded tracking session.
type Script struct {
	Activation *ScriptActivation `yaml:"activation"`
	Steps      []Step            `yaml:"steps"`
}

// Request returns the script's activation request, if any.
func (s *Script) Request() (core.ActivationRequest, bool) {
	if s.Activation == nil {
		return core.ActivationRequest{}, false
	}
	return core.ActivationRequest{
		MarkerID:       s.Activation.MarkerID,
		BackendBaseURL: s.Activation.BackendBaseURL,
	}, true
}

// LoadScript decodes a YAML replay script.
func LoadScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode replay script: %w", err)
	}
	return &s, nil
}

// Play emits every step on t, honoring the delays. It stops early when ctx is done.
func (s *Script) Play(ctx context.Context, t *Tracker) error {
	for i, step := range s.Steps {
		if step.After > 0 {
			timer := time.NewTimer(step.After)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("replay stopped at step %d: %w", i, ctx.Err())
			case <-timer.C:
			}
		}
		t.Emit(step.TrackedImagesChanged)
	}
	return nil
}
