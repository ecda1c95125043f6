package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TrackingState is the tracking quality reported for a tracked image.
type TrackingState int

const (
	TrackingNone TrackingState = iota
	TrackingLimited
	TrackingTracking
)

func (s TrackingState) String() string {
	switch s {
	case TrackingLimited:
		return "Limited"
	case TrackingTracking:
		return "Tracking"
	default:
		return "None"
	}
}

// MarshalJSON encodes the state by name.
func (s TrackingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the state name (case-insensitive) or its integer value.
func (s *TrackingState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseTrackingState(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("tracking state: %w", err)
	}
	if n < int(TrackingNone) || n > int(TrackingTracking) {
		return fmt.Errorf("tracking state out of range: %d", n)
	}
	*s = TrackingState(n)
	return nil
}

// ParseTrackingState parses a state name.
func ParseTrackingState(name string) (TrackingState, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "":
		return TrackingNone, nil
	case "limited":
		return TrackingLimited, nil
	case "tracking":
		return TrackingTracking, nil
	}
	return TrackingNone, fmt.Errorf("unknown tracking state %q", name)
}

// UnmarshalYAML lets replay scripts use state names.
func (s *TrackingState) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	parsed, err := ParseTrackingState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TrackedImage is one tracked reference image record.
type TrackedImage struct {
	ReferenceName string        `json:"referenceName" yaml:"referenceName"`
	State         TrackingState `json:"trackingState" yaml:"trackingState"`
	Pose          Pose          `json:"pose" yaml:"pose"`
}

// TrackedImagesChanged is one change notification from the tracking subsystem.
type TrackedImagesChanged struct {
	Added   []TrackedImage `json:"added" yaml:"added"`
	Updated []TrackedImage `json:"updated" yaml:"updated"`
	Removed []TrackedImage `json:"removed" yaml:"removed"`
}

// Relevant returns added followed by updated, in delivery order.
func (e TrackedImagesChanged) Relevant() []TrackedImage {
	out := make([]TrackedImage, 0, len(e.Added)+len(e.Updated))
	out = append(out, e.Added...)
	return append(out, e.Updated...)
}
