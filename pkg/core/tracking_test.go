package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTrackingState_JSON(t *testing.T) {
	tests := []struct {
		in   string
		want TrackingState
	}{
		{`"Tracking"`, TrackingTracking},
		{`"limited"`, TrackingLimited},
		{`"None"`, TrackingNone},
		{`2`, TrackingTracking},
		{`0`, TrackingNone},
	}
	for _, tt := range tests {
		var s TrackingState
		require.NoError(t, json.Unmarshal([]byte(tt.in), &s), tt.in)
		assert.Equal(t, tt.want, s, tt.in)
	}

	data, err := json.Marshal(TrackingLimited)
	require.NoError(t, err)
	assert.Equal(t, `"Limited"`, string(data))
}

func TestTrackingState_JSONInvalid(t *testing.T) {
	for _, in := range []string{`"lost"`, `7`, `-1`, `true`} {
		var s TrackingState
		assert.Error(t, json.Unmarshal([]byte(in), &s), in)
	}
}

func TestTrackingState_YAML(t *testing.T) {
	var img TrackedImage
	err := yaml.Unmarshal([]byte("referenceName: poster\ntrackingState: tracking\n"), &img)
	require.NoError(t, err)
	assert.Equal(t, "poster", img.ReferenceName)
	assert.Equal(t, TrackingTracking, img.State)
}

func TestTrackedImagesChanged_Relevant(t *testing.T) {
	evt := TrackedImagesChanged{
		Added:   []TrackedImage{{ReferenceName: "a"}},
		Updated: []TrackedImage{{ReferenceName: "b"}, {ReferenceName: "c"}},
		Removed: []TrackedImage{{ReferenceName: "d"}},
	}
	var names []string
	for _, img := range evt.Relevant() {
		names = append(names, img.ReferenceName)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Empty(t, TrackedImagesChanged{}.Relevant())
}
