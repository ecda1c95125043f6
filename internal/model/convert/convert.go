// Package convert provides functions to convert between GORM models and core records
package convert

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/rookie-ar/markerscene/internal/geo"
	"github.com/rookie-ar/markerscene/internal/model"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// toJSON marshals v for a JSON column; nil becomes SQL NULL.
func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// CoreToActivation converts an activation record.
func CoreToActivation(r core.ActivationRecord) model.Activation {
	return model.Activation{
		ActivationID: r.ActivationID,
		Generation:   r.Generation,
		MarkerID:     r.MarkerID,
		BackendURL:   r.BackendURL,
		StartedAt:    r.StartedAt,
	}
}

// SceneColumns returns the activation columns a scene record fills in.
func SceneColumns(r core.SceneRecord) map[string]any {
	cols := map[string]any{"scene_time": r.Time}
	if r.Descriptor != nil {
		cols["scene_id"] = r.Descriptor.SceneID
		cols["descriptor"] = toJSON(r.Descriptor)
	}
	return cols
}

// CoreToStateTransition converts a transition record.
func CoreToStateTransition(r core.TransitionRecord) model.StateTransition {
	return model.StateTransition{
		ActivationID: r.ActivationID,
		Time:         r.Time,
		FromState:    r.From,
		ToState:      r.To,
		Reason:       r.Reason,
	}
}

// CoreToAnchorSample converts an anchor record.
func CoreToAnchorSample(r core.AnchorRecord) model.AnchorSample {
	return model.AnchorSample{
		ActivationID: r.ActivationID,
		Time:         r.Time,
		Created:      r.Created,
		Position:     geo.PointFromVec3(r.Pose.Position),
		RotX:         r.Pose.Rotation.X,
		RotY:         r.Pose.Rotation.Y,
		RotZ:         r.Pose.Rotation.Z,
		RotW:         r.Pose.Rotation.W,
	}
}

// AnchorSampleToCore converts back. Empty positions read as the origin.
func AnchorSampleToCore(m model.AnchorSample) core.AnchorRecord {
	pos, _ := geo.Vec3FromPoint(m.Position)
	return core.AnchorRecord{
		ActivationID: m.ActivationID,
		Created:      m.Created,
		Pose: core.Pose{
			Position: pos,
			Rotation: core.Quat{X: m.RotX, Y: m.RotY, Z: m.RotZ, W: m.RotW},
		},
		Time: m.Time,
	}
}

// CoreToSpawnRecord converts a spawn record. The transform is stored only
// for spawned items.
func CoreToSpawnRecord(r core.SpawnRecord) model.SpawnRecord {
	m := model.SpawnRecord{
		ActivationID:   r.ActivationID,
		Time:           r.Time,
		AssetID:        r.AssetID,
		OrderIndex:     r.OrderIndex,
		Outcome:        string(r.Outcome),
		Error:          r.Error,
		LoadDurationMs: float64(r.LoadDuration) / float64(time.Millisecond),
	}
	if r.Outcome == core.SpawnOK {
		m.Transform = toJSON(r.Transform)
	}
	return m
}

// SpawnRecordToCore converts back.
func SpawnRecordToCore(m model.SpawnRecord) core.SpawnRecord {
	r := core.SpawnRecord{
		ActivationID: m.ActivationID,
		AssetID:      m.AssetID,
		OrderIndex:   m.OrderIndex,
		Outcome:      core.SpawnOutcome(m.Outcome),
		Error:        m.Error,
		LoadDuration: time.Duration(m.LoadDurationMs * float64(time.Millisecond)),
		Time:         m.Time,
	}
	if len(m.Transform) > 0 {
		_ = json.Unmarshal(m.Transform, &r.Transform)
	}
	return r
}
