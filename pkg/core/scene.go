package core

import (
	"encoding/json"
	"strings"
)

// ActivationRequest is delivered by the host bridge to bind a marker to backend content.
type ActivationRequest struct {
	MarkerID       string `json:"markerId"`
	BackendBaseURL string `json:"backendBase"`
}

// Validate reports ErrInvalidInput when a required field is blank.
func (r ActivationRequest) Validate() error {
	if strings.TrimSpace(r.MarkerID) == "" {
		return Errorf(ErrInvalidInput, "markerId is empty")
	}
	if strings.TrimSpace(r.BackendBaseURL) == "" {
		return Errorf(ErrInvalidInput, "backendBase is empty")
	}
	return nil
}

// SceneDescriptor is the backend description of the content bound to a marker.
type SceneDescriptor struct {
	SceneID string  `json:"sceneId"`
	Marker  *Marker `json:"marker"`
	Items   []Item  `json:"items"`
	Assets  []Asset `json:"assets"`
}

// AssetByID returns the first asset with the given id.
func (d *SceneDescriptor) AssetByID(id string) (Asset, bool) {
	if d == nil {
		return Asset{}, false
	}
	for _, a := range d.Assets {
		if a.AssetID == id {
			return a, true
		}
	}
	return Asset{}, false
}

// Marker identifies the reference image tracked for a scene.
type Marker struct {
	MarkerID       string  `json:"markerId"`
	MarkerCode     string  `json:"markerCode"`
	ImageURL       string  `json:"imageUrl"`
	PhysicalWidthM float64 `json:"physicalWidthM"` // real-world width in meters
	MarkerType     string  `json:"markerType"`
}

// Item places one asset relative to the marker anchor.
// Malformed is set when the wire entry was null or not an object.
type Item struct {
	AssetID    string
	OrderIndex int
	Position   Vec3
	Rotation   Vec3 // euler degrees
	Scale      Vec3
	Malformed  bool
}

// itemWire is the flat wire shape of an Item.
type itemWire struct {
	AssetID    string  `json:"asset3DId"`
	OrderIndex int     `json:"orderIndex"`
	PosX       float64 `json:"posX"`
	PosY       float64 `json:"posY"`
	PosZ       float64 `json:"posZ"`
	RotX       float64 `json:"rotX"`
	RotY       float64 `json:"rotY"`
	RotZ       float64 `json:"rotZ"`
	ScaleX     float64 `json:"scaleX"`
	ScaleY     float64 `json:"scaleY"`
	ScaleZ     float64 `json:"scaleZ"`
}

// UnmarshalJSON decodes the flat wire shape. Scale axes absent from the payload default to 1.
func (it *Item) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*it = Item{Malformed: true}
		return nil
	}
	w := itemWire{ScaleX: 1, ScaleY: 1, ScaleZ: 1}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*it = Item{
		AssetID:    w.AssetID,
		OrderIndex: w.OrderIndex,
		Position:   Vec3{w.PosX, w.PosY, w.PosZ},
		Rotation:   Vec3{w.RotX, w.RotY, w.RotZ},
		Scale:      Vec3{w.ScaleX, w.ScaleY, w.ScaleZ},
	}
	return nil
}

// MarshalJSON encodes the flat wire shape.
func (it Item) MarshalJSON() ([]byte, error) {
	if it.Malformed {
		return []byte("null"), nil
	}
	return json.Marshal(itemWire{
		AssetID:    it.AssetID,
		OrderIndex: it.OrderIndex,
		PosX:       it.Position.X,
		PosY:       it.Position.Y,
		PosZ:       it.Position.Z,
		RotX:       it.Rotation.X,
		RotY:       it.Rotation.Y,
		RotZ:       it.Rotation.Z,
		ScaleX:     it.Scale.X,
		ScaleY:     it.Scale.Y,
		ScaleZ:     it.Scale.Z,
	})
}

// Transform returns the item's configured local transform.
func (it Item) Transform() Transform {
	return Transform{Position: it.Position, RotationEuler: it.Rotation, Scale: it.Scale}
}

// Asset is a content descriptor. AssetURL is http(s) or a cloud-storage locator.
type Asset struct {
	AssetID   string  `json:"asset3DId"`
	AssetURL  string  `json:"assetUrl"`
	FileName  string  `json:"fileName"`
	Format    string  `json:"format"` // GLB/FBX/OBJ, GLB preferred
	PolyCount int     `json:"polycount"`
	Scale     float64 `json:"scale"`
	FileSize  int64   `json:"fileSize"`
}
