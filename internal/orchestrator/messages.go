package orchestrator

import (
	"time"

	"github.com/rookie-ar/markerscene/internal/content"
	"github.com/rookie-ar/markerscene/pkg/core"
)

type message interface {
	kind() string
}

type activateMsg struct {
	req   core.ActivationRequest
	reply chan<- error
}

type sceneFetchedMsg struct {
	gen   uint64
	scene *core.SceneDescriptor
	err   error
}

type markerRegisteredMsg struct {
	gen uint64
	err error
}

type trackingMsg struct {
	evt core.TrackedImagesChanged
}

type prefetchedMsg struct {
	gen    uint64
	warmed int
}

type assetFetchedMsg struct {
	gen     uint64
	item    core.Item
	asset   core.Asset
	doc     *content.Document
	err     error
	elapsed time.Duration
}

type statusMsg struct {
	reply chan<- Status
}

type closeMsg struct{}

func (activateMsg) kind() string         { return "activate" }
func (sceneFetchedMsg) kind() string     { return "scene_fetched" }
func (markerRegisteredMsg) kind() string { return "marker_registered" }
func (trackingMsg) kind() string         { return "tracking" }
func (prefetchedMsg) kind() string       { return "prefetched" }
func (assetFetchedMsg) kind() string     { return "asset_fetched" }
func (statusMsg) kind() string           { return "status" }
func (closeMsg) kind() string            { return "close" }
