// Package content fetches glTF/GLB assets and instantiates them in the scene
// graph, repairing materials the host cannot render.
package content

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/gltf"

	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/internal/locator"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Shader names assigned to decoded glTF materials.
const (
	ShaderPBR   = "Shader Graphs/glTF-pbrMetallicRoughness"
	ShaderUnlit = "Shader Graphs/glTF-unlit"
)

// Fetcher downloads raw bytes. *api.Client satisfies it.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Document is a fetched and decoded asset, ready to instantiate.
type Document struct {
	Locator       string
	URL           string
	Name          string
	Size          int
	FetchDuration time.Duration
	GLTF          *gltf.Document
}

// Options configures a Loader.
type Options struct {
	// FallbackShaders is the material repair preference list.
	FallbackShaders []string
	// Root parents every loaded asset; engine.NoNode means the scene root.
	Root engine.NodeID
}

// Loader resolves, fetches, decodes and instantiates assets.
type Loader struct {
	resolver  locator.Resolver
	fetcher   Fetcher
	graph     engine.SceneGraph
	shaders   engine.ShaderLibrary
	fallbacks []string
	root      engine.NodeID
	logger    *slog.Logger

	mu         sync.Mutex
	prefetched map[string]*Document
}

// NewLoader creates a Loader.
func NewLoader(r locator.Resolver, f Fetcher, eng engine.Engine, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		resolver:   r,
		fetcher:    f,
		graph:      eng.Graph,
		shaders:    eng.Shaders,
		fallbacks:  opts.FallbackShaders,
		root:       opts.Root,
		logger:     logger,
		prefetched: make(map[string]*Document),
	}
}

// Load fetches locator and instantiates it. Safe to call only from the
// goroutine that owns the scene graph.
func (l *Loader) Load(ctx context.Context, loc string) (engine.NodeID, error) {
	doc, err := l.Fetch(ctx, loc)
	if err != nil {
		return engine.NoNode, err
	}
	return l.Instantiate(doc)
}

// Fetch resolves, downloads and decodes locator. It touches no engine state
// and may run on any goroutine.
func (l *Loader) Fetch(ctx context.Context, loc string) (*Document, error) {
	if strings.TrimSpace(loc) == "" {
		return nil, core.Errorf(core.ErrInvalidInput, "asset locator is empty")
	}
	if doc := l.takePrefetched(loc); doc != nil {
		l.logger.Debug("using prefetched asset", "locator", loc)
		return doc, nil
	}

	start := time.Now()
	transport, err := l.resolver.Resolve(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", loc, err)
	}
	l.logger.Debug("resolved asset", "locator", loc, "url", transport)

	data, err := l.fetcher.Download(ctx, transport)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", transport, err)
	}

	var doc gltf.Document
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, core.Wrap(core.ErrLoad, "decode "+transport, err)
	}
	if len(doc.Scenes) == 0 && len(doc.Nodes) == 0 {
		return nil, core.Errorf(core.ErrLoad, "%s has no scene to instantiate", transport)
	}

	return &Document{
		Locator:       loc,
		URL:           transport,
		Name:          baseName(transport),
		Size:          len(data),
		FetchDuration: time.Since(start),
		GLTF:          &doc,
	}, nil
}

// Instantiate builds the document's main scene under a fresh root node named
// GLB:<file name>, then repairs its materials. Dangling references destroy the
// partial root and return ErrLoad.
func (l *Loader) Instantiate(d *Document) (engine.NodeID, error) {
	if d == nil || d.GLTF == nil {
		return engine.NoNode, core.Errorf(core.ErrLoad, "nothing to instantiate")
	}
	root, err := l.graph.CreateNode("GLB:"+d.Name, l.root)
	if err != nil {
		return engine.NoNode, core.Wrap(core.ErrLoad, "create root", err)
	}

	b := &builder{doc: d.GLTF, graph: l.graph, visiting: make(map[int]bool)}
	for _, n := range mainSceneNodes(d.GLTF) {
		if err := b.node(n, root); err != nil {
			if derr := l.graph.DestroyNode(root); derr != nil {
				l.logger.Warn("failed to destroy partial asset", "url", d.URL, "error", derr)
			}
			return engine.NoNode, core.Wrap(core.ErrLoad, "instantiate "+d.URL, err)
		}
	}

	l.RepairMaterials(root)
	l.DumpMaterials(root)
	return root, nil
}

// Unload destroys a loaded asset.
func (l *Loader) Unload(root engine.NodeID) error {
	return l.graph.DestroyNode(root)
}

func (l *Loader) takePrefetched(loc string) *Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.prefetched[loc]
	if ok {
		delete(l.prefetched, loc)
	}
	return doc
}

// ClearPrefetched drops every prefetched document.
func (l *Loader) ClearPrefetched() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prefetched = make(map[string]*Document)
}

// mainSceneNodes returns the root nodes of the default scene: doc.Scene, else
// scene 0, else every node without a parent.
func mainSceneNodes(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			idx = *doc.Scene
		}
		if s := doc.Scenes[idx]; s != nil {
			return s.Nodes
		}
		return nil
	}
	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		if n == nil {
			continue
		}
		for _, c := range n.Children {
			child[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

// baseName returns the last path element of a URL, unescaped.
func baseName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}
