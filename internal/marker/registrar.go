package marker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/rookie-ar/markerscene/internal/cache"
	"github.com/rookie-ar/markerscene/internal/engine"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Downloader fetches raw bytes. *api.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Registrar adds marker reference images to the tracker at runtime.
type Registrar struct {
	tracker    engine.ImageTracker
	downloader Downloader
	seen       *cache.MarkerCache
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRegistrar creates a Registrar. timeout bounds the validation job; zero waits
// until ctx is done.
func NewRegistrar(tracker engine.ImageTracker, dl Downloader, timeout time.Duration, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		tracker:    tracker,
		downloader: dl,
		seen:       cache.NewMarkerCache(),
		timeout:    timeout,
		logger:     logger,
	}
}

// Register downloads imageURL and adds it to the tracker's mutable reference
// library under name. It blocks until the validation job finishes or ctx is done.
// Duplicate names are left to the tracker to reconcile.
func (r *Registrar) Register(ctx context.Context, name, imageURL string, widthM float64) error {
	if strings.TrimSpace(name) == "" {
		return core.Errorf(core.ErrInvalidInput, "marker name is empty")
	}
	if widthM <= 0 {
		return core.Errorf(core.ErrInvalidInput, "marker %q: physical width must be > 0, got %v", name, widthM)
	}

	data, err := r.downloader.Download(ctx, imageURL)
	if err != nil {
		return fmt.Errorf("load marker image: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return core.Wrap(core.ErrDecode, fmt.Sprintf("marker image %s", imageURL), err)
	}
	r.logger.Debug("marker image decoded", "name", name, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	lib, err := r.mutableLibrary()
	if err != nil {
		return err
	}

	job, err := lib.ScheduleAddImage(img, name, widthM)
	if err != nil {
		return fmt.Errorf("schedule marker %q: %w", name, err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	select {
	case <-job.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for marker %q validation: %w", name, ctx.Err())
	}
	if err := job.Complete(); err != nil {
		return fmt.Errorf("marker %q validation failed: %w", name, err)
	}

	reg := r.seen.Record(name, widthM, time.Now())
	r.logger.Info("Added marker", "name", name, "widthM", widthM, "registrations", reg.Count)
	return nil
}

// mutableLibrary returns the installed library when it accepts images,
// otherwise creates and installs a runtime library.
func (r *Registrar) mutableLibrary() (engine.MutableLibrary, error) {
	if lib, ok := r.tracker.ReferenceLibrary().(engine.MutableLibrary); ok && lib != nil {
		return lib, nil
	}
	lib, err := r.tracker.CreateRuntimeLibrary()
	if err != nil {
		return nil, fmt.Errorf("create runtime reference library: %w", err)
	}
	if err := r.tracker.SetReferenceLibrary(lib); err != nil {
		return nil, fmt.Errorf("install runtime reference library: %w", err)
	}
	r.logger.Debug("runtime reference library created")
	return lib, nil
}
