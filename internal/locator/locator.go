// Package locator turns asset locators into fetchable transport URLs.
package locator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Resolver maps a locator to a transport URL.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// CloudScheme is the cloud-storage locator scheme, as in gs://bucket/path.
const CloudScheme = "gs"

// DefaultPublicHost serves public buckets over HTTPS.
const DefaultPublicHost = "storage.googleapis.com"

// Modes accepted by New.
const (
	ModePublic   = "public"
	ModeExchange = "exchange"
	ModeGCS      = "gcs"
)

// Cloud is a parsed cloud-storage locator.
type Cloud struct {
	Bucket string
	Object string
}

// Parse classifies locator. Transport URLs (http, https, any case) return
// ok=false and a nil error; cloud locators return the parsed bucket and object.
// Anything else is ErrUnsupportedLocator.
func Parse(locator string) (c Cloud, cloud bool, err error) {
	loc := strings.TrimSpace(locator)
	if loc == "" {
		return Cloud{}, false, core.Errorf(core.ErrUnsupportedLocator, "empty locator")
	}
	scheme, rest, found := strings.Cut(loc, "://")
	if !found {
		return Cloud{}, false, core.Errorf(core.ErrUnsupportedLocator, "%q has no scheme", locator)
	}
	switch strings.ToLower(scheme) {
	case "http", "https":
		return Cloud{}, false, nil
	case CloudScheme:
		bucket, object, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || object == "" {
			return Cloud{}, false, core.Errorf(core.ErrUnsupportedLocator, "%q is not %s://bucket/path", locator, CloudScheme)
		}
		return Cloud{Bucket: bucket, Object: object}, true, nil
	}
	return Cloud{}, false, core.Errorf(core.ErrUnsupportedLocator, "scheme %q in %q", scheme, locator)
}

// Close releases resources held by r, if it holds any.
func Close(r Resolver) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// New builds the resolver selected by cfg.Mode. Authenticated modes are
// wrapped with the public rewrite when cfg.FallbackPublic is set.
func New(ctx context.Context, cfg config.ResolverConfig, hc *http.Client, logger *slog.Logger) (Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	public := NewPublicResolver(cfg.PublicHost)

	var primary Resolver
	switch strings.ToLower(cfg.Mode) {
	case "", ModePublic:
		return public, nil
	case ModeExchange:
		if cfg.ExchangeURL == "" {
			return nil, fmt.Errorf("resolver mode %q requires resolver.exchangeUrl", cfg.Mode)
		}
		primary = NewExchangeResolver(cfg.ExchangeURL, hc)
	case ModeGCS:
		gcs, err := NewGCSResolver(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		primary = gcs
	default:
		return nil, fmt.Errorf("unknown resolver mode %q", cfg.Mode)
	}

	if !cfg.FallbackPublic {
		return primary, nil
	}
	return &Fallback{Primary: primary, Secondary: public, Logger: logger}, nil
}

// Fallback tries Primary and, for cloud locators only, falls back to Secondary.
type Fallback struct {
	Primary   Resolver
	Secondary Resolver
	Logger    *slog.Logger
}

func (f *Fallback) Resolve(ctx context.Context, locator string) (string, error) {
	u, err := f.Primary.Resolve(ctx, locator)
	if err == nil {
		return u, nil
	}
	if _, cloud, perr := Parse(locator); perr != nil || !cloud {
		return "", err
	}
	if ctx.Err() != nil {
		return "", err
	}
	f.Logger.Warn("authenticated resolve failed, using public URL", "locator", locator, "error", err)
	return f.Secondary.Resolve(ctx, locator)
}

func (f *Fallback) Close() error {
	return Close(f.Primary)
}
