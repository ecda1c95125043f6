package locator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/rookie-ar/markerscene/internal/config"
	"github.com/rookie-ar/markerscene/pkg/core"
)

// Signer produces signed object URLs.
type Signer interface {
	SignedURL(bucket, object string, opts *storage.SignedURLOptions) (string, error)
}

type clientSigner struct {
	client *storage.Client
}

func (s clientSigner) SignedURL(bucket, object string, opts *storage.SignedURLOptions) (string, error) {
	return s.client.Bucket(bucket).SignedURL(object, opts)
}

// GCSResolver signs V4 GET URLs for cloud locators.
type GCSResolver struct {
	signer Signer
	client *storage.Client
	expiry time.Duration
	now    func() time.Time
}

// NewGCSResolver opens a storage client with the configured credentials,
// or application default credentials when none are set.
func NewGCSResolver(ctx context.Context, cfg config.GCSConfig) (*GCSResolver, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	r := NewGCSResolverWithSigner(clientSigner{client: client}, cfg.Expiry)
	r.client = client
	return r, nil
}

// NewGCSResolverWithSigner creates a resolver around an existing signer.
func NewGCSResolverWithSigner(s Signer, expiry time.Duration) *GCSResolver {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &GCSResolver{signer: s, expiry: expiry, now: time.Now}
}

func (g *GCSResolver) Resolve(_ context.Context, locator string) (string, error) {
	c, cloud, err := Parse(locator)
	if err != nil {
		return "", err
	}
	if !cloud {
		return locator, nil
	}
	signed, err := g.signer.SignedURL(c.Bucket, c.Object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: g.now().Add(g.expiry),
	})
	if err != nil {
		return "", core.Wrap(core.ErrUnsupportedLocator, "sign "+locator, err)
	}
	return signed, nil
}

func (g *GCSResolver) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
