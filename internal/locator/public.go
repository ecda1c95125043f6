package locator

import (
	"context"
	"net/url"
)

// PublicResolver rewrites cloud locators to the provider's public HTTPS path.
// It never touches the network.
type PublicResolver struct {
	Host string
}

// NewPublicResolver creates a PublicResolver; an empty host uses DefaultPublicHost.
func NewPublicResolver(host string) *PublicResolver {
	if host == "" {
		host = DefaultPublicHost
	}
	return &PublicResolver{Host: host}
}

func (p *PublicResolver) Resolve(_ context.Context, locator string) (string, error) {
	c, cloud, err := Parse(locator)
	if err != nil {
		return "", err
	}
	if !cloud {
		return locator, nil
	}
	return "https://" + p.Host + "/" + c.Bucket + "/" + url.QueryEscape(c.Object), nil
}
