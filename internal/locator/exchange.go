package locator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rookie-ar/markerscene/pkg/core"
)

// ExchangeResolver asks an external storage service for a download URL.
// Request: POST {"locator": "gs://..."}; response: {"url": "https://..."}.
type ExchangeResolver struct {
	endpoint   string
	httpClient *http.Client
}

// NewExchangeResolver creates an ExchangeResolver. A nil client gets a 15s timeout.
func NewExchangeResolver(endpoint string, hc *http.Client) *ExchangeResolver {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &ExchangeResolver{endpoint: endpoint, httpClient: hc}
}

type exchangeRequest struct {
	Locator string `json:"locator"`
}

type exchangeResponse struct {
	URL string `json:"url"`
}

func (e *ExchangeResolver) Resolve(ctx context.Context, locator string) (string, error) {
	_, cloud, err := Parse(locator)
	if err != nil {
		return "", err
	}
	if !cloud {
		return locator, nil
	}

	body, err := json.Marshal(exchangeRequest{Locator: locator})
	if err != nil {
		return "", fmt.Errorf("encode exchange request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", core.Wrap(core.ErrUnsupportedLocator, "exchange request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", core.Wrap(core.ErrNetwork, "exchange "+locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", core.Errorf(core.ErrUnsupportedLocator, "exchange %s returned status %d", locator, resp.StatusCode)
	}
	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", core.Wrap(core.ErrDecode, "exchange response", err)
	}
	lower := strings.ToLower(out.URL)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		return "", core.Errorf(core.ErrUnsupportedLocator, "exchange returned non-transport URL %q", out.URL)
	}
	return out.URL, nil
}
