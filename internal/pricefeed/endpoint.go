package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EndpointFetcher reads the price from a remote POST /get-link-price endpoint.
type EndpointFetcher struct {
	url    string
	asset  string
	client *http.Client
}

var _ Fetcher = (*EndpointFetcher)(nil)

func NewEndpointFetcher(url, asset string, client *http.Client) *EndpointFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &EndpointFetcher{
		url:    url,
		asset:  asset,
		client: client,
	}
}

func (f *EndpointFetcher) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, strings.NewReader("{}"))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price endpoint: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("price endpoint: %w", err)
	}
	return usdFrom(body, f.asset)
}
