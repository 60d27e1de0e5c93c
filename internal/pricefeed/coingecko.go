package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"lotterydash/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errRateLimited = errors.New("upstream rate limited")

// CoinGecko reads simple USD prices from a CoinGecko v3 compatible API.
type CoinGecko struct {
	baseURL string
	asset   string
	client  *http.Client
	limiter *rate.Limiter

	// NewBackOff builds the retry policy for 429 responses.
	NewBackOff func() backoff.BackOff
}

var _ Fetcher = (*CoinGecko)(nil)

func NewCoinGecko(baseURL, asset string, requestsPerSecond float64, client *http.Client) *CoinGecko {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CoinGecko{
		baseURL:    baseURL,
		asset:      asset,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		NewBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

func (c *CoinGecko) Fetch(ctx context.Context) (float64, error) {
	var price float64
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		value, err := c.fetchOnce(ctx)
		if errors.Is(err, errRateLimited) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		price = value
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug("coingecko: rate limited, retrying", zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.NewBackOff(), ctx), notify); err != nil {
		return 0, fmt.Errorf("coingecko %s: %w", c.asset, err)
	}
	return price, nil
}

func (c *CoinGecko) fetchOnce(ctx context.Context) (float64, error) {
	query := url.Values{}
	query.Set("ids", c.asset)
	query.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	return usdFrom(body, c.asset)
}

// usdFrom extracts <asset>.usd from a price payload.
func usdFrom(body []byte, asset string) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, errors.New("invalid price payload")
	}

	usd := gjson.GetBytes(body, gjson.Escape(asset)+".usd")
	if !usd.Exists() || usd.Type != gjson.Number {
		return 0, fmt.Errorf("price payload has no %s.usd", asset)
	}
	return usd.Float(), nil
}
