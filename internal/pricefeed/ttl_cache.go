package pricefeed

import (
	"context"
	"sync"
	"time"

	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TTLCache fronts an upstream source for the price endpoint. Values younger
// than ttl are served without a fetch; an upstream failure falls back to the
// last good value and only fails when there has never been one.
type TTLCache struct {
	upstream Fetcher
	ttl      time.Duration
	clock    clockwork.Clock

	group singleflight.Group

	mu       sync.Mutex
	snapshot Snapshot
	has      bool
}

var (
	_ Fetcher         = (*TTLCache)(nil)
	_ SnapshotFetcher = (*TTLCache)(nil)
)

func NewTTLCache(upstream Fetcher, ttl time.Duration, clock clockwork.Clock) *TTLCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TTLCache{
		upstream: upstream,
		ttl:      ttl,
		clock:    clock,
	}
}

func (c *TTLCache) Fetch(ctx context.Context) (float64, error) {
	snapshot, err := c.FetchSnapshot(ctx)
	return snapshot.Value, err
}

// FetchSnapshot is Fetch keeping the time the value left the upstream.
func (c *TTLCache) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.has && c.clock.Since(c.snapshot.FetchedAt) < c.ttl {
		snapshot := c.snapshot
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()

	fetched, err, _ := c.group.Do("upstream", func() (interface{}, error) {
		value, err := c.upstream.Fetch(ctx)
		if err != nil {
			metrics.PriceRefreshes.WithLabelValues("upstream", "failure").Inc()
			return nil, err
		}
		metrics.PriceRefreshes.WithLabelValues("upstream", "success").Inc()

		snapshot := Snapshot{Value: value, FetchedAt: c.clock.Now()}
		c.mu.Lock()
		c.snapshot = snapshot
		c.has = true
		c.mu.Unlock()
		return snapshot, nil
	})
	if err == nil {
		return fetched.(Snapshot), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		logger.Error("price endpoint: upstream failed with nothing cached", zap.Error(err))
		return Snapshot{}, ErrNoPrice
	}

	logger.Warn("price endpoint: upstream failed, serving cached value", zap.Time("fetchedAt", c.snapshot.FetchedAt), zap.Error(err))
	return c.snapshot, nil
}
