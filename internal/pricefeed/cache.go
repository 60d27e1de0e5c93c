package pricefeed

import (
	"context"
	"sync"
	"time"

	"lotterydash/internal/derived"
	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache owns the process-wide price snapshot. It refreshes on Start and then
// every interval; a failed refresh keeps the previous snapshot.
type Cache struct {
	fetcher  Fetcher
	interval time.Duration
	clock    clockwork.Clock
	source   string

	group singleflight.Group

	mu       sync.RWMutex
	snapshot Snapshot
	has      bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewCache(fetcher Fetcher, interval time.Duration, clock clockwork.Clock, source string) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		fetcher:  fetcher,
		interval: interval,
		clock:    clock,
		source:   source,
	}
}

// Start refreshes once and keeps refreshing in the background until Stop.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	ticker := c.clock.NewTicker(c.interval)
	go func() {
		defer close(c.done)
		defer ticker.Stop()

		_ = c.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				_ = c.Refresh(ctx)
			}
		}
	}()
}

func (c *Cache) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Refresh fetches a new price. Concurrent callers share one fetch.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("price", func() (interface{}, error) {
		snapshot, err := c.fetch(ctx)
		if err != nil {
			metrics.PriceRefreshes.WithLabelValues(c.source, "failure").Inc()
			logger.Warn("price cache: refresh failed, keeping last snapshot", zap.String("source", c.source), zap.Error(err))
			return nil, err
		}

		c.mu.Lock()
		c.snapshot = snapshot
		c.has = true
		c.mu.Unlock()

		metrics.PriceRefreshes.WithLabelValues(c.source, "success").Inc()
		metrics.PriceLastSuccess.Set(float64(snapshot.FetchedAt.Unix()))
		metrics.PriceUSD.Set(snapshot.Value)
		logger.Debug("price cache: refreshed", zap.Float64("usd", snapshot.Value), zap.Time("fetchedAt", snapshot.FetchedAt))
		return nil, nil
	})
	return err
}

// fetch stamps plain fetchers with the local time and keeps the upstream
// time of snapshot fetchers.
func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	if snapshots, ok := c.fetcher.(SnapshotFetcher); ok {
		return snapshots.FetchSnapshot(ctx)
	}

	value, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Value: value, FetchedAt: c.clock.Now()}, nil
}

// Price returns the last good price, or 0 when none was ever fetched.
func (c *Cache) Price() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Value
}

func (c *Cache) Latest() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.has
}

// Quote is the price in the form derived metrics consume.
func (c *Cache) Quote() derived.Price {
	snapshot, ok := c.Latest()
	return derived.Price{USD: snapshot.Value, Available: ok}
}
