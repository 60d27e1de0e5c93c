package pricefeed

import (
	"context"
	"errors"
	"time"
)

var ErrNoPrice = errors.New("no price has ever been fetched")

// Fetcher retrieves the current USD price of the configured asset.
type Fetcher interface {
	Fetch(ctx context.Context) (float64, error)
}

// SnapshotFetcher is a Fetcher that knows when its value was observed
// upstream, such as a cache in front of the real source.
type SnapshotFetcher interface {
	Fetcher
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (float64, error)

func (f FetcherFunc) Fetch(ctx context.Context) (float64, error) {
	if f == nil {
		return 0, ErrNoPrice
	}
	return f(ctx)
}

// Snapshot is one successful price observation.
type Snapshot struct {
	Value     float64   `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func (s Snapshot) FetchedAtEpochMillis() int64 {
	return s.FetchedAt.UnixMilli()
}
