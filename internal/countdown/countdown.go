// Package countdown turns a polled "seconds until draw" value into a display
// counter that ticks locally once per second.
package countdown

import (
	"context"
	"sync"
	"time"

	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Ticker struct {
	clock clockwork.Clock

	mu        sync.Mutex
	remaining uint64
	polled    uint64
	synced    bool

	subscribers map[int]chan uint64
	nextID      int
}

func NewTicker(clock clockwork.Clock) *Ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ticker{
		clock:       clock,
		subscribers: make(map[int]chan uint64),
	}
}

// Sync overwrites the local counter with an authoritative polled value.
// Repeating the previous polled value keeps the local decay.
func (t *Ticker) Sync(seconds uint64) {
	t.mu.Lock()
	if t.synced && t.polled == seconds {
		t.mu.Unlock()
		return
	}

	drift := int64(t.remaining) - int64(seconds)
	t.polled = seconds
	t.remaining = seconds
	t.synced = true
	t.broadcastLocked()
	t.mu.Unlock()

	logger.Debug("countdown: resynchronized", zap.Uint64("remaining", seconds), zap.Int64("drift", drift))
}

func (t *Ticker) Remaining() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Synced reports whether a polled value has ever been received.
func (t *Ticker) Synced() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synced
}

// Run ticks at 1 Hz until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remaining == 0 {
		return
	}
	t.remaining--
	t.broadcastLocked()
}

// Subscribe returns a channel receiving every new value and a func that
// releases it. Slow subscribers only see the newest value.
func (t *Ticker) Subscribe() (<-chan uint64, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan uint64, 1)
	if t.synced {
		ch <- t.remaining
	}
	t.subscribers[id] = ch
	metrics.CountdownSubscribers.Set(float64(len(t.subscribers)))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subscribers, id)
			metrics.CountdownSubscribers.Set(float64(len(t.subscribers)))
		})
	}
}

func (t *Ticker) broadcastLocked() {
	metrics.CountdownRemaining.Set(float64(t.remaining))

	for _, ch := range t.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- t.remaining
	}
}
