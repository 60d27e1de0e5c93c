package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cadence is the polling class of a query.
type Cadence uint8

const (
	Fast Cadence = iota
	Standard
	Slow
)

func (c Cadence) String() string {
	switch c {
	case Fast:
		return "fast"
	case Standard:
		return "standard"
	case Slow:
		return "slow"
	default:
		return "unknown"
	}
}

type dependency uint8

const (
	onAddress dependency = 1 << iota
	onRound
)

// Scope is the dependency set a query executes against.
type Scope struct {
	Address *common.Address
	Round   *big.Int
}

func (s Scope) key() string {
	key := "address="
	if s.Address != nil {
		key += s.Address.Hex()
	}
	key += "|round="
	if s.Round != nil {
		key += s.Round.String()
	}
	return key
}

// State is the observable value of one query.
type State[T any] struct {
	Data      T
	HasData   bool
	IsLoading bool
	Disabled  bool
	Err       error
	UpdatedAt time.Time
}

// Status is the untyped view of a State.
type Status struct {
	Data      any
	HasData   bool
	IsLoading bool
	Disabled  bool
	Err       error
	UpdatedAt time.Time
}

type runner interface {
	Op() blockchain.ReadOp
	Cadence() Cadence
	Status() Status
	refresh(ctx context.Context)
	reset()
	dependsOn(d dependency) bool
}

type Query[T any] struct {
	agg     *Aggregator
	op      blockchain.ReadOp
	cadence Cadence
	deps    dependency
	fetch   func(ctx context.Context, scope Scope) (T, error)
	applied func(value T)

	group singleflight.Group

	mu       sync.Mutex
	state    State[T]
	seq      uint64
	accepted uint64
	inflight int
}

var _ runner = (*Query[int])(nil)

func (q *Query[T]) Op() blockchain.ReadOp { return q.op }

func (q *Query[T]) Cadence() Cadence { return q.cadence }

func (q *Query[T]) dependsOn(d dependency) bool { return q.deps&d != 0 }

func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Value returns the data and whether it is usable: loaded and not errored.
func (q *Query[T]) Value() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state.Data, q.state.HasData && q.state.Err == nil
}

func (q *Query[T]) Status() Status {
	s := q.State()
	status := Status{
		HasData:   s.HasData,
		IsLoading: s.IsLoading,
		Disabled:  s.Disabled,
		Err:       s.Err,
		UpdatedAt: s.UpdatedAt,
	}
	if s.HasData {
		status.Data = s.Data
	}
	return status
}

func (q *Query[T]) refresh(ctx context.Context) {
	scope, ok := q.agg.scopeFor(q.deps)
	if !ok {
		q.disable()
		return
	}
	key := scope.key()

	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.inflight++
	q.state.IsLoading = true
	q.state.Disabled = false
	q.mu.Unlock()
	q.agg.notify(q.op)

	start := q.agg.clock.Now()
	value, err, _ := q.group.Do(key, func() (interface{}, error) {
		return q.fetch(ctx, scope)
	})
	metrics.ReadsTotal.WithLabelValues(q.op.String()).Inc()
	metrics.ReadDuration.WithLabelValues(q.op.String()).Observe(q.agg.clock.Since(start).Seconds())

	if err != nil {
		metrics.ReadFailures.WithLabelValues(q.op.String()).Inc()
		logger.Warn("aggregator: read failed", zap.Stringer("query", q.op), zap.String("scope", key), zap.Error(err))
	}

	if !q.apply(key, seq, value, err) {
		metrics.DiscardedResults.Inc()
		return
	}
	if err == nil && q.applied != nil {
		q.applied(value.(T))
	}
	q.agg.notify(q.op)
}

// apply stores a result unless the aggregator closed, the dependency set
// moved on, or a newer execution already landed.
func (q *Query[T]) apply(key string, seq uint64, value interface{}, err error) bool {
	q.agg.mu.RLock()
	defer q.agg.mu.RUnlock()

	// a closed aggregator is frozen, loading flag included
	if q.agg.closed {
		return false
	}

	q.mu.Lock()
	q.inflight--
	q.state.IsLoading = q.inflight > 0

	if q.agg.scopeKeyLocked(q.deps) != key || seq <= q.accepted {
		q.mu.Unlock()
		return false
	}
	q.accepted = seq

	if err != nil {
		q.state.Err = fmt.Errorf("%s: %w", q.op, err)
		q.mu.Unlock()
		return true
	}

	q.state.Data = value.(T)
	q.state.HasData = true
	q.state.Err = nil
	q.state.UpdatedAt = q.agg.clock.Now()
	q.mu.Unlock()
	return true
}

func (q *Query[T]) disable() {
	q.mu.Lock()
	q.state = State[T]{Disabled: true}
	q.mu.Unlock()
	q.agg.notify(q.op)
}

// reset discards any result tied to the previous dependency set.
func (q *Query[T]) reset() {
	q.mu.Lock()
	q.state = State[T]{IsLoading: q.inflight > 0}
	q.accepted = q.seq
	q.mu.Unlock()
}
