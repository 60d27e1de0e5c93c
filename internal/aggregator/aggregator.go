// Package aggregator polls the pool contract's read functions and exposes
// each one as an independently loading and erroring query.
package aggregator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Intervals struct {
	Fast     time.Duration
	Standard time.Duration
	Slow     time.Duration
}

func (i Intervals) of(c Cadence) time.Duration {
	switch c {
	case Fast:
		return i.Fast
	case Slow:
		return i.Slow
	default:
		return i.Standard
	}
}

type Aggregator struct {
	reader          blockchain.Reader
	clock           clockwork.Clock
	intervals       Intervals
	winnersLookback uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	address   *common.Address
	round     *big.Int
	closed    bool
	listeners []func(op blockchain.ReadOp)

	TotalStaked         *Query[*big.Int]
	TicketCount         *Query[*big.Int]
	TicketsInRound      *Query[*big.Int]
	UserStakes          *Query[*big.Int]
	UserTicketsInRound  *Query[*big.Int]
	CurrentRound        *Query[*big.Int]
	TicketPurchaseCost  *Query[*big.Int]
	Winners             *Query[[]blockchain.Winner]
	TimeUntilNextDraw   *Query[*big.Int]
	TotalYieldGenerated *Query[*big.Int]
	InvestmentBalance   *Query[*big.Int]

	queries map[blockchain.ReadOp]runner
}

func New(reader blockchain.Reader, intervals Intervals, winnersLookback uint64, clock clockwork.Clock) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &Aggregator{
		reader:          reader,
		clock:           clock,
		intervals:       intervals,
		winnersLookback: winnersLookback,
		queries:         make(map[blockchain.ReadOp]runner),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.TotalStaked = register(a, blockchain.ReadTotalStaked, Standard, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.TotalStaked(ctx)
	})
	a.TicketCount = register(a, blockchain.ReadTicketCount, Standard, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.TicketCount(ctx)
	})
	a.TicketsInRound = register(a, blockchain.ReadTicketsInRound, Standard, onRound, func(ctx context.Context, s Scope) (*big.Int, error) {
		return reader.TicketsInRound(ctx, s.Round)
	})
	a.UserStakes = register(a, blockchain.ReadUserStakes, Standard, onAddress, func(ctx context.Context, s Scope) (*big.Int, error) {
		return reader.UserStakes(ctx, *s.Address)
	})
	a.UserTicketsInRound = register(a, blockchain.ReadUserTicketsInRound, Standard, onAddress|onRound, func(ctx context.Context, s Scope) (*big.Int, error) {
		return reader.UserTicketsInRound(ctx, *s.Address, s.Round)
	})
	a.CurrentRound = register(a, blockchain.ReadCurrentRound, Fast, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.CurrentRound(ctx)
	})
	a.CurrentRound.applied = a.setRound
	a.TicketPurchaseCost = register(a, blockchain.ReadTicketPurchaseCost, Standard, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.TicketPurchaseCost(ctx)
	})
	a.Winners = register(a, blockchain.ReadWinnersByRoundRange, Slow, onRound, a.fetchWinners)
	a.TimeUntilNextDraw = register(a, blockchain.ReadTimeUntilNextDraw, Fast, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.TimeUntilNextDraw(ctx)
	})
	a.TotalYieldGenerated = register(a, blockchain.ReadTotalYieldGenerated, Standard, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.TotalYieldGenerated(ctx)
	})
	a.InvestmentBalance = register(a, blockchain.ReadInvestmentBalance, Standard, 0, func(ctx context.Context, _ Scope) (*big.Int, error) {
		return reader.InvestmentBalance(ctx)
	})

	return a
}

func register[T any](a *Aggregator, op blockchain.ReadOp, cadence Cadence, deps dependency, fetch func(context.Context, Scope) (T, error)) *Query[T] {
	q := &Query[T]{
		agg:     a,
		op:      op,
		cadence: cadence,
		deps:    deps,
		fetch:   fetch,
	}
	a.queries[op] = q
	return q
}

// fetchWinners reads the completed rounds in the lookback window.
func (a *Aggregator) fetchWinners(ctx context.Context, s Scope) ([]blockchain.Winner, error) {
	if s.Round.Cmp(big.NewInt(1)) <= 0 || a.winnersLookback == 0 {
		return []blockchain.Winner{}, nil
	}

	to := new(big.Int).Sub(s.Round, big.NewInt(1))
	from := new(big.Int).Sub(s.Round, new(big.Int).SetUint64(a.winnersLookback))
	if from.Sign() < 1 {
		from.SetInt64(1)
	}
	return a.reader.WinnersByRoundRange(ctx, from, to)
}

// Query returns the untyped status of op.
func (a *Aggregator) Query(op blockchain.ReadOp) (Status, bool) {
	q, ok := a.queries[op]
	if !ok {
		return Status{}, false
	}
	return q.Status(), true
}

// OnChange registers fn to be called after any query state change.
func (a *Aggregator) OnChange(fn func(op blockchain.ReadOp)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *Aggregator) notify(op blockchain.ReadOp) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return
	}
	listeners := append([]func(blockchain.ReadOp){}, a.listeners...)
	a.mu.RUnlock()

	for _, fn := range listeners {
		fn(op)
	}
}

func (a *Aggregator) Address() (common.Address, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.address == nil {
		return common.Address{}, false
	}
	return *a.address, true
}

// SetAddress switches the connected address. Data of user-scoped queries is
// dropped immediately and re-read for the new address; a nil address
// disables them.
func (a *Aggregator) SetAddress(address *common.Address) {
	a.mu.Lock()
	if a.closed || sameAddress(a.address, address) {
		a.mu.Unlock()
		return
	}
	if address != nil {
		copied := *address
		address = &copied
	}
	a.address = address
	a.mu.Unlock()

	logger.Info("aggregator: address changed", zap.Bool("connected", address != nil))
	a.invalidate(onAddress)
}

func (a *Aggregator) setRound(round *big.Int) {
	a.mu.Lock()
	if a.closed || round == nil || (a.round != nil && a.round.Cmp(round) == 0) {
		a.mu.Unlock()
		return
	}
	a.round = new(big.Int).Set(round)
	a.mu.Unlock()

	logger.Info("aggregator: round changed", zap.Stringer("round", round))
	a.invalidate(onRound)
}

func (a *Aggregator) invalidate(d dependency) {
	var affected []runner
	for _, q := range a.queries {
		if q.dependsOn(d) {
			q.reset()
			affected = append(affected, q)
		}
	}

	a.spawn(func(ctx context.Context) {
		a.refreshAll(ctx, affected)
	})
}

func (a *Aggregator) scopeFor(deps dependency) (Scope, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var scope Scope
	if deps&onAddress != 0 {
		if a.address == nil {
			return Scope{}, false
		}
		address := *a.address
		scope.Address = &address
	}
	if deps&onRound != 0 {
		if a.round == nil {
			return Scope{}, false
		}
		scope.Round = new(big.Int).Set(a.round)
	}
	return scope, true
}

func (a *Aggregator) scopeKeyLocked(deps dependency) string {
	var scope Scope
	if deps&onAddress != 0 {
		scope.Address = a.address
	}
	if deps&onRound != 0 {
		scope.Round = a.round
	}
	return scope.key()
}

// Start polls every cadence on its own interval until Close.
func (a *Aggregator) Start() {
	for _, cadence := range []Cadence{Fast, Standard, Slow} {
		cadence := cadence
		a.spawn(func(ctx context.Context) {
			ticker := a.clock.NewTicker(a.intervals.of(cadence))
			defer ticker.Stop()

			a.RefreshCadence(ctx, cadence)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.Chan():
					a.RefreshCadence(ctx, cadence)
				}
			}
		})
	}
}

// RefreshCadence re-executes every query of one polling class in parallel.
func (a *Aggregator) RefreshCadence(ctx context.Context, cadence Cadence) {
	var queries []runner
	for _, q := range a.queries {
		if q.Cadence() == cadence {
			queries = append(queries, q)
		}
	}
	a.refreshAll(ctx, queries)
}

// Refresh re-executes every query and waits for all of them.
func (a *Aggregator) Refresh(ctx context.Context) {
	queries := make([]runner, 0, len(a.queries))
	for _, q := range a.queries {
		queries = append(queries, q)
	}
	a.refreshAll(ctx, queries)
}

// Revalidate asks every query to re-read without waiting for the results.
func (a *Aggregator) Revalidate() {
	metrics.Revalidations.Inc()
	logger.Debug("aggregator: revalidating all queries")
	a.spawn(a.Refresh)
}

func (a *Aggregator) refreshAll(ctx context.Context, queries []runner) {
	// failures stay on their own query, so the group never returns an error
	var group errgroup.Group
	for _, q := range queries {
		q := q
		group.Go(func() error {
			q.refresh(ctx)
			return nil
		})
	}
	_ = group.Wait()
}

func (a *Aggregator) spawn(fn func(ctx context.Context)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
}

// Close stops polling and cancels in-flight reads. Results arriving later are
// discarded.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	logger.Debug("aggregator: closed")
}

func sameAddress(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
