package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"
	"lotterydash/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Executor drives operations through submission and a bounded confirmation
// wait. Watches outlive the request that started them and end on Close.
type Executor struct {
	watcher        blockchain.ReceiptWatcher
	journal        Journal
	clock          clockwork.Clock
	confirmTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(watcher blockchain.ReceiptWatcher, journal Journal, confirmTimeout time.Duration, clock clockwork.Clock) *Executor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		watcher:        watcher,
		journal:        journal,
		clock:          clock,
		confirmTimeout: confirmTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (e *Executor) newOperation(op blockchain.WriteOp, flow storage.FlowType) *Operation {
	return newOperation(op, flow, e.journal, e.clock)
}

// begin claims an Idle operation for submission.
func (e *Executor) begin(o *Operation, amount *big.Int) error {
	return o.transition(Submitting, func(o *Operation) {
		if amount != nil {
			o.amount = new(big.Int).Set(amount)
		}
	})
}

// submit broadcasts through send and starts watching the receipt. It returns
// the submission error verbatim; confirmation continues in the background and
// onConfirmed runs once the receipt succeeds.
func (e *Executor) submit(ctx context.Context, o *Operation, send func(ctx context.Context) (common.Hash, error), onConfirmed func(o *Operation)) error {
	hash, err := send(ctx)
	if err != nil {
		_ = o.fail(err)
		return err
	}

	if err := o.transition(Submitted, func(o *Operation) { o.txHash = &hash }); err != nil {
		return err
	}
	logger.Info("orchestrator: transaction submitted", zap.String("id", o.id), zap.Stringer("operation", o.op), zap.Stringer("hash", hash))

	if err := o.transition(Confirming, nil); err != nil {
		return err
	}
	e.watch(o, hash, onConfirmed)
	return nil
}

func (e *Executor) watch(o *Operation, hash common.Hash, onConfirmed func(o *Operation)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithCancel(e.ctx)
		defer cancel()

		timer := e.clock.NewTimer(e.confirmTimeout)
		defer timer.Stop()

		var timedOut bool
		var mu sync.Mutex
		go func() {
			select {
			case <-timer.Chan():
				mu.Lock()
				timedOut = true
				mu.Unlock()
				cancel()
			case <-ctx.Done():
			}
		}()

		_, err := e.watcher.WaitForReceipt(ctx, hash)

		mu.Lock()
		expired := timedOut
		mu.Unlock()

		switch {
		case err == nil:
			if err := o.transition(Confirmed, func(o *Operation) { o.stale = false; o.err = nil }); err != nil {
				logger.Warn("orchestrator: cannot confirm", zap.String("id", o.id), zap.Error(err))
				return
			}
			logger.Info("orchestrator: transaction confirmed", zap.String("id", o.id), zap.Stringer("operation", o.op))
			if onConfirmed != nil {
				onConfirmed(o)
			}
		case expired:
			metrics.StaleConfirmations.Inc()
			logger.Warn("orchestrator: confirmation timed out, operation left pending", zap.String("id", o.id), zap.Duration("timeout", e.confirmTimeout))
			o.setStale(true, ErrConfirmationTimeout)
		case e.ctx.Err() != nil:
			logger.Debug("orchestrator: watch stopped on shutdown", zap.String("id", o.id))
		default:
			_ = o.fail(err)
		}
	}()
}

// recheck restarts the confirmation wait of a stale operation.
func (e *Executor) recheck(o *Operation, onConfirmed func(o *Operation)) error {
	o.mu.Lock()
	if !o.stale || o.phase != Confirming || o.txHash == nil {
		o.mu.Unlock()
		return ErrNothingToRecheck
	}
	hash := *o.txHash
	o.mu.Unlock()

	o.setStale(false, nil)
	logger.Info("orchestrator: rechecking confirmation", zap.String("id", o.id), zap.Stringer("hash", hash))
	e.watch(o, hash, onConfirmed)
	return nil
}

// Close stops every confirmation watch.
func (e *Executor) Close() {
	e.cancel()
	e.wg.Wait()
}
