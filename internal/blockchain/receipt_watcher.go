package blockchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lotterydash/internal/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// ReceiptPoller polls for a receipt until the transaction is mined or ctx ends.
// Transport errors are logged and retried on the next tick.
type ReceiptPoller struct {
	backend  ReceiptFetcher
	interval time.Duration
	clock    clockwork.Clock
}

var _ ReceiptWatcher = (*ReceiptPoller)(nil)

func NewReceiptPoller(backend ReceiptFetcher, interval time.Duration, clock clockwork.Clock) *ReceiptPoller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReceiptPoller{
		backend:  backend,
		interval: interval,
		clock:    clock,
	}
}

func (p *ReceiptPoller) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		receipt, err := p.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: %s in block %s", ErrReverted, hash, receipt.BlockNumber)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			logger.Warn("receipt poller: receipt lookup failed, retrying", zap.Stringer("hash", hash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.Chan():
		}
	}
}
