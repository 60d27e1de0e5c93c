package tracker

import (
	"context"
	"errors"
	"fmt"

	"lotterydash/internal/logger"

	"go.uber.org/zap"
)

var ErrInvalidPoolContract = errors.New("invalid pool contract")

// VerifyPoolContract checks that the pool address holds a contract that
// answers ticketPurchaseCost.
func (t *Tracker) VerifyPoolContract() error {
	logger.Debug("verify pool contract: verifying pool address...", zap.Stringer("pool", t.cfg.Pool()))

	ctx, cancel := context.WithTimeout(t.ctx, VerifyTimeout)
	defer cancel()

	hasCode, err := t.deps.Verifier.HasCode(ctx)
	if err != nil {
		logger.Error("verify pool contract: failed to get pool account code", zap.Error(err))
		return fmt.Errorf("verify pool contract: %w", err)
	}
	if !hasCode {
		logger.Error("verify pool contract: no code at pool address")
		return fmt.Errorf("%w: no code at %s", ErrInvalidPoolContract, t.cfg.Pool())
	}

	cost, err := t.deps.Reader.TicketPurchaseCost(ctx)
	if err != nil {
		logger.Error("verify pool contract: failed to get ticketPurchaseCost", zap.Error(err))
		return fmt.Errorf("%w: ticketPurchaseCost: %w", ErrInvalidPoolContract, err)
	}

	logger.Debug("verify pool contract: verifying pool address... done", zap.Stringer("ticketPurchaseCost", cost))
	return nil
}
