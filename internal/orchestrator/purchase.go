package orchestrator

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/logger"
	"lotterydash/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// CostFunc returns the loaded per-ticket cost, or false while it is loading
// or errored.
type CostFunc func() (*big.Int, bool)

// Revalidator re-reads every ledger-derived view.
type Revalidator interface {
	Revalidate()
}

// PurchaseFlow is the two-step approve then stake purchase. The amount
// committed by Approve is the one Stake submits; a different ticket count
// needs Reset and a fresh approval.
type PurchaseFlow struct {
	exec        *Executor
	writer      blockchain.Writer
	spender     common.Address
	cost        CostFunc
	revalidator Revalidator

	mu        sync.Mutex
	approve   *Operation
	stake     *Operation
	tickets   uint64
	committed *big.Int
	last      *OperationState
}

type PurchaseState struct {
	Approve   OperationState  `json:"approve"`
	Stake     OperationState  `json:"stake"`
	Tickets   uint64          `json:"tickets"`
	Committed *big.Int        `json:"committed,omitempty"`
	CanStake  bool            `json:"canStake"`
	Last      *OperationState `json:"last,omitempty"`
}

func (s PurchaseState) MarshalJSON() ([]byte, error) {
	type plain PurchaseState
	return json.Marshal(struct {
		plain
		Committed string `json:"committed,omitempty"`
	}{plain(s), amountString(s.Committed)})
}

type Quote struct {
	Tickets   uint64   `json:"tickets"`
	PerTicket *big.Int `json:"perTicket"`
	Total     *big.Int `json:"total"`
}

func NewPurchaseFlow(exec *Executor, writer blockchain.Writer, spender common.Address, cost CostFunc, revalidator Revalidator) *PurchaseFlow {
	p := &PurchaseFlow{
		exec:        exec,
		writer:      writer,
		spender:     spender,
		cost:        cost,
		revalidator: revalidator,
	}
	p.resetLocked()
	return p
}

func (p *PurchaseFlow) resetLocked() {
	p.approve = p.exec.newOperation(blockchain.WriteApprove, storage.PurchaseFlowType)
	p.stake = p.exec.newOperation(blockchain.WriteStake, storage.PurchaseFlowType)
	p.tickets = 0
	p.committed = nil
}

// Quote prices tickets at the current cost without touching the flow.
func (p *PurchaseFlow) Quote(tickets uint64) (Quote, error) {
	if tickets == 0 {
		return Quote{}, ErrInvalidTickets
	}
	cost, ok := p.cost()
	if !ok || cost == nil || cost.Sign() <= 0 {
		return Quote{}, ErrCostUnavailable
	}

	return Quote{
		Tickets:   tickets,
		PerTicket: new(big.Int).Set(cost),
		Total:     new(big.Int).Mul(cost, new(big.Int).SetUint64(tickets)),
	}, nil
}

// Approve commits tickets * cost and submits the token allowance for it.
func (p *PurchaseFlow) Approve(ctx context.Context, tickets uint64) error {
	quote, err := p.Quote(tickets)
	if err != nil {
		return err
	}

	p.mu.Lock()
	op := p.approve
	if op.Phase() != Idle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	if err := p.exec.begin(op, quote.Total); err != nil {
		p.mu.Unlock()
		return err
	}
	p.tickets = tickets
	p.committed = quote.Total
	p.mu.Unlock()

	logger.Info("purchase: approving", zap.Uint64("tickets", tickets), zap.Stringer("amount", quote.Total))
	return p.exec.submit(ctx, op, func(ctx context.Context) (common.Hash, error) {
		return p.writer.Approve(ctx, p.spender, quote.Total)
	}, nil)
}

// Stake submits the committed amount once the approval is confirmed.
func (p *PurchaseFlow) Stake(ctx context.Context) error {
	p.mu.Lock()
	if p.approve.Phase() != Confirmed {
		p.mu.Unlock()
		return ErrApprovalPending
	}
	op := p.stake
	if op.Phase() != Idle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	amount := new(big.Int).Set(p.committed)
	if err := p.exec.begin(op, amount); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	logger.Info("purchase: staking", zap.Stringer("amount", amount))
	return p.exec.submit(ctx, op, func(ctx context.Context) (common.Hash, error) {
		return p.writer.Stake(ctx, amount)
	}, p.stakeConfirmed)
}

func (p *PurchaseFlow) stakeConfirmed(op *Operation) {
	p.mu.Lock()
	if p.stake != op {
		// abandoned by Reset, but the stake still landed on chain
		p.mu.Unlock()
		logger.Info("purchase: abandoned stake confirmed, revalidating reads", zap.String("id", op.ID()))
		p.revalidator.Revalidate()
		return
	}
	last := op.State()
	p.last = &last
	p.resetLocked()
	p.mu.Unlock()

	logger.Info("purchase: stake confirmed, revalidating reads", zap.String("id", op.ID()))
	p.revalidator.Revalidate()
}

// Reset abandons the current cycle, including any pending operation.
func (p *PurchaseFlow) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

// Recheck restarts the confirmation wait of a stale approve or stake.
func (p *PurchaseFlow) Recheck() error {
	p.mu.Lock()
	approve, stake := p.approve, p.stake
	p.mu.Unlock()

	if err := p.exec.recheck(stake, p.stakeConfirmed); err == nil {
		return nil
	}
	return p.exec.recheck(approve, nil)
}

func (p *PurchaseFlow) State() PurchaseState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := PurchaseState{
		Approve: p.approve.State(),
		Stake:   p.stake.State(),
		Tickets: p.tickets,
		Last:    p.last,
	}
	if p.committed != nil {
		state.Committed = new(big.Int).Set(p.committed)
	}
	state.CanStake = state.Approve.Phase == Confirmed && state.Stake.Phase == Idle
	return state
}
