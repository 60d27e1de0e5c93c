package orchestrator

import (
	"context"
	"sync"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/logger"
	"lotterydash/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// AddressFunc returns the connected wallet address, if any.
type AddressFunc func() (common.Address, bool)

// WithdrawFlow withdraws all of the connected user's tickets after an
// explicit yes/no confirmation.
type WithdrawFlow struct {
	exec        *Executor
	writer      blockchain.Writer
	address     AddressFunc
	revalidator Revalidator

	mu       sync.Mutex
	op       *Operation
	awaiting bool
	last     *OperationState
}

type WithdrawState struct {
	Operation            OperationState  `json:"operation"`
	AwaitingConfirmation bool            `json:"awaitingConfirmation"`
	Last                 *OperationState `json:"last,omitempty"`
}

func NewWithdrawFlow(exec *Executor, writer blockchain.Writer, address AddressFunc, revalidator Revalidator) *WithdrawFlow {
	return &WithdrawFlow{
		exec:        exec,
		writer:      writer,
		address:     address,
		revalidator: revalidator,
		op:          exec.newOperation(blockchain.WriteWithdrawAll, storage.WithdrawFlowType),
	}
}

// Request opens the confirmation prompt. Without a connected address the
// caller must prompt for a connection instead.
func (w *WithdrawFlow) Request() error {
	if _, ok := w.address(); !ok {
		return ErrNotConnected
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.op.Phase() != Idle {
		return ErrAlreadyStarted
	}
	w.awaiting = true
	return nil
}

// Confirm answers the prompt. Declining closes it without submitting.
func (w *WithdrawFlow) Confirm(ctx context.Context, accepted bool) error {
	w.mu.Lock()
	if !accepted {
		w.awaiting = false
		w.mu.Unlock()
		logger.Debug("withdraw: declined")
		return nil
	}
	if !w.awaiting {
		w.mu.Unlock()
		return ErrConfirmationRequired
	}
	if _, ok := w.address(); !ok {
		w.awaiting = false
		w.mu.Unlock()
		return ErrNotConnected
	}

	op := w.op
	if err := w.exec.begin(op, nil); err != nil {
		w.mu.Unlock()
		return err
	}
	w.awaiting = false
	w.mu.Unlock()

	logger.Info("withdraw: withdrawing all tickets", zap.String("id", op.ID()))
	return w.exec.submit(ctx, op, w.writer.WithdrawAll, w.confirmed)
}

func (w *WithdrawFlow) confirmed(op *Operation) {
	w.mu.Lock()
	if w.op != op {
		w.mu.Unlock()
		logger.Info("withdraw: abandoned withdrawal confirmed, revalidating reads", zap.String("id", op.ID()))
		w.revalidator.Revalidate()
		return
	}
	last := op.State()
	w.last = &last
	w.op = w.exec.newOperation(blockchain.WriteWithdrawAll, storage.WithdrawFlowType)
	w.mu.Unlock()

	logger.Info("withdraw: confirmed, revalidating reads", zap.String("id", op.ID()))
	w.revalidator.Revalidate()
}

func (w *WithdrawFlow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.op = w.exec.newOperation(blockchain.WriteWithdrawAll, storage.WithdrawFlowType)
	w.awaiting = false
}

func (w *WithdrawFlow) Recheck() error {
	w.mu.Lock()
	op := w.op
	w.mu.Unlock()
	return w.exec.recheck(op, w.confirmed)
}

func (w *WithdrawFlow) State() WithdrawState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WithdrawState{
		Operation:            w.op.State(),
		AwaitingConfirmation: w.awaiting,
		Last:                 w.last,
	}
}
