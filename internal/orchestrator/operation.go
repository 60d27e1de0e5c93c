package orchestrator

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/logger"
	"lotterydash/internal/metrics"
	"lotterydash/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Journal records operations and their phase transitions.
type Journal interface {
	SaveOperation(record *storage.OperationRecord) error
	AppendTransition(transition *storage.PhaseTransition) error
}

// Operation is one instance of an on-chain write. It is never reused: a new
// user action gets a new Operation.
type Operation struct {
	id      string
	op      blockchain.WriteOp
	flow    storage.FlowType
	journal Journal
	clock   clockwork.Clock

	mu        sync.Mutex
	phase     Phase
	amount    *big.Int
	txHash    *common.Hash
	err       error
	stale     bool
	createdAt time.Time
	updatedAt time.Time
}

// OperationState is a point-in-time copy of an Operation.
type OperationState struct {
	ID        string       `json:"id"`
	Operation string       `json:"operation"`
	Phase     Phase        `json:"phase"`
	Amount    *big.Int     `json:"amount,omitempty"`
	TxHash    *common.Hash `json:"txHash,omitempty"`
	Err       error        `json:"-"`
	Reason    string       `json:"reason,omitempty"`
	Failure   FailureClass `json:"failure,omitempty"`
	Stale     bool         `json:"stale"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// MarshalJSON writes Amount as a decimal string so clients keep full
// precision.
func (s OperationState) MarshalJSON() ([]byte, error) {
	type plain OperationState
	return json.Marshal(struct {
		plain
		Amount string `json:"amount,omitempty"`
	}{plain(s), amountString(s.Amount)})
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return ""
	}
	return amount.String()
}

func newOperation(op blockchain.WriteOp, flow storage.FlowType, journal Journal, clock clockwork.Clock) *Operation {
	now := clock.Now()
	o := &Operation{
		id:        uuid.NewString(),
		op:        op,
		flow:      flow,
		journal:   journal,
		clock:     clock,
		phase:     Idle,
		createdAt: now,
		updatedAt: now,
	}
	o.save()
	return o
}

func (o *Operation) ID() string { return o.id }

func (o *Operation) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Operation) State() OperationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Operation) stateLocked() OperationState {
	state := OperationState{
		ID:        o.id,
		Operation: o.op.String(),
		Phase:     o.phase,
		Err:       o.err,
		Failure:   Classify(o.err),
		Stale:     o.stale,
		UpdatedAt: o.updatedAt,
	}
	if o.amount != nil {
		state.Amount = new(big.Int).Set(o.amount)
	}
	if o.txHash != nil {
		hash := *o.txHash
		state.TxHash = &hash
	}
	if o.err != nil {
		state.Reason = o.err.Error()
	}
	return state
}

// transition moves the operation to next, applying mutate under the lock.
func (o *Operation) transition(next Phase, mutate func(o *Operation)) error {
	o.mu.Lock()
	from := o.phase
	if !from.CanTransitionTo(next) {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	o.phase = next
	if mutate != nil {
		mutate(o)
	}
	o.updatedAt = o.clock.Now()
	at := o.updatedAt
	o.mu.Unlock()

	metrics.WriteTransitions.WithLabelValues(o.op.String(), next.String()).Inc()
	logger.Debug("orchestrator: operation transition",
		zap.String("id", o.id),
		zap.Stringer("operation", o.op),
		zap.Stringer("from", from),
		zap.Stringer("to", next),
	)

	if err := o.journal.AppendTransition(&storage.PhaseTransition{
		OperationID: o.id,
		From:        from.String(),
		To:          next.String(),
		At:          at,
	}); err != nil {
		logger.Warn("orchestrator: cannot journal transition", zap.String("id", o.id), zap.Error(err))
	}
	o.save()
	return nil
}

func (o *Operation) fail(err error) error {
	if transitionErr := o.transition(Failed, func(o *Operation) {
		o.err = err
		o.stale = false
	}); transitionErr != nil {
		return transitionErr
	}

	class := Classify(err)
	metrics.WriteFailures.WithLabelValues(o.op.String(), string(class)).Inc()
	logger.Warn("orchestrator: operation failed",
		zap.String("id", o.id),
		zap.Stringer("operation", o.op),
		zap.String("class", string(class)),
		zap.Error(err),
	)
	return nil
}

func (o *Operation) setStale(stale bool, err error) {
	o.mu.Lock()
	o.stale = stale
	o.err = err
	o.updatedAt = o.clock.Now()
	o.mu.Unlock()
	o.save()
}

func (o *Operation) save() {
	o.mu.Lock()
	record := &storage.OperationRecord{
		ID:        o.id,
		Flow:      o.flow,
		Operation: o.op.String(),
		Phase:     o.phase.String(),
		Stale:     o.stale,
		CreatedAt: o.createdAt,
		UpdatedAt: o.updatedAt,
	}
	if o.amount != nil {
		record.Amount = o.amount.String()
	}
	if o.txHash != nil {
		record.TransactionHash = o.txHash.Hex()
	}
	if o.err != nil {
		record.Reason = o.err.Error()
	}
	o.mu.Unlock()

	if err := o.journal.SaveOperation(record); err != nil {
		logger.Warn("orchestrator: cannot journal operation", zap.String("id", o.id), zap.Error(err))
	}
}
