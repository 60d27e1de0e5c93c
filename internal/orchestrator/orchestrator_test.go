package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lotterydash/internal/blockchain"
	"lotterydash/internal/blockchain/mocks"
	"lotterydash/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const confirmTimeout = 10 * time.Minute

var (
	pool       = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	approveTx  = common.HexToHash("0x01")
	stakeTx    = common.HexToHash("0x02")
	withdrawTx = common.HexToHash("0x03")
	cost       = big.NewInt(5)
)

type memoryJournal struct {
	mu          sync.Mutex
	records     map[string]storage.OperationRecord
	transitions []storage.PhaseTransition
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{records: make(map[string]storage.OperationRecord)}
}

func (j *memoryJournal) SaveOperation(record *storage.OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[record.ID] = *record
	return nil
}

func (j *memoryJournal) AppendTransition(transition *storage.PhaseTransition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transitions = append(j.transitions, *transition)
	return nil
}

func (j *memoryJournal) phases(id string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var phases []string
	for _, t := range j.transitions {
		if t.OperationID == id {
			phases = append(phases, t.To)
		}
	}
	return phases
}

type revalidatorSpy struct {
	calls atomic.Int32
}

func (r *revalidatorSpy) Revalidate() { r.calls.Add(1) }

type fixture struct {
	clock       clockwork.FakeClock
	writer      *mocks.WriterMock
	watcher     *mocks.ReceiptWatcherMock
	journal     *memoryJournal
	revalidator *revalidatorSpy
	exec        *Executor
	purchase    *PurchaseFlow
	withdraw    *WithdrawFlow

	costLoaded atomic.Bool
	connected  atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:       clockwork.NewFakeClock(),
		writer:      new(mocks.WriterMock),
		watcher:     new(mocks.ReceiptWatcherMock),
		journal:     newMemoryJournal(),
		revalidator: new(revalidatorSpy),
	}
	f.costLoaded.Store(true)
	f.connected.Store(true)

	f.exec = NewExecutor(f.watcher, f.journal, confirmTimeout, f.clock)
	f.purchase = NewPurchaseFlow(f.exec, f.writer, pool, func() (*big.Int, bool) {
		return cost, f.costLoaded.Load()
	}, f.revalidator)
	f.withdraw = NewWithdrawFlow(f.exec, f.writer, func() (common.Address, bool) {
		return user, f.connected.Load()
	}, f.revalidator)

	t.Cleanup(f.exec.Close)
	return f
}

func success() *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}
}

// blockUntilCancelled makes WaitForReceipt hang like a dropped transaction.
func blockUntilCancelled(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

func eventuallyPhase(t *testing.T, state func() OperationState, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return state().Phase == want }, 2*time.Second, time.Millisecond, "phase never reached %s", want)
}

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		allowed  bool
	}{
		{Idle, Submitting, true},
		{Idle, Confirmed, false},
		{Idle, Failed, false},
		{Submitting, Submitted, true},
		{Submitting, Failed, true},
		{Submitted, Confirming, true},
		{Confirming, Confirmed, true},
		{Confirming, Failed, true},
		{Confirmed, Idle, false},
		{Failed, Submitting, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, Confirmed.Terminal())
	assert.True(t, Failed.Terminal())
	assert.False(t, Confirming.Terminal())
	assert.Equal(t, "Phase(42)", Phase(42).String())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FailureNone, Classify(nil))
	assert.Equal(t, FailureRejected, Classify(fmt.Errorf("approve: %w", blockchain.ErrUserRejected)))
	assert.Equal(t, FailureReverted, Classify(fmt.Errorf("%w: 0x01", blockchain.ErrReverted)))
	assert.Equal(t, FailureTimeout, Classify(ErrConfirmationTimeout))
	assert.Equal(t, FailureSubmission, Classify(errors.New("insufficient funds for gas")))
}

func TestApproveRequiresLoadedCost(t *testing.T) {
	f := newFixture(t)

	f.costLoaded.Store(false)
	assert.ErrorIs(t, f.purchase.Approve(context.Background(), 2), ErrCostUnavailable)
	assert.Equal(t, Idle, f.purchase.State().Approve.Phase)

	f.costLoaded.Store(true)
	assert.ErrorIs(t, f.purchase.Approve(context.Background(), 0), ErrInvalidTickets)
	assert.Equal(t, Idle, f.purchase.State().Approve.Phase)

	f.writer.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	quote, err := f.purchase.Quote(3)
	require.NoError(t, err)
	assert.Equal(t, int64(15), quote.Total.Int64())
	assert.Equal(t, int64(5), quote.PerTicket.Int64())
	assert.Equal(t, Idle, f.purchase.State().Approve.Phase)
}

func TestStakeRejectedUntilApprovalConfirmed(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.purchase.Stake(context.Background()), ErrApprovalPending)
		assert.Equal(t, Idle, f.purchase.State().Stake.Phase)
	})

	t.Run("submitting", func(t *testing.T) {
		f := newFixture(t)
		release := make(chan struct{})
		f.writer.On("Approve", mock.Anything, pool, big.NewInt(10)).Run(func(mock.Arguments) { <-release }).Return(approveTx, nil)
		f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Run(blockUntilCancelled).Return(nil, context.Canceled)

		go func() { _ = f.purchase.Approve(context.Background(), 2) }()
		eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Submitting)

		assert.ErrorIs(t, f.purchase.Stake(context.Background()), ErrApprovalPending)
		assert.Equal(t, Idle, f.purchase.State().Stake.Phase)
		close(release)
		eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Confirming)
	})

	t.Run("confirming", func(t *testing.T) {
		f := newFixture(t)
		f.writer.On("Approve", mock.Anything, pool, big.NewInt(10)).Return(approveTx, nil)
		f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Run(blockUntilCancelled).Return(nil, context.Canceled)

		require.NoError(t, f.purchase.Approve(context.Background(), 2))
		assert.Equal(t, Confirming, f.purchase.State().Approve.Phase)

		assert.ErrorIs(t, f.purchase.Stake(context.Background()), ErrApprovalPending)
		assert.Equal(t, Idle, f.purchase.State().Stake.Phase)
	})

	t.Run("failed", func(t *testing.T) {
		f := newFixture(t)
		f.writer.On("Approve", mock.Anything, pool, big.NewInt(10)).Return(common.Hash{}, fmt.Errorf("approve: %w", blockchain.ErrUserRejected))

		assert.Error(t, f.purchase.Approve(context.Background(), 2))
		assert.ErrorIs(t, f.purchase.Stake(context.Background()), ErrApprovalPending)
		assert.Equal(t, Idle, f.purchase.State().Stake.Phase)
	})

	t.Run("stale", func(t *testing.T) {
		f := newFixture(t)
		f.writer.On("Approve", mock.Anything, pool, big.NewInt(10)).Return(approveTx, nil)
		f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Run(blockUntilCancelled).Return(nil, context.Canceled)

		require.NoError(t, f.purchase.Approve(context.Background(), 2))
		f.clock.BlockUntil(1)
		f.clock.Advance(confirmTimeout)
		require.Eventually(t, func() bool { return f.purchase.State().Approve.Stale }, 2*time.Second, time.Millisecond)

		assert.ErrorIs(t, f.purchase.Stake(context.Background()), ErrApprovalPending)
	})

	t.Run("writer never asked to stake", func(t *testing.T) {
		f := newFixture(t)
		_ = f.purchase.Stake(context.Background())
		f.writer.AssertNotCalled(t, "Stake", mock.Anything, mock.Anything)
	})
}

func TestStakeUsesAmountCommittedAtApproval(t *testing.T) {
	f := newFixture(t)
	f.writer.On("Approve", mock.Anything, pool, big.NewInt(10)).Return(approveTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Return(success(), nil)
	f.writer.On("Stake", mock.Anything, big.NewInt(10)).Return(stakeTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, stakeTx).Run(blockUntilCancelled).Return(nil, context.Canceled)

	require.NoError(t, f.purchase.Approve(context.Background(), 2))
	eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Confirmed)

	// the user edits the ticket count after approval
	assert.ErrorIs(t, f.purchase.Approve(context.Background(), 7), ErrAlreadyStarted)
	quote, err := f.purchase.Quote(7)
	require.NoError(t, err)
	assert.Equal(t, int64(35), quote.Total.Int64())

	state := f.purchase.State()
	assert.True(t, state.CanStake)
	assert.Equal(t, uint64(2), state.Tickets)
	assert.Equal(t, int64(10), state.Committed.Int64())

	require.NoError(t, f.purchase.Stake(context.Background()))
	f.writer.AssertCalled(t, "Stake", mock.Anything, big.NewInt(10))
	f.writer.AssertNotCalled(t, "Stake", mock.Anything, big.NewInt(35))
	assert.ErrorIs(t, f.purchase.Stake(context.Background()), ErrAlreadyStarted)
}

func TestStakeConfirmationResetsFlowAndRevalidates(t *testing.T) {
	f := newFixture(t)
	f.writer.On("Approve", mock.Anything, pool, big.NewInt(15)).Return(approveTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Return(success(), nil)
	f.writer.On("Stake", mock.Anything, big.NewInt(15)).Return(stakeTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, stakeTx).Return(success(), nil)

	require.NoError(t, f.purchase.Approve(context.Background(), 3))
	eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Confirmed)
	first := f.purchase.State()

	require.NoError(t, f.purchase.Stake(context.Background()))
	require.Eventually(t, func() bool { return f.revalidator.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	state := f.purchase.State()
	assert.Equal(t, Idle, state.Approve.Phase)
	assert.Equal(t, Idle, state.Stake.Phase)
	assert.NotEqual(t, first.Approve.ID, state.Approve.ID)
	assert.NotEqual(t, first.Stake.ID, state.Stake.ID)
	assert.Nil(t, state.Committed)
	require.NotNil(t, state.Last)
	assert.Equal(t, Confirmed, state.Last.Phase)
	assert.Equal(t, stakeTx, *state.Last.TxHash)

	assert.Equal(t, []string{"Submitting", "Submitted", "Confirming", "Confirmed"}, f.journal.phases(first.Stake.ID))
}

func TestRejectedApprovalSurfacesReason(t *testing.T) {
	f := newFixture(t)
	rejection := fmt.Errorf("approve: %w: user denied transaction signature", blockchain.ErrUserRejected)
	f.writer.On("Approve", mock.Anything, pool, big.NewInt(5)).Return(common.Hash{}, rejection)

	err := f.purchase.Approve(context.Background(), 1)
	assert.ErrorIs(t, err, blockchain.ErrUserRejected)

	state := f.purchase.State().Approve
	assert.Equal(t, Failed, state.Phase)
	assert.Equal(t, FailureRejected, state.Failure)
	assert.Equal(t, rejection.Error(), state.Reason)
	assert.Nil(t, state.TxHash)

	assert.ErrorIs(t, f.purchase.Approve(context.Background(), 1), ErrAlreadyStarted)
	f.purchase.Reset()
	assert.Equal(t, Idle, f.purchase.State().Approve.Phase)
}

func TestRevertedApproval(t *testing.T) {
	f := newFixture(t)
	f.writer.On("Approve", mock.Anything, pool, big.NewInt(5)).Return(approveTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Return(&types.Receipt{Status: types.ReceiptStatusFailed}, fmt.Errorf("%w: 0x01", blockchain.ErrReverted))

	require.NoError(t, f.purchase.Approve(context.Background(), 1))
	eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Failed)

	state := f.purchase.State().Approve
	assert.Equal(t, FailureReverted, state.Failure)
	assert.Equal(t, approveTx, *state.TxHash)
}

func TestConfirmationTimeoutLeavesOperationStale(t *testing.T) {
	f := newFixture(t)
	f.writer.On("Approve", mock.Anything, pool, big.NewInt(5)).Return(approveTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Run(blockUntilCancelled).Return(nil, context.Canceled).Once()

	require.NoError(t, f.purchase.Approve(context.Background(), 1))
	f.clock.BlockUntil(1)
	f.clock.Advance(confirmTimeout)

	require.Eventually(t, func() bool { return f.purchase.State().Approve.Stale }, 2*time.Second, time.Millisecond)
	state := f.purchase.State().Approve
	assert.Equal(t, Confirming, state.Phase)
	assert.Equal(t, FailureTimeout, state.Failure)

	f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Return(success(), nil)
	require.NoError(t, f.purchase.Recheck())
	eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Confirmed)
	assert.False(t, f.purchase.State().Approve.Stale)

	assert.ErrorIs(t, f.purchase.Recheck(), ErrNothingToRecheck)
}

func TestWithdrawNeedsConnectedAddress(t *testing.T) {
	f := newFixture(t)
	f.connected.Store(false)

	assert.ErrorIs(t, f.withdraw.Request(), ErrNotConnected)
	assert.False(t, f.withdraw.State().AwaitingConfirmation)
	f.writer.AssertNotCalled(t, "WithdrawAll", mock.Anything)
}

func TestWithdrawNeedsConfirmation(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.withdraw.Confirm(context.Background(), true), ErrConfirmationRequired)

	require.NoError(t, f.withdraw.Request())
	assert.True(t, f.withdraw.State().AwaitingConfirmation)

	require.NoError(t, f.withdraw.Confirm(context.Background(), false))
	assert.False(t, f.withdraw.State().AwaitingConfirmation)
	assert.Equal(t, Idle, f.withdraw.State().Operation.Phase)

	assert.ErrorIs(t, f.withdraw.Confirm(context.Background(), true), ErrConfirmationRequired)
	f.writer.AssertNotCalled(t, "WithdrawAll", mock.Anything)
}

func TestWithdrawConfirmedResetsAndRevalidates(t *testing.T) {
	f := newFixture(t)
	f.writer.On("WithdrawAll", mock.Anything).Return(withdrawTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, withdrawTx).Return(success(), nil)

	first := f.withdraw.State().Operation
	require.NoError(t, f.withdraw.Request())
	require.NoError(t, f.withdraw.Confirm(context.Background(), true))

	require.Eventually(t, func() bool { return f.revalidator.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	state := f.withdraw.State()
	assert.Equal(t, Idle, state.Operation.Phase)
	assert.NotEqual(t, first.ID, state.Operation.ID)
	require.NotNil(t, state.Last)
	assert.Equal(t, Confirmed, state.Last.Phase)
}

func TestWithdrawDisconnectedBeforeConfirm(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.withdraw.Request())
	f.connected.Store(false)

	assert.ErrorIs(t, f.withdraw.Confirm(context.Background(), true), ErrNotConnected)
	assert.Equal(t, Idle, f.withdraw.State().Operation.Phase)
}

func TestResetKeepsLateConfirmationOutOfFlow(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.writer.On("Approve", mock.Anything, pool, big.NewInt(5)).Return(approveTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, approveTx).Return(success(), nil)
	f.writer.On("Stake", mock.Anything, big.NewInt(5)).Return(stakeTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, stakeTx).Run(func(mock.Arguments) { <-release }).Return(success(), nil)

	require.NoError(t, f.purchase.Approve(context.Background(), 1))
	eventuallyPhase(t, func() OperationState { return f.purchase.State().Approve }, Confirmed)
	require.NoError(t, f.purchase.Stake(context.Background()))
	abandoned := f.purchase.State().Stake.ID

	f.purchase.Reset()
	fresh := f.purchase.State()
	close(release)

	// the chain changed, so reads are refreshed even though the flow moved on
	require.Eventually(t, func() bool { return f.revalidator.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"Submitting", "Submitted", "Confirming", "Confirmed"}, f.journal.phases(abandoned))

	state := f.purchase.State()
	assert.Nil(t, state.Last)
	assert.Equal(t, fresh.Stake.ID, state.Stake.ID)
	assert.Equal(t, Idle, state.Stake.Phase)
	assert.Equal(t, Idle, state.Approve.Phase)
}

func TestWithdrawResetStillRevalidatesLateConfirmation(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.writer.On("WithdrawAll", mock.Anything).Return(withdrawTx, nil)
	f.watcher.On("WaitForReceipt", mock.Anything, withdrawTx).Run(func(mock.Arguments) { <-release }).Return(success(), nil)

	require.NoError(t, f.withdraw.Request())
	require.NoError(t, f.withdraw.Confirm(context.Background(), true))
	f.withdraw.Reset()
	close(release)

	require.Eventually(t, func() bool { return f.revalidator.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Nil(t, f.withdraw.State().Last)
	assert.Equal(t, Idle, f.withdraw.State().Operation.Phase)
}

func TestStateJSONKeepsAmountPrecision(t *testing.T) {
	amount, ok := new(big.Int).SetString("25000000000000000001", 10)
	require.True(t, ok)

	state := PurchaseState{
		Approve:   OperationState{ID: "a", Operation: "approve", Phase: Confirming, Amount: amount, TxHash: &approveTx},
		Committed: amount,
	}
	encoded, err := json.Marshal(state)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, "25000000000000000001", decoded["committed"])

	approve := decoded["approve"].(map[string]interface{})
	assert.Equal(t, "25000000000000000001", approve["amount"])
	assert.Equal(t, "Confirming", approve["phase"])
	assert.Equal(t, approveTx.Hex(), approve["txHash"])

	idle, err := json.Marshal(OperationState{Phase: Idle})
	require.NoError(t, err)
	assert.NotContains(t, string(idle), "amount")
}
