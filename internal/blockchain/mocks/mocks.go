// Package mocks holds testify mocks of the ledger interfaces.
package mocks

import (
	"context"
	"math/big"

	"lotterydash/internal/blockchain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

type ReaderMock struct {
	mock.Mock
}

var _ blockchain.Reader = (*ReaderMock)(nil)

func (m *ReaderMock) value(method string, arguments ...interface{}) (*big.Int, error) {
	args := m.MethodCalled(method, arguments...)
	value, _ := args.Get(0).(*big.Int)
	return value, args.Error(1)
}

func (m *ReaderMock) TotalStaked(ctx context.Context) (*big.Int, error) {
	return m.value("TotalStaked", ctx)
}

func (m *ReaderMock) TicketCount(ctx context.Context) (*big.Int, error) {
	return m.value("TicketCount", ctx)
}

func (m *ReaderMock) TicketsInRound(ctx context.Context, round *big.Int) (*big.Int, error) {
	return m.value("TicketsInRound", ctx, round)
}

func (m *ReaderMock) UserStakes(ctx context.Context, user common.Address) (*big.Int, error) {
	return m.value("UserStakes", ctx, user)
}

func (m *ReaderMock) UserTicketsInRound(ctx context.Context, user common.Address, round *big.Int) (*big.Int, error) {
	return m.value("UserTicketsInRound", ctx, user, round)
}

func (m *ReaderMock) CurrentRound(ctx context.Context) (*big.Int, error) {
	return m.value("CurrentRound", ctx)
}

func (m *ReaderMock) TicketPurchaseCost(ctx context.Context) (*big.Int, error) {
	return m.value("TicketPurchaseCost", ctx)
}

func (m *ReaderMock) WinnersByRoundRange(ctx context.Context, from, to *big.Int) ([]blockchain.Winner, error) {
	args := m.MethodCalled("WinnersByRoundRange", ctx, from, to)
	winners, _ := args.Get(0).([]blockchain.Winner)
	return winners, args.Error(1)
}

func (m *ReaderMock) TimeUntilNextDraw(ctx context.Context) (*big.Int, error) {
	return m.value("TimeUntilNextDraw", ctx)
}

func (m *ReaderMock) TotalYieldGenerated(ctx context.Context) (*big.Int, error) {
	return m.value("TotalYieldGenerated", ctx)
}

func (m *ReaderMock) InvestmentBalance(ctx context.Context) (*big.Int, error) {
	return m.value("InvestmentBalance", ctx)
}

type WriterMock struct {
	mock.Mock
}

var _ blockchain.Writer = (*WriterMock)(nil)

func (m *WriterMock) Approve(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error) {
	args := m.MethodCalled("Approve", ctx, spender, amount)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *WriterMock) Stake(ctx context.Context, amount *big.Int) (common.Hash, error) {
	args := m.MethodCalled("Stake", ctx, amount)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *WriterMock) WithdrawAll(ctx context.Context) (common.Hash, error) {
	args := m.MethodCalled("WithdrawAll", ctx)
	return args.Get(0).(common.Hash), args.Error(1)
}

type ReceiptWatcherMock struct {
	mock.Mock
}

var _ blockchain.ReceiptWatcher = (*ReceiptWatcherMock)(nil)

func (m *ReceiptWatcherMock) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.MethodCalled("WaitForReceipt", ctx, hash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}
