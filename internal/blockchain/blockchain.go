package blockchain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrUserRejected = errors.New("request rejected by signer")
	ErrReverted     = errors.New("transaction reverted")
	ErrNoSigner     = errors.New("no signer configured")
)

// ReadOp enumerates every view function the dashboard consumes.
type ReadOp uint8

const (
	ReadTotalStaked ReadOp = iota
	ReadTicketCount
	ReadTicketsInRound
	ReadUserStakes
	ReadUserTicketsInRound
	ReadCurrentRound
	ReadTicketPurchaseCost
	ReadWinnersByRoundRange
	ReadTimeUntilNextDraw
	ReadTotalYieldGenerated
	ReadInvestmentBalance

	readOpCount
)

var readMethods = [readOpCount]string{
	ReadTotalStaked:         "getTotalStaked",
	ReadTicketCount:         "getTicketCount",
	ReadTicketsInRound:      "getTicketsInRound",
	ReadUserStakes:          "getUserStakes",
	ReadUserTicketsInRound:  "getUserTicketsInRound",
	ReadCurrentRound:        "currentRound",
	ReadTicketPurchaseCost:  "ticketPurchaseCost",
	ReadWinnersByRoundRange: "getWinnersByRoundRange",
	ReadTimeUntilNextDraw:   "getTimeUntilNextDraw",
	ReadTotalYieldGenerated: "getTotalYieldGenerated",
	ReadInvestmentBalance:   "getAaveInvestmentBalance",
}

// ReadOps lists every ReadOp in declaration order.
func ReadOps() []ReadOp {
	ops := make([]ReadOp, 0, readOpCount)
	for op := ReadOp(0); op < readOpCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// Method is the contract function name.
func (op ReadOp) Method() string {
	if op >= readOpCount {
		return "unknown"
	}
	return readMethods[op]
}

func (op ReadOp) String() string {
	return op.Method()
}

// WriteOp enumerates every state-changing call the dashboard submits.
type WriteOp uint8

const (
	WriteApprove WriteOp = iota
	WriteStake
	WriteWithdrawAll

	writeOpCount
)

var writeMethods = [writeOpCount]string{
	WriteApprove:     "approve",
	WriteStake:       "stake",
	WriteWithdrawAll: "withdrawAllOfAUsersTickets",
}

func WriteOps() []WriteOp {
	ops := make([]WriteOp, 0, writeOpCount)
	for op := WriteOp(0); op < writeOpCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

func (op WriteOp) Method() string {
	if op >= writeOpCount {
		return "unknown"
	}
	return writeMethods[op]
}

func (op WriteOp) String() string {
	return op.Method()
}

// Winner is one entry of getWinnersByRoundRange.
type Winner struct {
	Round  *big.Int
	Winner common.Address
	Amount *big.Int
}

// Reader is the typed read side of the pool contract.
type Reader interface {
	TotalStaked(ctx context.Context) (*big.Int, error)
	TicketCount(ctx context.Context) (*big.Int, error)
	TicketsInRound(ctx context.Context, round *big.Int) (*big.Int, error)
	UserStakes(ctx context.Context, user common.Address) (*big.Int, error)
	UserTicketsInRound(ctx context.Context, user common.Address, round *big.Int) (*big.Int, error)
	CurrentRound(ctx context.Context) (*big.Int, error)
	TicketPurchaseCost(ctx context.Context) (*big.Int, error)
	WinnersByRoundRange(ctx context.Context, from, to *big.Int) ([]Winner, error)
	TimeUntilNextDraw(ctx context.Context) (*big.Int, error)
	TotalYieldGenerated(ctx context.Context) (*big.Int, error)
	InvestmentBalance(ctx context.Context) (*big.Int, error)
}

// Writer submits transactions and returns their hash once broadcast.
type Writer interface {
	Approve(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error)
	Stake(ctx context.Context, amount *big.Int) (common.Hash, error)
	WithdrawAll(ctx context.Context) (common.Hash, error)
}

// ReceiptWatcher blocks until the transaction is mined. A mined but reverted
// transaction returns its receipt together with ErrReverted.
type ReceiptWatcher interface {
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
