package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"lotterydash/internal/logger"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// userRejectedCode is the EIP-1193 code wallets return when the user declines.
const userRejectedCode = 4001

// EthLedger reads the pool contract and submits pool/token transactions
// through any go-ethereum contract backend (usually *ethclient.Client).
type EthLedger struct {
	backend     bind.ContractBackend
	pool        *bind.BoundContract
	token       *bind.BoundContract
	poolAddress common.Address
	signer      *bind.TransactOpts
}

var (
	_ Reader = (*EthLedger)(nil)
	_ Writer = (*EthLedger)(nil)
)

// NewEthLedger builds a ledger. A nil signer yields a read-only ledger whose
// writes fail with ErrNoSigner.
func NewEthLedger(backend bind.ContractBackend, pool, token common.Address, signer *bind.TransactOpts) *EthLedger {
	return &EthLedger{
		backend:     backend,
		pool:        bind.NewBoundContract(pool, poolABI, backend, backend, backend),
		token:       bind.NewBoundContract(token, tokenABI, backend, backend, backend),
		poolAddress: pool,
		signer:      signer,
	}
}

// NewSigner parses a hex private key into transact options for chainID.
func NewSigner(hexKey string, chainID *big.Int) (*bind.TransactOpts, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse wallet key: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("build transactor: %w", err)
	}

	return opts, crypto.PubkeyToAddress(key.PublicKey), nil
}

func (l *EthLedger) PoolAddress() common.Address {
	return l.poolAddress
}

// HasCode reports whether a contract is deployed at the pool address.
func (l *EthLedger) HasCode(ctx context.Context) (bool, error) {
	code, err := l.backend.CodeAt(ctx, l.poolAddress, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

func (l *EthLedger) TotalStaked(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadTotalStaked)
}

func (l *EthLedger) TicketCount(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadTicketCount)
}

func (l *EthLedger) TicketsInRound(ctx context.Context, round *big.Int) (*big.Int, error) {
	return l.callUint(ctx, ReadTicketsInRound, round)
}

func (l *EthLedger) UserStakes(ctx context.Context, user common.Address) (*big.Int, error) {
	return l.callUint(ctx, ReadUserStakes, user)
}

func (l *EthLedger) UserTicketsInRound(ctx context.Context, user common.Address, round *big.Int) (*big.Int, error) {
	return l.callUint(ctx, ReadUserTicketsInRound, user, round)
}

func (l *EthLedger) CurrentRound(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadCurrentRound)
}

func (l *EthLedger) TicketPurchaseCost(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadTicketPurchaseCost)
}

func (l *EthLedger) TimeUntilNextDraw(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadTimeUntilNextDraw)
}

func (l *EthLedger) TotalYieldGenerated(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadTotalYieldGenerated)
}

func (l *EthLedger) InvestmentBalance(ctx context.Context) (*big.Int, error) {
	return l.callUint(ctx, ReadInvestmentBalance)
}

func (l *EthLedger) WinnersByRoundRange(ctx context.Context, from, to *big.Int) ([]Winner, error) {
	out, err := l.call(ctx, ReadWinnersByRoundRange, from, to)
	if err != nil {
		return nil, err
	}

	winners := *abi.ConvertType(out[0], new([]Winner)).(*[]Winner)
	return winners, nil
}

func (l *EthLedger) call(ctx context.Context, op ReadOp, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := l.pool.Call(&bind.CallOpts{Context: ctx}, &out, op.Method(), args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", op)
	}
	return out, nil
}

func (l *EthLedger) callUint(ctx context.Context, op ReadOp, args ...interface{}) (*big.Int, error) {
	out, err := l.call(ctx, op, args...)
	if err != nil {
		return nil, err
	}

	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", op, out[0])
	}
	return value, nil
}

func (l *EthLedger) Approve(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error) {
	return l.transact(ctx, l.token, WriteApprove, spender, amount)
}

func (l *EthLedger) Stake(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return l.transact(ctx, l.pool, WriteStake, amount)
}

func (l *EthLedger) WithdrawAll(ctx context.Context) (common.Hash, error) {
	return l.transact(ctx, l.pool, WriteWithdrawAll)
}

func (l *EthLedger) transact(ctx context.Context, contract *bind.BoundContract, op WriteOp, args ...interface{}) (common.Hash, error) {
	if l.signer == nil {
		return common.Hash{}, fmt.Errorf("%s: %w", op, ErrNoSigner)
	}

	opts := *l.signer
	opts.Context = ctx

	logger.Debug("ledger: submitting transaction...", zap.Stringer("operation", op))
	tx, err := contract.Transact(&opts, op.Method(), args...)
	if err != nil {
		return common.Hash{}, classifySubmitError(op, err)
	}

	logger.Debug("ledger: submitting transaction... done", zap.Stringer("operation", op), zap.Stringer("hash", tx.Hash()))
	return tx.Hash(), nil
}

func classifySubmitError(op WriteOp, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return fmt.Errorf("%s: %w: %w", op, ErrUserRejected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
