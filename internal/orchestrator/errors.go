package orchestrator

import (
	"errors"

	"lotterydash/internal/blockchain"
)

var (
	ErrInvalidTickets       = errors.New("ticket count must be greater than zero")
	ErrCostUnavailable      = errors.New("ticket purchase cost is not loaded")
	ErrApprovalPending      = errors.New("approval is not confirmed")
	ErrAlreadyStarted       = errors.New("operation already started, reset to start over")
	ErrNotConnected         = errors.New("no wallet address connected")
	ErrConfirmationRequired = errors.New("withdrawal must be requested and confirmed first")
	ErrConfirmationTimeout  = errors.New("transaction not confirmed in time")
	ErrNothingToRecheck     = errors.New("no stale operation to recheck")
	ErrInvalidTransition    = errors.New("invalid phase transition")
)

// FailureClass tells a declined request apart from a reverted transaction.
type FailureClass string

const (
	FailureNone       FailureClass = ""
	FailureRejected   FailureClass = "rejected"
	FailureReverted   FailureClass = "reverted"
	FailureTimeout    FailureClass = "timeout"
	FailureSubmission FailureClass = "submission"
)

func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, blockchain.ErrUserRejected):
		return FailureRejected
	case errors.Is(err, blockchain.ErrReverted):
		return FailureReverted
	case errors.Is(err, ErrConfirmationTimeout):
		return FailureTimeout
	default:
		return FailureSubmission
	}
}
