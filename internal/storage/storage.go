package storage

type Storage interface {
	// write operation
	SaveOperation(record *OperationRecord) error
	GetOperation(id string) (*OperationRecord, error)
	GetOperations(limit int) ([]*OperationRecord, error)
	GetOperationsByFlow(flow FlowType, limit int) ([]*OperationRecord, error)

	// phase transition
	AppendTransition(transition *PhaseTransition) error
	GetTransitions(operationID string) ([]*PhaseTransition, error)

	Close() error
}

type FlowType = string

const (
	PurchaseFlowType FlowType = "PurchaseFlowType"
	WithdrawFlowType FlowType = "WithdrawFlowType"
)
