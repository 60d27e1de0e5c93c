package storage

import "time"

// OperationRecord is the journal row of one write operation instance.
type OperationRecord struct {
	ID              string   `gorm:"primaryKey"`
	Flow            FlowType `gorm:"index;not null"`
	Operation       string   `gorm:"not null"`
	Amount          string   `gorm:"default:''"`
	TransactionHash string   `gorm:"default:''"`
	Phase           string   `gorm:"not null"`
	Reason          string   `gorm:"default:''"`
	Stale           bool     `gorm:"default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PhaseTransition struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	OperationID string `gorm:"index;not null"`
	From        string `gorm:"not null"`
	To          string `gorm:"not null"`
	At          time.Time
}
