package storage

import (
	"errors"
	"fmt"

	"lotterydash/internal/logger"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrOperationNotFound = errors.New("operation not found")

// InMemoryDSN keeps the journal for the lifetime of the process only.
const InMemoryDSN = "file::memory:?cache=shared"

type SqliteStorage struct {
	db *gorm.DB
}

var _ Storage = (*SqliteStorage)(nil)

func NewSqliteStorage(dsn string) (*SqliteStorage, error) {
	if dsn == "" {
		dsn = InMemoryDSN
	}

	logger.Debug("storage: initializing database...", zap.String("dsn", dsn))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// a shared in-memory database disappears once its last connection closes
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&OperationRecord{},
		&PhaseTransition{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	logger.Debug("storage: initializing database... done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) SaveOperation(record *OperationRecord) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"amount",
			"transaction_hash",
			"phase",
			"reason",
			"stale",
			"updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("save operation %s: %w", record.ID, err)
	}

	return nil
}

func (s *SqliteStorage) GetOperation(id string) (*OperationRecord, error) {
	var record OperationRecord
	err := s.db.Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *SqliteStorage) GetOperations(limit int) ([]*OperationRecord, error) {
	var records []*OperationRecord
	err := s.db.Order("created_at desc, id").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *SqliteStorage) GetOperationsByFlow(flow FlowType, limit int) ([]*OperationRecord, error) {
	var records []*OperationRecord
	err := s.db.Where("flow = ?", flow).Order("created_at desc, id").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *SqliteStorage) AppendTransition(transition *PhaseTransition) error {
	if err := s.db.Create(transition).Error; err != nil {
		return fmt.Errorf("append transition for %s: %w", transition.OperationID, err)
	}
	return nil
}

func (s *SqliteStorage) GetTransitions(operationID string) ([]*PhaseTransition, error) {
	var transitions []*PhaseTransition
	err := s.db.Where("operation_id = ?", operationID).Order("id").Find(&transitions).Error
	if err != nil {
		return nil, err
	}

	return transitions, nil
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
