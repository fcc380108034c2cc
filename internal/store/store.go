// Package store is the persistence layer. Postgres in production,
// sqlite in tests; all access goes through GORM.
package store

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"polysentry/config"
)

// Store wraps the database handle and exposes the repositories.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Connect opens a Postgres connection and runs migrations.
func Connect(logger *zap.Logger, cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := New(logger, db)
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. Used directly by tests with a
// sqlite handle.
func New(logger *zap.Logger, db *gorm.DB) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates or updates the schema.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(
		&Market{},
		&Wallet{},
		&Trade{},
		&Baseline{},
		&TradeScore{},
		&Pattern{},
		&ConfirmedInsider{},
		&InvestigationCandidate{},
		&DiscoveryBatch{},
		&Alert{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB exposes the raw handle for ad hoc queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
