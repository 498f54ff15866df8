// Package store is the C1 persistence layer: strictly shop-scoped
// CRUD plus the append-only bulk inserters ingestion relies on.
// Grounded on order_service/src/database/connection.go and
// order_service/src/repository/order_repository.go.
package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/iaros/optimization-engine/internal/models"
)

// Options configures the underlying connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and configures the pool. It does not run
// migrations; call AutoMigrate separately.
func Open(opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// AutoMigrate creates/updates every table this service owns, then adds
// the hand-written indexes and partial-unique constraints AutoMigrate
// can't express (mirrors order_service's createIndexes step).
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Shop{},
		&models.Product{},
		&models.Optimization{},
		&models.SessionAssignment{},
		&models.OptimizationImpression{},
		&models.OptimizationConversion{},
		&models.EvolutionSnapshot{},
		&models.ProcessedOrder{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	// At most one *active* optimization per (shop, product, type),
	// per spec §3. A plain unique index can't express "only when
	// status = active", so this is a partial index.
	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_optimization
			ON optimizations (shop, product_id, optimization_type)
			WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_assignment_optimization ON session_assignments (optimization_id)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}
