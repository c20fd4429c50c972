package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Pool bounds: one warm connection, a small hard cap. Every store
// operation borrows from this pool and returns on all exit paths.
const (
	maxOpenConns    = 5
	maxIdleConns    = 1
	connMaxLifetime = 30 * time.Minute
)

// Connect opens a PostgreSQL-backed gorm handle with a bounded pool.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: empty dsn")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return gdb, nil
}
