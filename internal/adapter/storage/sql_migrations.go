package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS inventory_units (
		resource_id VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		resource_type VARCHAR(16) NOT NULL,
		capacity INT NOT NULL,
		available INT NOT NULL,
		unit_price BIGINT NOT NULL,
		discount_price BIGINT NOT NULL DEFAULT 0,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (resource_id, category)
	)`,
	`CREATE TABLE IF NOT EXISTS add_ons (
		resource_id VARCHAR(64) NOT NULL,
		code VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		price BIGINT NOT NULL,
		PRIMARY KEY (resource_id, code)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		resource_type VARCHAR(16) NOT NULL,
		resource_id VARCHAR(64) NOT NULL,
		requester_id VARCHAR(64) NOT NULL,
		quantities TEXT NOT NULL,
		add_ons TEXT NOT NULL,
		contact TEXT NOT NULL,
		check_in DATE NULL,
		check_out DATE NULL,
		price TEXT NOT NULL,
		total BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		cancel_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_bookings_resource (resource_id),
		INDEX idx_bookings_requester (requester_id)
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		id VARCHAR(191) NOT NULL PRIMARY KEY,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_holds (
		hold_id VARCHAR(128) NOT NULL,
		resource_id VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		released BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		PRIMARY KEY (hold_id, resource_id, category)
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS inventory_units (
		resource_id VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		resource_type VARCHAR(16) NOT NULL,
		capacity INTEGER NOT NULL,
		available INTEGER NOT NULL,
		unit_price BIGINT NOT NULL,
		discount_price BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (resource_id, category)
	)`,
	`CREATE TABLE IF NOT EXISTS add_ons (
		resource_id VARCHAR(64) NOT NULL,
		code VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		price BIGINT NOT NULL,
		PRIMARY KEY (resource_id, code)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id VARCHAR(36) PRIMARY KEY,
		resource_type VARCHAR(16) NOT NULL,
		resource_id VARCHAR(64) NOT NULL,
		requester_id VARCHAR(64) NOT NULL,
		quantities TEXT NOT NULL,
		add_ons TEXT NOT NULL,
		contact TEXT NOT NULL,
		check_in DATE NULL,
		check_out DATE NULL,
		price TEXT NOT NULL,
		total BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		cancel_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_resource ON bookings(resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_requester ON bookings(requester_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		id VARCHAR(191) PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_holds (
		hold_id VARCHAR(128) NOT NULL,
		resource_id VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		quantity INTEGER NOT NULL,
		released BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (hold_id, resource_id, category)
	)`,
}

// RunMigrations creates the tables used by SQLAdapter. The statements are
// idempotent so it is safe to call on every start.
func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	var migrations []string
	switch db.DriverName() {
	case "mysql":
		migrations = mysqlMigrations
	case "postgres":
		migrations = postgresMigrations
	default:
		return fmt.Errorf("unsupported sql driver %q", db.DriverName())
	}

	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// OpenSQL opens and pings a MySQL or PostgreSQL pool. MySQL DSNs need parseTime=true.
func OpenSQL(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
