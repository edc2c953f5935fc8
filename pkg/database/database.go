package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

var schemas = map[string]string{
	DriverMySQL: `
		CREATE TABLE IF NOT EXISTS advertisements (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			seller_name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NULL,
			phone VARCHAR(64) NULL,
			ad_title VARCHAR(255) NOT NULL,
			ad_text TEXT NULL,
			price VARCHAR(64) NULL,
			image_url VARCHAR(1024) NULL,
			thumbnail_url VARCHAR(1024) NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_advertisements_created_at (created_at)
		)`,
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS advertisements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seller_name TEXT NOT NULL,
			email TEXT NULL,
			phone TEXT NULL,
			ad_title TEXT NOT NULL,
			ad_text TEXT NULL,
			price TEXT NULL,
			image_url TEXT NULL,
			thumbnail_url TEXT NULL,
			created_at DATETIME NOT NULL
		)`,
}

// NewDatabase opens and pings a connection pool for the given driver.
func NewDatabase(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return db, nil
}

// Migrate creates the advertisements table when it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	schema, ok := schemas[driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create advertisements table: %w", err)
	}
	return nil
}
