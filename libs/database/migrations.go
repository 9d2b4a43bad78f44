package database

import (
	"context"
	"fmt"
	"sync"

	"database/sql"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationMu serializes migration runs within this process. golang-migrate
// also takes a postgres advisory lock, so this only protects against two
// goroutines in the same process racing to open the lock.
var migrationMu sync.Mutex

// RunMigrations applies all pending schema migrations under migrationsPath
// (a directory of numbered .up.sql/.down.sql files) to db.
func RunMigrations(db *sql.DB, migrationsPath string) error {
	migrationMu.Lock()
	defer migrationMu.Unlock()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	return nil
}

// EnsureSchema opens a short-lived connection, applies migrations, and closes
// it. Call this once at process startup before handing the long-lived pool
// to the rest of the application.
func EnsureSchema(ctx context.Context, config *Config, migrationsPath string) error {
	db, err := Connect(ctx, config)
	if err != nil {
		return err
	}
	defer db.Close()
	return RunMigrations(db.DB, migrationsPath)
}
