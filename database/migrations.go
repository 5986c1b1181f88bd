package database

import (
	"embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// uniqueIndexVersion is the migration that collapses duplicate course ids
// before indexing COURSE_ID.
const uniqueIndexVersion = 2

// runMigrations applies all pending migrations and returns the resulting schema version.
// Databases created before migrations existed already hold the courses table;
// the first migration tolerates that.
func (db *DB) runMigrations() (uint, error) {
	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	current, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if current < uniqueIndexVersion {
		if db.removedDuplicates, err = db.duplicateRows(); err != nil {
			return 0, err
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database schema is dirty at version %d", version)
	}

	return version, nil
}

// duplicateRows counts the rows the unique index migration deletes: every row
// beyond the first for a given COURSE_ID. Fresh databases have no table yet.
func (db *DB) duplicateRows() (int, error) {
	var tables int
	err := sq.Select("COUNT(*)").
		From("sqlite_master").
		Where(sq.Eq{"type": "table", "name": coursesTable}).
		RunWith(db.conn).
		QueryRow().
		Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("failed to look up courses table: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var total, distinct int
	err = sq.Select("COUNT(*)").
		From(coursesTable).
		RunWith(db.conn).
		QueryRow().
		Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count courses: %w", err)
	}

	err = sq.Select("COUNT(*)").
		FromSelect(sq.Select("COURSE_ID").From(coursesTable).GroupBy("COURSE_ID"), "ids").
		RunWith(db.conn).
		QueryRow().
		Scan(&distinct)
	if err != nil {
		return 0, fmt.Errorf("failed to count distinct course ids: %w", err)
	}

	return total - distinct, nil
}
