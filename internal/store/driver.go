// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // alternate driver, selected via config.Store.Driver
	_ "github.com/lib/pq"              // alternate driver, selected via config.Store.Driver
	_ "github.com/mattn/go-sqlite3"    // primary driver

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// Store wraps the run-store connection and records which driver it was
// opened with. Every query is written in SQLite's dialect (`?`
// placeholders, ON CONFLICT upserts) and is not rewritten per driver.
type Store struct {
	db     *sql.DB
	driver string
	log    logger.Logger
}

// Open connects to driver ("sqlite3" | "postgres" | "mysql") at dsn and
// ensures the schema exists. sqlite3 is the only driver with an in-process
// DDL string here (schema.go); postgres/mysql deployments are expected to
// run an equivalent migration out of band, matching spec §4.G's "logical"
// schema framing. The table/column contract is the same for every driver,
// but the queries use SQLite syntax (see Store).
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	s := &Store{db: db, driver: driver, log: logger.NewLogger("store")}
	if driver == "sqlite3" {
		if _, err := db.Exec(schemaSQLite); err != nil {
			return nil, fmt.Errorf("migrate sqlite3 schema: %w", err)
		}
	}
	return s, nil
}

// OpenWithDB wraps an already-open *sql.DB (used by tests against
// DATA-DOG/go-sqlmock, which needs to control connection construction
// itself).
func OpenWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, log: logger.NewLogger("store")}
}

func (s *Store) Close() error { return s.db.Close() }
