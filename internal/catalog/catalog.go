// Package catalog is the external relational index nanots keeps
// alongside its data file: block ownership, segments and segment-blocks,
// backed by a pure-Go SQLite driver. Grounded on
// josedab-chronicle/sqlite_backend.go for the Go-idiomatic wiring
// (DSN pragma string, prepared statements, WAL mode) and on
// original_source/nanots.cpp for the exact schema and query shapes.
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls catalog-open behavior.
type Config struct {
	BusyTimeout time.Duration
	OpenRetries int
}

// Catalog is a handle onto the side-car .db file.
type Catalog struct {
	db  *sql.DB
	cfg Config
}

// Open opens (creating if necessary) the catalog at path, applying WAL
// mode and the configured busy_timeout, running schema migrations, and
// retrying the initial open up to cfg.OpenRetries times before giving
// up. fresh, when true, creates the schema from scratch (used by
// Allocate); otherwise the schema is expected to already exist.
func Open(path string, cfg Config, fresh bool) (*Catalog, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds(),
	)

	var db *sql.DB
	var err error
	retries := cfg.OpenRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		if db != nil {
			db.Close()
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	c := &Catalog{db: db, cfg: cfg}

	if fresh {
		for _, stmt := range ddl {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, err
			}
		}
		if err := c.setSchemaVersion(currentSchemaVersion); err != nil {
			db.Close()
			return nil, err
		}
	} else if err := c.upgrade(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

// Close closes the catalog's database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic, matching the reference implementation's
// nts_sqlite_transaction helper.
func (c *Catalog) withTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SeedBlocks inserts n_blocks free block rows, used only by Allocate
// when creating a fresh catalog.
func (c *Catalog) SeedBlocks(nBlocks uint32) error {
	return c.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO blocks (idx, status) VALUES (?, 'free')`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := uint32(0); i < nBlocks; i++ {
			if _, err := stmt.Exec(int64(i)); err != nil {
				return err
			}
		}
		return nil
	})
}
