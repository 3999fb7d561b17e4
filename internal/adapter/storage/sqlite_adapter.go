package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT NOT NULL PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sale_price TEXT NOT NULL DEFAULT '0',
		discount_price TEXT NOT NULL DEFAULT '0',
		purchase_price TEXT NOT NULL DEFAULT '0',
		wholesale_price TEXT NOT NULL DEFAULT '0',
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		category TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		barcode TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		photo_urls TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		code TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		customer_contact TEXT NOT NULL DEFAULT '',
		customer_tax_id TEXT NOT NULL DEFAULT '',
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		operator_name TEXT NOT NULL DEFAULT '',
		request_id TEXT,
		items_json TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		annulled_at DATETIME
	)`,
}

// SQLite has no row locks. Writers are serialised by the single connection
// and by taking the write lock when each transaction begins.
var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	isUniqueViolation: func(err error) bool {
		var liteErr sqlite3.Error
		if !errors.As(err, &liteErr) {
			return false
		}
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	},
	isConflict: func(err error) bool {
		var liteErr sqlite3.Error
		if !errors.As(err, &liteErr) {
			return false
		}
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	},
}

// OpenSQLite opens the database file at path, or a private in-memory
// database when path is ":memory:".
func OpenSQLite(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", "on")

	dsn := "file::memory:?" + params.Encode()
	if path != ":memory:" {
		params.Set("_journal_mode", "WAL")
		dsn = "file:" + path + "?" + params.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	// an in-memory database lives only as long as its connection
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func NewSQLiteAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: sqliteDialect}
}
