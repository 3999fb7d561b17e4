package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDuplicateEntry = 1062
	mysqlLockDeadlock   = 1213
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id CHAR(36) NOT NULL PRIMARY KEY,
		sku VARCHAR(100) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		sale_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		discount_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		purchase_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		wholesale_price DECIMAL(12,2) NOT NULL DEFAULT 0,
		stock INT NOT NULL DEFAULT 0,
		category VARCHAR(100) NOT NULL DEFAULT '',
		brand VARCHAR(100) NOT NULL DEFAULT '',
		barcode VARCHAR(100) NOT NULL DEFAULT '',
		branch VARCHAR(100) NOT NULL DEFAULT '',
		photo_urls JSON NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		CONSTRAINT uq_products_sku UNIQUE (sku),
		CONSTRAINT chk_products_stock CHECK (stock >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS sales (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id CHAR(36) NOT NULL,
		code VARCHAR(50) NOT NULL,
		customer_name VARCHAR(255) NOT NULL,
		customer_contact VARCHAR(100) NOT NULL DEFAULT '',
		customer_tax_id VARCHAR(100) NOT NULL DEFAULT '',
		total DECIMAL(14,2) NOT NULL,
		status VARCHAR(20) NOT NULL,
		operator_id VARCHAR(100) NOT NULL,
		operator_name VARCHAR(255) NOT NULL DEFAULT '',
		request_id VARCHAR(128) NULL,
		items_json JSON NOT NULL,
		created_at DATETIME(6) NOT NULL,
		annulled_at DATETIME(6) NULL,
		CONSTRAINT uq_sales_id UNIQUE (id),
		CONSTRAINT uq_sales_code UNIQUE (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	// one row per code prefix; sale inserts lock it so concurrent code
	// generation is serialised without relying on gap locks
	`CREATE TABLE IF NOT EXISTS sale_code_locks (
		prefix VARCHAR(50) NOT NULL PRIMARY KEY
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

const mysqlLockSaleCodes = `INSERT INTO sale_code_locks (prefix) VALUES (?)
	ON DUPLICATE KEY UPDATE prefix = VALUES(prefix)`

var mysqlDialect = dialect{
	name:          "mysql",
	schema:        mysqlSchema,
	forUpdate:     " FOR UPDATE",
	lockSaleCodes: mysqlLockSaleCodes,
	isUniqueViolation: func(err error) bool {
		return mysqlErrorNumber(err) == mysqlDuplicateEntry
	},
	isConflict: func(err error) bool {
		return mysqlErrorNumber(err) == mysqlLockDeadlock
	},
}

func mysqlErrorNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL opens a pool for dsn. Time parsing and found-rows reporting are
// forced on because the adapter depends on both.
func OpenMySQL(dsn string, pool PoolConfig) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

// NewMySQLAdapter expects a handle opened with OpenMySQL.
func NewMySQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: mysqlDialect}
}
