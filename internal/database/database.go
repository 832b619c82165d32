package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reserva/internal/config"
	"reserva/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store implements domain.Store on top of a querier.
type store struct {
	q querier
}

// DB is the SQLite-backed repository. Writers are serialized through a single
// connection, which makes every InTx block an atomic check-then-write unit.
type DB struct {
	store
	sqlDB  *sql.DB
	path   string
	logger *zerolog.Logger
}

// Tx is a store bound to one transaction.
type Tx struct {
	store
}

var _ domain.Repository = (*DB)(nil)
var _ domain.JobStore = (*DB)(nil)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return Open(config.DatabaseConfig{Path: path, BusyTimeout: 5 * time.Second}, logger)
}

func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		path, cfg.BusyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("database initialized")

	return &DB{store: store{q: sqlDB}, sqlDB: sqlDB, path: path, logger: logger}, nil
}

func (db *DB) Close() error {
	return db.sqlDB.Close()
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) Ping(ctx context.Context) error {
	return db.sqlDB.PingContext(ctx)
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx domain.Store) error) error {
	return db.inTx(ctx, func(tx *Tx) error { return fn(tx) })
}

func (db *DB) inTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{store: store{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS customers (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS resources (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            name TEXT NOT NULL,
            type TEXT NOT NULL,
            schedule TEXT NOT NULL DEFAULT '{}',
            unavailable TEXT NOT NULL DEFAULT '[]',
            capacity INTEGER NOT NULL DEFAULT 1,
            service_ids TEXT NOT NULL DEFAULT '[]',
            location_id TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'active',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS services (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            name TEXT NOT NULL,
            duration_minutes INTEGER NOT NULL,
            buffer_before_minutes INTEGER NOT NULL DEFAULT 0,
            buffer_after_minutes INTEGER NOT NULL DEFAULT 0,
            max_simultaneous INTEGER NOT NULL DEFAULT 0,
            allowed_resource_types TEXT NOT NULL DEFAULT '[]',
            price TEXT NOT NULL DEFAULT '0',
            currency TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'active',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS appointments (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            customer_id TEXT NOT NULL DEFAULT '',
            service_id TEXT NOT NULL DEFAULT '',
            resource_id TEXT NOT NULL DEFAULT '',
            additional_resource_ids TEXT NOT NULL DEFAULT '[]',
            location_id TEXT NOT NULL DEFAULT '',
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            capacity_used INTEGER NOT NULL DEFAULT 1,
            status TEXT NOT NULL,
            confirmed BOOLEAN NOT NULL DEFAULT 0,
            confirmed_at DATETIME,
            confirmed_by TEXT NOT NULL DEFAULT '',
            started_at DATETIME,
            completed_at DATETIME,
            completed_by TEXT NOT NULL DEFAULT '',
            cancelled_at DATETIME,
            cancelled_by TEXT NOT NULL DEFAULT '',
            cancellation_reason TEXT NOT NULL DEFAULT '',
            no_show_at DATETIME,
            payment_status TEXT NOT NULL DEFAULT 'pending',
            total_amount TEXT NOT NULL DEFAULT '0',
            paid_amount TEXT NOT NULL DEFAULT '0',
            currency TEXT NOT NULL DEFAULT '',
            series_id TEXT NOT NULL DEFAULT '',
            is_series_master BOOLEAN NOT NULL DEFAULT 0,
            series_order INTEGER NOT NULL DEFAULT 0,
            group_id TEXT NOT NULL DEFAULT '',
            group_info TEXT NOT NULL DEFAULT '',
            source TEXT NOT NULL DEFAULT '',
            external_id TEXT NOT NULL DEFAULT '',
            external_source TEXT NOT NULL DEFAULT '',
            metadata TEXT NOT NULL DEFAULT '{}',
            snapshot TEXT NOT NULL DEFAULT '{}',
            is_block BOOLEAN NOT NULL DEFAULT 0,
            notes TEXT NOT NULL DEFAULT '',
            secure_code TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (start_at < end_at)
        )`,
		`CREATE TABLE IF NOT EXISTS appointment_resources (
            appointment_id TEXT NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
            tenant_id TEXT NOT NULL,
            resource_id TEXT NOT NULL,
            PRIMARY KEY (appointment_id, resource_id)
        )`,
		`CREATE TABLE IF NOT EXISTS deposits (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            appointment_id TEXT NOT NULL REFERENCES appointments(id) ON DELETE CASCADE,
            seq INTEGER NOT NULL,
            amount TEXT NOT NULL,
            confirmed_amount TEXT,
            currency TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            reference TEXT NOT NULL DEFAULT '',
            proof_url TEXT NOT NULL DEFAULT '',
            method TEXT NOT NULL DEFAULT '',
            requested_at DATETIME NOT NULL,
            requested_by TEXT NOT NULL DEFAULT '',
            submitted_at DATETIME,
            submitted_by TEXT NOT NULL DEFAULT '',
            confirmed_at DATETIME,
            confirmed_by TEXT NOT NULL DEFAULT '',
            rejected_at DATETIME,
            rejected_by TEXT NOT NULL DEFAULT '',
            rejection_reason TEXT NOT NULL DEFAULT '',
            ledger_entry_id TEXT NOT NULL DEFAULT '',
            bank_transaction_id TEXT NOT NULL DEFAULT '',
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS audit_events (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            appointment_id TEXT NOT NULL,
            action TEXT NOT NULL,
            actor TEXT NOT NULL,
            source TEXT NOT NULL DEFAULT '',
            changes TEXT NOT NULL DEFAULT '{}',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS job_records (
            id TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL,
            appointment_id TEXT NOT NULL,
            kind TEXT NOT NULL,
            fire_at DATETIME NOT NULL,
            status TEXT NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS dispatch_marks (
            appointment_id TEXT NOT NULL,
            mark_key TEXT NOT NULL,
            dispatched_at DATETIME NOT NULL,
            PRIMARY KEY (appointment_id, mark_key)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_customers_contact ON customers(tenant_id, email, phone)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_tenant ON resources(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_services_tenant ON services(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_tenant_start ON appointments(tenant_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_tenant_status ON appointments(tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_series ON appointments(tenant_id, series_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_external
            ON appointments(tenant_id, external_source, external_id) WHERE external_id <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_secure_code
            ON appointments(secure_code) WHERE secure_code <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_appointment_resources_lookup ON appointment_resources(tenant_id, resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_appointment ON deposits(appointment_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_tenant_status ON deposits(tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_appointment ON audit_events(tenant_id, appointment_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_job_records_status ON job_records(tenant_id, status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func toJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func fromJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Appointment times are stored as Unix nanoseconds so intervals round-trip exactly.
func unix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
