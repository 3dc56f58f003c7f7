package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2024050101

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates every table the service uses.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT 'upload',
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	extraction JSONB,
	document_type TEXT,
	confidence DOUBLE PRECISION,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE documents ADD COLUMN IF NOT EXISTS document_type TEXT;
ALTER TABLE documents ADD COLUMN IF NOT EXISTS confidence DOUBLE PRECISION;
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_review ON documents(status, document_type, confidence);

CREATE TABLE IF NOT EXISTS vendors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_vendors_lower_name ON vendors(lower(name));

CREATE TABLE IF NOT EXISTS materials (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	sku TEXT,
	unit TEXT,
	preferred_vendor_id TEXT REFERENCES vendors(id),
	on_hand NUMERIC(18,4) NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_materials_lower_name ON materials(lower(name));
CREATE INDEX IF NOT EXISTS idx_materials_lower_sku ON materials(lower(sku));

CREATE TABLE IF NOT EXISTS purchase_orders (
	id TEXT PRIMARY KEY,
	number TEXT,
	vendor_id TEXT NOT NULL REFERENCES vendors(id),
	status TEXT NOT NULL,
	order_date DATE NOT NULL,
	delivery_date DATE,
	subtotal NUMERIC(14,2) NOT NULL,
	total NUMERIC(14,2) NOT NULL,
	notes TEXT,
	import_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchase_orders_number ON purchase_orders(lower(number));

CREATE TABLE IF NOT EXISTS purchase_order_lines (
	id TEXT PRIMARY KEY,
	purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
	position INT NOT NULL,
	material_id TEXT REFERENCES materials(id),
	description TEXT NOT NULL,
	sku TEXT,
	quantity NUMERIC(18,4) NOT NULL,
	unit TEXT,
	unit_price NUMERIC(14,2) NOT NULL,
	total_price NUMERIC(14,2) NOT NULL
);

CREATE TABLE IF NOT EXISTS vendor_invoices (
	id TEXT PRIMARY KEY,
	number TEXT,
	vendor_id TEXT NOT NULL REFERENCES vendors(id),
	purchase_order_id TEXT REFERENCES purchase_orders(id),
	status TEXT NOT NULL,
	invoice_date DATE NOT NULL,
	due_date DATE,
	subtotal NUMERIC(14,2) NOT NULL,
	tax NUMERIC(14,2),
	shipping NUMERIC(14,2),
	total NUMERIC(14,2) NOT NULL,
	payment_terms TEXT,
	import_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice_lines (
	id TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL REFERENCES vendor_invoices(id),
	position INT NOT NULL,
	material_id TEXT REFERENCES materials(id),
	description TEXT NOT NULL,
	sku TEXT,
	quantity NUMERIC(18,4) NOT NULL,
	unit TEXT,
	unit_price NUMERIC(14,2) NOT NULL,
	total_price NUMERIC(14,2) NOT NULL
);

CREATE TABLE IF NOT EXISTS freight_invoices (
	id TEXT PRIMARY KEY,
	number TEXT,
	carrier TEXT NOT NULL,
	purchase_order_id TEXT REFERENCES purchase_orders(id),
	invoice_date DATE NOT NULL,
	ship_date DATE,
	delivery_date DATE,
	origin TEXT,
	destination TEXT,
	tracking_number TEXT,
	freight_charges NUMERIC(14,2) NOT NULL,
	fuel_surcharge NUMERIC(14,2),
	accessorial_charges NUMERIC(14,2),
	total NUMERIC(14,2) NOT NULL,
	import_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS customs_documents (
	id TEXT PRIMARY KEY,
	number TEXT,
	kind TEXT NOT NULL,
	shipper JSONB NOT NULL,
	consignee JSONB NOT NULL,
	country_of_origin TEXT,
	purchase_order_id TEXT REFERENCES purchase_orders(id),
	total_declared_value NUMERIC(14,2) NOT NULL,
	total_duty NUMERIC(14,2),
	broker JSONB,
	import_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS customs_lines (
	id TEXT PRIMARY KEY,
	customs_document_id TEXT NOT NULL REFERENCES customs_documents(id),
	position INT NOT NULL,
	material_id TEXT REFERENCES materials(id),
	description TEXT NOT NULL,
	hs_code TEXT,
	quantity NUMERIC(18,4) NOT NULL,
	declared_value NUMERIC(14,2),
	duty_rate NUMERIC(9,4),
	duty_amount NUMERIC(14,2)
);

CREATE TABLE IF NOT EXISTS import_records (
	id TEXT PRIMARY KEY,
	fingerprint TEXT,
	document_type TEXT NOT NULL,
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS import_history (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	document_type TEXT NOT NULL,
	status TEXT NOT NULL,
	records_created INT NOT NULL DEFAULT 0,
	records_updated INT NOT NULL DEFAULT 0,
	fingerprint TEXT,
	import_record_id TEXT REFERENCES import_records(id),
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_history_created_at ON import_history(created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uq_import_history_completed_fingerprint
	ON import_history(fingerprint) WHERE status = 'completed' AND fingerprint IS NOT NULL;
`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
