package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

const uniqueViolation = "23505"

// ImportStore keeps business records and import history in one database so
// that a commit is a single transaction.
type ImportStore struct {
	db *sql.DB
}

func NewImportStore(db *sql.DB) *ImportStore {
	return &ImportStore{db: db}
}

func (s *ImportStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.ImportTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &importTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import tx: %w", err)
	}
	return nil
}

func (s *ImportStore) FindCompleted(ctx context.Context, fingerprint string) (*domain.ImportRecord, error) {
	return findCompleted(ctx, s.db, fingerprint)
}

func (s *ImportStore) History(ctx context.Context, limit int) ([]domain.ImportHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, file_name, document_type, status, records_created, records_updated,
	COALESCE(fingerprint, ''), COALESCE(import_record_id, ''), COALESCE(error_message, ''), created_at
FROM import_history
ORDER BY created_at DESC, id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query import history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ImportHistoryEntry, 0)
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import history: %w", err)
	}
	return out, nil
}

func (s *ImportStore) AppendHistory(ctx context.Context, entry *domain.ImportHistoryEntry) error {
	return appendHistory(ctx, s.db, entry)
}

type importTx struct {
	tx *sql.Tx
}

func (t *importTx) LockFingerprint(ctx context.Context, fingerprint string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, fingerprint); err != nil {
		return fmt.Errorf("lock fingerprint: %w", err)
	}
	return nil
}

func (t *importTx) FindCompleted(ctx context.Context, fingerprint string) (*domain.ImportRecord, error) {
	return findCompleted(ctx, t.tx, fingerprint)
}

func (t *importTx) GetVendor(ctx context.Context, id string) (*domain.Vendor, error) {
	return getVendor(ctx, t.tx, id)
}

func (t *importTx) FindVendorByName(ctx context.Context, name string) (*domain.Vendor, error) {
	return findVendorByName(ctx, t.tx, name)
}

func (t *importTx) CreateVendor(ctx context.Context, vendor *domain.Vendor) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO vendors (id, name, email, active) VALUES ($1,$2,$3,$4)
`, vendor.ID, vendor.Name, nullableString(vendor.Email), vendor.Active)
	if err != nil {
		return fmt.Errorf("insert vendor: %w", err)
	}
	return nil
}

func (t *importTx) FindMaterialByNameOrSku(ctx context.Context, name, sku string) (*domain.Material, error) {
	return findMaterial(ctx, t.tx, name, sku)
}

func (t *importTx) CreatePurchaseOrder(ctx context.Context, po *domain.PurchaseOrder) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO purchase_orders (
	id, number, vendor_id, status, order_date, delivery_date, subtotal, total, notes, import_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		po.ID, nullableString(po.Number), po.VendorID, string(po.Status), po.OrderDate, nullableString(po.DeliveryDate),
		po.Subtotal, po.Total, nullableString(po.Notes), po.ImportID, po.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase order: %w", err)
	}
	for i, line := range po.Lines {
		if err := t.insertOrderLine(ctx, "purchase_order_lines", "purchase_order_id", po.ID, i, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *importTx) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO vendor_invoices (
	id, number, vendor_id, purchase_order_id, status, invoice_date, due_date,
	subtotal, tax, shipping, total, payment_terms, import_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		inv.ID, nullableString(inv.Number), inv.VendorID, nullableString(inv.PurchaseOrderID), string(inv.Status),
		inv.InvoiceDate, nullableString(inv.DueDate), inv.Subtotal, nullableDecimal(inv.Tax), nullableDecimal(inv.Shipping),
		inv.Total, nullableString(inv.PaymentTerms), inv.ImportID, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert vendor invoice: %w", err)
	}
	for i, line := range inv.Lines {
		if err := t.insertOrderLine(ctx, "invoice_lines", "invoice_id", inv.ID, i, line); err != nil {
			return err
		}
	}
	return nil
}

// insertOrderLine writes a purchase order or invoice line. table and parent
// are package constants, never user input.
func (t *importTx) insertOrderLine(ctx context.Context, table, parent, parentID string, position int, line domain.OrderLine) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, %s, position, material_id, description, sku, quantity, unit, unit_price, total_price
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, table, parent)
	_, err := t.tx.ExecContext(ctx, query,
		line.ID, parentID, position, nullableString(line.MaterialID), line.Description, nullableString(line.SKU),
		line.Quantity, nullableString(line.Unit), line.UnitPrice, line.TotalPrice,
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (t *importTx) CreateFreightInvoice(ctx context.Context, inv *domain.FreightInvoice) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO freight_invoices (
	id, number, carrier, purchase_order_id, invoice_date, ship_date, delivery_date, origin, destination,
	tracking_number, freight_charges, fuel_surcharge, accessorial_charges, total, import_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		inv.ID, nullableString(inv.Number), inv.Carrier, nullableString(inv.PurchaseOrderID), inv.InvoiceDate,
		nullableString(inv.ShipDate), nullableString(inv.DeliveryDate), nullableString(inv.Origin),
		nullableString(inv.Destination), nullableString(inv.TrackingNumber), inv.FreightCharges,
		nullableDecimal(inv.FuelSurcharge), nullableDecimal(inv.AccessorialCharges), inv.Total, inv.ImportID, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert freight invoice: %w", err)
	}
	return nil
}

func (t *importTx) CreateCustomsDocument(ctx context.Context, doc *domain.CustomsRecord) error {
	shipper, err := json.Marshal(doc.Shipper)
	if err != nil {
		return fmt.Errorf("marshal shipper: %w", err)
	}
	consignee, err := json.Marshal(doc.Consignee)
	if err != nil {
		return fmt.Errorf("marshal consignee: %w", err)
	}
	var broker any
	if doc.Broker != nil {
		raw, err := json.Marshal(doc.Broker)
		if err != nil {
			return fmt.Errorf("marshal broker: %w", err)
		}
		broker = raw
	}

	_, err = t.tx.ExecContext(ctx, `
INSERT INTO customs_documents (
	id, number, kind, shipper, consignee, country_of_origin, purchase_order_id,
	total_declared_value, total_duty, broker, import_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		doc.ID, nullableString(doc.Number), string(doc.Kind), shipper, consignee, nullableString(doc.CountryOfOrigin),
		nullableString(doc.PurchaseOrderID), doc.TotalDeclaredValue, nullableDecimal(doc.TotalDuty), broker,
		doc.ImportID, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert customs document: %w", err)
	}

	for i, line := range doc.Lines {
		_, err := t.tx.ExecContext(ctx, `
INSERT INTO customs_lines (
	id, customs_document_id, position, material_id, description, hs_code, quantity,
	declared_value, duty_rate, duty_amount
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
			line.ID, doc.ID, i, nullableString(line.MaterialID), line.Description, nullableString(line.HSCode),
			line.Quantity, nullableDecimal(line.DeclaredValue), nullableDecimal(line.DutyRate), nullableDecimal(line.DutyAmount),
		)
		if err != nil {
			return fmt.Errorf("insert customs line: %w", err)
		}
	}
	return nil
}

func (t *importTx) FindPurchaseOrderByNumber(ctx context.Context, number string) (*domain.PurchaseOrder, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT id, COALESCE(number, ''), vendor_id, status, order_date::text, COALESCE(delivery_date::text, ''),
	subtotal, total, COALESCE(notes, ''), import_id, created_at
FROM purchase_orders
WHERE lower(number) = lower($1)
ORDER BY created_at DESC
LIMIT 1
`, number)

	var po domain.PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &po.VendorID, &status, &po.OrderDate, &po.DeliveryDate,
		&po.Subtotal, &po.Total, &po.Notes, &po.ImportID, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase order: %w", err)
	}
	po.Status = domain.PurchaseOrderStatus(status)
	return &po, nil
}

func (t *importTx) IncrementInventory(ctx context.Context, materialID string, quantity decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE materials SET on_hand = on_hand + $2 WHERE id = $1
`, materialID, quantity)
	if err != nil {
		return fmt.Errorf("increment inventory: %w", err)
	}
	return requireAffected(res, "increment inventory", "material "+materialID)
}

func (t *importTx) SaveImportRecord(ctx context.Context, record *domain.ImportRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal import record: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO import_records (id, fingerprint, document_type, record, created_at)
VALUES ($1,$2,$3,$4,$5)
`, record.ID, nullableString(record.Fingerprint), string(record.DocumentType), payload, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert import record: %w", err)
	}
	return nil
}

func (t *importTx) AppendHistory(ctx context.Context, entry *domain.ImportHistoryEntry) error {
	return appendHistory(ctx, t.tx, entry)
}

func findCompleted(ctx context.Context, q queryer, fingerprint string) (*domain.ImportRecord, error) {
	if fingerprint == "" {
		return nil, nil
	}
	row := q.QueryRowContext(ctx, `
SELECT r.record
FROM import_history h
JOIN import_records r ON r.id = h.import_record_id
WHERE h.fingerprint = $1 AND h.status = 'completed'
LIMIT 1
`, fingerprint)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan completed import: %w", err)
	}
	var record domain.ImportRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal import record: %w", err)
	}
	return &record, nil
}

func appendHistory(ctx context.Context, q queryer, entry *domain.ImportHistoryEntry) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO import_history (
	id, file_name, document_type, status, records_created, records_updated,
	fingerprint, import_record_id, error_message, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		entry.ID, entry.FileName, string(entry.DocumentType), string(entry.Status), entry.RecordsCreated,
		entry.RecordsUpdated, nullableString(entry.Fingerprint), nullableString(entry.ImportRecordID),
		nullableString(entry.Error), entry.Timestamp,
	)
	if err != nil {
		// The partial unique index backs up the fingerprint lock.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WrapError(domain.ErrDuplicateImport, "append import history", err)
		}
		return fmt.Errorf("insert import history: %w", err)
	}
	return nil
}

func scanHistoryEntry(row rowScanner) (*domain.ImportHistoryEntry, error) {
	var entry domain.ImportHistoryEntry
	var docType, status string
	err := row.Scan(&entry.ID, &entry.FileName, &docType, &status, &entry.RecordsCreated, &entry.RecordsUpdated,
		&entry.Fingerprint, &entry.ImportRecordID, &entry.Error, &entry.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("scan import history: %w", err)
	}
	entry.DocumentType = domain.DocumentType(docType)
	entry.Status = domain.ImportStatus(status)
	return &entry, nil
}

func nullableDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return *v
}
