// Package bolt is an embedded ImportStore and registry for single-node use
// such as the import CLI.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

var (
	bucketHistory        = []byte("history")
	bucketRecords        = []byte("records")
	bucketFingerprints   = []byte("fingerprints")
	bucketVendors        = []byte("vendors")
	bucketMaterials      = []byte("materials")
	bucketPurchaseOrders = []byte("purchase_orders")
	bucketInvoices       = []byte("invoices")
	bucketFreight        = []byte("freight")
	bucketCustoms        = []byte("customs")
)

var allBuckets = [][]byte{
	bucketHistory, bucketRecords, bucketFingerprints, bucketVendors, bucketMaterials,
	bucketPurchaseOrders, bucketInvoices, bucketFreight, bucketCustoms,
}

// Store implements ports.ImportStore, ports.VendorRegistry and
// ports.MaterialRegistry on a single bbolt file. bbolt allows one writer at a
// time, so every RunInTx is already serialized.
type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// storedVendor keeps insertion order so the first active vendor is stable.
type storedVendor struct {
	domain.Vendor
	Seq uint64 `json:"seq"`
}

// PutVendor inserts or replaces a vendor in the registry.
func (s *Store) PutVendor(ctx context.Context, vendor domain.Vendor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putVendor(tx, &vendor)
	})
}

// PutMaterial inserts or replaces a material in the registry.
func (s *Store) PutMaterial(ctx context.Context, material domain.Material) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketMaterials), material.ID, material)
	})
}

func (s *Store) FindVendorByName(ctx context.Context, name string) (*domain.Vendor, error) {
	var out *domain.Vendor
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = findVendorByName(tx, name)
		return err
	})
	return out, err
}

func (s *Store) ListActiveVendors(ctx context.Context) ([]domain.Vendor, error) {
	var out []domain.Vendor
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		vendors, err := listVendors(tx)
		if err != nil {
			return err
		}
		for _, v := range vendors {
			if v.Active {
				out = append(out, v.Vendor)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) GetVendor(ctx context.Context, id string) (*domain.Vendor, error) {
	var out *domain.Vendor
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = getVendor(tx, id)
		return err
	})
	return out, err
}

func (s *Store) FindMaterialByNameOrSku(ctx context.Context, name, sku string) (*domain.Material, error) {
	var out *domain.Material
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = findMaterial(tx, name, sku)
		return err
	})
	return out, err
}

func (s *Store) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	var out []domain.Material
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = listMaterials(tx)
		return err
	})
	return out, err
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.ImportTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(ctx, &importTx{tx: tx})
	})
}

func (s *Store) FindCompleted(ctx context.Context, fingerprint string) (*domain.ImportRecord, error) {
	var out *domain.ImportRecord
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		out, err = findCompleted(tx, fingerprint)
		return err
	})
	return out, err
}

// History returns entries newest first.
func (s *Store) History(ctx context.Context, limit int) ([]domain.ImportHistoryEntry, error) {
	out := make([]domain.ImportHistoryEntry, 0)
	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var entry domain.ImportHistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling history entry: %w", err)
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

func (s *Store) AppendHistory(ctx context.Context, entry *domain.ImportHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return appendHistory(tx, entry)
	})
}

func (s *Store) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

type importTx struct {
	tx *bbolt.Tx
}

// LockFingerprint is a no-op: the bbolt write transaction is exclusive.
func (t *importTx) LockFingerprint(context.Context, string) error {
	return nil
}

func (t *importTx) FindCompleted(_ context.Context, fingerprint string) (*domain.ImportRecord, error) {
	return findCompleted(t.tx, fingerprint)
}

func (t *importTx) GetVendor(_ context.Context, id string) (*domain.Vendor, error) {
	return getVendor(t.tx, id)
}

func (t *importTx) FindVendorByName(_ context.Context, name string) (*domain.Vendor, error) {
	return findVendorByName(t.tx, name)
}

func (t *importTx) CreateVendor(_ context.Context, vendor *domain.Vendor) error {
	if existing := t.tx.Bucket(bucketVendors).Get([]byte(vendor.ID)); existing != nil {
		return fmt.Errorf("vendor %s already exists", vendor.ID)
	}
	return putVendor(t.tx, vendor)
}

func (t *importTx) FindMaterialByNameOrSku(_ context.Context, name, sku string) (*domain.Material, error) {
	return findMaterial(t.tx, name, sku)
}

func (t *importTx) CreatePurchaseOrder(_ context.Context, po *domain.PurchaseOrder) error {
	return putJSON(t.tx.Bucket(bucketPurchaseOrders), po.ID, po)
}

func (t *importTx) CreateInvoice(_ context.Context, inv *domain.Invoice) error {
	return putJSON(t.tx.Bucket(bucketInvoices), inv.ID, inv)
}

func (t *importTx) CreateFreightInvoice(_ context.Context, inv *domain.FreightInvoice) error {
	return putJSON(t.tx.Bucket(bucketFreight), inv.ID, inv)
}

func (t *importTx) CreateCustomsDocument(_ context.Context, doc *domain.CustomsRecord) error {
	return putJSON(t.tx.Bucket(bucketCustoms), doc.ID, doc)
}

func (t *importTx) FindPurchaseOrderByNumber(_ context.Context, number string) (*domain.PurchaseOrder, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, nil
	}
	var found *domain.PurchaseOrder
	err := t.tx.Bucket(bucketPurchaseOrders).ForEach(func(_, v []byte) error {
		var po domain.PurchaseOrder
		if err := json.Unmarshal(v, &po); err != nil {
			return fmt.Errorf("unmarshaling purchase order: %w", err)
		}
		if strings.EqualFold(po.Number, number) && (found == nil || po.CreatedAt.After(found.CreatedAt)) {
			found = &po
		}
		return nil
	})
	return found, err
}

func (t *importTx) IncrementInventory(_ context.Context, materialID string, quantity decimal.Decimal) error {
	bucket := t.tx.Bucket(bucketMaterials)
	data := bucket.Get([]byte(materialID))
	if data == nil {
		return domain.WrapError(domain.ErrNotFound, "increment inventory", fmt.Errorf("material %s", materialID))
	}
	var material domain.Material
	if err := json.Unmarshal(data, &material); err != nil {
		return fmt.Errorf("unmarshaling material: %w", err)
	}
	material.OnHand = material.OnHand.Add(quantity)
	return putJSON(bucket, material.ID, material)
}

func (t *importTx) SaveImportRecord(_ context.Context, record *domain.ImportRecord) error {
	return putJSON(t.tx.Bucket(bucketRecords), record.ID, record)
}

func (t *importTx) AppendHistory(_ context.Context, entry *domain.ImportHistoryEntry) error {
	return appendHistory(t.tx, entry)
}

func putJSON(bucket *bbolt.Bucket, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", id, err)
	}
	return bucket.Put([]byte(id), data)
}

func putVendor(tx *bbolt.Tx, vendor *domain.Vendor) error {
	bucket := tx.Bucket(bucketVendors)
	stored := storedVendor{Vendor: *vendor}
	if data := bucket.Get([]byte(vendor.ID)); data != nil {
		var prev storedVendor
		if err := json.Unmarshal(data, &prev); err != nil {
			return fmt.Errorf("unmarshaling vendor: %w", err)
		}
		stored.Seq = prev.Seq
	} else {
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("vendor sequence: %w", err)
		}
		stored.Seq = seq
	}
	return putJSON(bucket, vendor.ID, stored)
}

func listVendors(tx *bbolt.Tx) ([]storedVendor, error) {
	var out []storedVendor
	err := tx.Bucket(bucketVendors).ForEach(func(_, v []byte) error {
		var vendor storedVendor
		if err := json.Unmarshal(v, &vendor); err != nil {
			return fmt.Errorf("unmarshaling vendor: %w", err)
		}
		out = append(out, vendor)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func getVendor(tx *bbolt.Tx, id string) (*domain.Vendor, error) {
	data := tx.Bucket(bucketVendors).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var vendor storedVendor
	if err := json.Unmarshal(data, &vendor); err != nil {
		return nil, fmt.Errorf("unmarshaling vendor: %w", err)
	}
	return &vendor.Vendor, nil
}

func findVendorByName(tx *bbolt.Tx, name string) (*domain.Vendor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	vendors, err := listVendors(tx)
	if err != nil {
		return nil, err
	}
	var found *domain.Vendor
	for i := range vendors {
		v := vendors[i].Vendor
		if !strings.EqualFold(v.Name, name) {
			continue
		}
		if v.Active {
			return &v, nil
		}
		if found == nil {
			found = &v
		}
	}
	return found, nil
}

func listMaterials(tx *bbolt.Tx) ([]domain.Material, error) {
	var out []domain.Material
	err := tx.Bucket(bucketMaterials).ForEach(func(_, v []byte) error {
		var material domain.Material
		if err := json.Unmarshal(v, &material); err != nil {
			return fmt.Errorf("unmarshaling material: %w", err)
		}
		out = append(out, material)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func findMaterial(tx *bbolt.Tx, name, sku string) (*domain.Material, error) {
	name, sku = strings.TrimSpace(name), strings.TrimSpace(sku)
	materials, err := listMaterials(tx)
	if err != nil {
		return nil, err
	}
	if sku != "" {
		for i := range materials {
			if strings.EqualFold(materials[i].SKU, sku) {
				return &materials[i], nil
			}
		}
	}
	for i := range materials {
		if name != "" && strings.EqualFold(materials[i].Name, name) {
			return &materials[i], nil
		}
	}
	return nil, nil
}

func findCompleted(tx *bbolt.Tx, fingerprint string) (*domain.ImportRecord, error) {
	if fingerprint == "" {
		return nil, nil
	}
	recordID := tx.Bucket(bucketFingerprints).Get([]byte(fingerprint))
	if recordID == nil {
		return nil, nil
	}
	data := tx.Bucket(bucketRecords).Get(recordID)
	if data == nil {
		return nil, fmt.Errorf("import record %s missing for fingerprint", recordID)
	}
	var record domain.ImportRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling import record: %w", err)
	}
	return &record, nil
}

// appendHistory keys entries by sequence so cursor order is insertion order.
// A completed entry claims its fingerprint; a second claim is a duplicate.
func appendHistory(tx *bbolt.Tx, entry *domain.ImportHistoryEntry) error {
	if entry.Status == domain.ImportCompleted && entry.Fingerprint != "" {
		fingerprints := tx.Bucket(bucketFingerprints)
		if prior := fingerprints.Get([]byte(entry.Fingerprint)); prior != nil && !bytes.Equal(prior, []byte(entry.ImportRecordID)) {
			return domain.WrapError(domain.ErrDuplicateImport, "append import history", errors.New(entry.Fingerprint))
		}
		if err := fingerprints.Put([]byte(entry.Fingerprint), []byte(entry.ImportRecordID)); err != nil {
			return fmt.Errorf("put fingerprint: %w", err)
		}
	}

	bucket := tx.Bucket(bucketHistory)
	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("history sequence: %w", err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return bucket.Put(key, data)
}
