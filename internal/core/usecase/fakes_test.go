package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/extraction"
	"github.com/kirillkom/docimport/internal/core/ports"
)

// fixture is a canned model answer for one file.
type fixture struct {
	docType    string
	confidence float64
	fields     string
	err        error
}

type extractorFake struct {
	mu       sync.Mutex
	byFile   map[string]fixture
	calls    int
	requests []ports.ExtractRequest
}

func newExtractorFake(byFile map[string]fixture) *extractorFake {
	return &extractorFake{byFile: byFile}
}

func (f *extractorFake) Extract(_ context.Context, req ports.ExtractRequest) (ports.RawExtraction, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	fx, ok := f.byFile[req.Filename]
	f.mu.Unlock()

	if !ok {
		return ports.RawExtraction{}, errors.New("no fixture for " + req.Filename)
	}
	if fx.err != nil {
		return ports.RawExtraction{}, fx.err
	}
	if req.TargetSchema == nil {
		return ports.RawExtraction{DocumentType: fx.docType, Confidence: fx.confidence}, nil
	}
	return ports.RawExtraction{DocumentType: fx.docType, Confidence: fx.confidence, Fields: json.RawMessage(fx.fields)}, nil
}

func (f *extractorFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type textFake struct{}

func (textFake) ExtractText(_ context.Context, mimeType string, content []byte) (string, error) {
	if domain.IsImageMimeType(mimeType) {
		return "", nil
	}
	return string(content), nil
}

type vendorRegistryFake struct {
	vendors []domain.Vendor
}

func (f *vendorRegistryFake) FindVendorByName(_ context.Context, name string) (*domain.Vendor, error) {
	for i := range f.vendors {
		if strings.EqualFold(f.vendors[i].Name, strings.TrimSpace(name)) {
			v := f.vendors[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (f *vendorRegistryFake) ListActiveVendors(context.Context) ([]domain.Vendor, error) {
	var out []domain.Vendor
	for _, v := range f.vendors {
		if v.Active {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *vendorRegistryFake) GetVendor(_ context.Context, id string) (*domain.Vendor, error) {
	for i := range f.vendors {
		if f.vendors[i].ID == id {
			v := f.vendors[i]
			return &v, nil
		}
	}
	return nil, nil
}

type materialRegistryFake struct {
	materials []domain.Material
	listCalls int
}

func (f *materialRegistryFake) FindMaterialByNameOrSku(_ context.Context, name, sku string) (*domain.Material, error) {
	for i := range f.materials {
		m := f.materials[i]
		if (sku != "" && strings.EqualFold(m.SKU, sku)) || strings.EqualFold(m.Name, name) {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *materialRegistryFake) ListMaterials(context.Context) ([]domain.Material, error) {
	f.listCalls++
	return append([]domain.Material(nil), f.materials...), nil
}

// memState is the content of memStore. RunInTx works on a copy and swaps it
// in on success, so a failed commit leaves no trace.
type memState struct {
	vendors   map[string]domain.Vendor
	materials map[string]domain.Material
	pos       map[string]domain.PurchaseOrder
	invoices  map[string]domain.Invoice
	freight   map[string]domain.FreightInvoice
	customs   map[string]domain.CustomsRecord
	records   map[string]domain.ImportRecord
	history   []domain.ImportHistoryEntry
}

func (s memState) clone() memState {
	out := memState{
		vendors:   make(map[string]domain.Vendor, len(s.vendors)),
		materials: make(map[string]domain.Material, len(s.materials)),
		pos:       make(map[string]domain.PurchaseOrder, len(s.pos)),
		invoices:  make(map[string]domain.Invoice, len(s.invoices)),
		freight:   make(map[string]domain.FreightInvoice, len(s.freight)),
		customs:   make(map[string]domain.CustomsRecord, len(s.customs)),
		records:   make(map[string]domain.ImportRecord, len(s.records)),
		history:   append([]domain.ImportHistoryEntry(nil), s.history...),
	}
	for k, v := range s.vendors {
		out.vendors[k] = v
	}
	for k, v := range s.materials {
		out.materials[k] = v
	}
	for k, v := range s.pos {
		out.pos[k] = v
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.freight {
		out.freight[k] = v
	}
	for k, v := range s.customs {
		out.customs[k] = v
	}
	for k, v := range s.records {
		out.records[k] = v
	}
	return out
}

type memStore struct {
	mu       sync.Mutex
	state    memState
	failOn   string
	txCalls  int
	lockKeys []string
}

func newMemStore(vendors []domain.Vendor, materials []domain.Material) *memStore {
	s := &memStore{state: memState{}.clone()}
	for _, v := range vendors {
		s.state.vendors[v.ID] = v
	}
	for _, m := range materials {
		s.state.materials[m.ID] = m
	}
	return s
}

func (s *memStore) RunInTx(ctx context.Context, fn func(context.Context, ports.ImportTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCalls++
	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *memStore) FindCompleted(_ context.Context, fingerprint string) (*domain.ImportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findCompleted(s.state, fingerprint), nil
}

func (s *memStore) History(_ context.Context, limit int) ([]domain.ImportHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ImportHistoryEntry, 0, len(s.state.history))
	for i := len(s.state.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.state.history[i])
	}
	return out, nil
}

func (s *memStore) AppendHistory(_ context.Context, entry *domain.ImportHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.history = append(s.state.history, *entry)
	return nil
}

// rows counts business rows, the thing a duplicate import must not change.
func (s *memStore) rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.state.vendors) + len(s.state.records) + len(s.state.freight)
	for _, po := range s.state.pos {
		n += 1 + len(po.Lines)
	}
	for _, inv := range s.state.invoices {
		n += 1 + len(inv.Lines)
	}
	for _, cd := range s.state.customs {
		n += 1 + len(cd.Lines)
	}
	return n
}

func findCompleted(state memState, fingerprint string) *domain.ImportRecord {
	for _, h := range state.history {
		if h.Status == domain.ImportCompleted && h.Fingerprint == fingerprint {
			rec := state.records[h.ImportRecordID]
			return &rec
		}
	}
	return nil
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) fail(op string) error {
	if t.store.failOn == op {
		return errors.New(op + " failed")
	}
	return nil
}

func (t *memTx) LockFingerprint(_ context.Context, fingerprint string) error {
	t.store.lockKeys = append(t.store.lockKeys, fingerprint)
	return nil
}

// FindCompleted misses on "lost_race", as if another commit of the same
// document landed after this transaction looked.
func (t *memTx) FindCompleted(_ context.Context, fingerprint string) (*domain.ImportRecord, error) {
	if t.store.failOn == "lost_race" {
		return nil, nil
	}
	return findCompleted(t.state, fingerprint), nil
}

func (t *memTx) GetVendor(_ context.Context, id string) (*domain.Vendor, error) {
	v, ok := t.state.vendors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (t *memTx) FindVendorByName(_ context.Context, name string) (*domain.Vendor, error) {
	for _, v := range t.state.vendors {
		if strings.EqualFold(v.Name, strings.TrimSpace(name)) {
			return &v, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateVendor(_ context.Context, vendor *domain.Vendor) error {
	t.state.vendors[vendor.ID] = *vendor
	return nil
}

func (t *memTx) FindMaterialByNameOrSku(_ context.Context, name, sku string) (*domain.Material, error) {
	for _, m := range t.state.materials {
		if (sku != "" && strings.EqualFold(m.SKU, sku)) || strings.EqualFold(m.Name, name) {
			return &m, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreatePurchaseOrder(_ context.Context, po *domain.PurchaseOrder) error {
	if err := t.fail("purchase_order"); err != nil {
		return err
	}
	t.state.pos[po.ID] = *po
	return nil
}

func (t *memTx) CreateInvoice(_ context.Context, inv *domain.Invoice) error {
	t.state.invoices[inv.ID] = *inv
	return nil
}

func (t *memTx) CreateFreightInvoice(_ context.Context, inv *domain.FreightInvoice) error {
	t.state.freight[inv.ID] = *inv
	return nil
}

func (t *memTx) CreateCustomsDocument(_ context.Context, doc *domain.CustomsRecord) error {
	t.state.customs[doc.ID] = *doc
	return nil
}

func (t *memTx) FindPurchaseOrderByNumber(_ context.Context, number string) (*domain.PurchaseOrder, error) {
	for _, po := range t.state.pos {
		if strings.EqualFold(po.Number, number) {
			return &po, nil
		}
	}
	return nil, nil
}

func (t *memTx) IncrementInventory(_ context.Context, materialID string, quantity decimal.Decimal) error {
	if err := t.fail("inventory"); err != nil {
		return err
	}
	m, ok := t.state.materials[materialID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "increment inventory", errors.New(materialID))
	}
	m.OnHand = m.OnHand.Add(quantity)
	t.state.materials[materialID] = m
	return nil
}

func (t *memTx) SaveImportRecord(_ context.Context, record *domain.ImportRecord) error {
	t.state.records[record.ID] = *record
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, entry *domain.ImportHistoryEntry) error {
	if entry.Status == domain.ImportCompleted && entry.Fingerprint != "" && findCompleted(t.state, entry.Fingerprint) != nil {
		return domain.WrapError(domain.ErrDuplicateImport, "append import history", errors.New("unique completed fingerprint"))
	}
	t.state.history = append(t.state.history, *entry)
	return nil
}

func newTestClassifier(t *testing.T, extractor ports.Extractor) *ClassifyUseCase {
	t.Helper()
	parser, err := extraction.NewParser(nil)
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	return NewClassifyUseCase(extractor, textFake{}, parser, ClassifyOptions{MissingFieldPenalty: extraction.DefaultMissingFieldPenalty}, nil)
}

const acmeVendorID = "vendor-acme"
const widgetMaterialID = "material-widget"

func acmeRegistry() ([]domain.Vendor, []domain.Material) {
	vendors := []domain.Vendor{
		{ID: acmeVendorID, Name: "Acme Corp", Email: "orders@acme.test", Active: true},
		{ID: "vendor-globex", Name: "Globex", Active: true},
	}
	materials := []domain.Material{
		{ID: widgetMaterialID, Name: "Widget", SKU: "WID-1", Unit: "ea", OnHand: decimal.NewFromInt(5)},
	}
	return vendors, materials
}

const po24Fields = `{
	"po_number": "PO-24",
	"vendor_name": "Acme Corp",
	"vendor_email": "orders@acme.test",
	"order_date": "2024-05-01",
	"delivery_date": "2024-05-10",
	"line_items": [
		{"description": "Widget", "quantity": 2, "unit_price": "$10.00", "total_price": "$20.00"}
	],
	"subtotal": "20.00",
	"total_amount": "$20.00"
}`
