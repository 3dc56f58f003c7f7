package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
)

type eventsFake struct {
	mu        sync.Mutex
	published []*domain.ImportRecord
}

func (f *eventsFake) PublishImportCommitted(_ context.Context, record *domain.ImportRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, record)
	return nil
}

func classifyAndResolvePO24(t *testing.T, vendors []domain.Vendor, materials []domain.Material) domain.ExtractionResult {
	t.Helper()
	extractor := newExtractorFake(map[string]fixture{
		"po-24.pdf": {docType: "purchase_order", confidence: 0.9, fields: po24Fields},
	})
	classifier := newTestClassifier(t, extractor)
	resolver := NewResolveUseCase(&vendorRegistryFake{vendors: vendors}, &materialRegistryFake{materials: materials}, nil, nil)

	res, err := classifier.Classify(context.Background(), domain.RawDocument{
		Content:  []byte("%PDF PO-24 Acme Corp 2 x Widget @ $10.00 total $20.00"),
		MimeType: domain.MimePDF,
		Filename: "po-24.pdf",
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	resolved, err := resolver.ResolveExtraction(context.Background(), res)
	if err != nil {
		t.Fatalf("ResolveExtraction() error = %v", err)
	}
	return resolved
}

func TestCommitPO24ScenarioAndDuplicate(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	events := &eventsFake{}
	uc := NewCommitUseCase(store, events, nil)

	resolved := classifyAndResolvePO24(t, vendors, materials)
	if resolved.DocumentType != domain.DocumentPurchaseOrder || resolved.Confidence <= 0.6 {
		t.Fatalf("unexpected extraction: %+v", resolved)
	}
	items := resolved.Payload.Items()
	if len(items) != 1 || items[0].MatchedEntityID != widgetMaterialID {
		t.Fatalf("expected one line matched to widget, got %+v", items)
	}

	rowsBefore := store.rows()
	record, err := uc.Commit(context.Background(), resolved, domain.ImportOptions{}, "alice")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(store.state.pos) != 1 {
		t.Fatalf("expected one purchase order, got %d", len(store.state.pos))
	}
	for _, po := range store.state.pos {
		if po.Status != domain.PurchaseOrderDraft || po.VendorID != acmeVendorID || len(po.Lines) != 1 {
			t.Fatalf("unexpected purchase order: %+v", po)
		}
		if po.Lines[0].MaterialID != widgetMaterialID || !po.Total.Equal(decimal.NewFromInt(20)) {
			t.Fatalf("unexpected line/total: %+v", po)
		}
	}
	if record.Fingerprint == "" || len(record.Created) != 2 {
		t.Fatalf("expected fingerprint and 2 created refs, got %+v", record)
	}
	if len(events.published) != 1 {
		t.Fatalf("expected one committed event, got %d", len(events.published))
	}

	rowsAfterFirst := store.rows()
	if rowsAfterFirst-rowsBefore != 3 {
		t.Fatalf("expected header, line and import record rows, got %d", rowsAfterFirst-rowsBefore)
	}

	again := classifyAndResolvePO24(t, vendors, materials)
	prior, err := uc.Commit(context.Background(), again, domain.ImportOptions{}, "bob")
	if !errors.Is(err, domain.ErrDuplicateImport) {
		t.Fatalf("expected ErrDuplicateImport, got %v", err)
	}
	var dup *domain.DuplicateImportError
	if !errors.As(err, &dup) || dup.Prior.ID != record.ID {
		t.Fatalf("expected prior record in error, got %v", err)
	}
	if prior == nil || prior.ID != record.ID {
		t.Fatalf("expected prior record returned, got %+v", prior)
	}
	if store.rows() != rowsAfterFirst {
		t.Fatalf("duplicate import must not create rows: before %d after %d", rowsAfterFirst, store.rows())
	}
	if len(events.published) != 1 {
		t.Fatalf("duplicate must not publish")
	}
}

func TestCommitRejectsUnknown(t *testing.T) {
	store := newMemStore(nil, nil)
	uc := NewCommitUseCase(store, nil, nil)

	_, err := uc.Commit(context.Background(), domain.UnknownResult("x.pdf", domain.DocumentUnknown), domain.ImportOptions{}, "alice")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if store.txCalls != 0 {
		t.Fatalf("unknown documents must not open a transaction")
	}
}

func TestCommitMissingVendor(t *testing.T) {
	store := newMemStore(nil, nil)
	uc := NewCommitUseCase(store, nil, nil)
	result := domain.ExtractionResult{
		DocumentType:   domain.DocumentVendorInvoice,
		SourceFilename: "inv.pdf",
		Payload: &domain.VendorInvoicePayload{
			InvoiceNumber: "INV-1",
			VendorName:    "New Vendor LLC",
			InvoiceDate:   "2024-01-01",
			LineItems:     []domain.LineItem{{Description: "Service", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5), TotalPrice: decimal.NewFromInt(5)}},
			TotalAmount:   decimal.NewFromInt(5),
		},
	}

	_, err := uc.Commit(context.Background(), result, domain.ImportOptions{}, "alice")
	if !errors.Is(err, domain.ErrMissingEntity) {
		t.Fatalf("expected ErrMissingEntity, got %v", err)
	}
	if store.rows() != 0 {
		t.Fatalf("failed commit must leave no business rows")
	}
	if len(store.state.history) != 1 || store.state.history[0].Status != domain.ImportFailed {
		t.Fatalf("expected one failed history entry, got %+v", store.state.history)
	}

	record, err := uc.Commit(context.Background(), result, domain.ImportOptions{CreateVendor: true}, "alice")
	if err != nil {
		t.Fatalf("Commit(CreateVendor) error = %v", err)
	}
	if len(store.state.vendors) != 1 || record.Created[0].Kind != domain.EntityVendor {
		t.Fatalf("expected vendor created inside commit, got %+v", record.Created)
	}
}

func TestCommitReceivesInventory(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	resolved := classifyAndResolvePO24(t, vendors, materials)

	record, err := uc.Commit(context.Background(), resolved, domain.ImportOptions{MarkAsReceived: true, UpdateInventory: true}, "alice")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := store.state.materials[widgetMaterialID].OnHand; !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected on hand 5+2=7, got %s", got)
	}
	if len(record.Updated) != 1 || record.Updated[0].ID != widgetMaterialID {
		t.Fatalf("expected inventory update ref, got %+v", record.Updated)
	}
	for _, po := range store.state.pos {
		if po.Status != domain.PurchaseOrderReceived {
			t.Fatalf("expected received status, got %s", po.Status)
		}
	}
}

func TestCommitIsAtomic(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	store.failOn = "inventory"
	uc := NewCommitUseCase(store, nil, nil)
	resolved := classifyAndResolvePO24(t, vendors, materials)
	rowsBefore := store.rows()

	_, err := uc.Commit(context.Background(), resolved, domain.ImportOptions{MarkAsReceived: true, UpdateInventory: true}, "alice")
	if err == nil {
		t.Fatalf("expected inventory failure")
	}
	if store.rows() != rowsBefore || len(store.state.pos) != 0 {
		t.Fatalf("partial writes must not be visible")
	}
	if !store.state.materials[widgetMaterialID].OnHand.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("inventory must be unchanged")
	}
	if len(store.state.history) != 1 || store.state.history[0].Status != domain.ImportFailed {
		t.Fatalf("expected failed history entry, got %+v", store.state.history)
	}
}

func TestCommitWithoutNaturalKeyIsAlwaysImportable(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	result := domain.ExtractionResult{
		DocumentType: domain.DocumentPurchaseOrder,
		Payload: &domain.PurchaseOrderPayload{
			VendorName:  "Acme Corp",
			OrderDate:   "2024-05-01",
			LineItems:   []domain.LineItem{{Description: "Widget", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(10)}},
			TotalAmount: decimal.NewFromInt(10),
		},
	}

	for i := 0; i < 2; i++ {
		record, err := uc.Commit(context.Background(), result, domain.ImportOptions{}, "alice")
		if err != nil {
			t.Fatalf("Commit() #%d error = %v", i+1, err)
		}
		if record.Fingerprint != "" {
			t.Fatalf("expected no fingerprint")
		}
		found := false
		for _, w := range record.Warnings {
			if w == domain.WarningNoNaturalKey {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected no-natural-key warning, got %v", record.Warnings)
		}
	}
	if len(store.state.pos) != 2 || len(store.lockKeys) != 0 {
		t.Fatalf("expected two purchase orders and no fingerprint locks, got %d/%d", len(store.state.pos), len(store.lockKeys))
	}
}

func TestCommitFreightLinksPurchaseOrder(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	if _, err := uc.Commit(context.Background(), classifyAndResolvePO24(t, vendors, materials), domain.ImportOptions{}, "alice"); err != nil {
		t.Fatalf("Commit(po) error = %v", err)
	}

	freight := func(number, related string) domain.ExtractionResult {
		return domain.ExtractionResult{
			DocumentType: domain.DocumentFreightInvoice,
			Payload: &domain.FreightInvoicePayload{
				InvoiceNumber:   number,
				CarrierName:     "FastFreight",
				InvoiceDate:     "2024-05-03",
				FreightCharges:  decimal.NewFromInt(50),
				TotalAmount:     decimal.NewFromInt(50),
				RelatedPONumber: related,
			},
		}
	}

	if _, err := uc.Commit(context.Background(), freight("FF-1", "PO-24"), domain.ImportOptions{LinkToPO: true}, "alice"); err != nil {
		t.Fatalf("Commit(freight) error = %v", err)
	}
	record, err := uc.Commit(context.Background(), freight("FF-2", "PO-999"), domain.ImportOptions{LinkToPO: true}, "alice")
	if err != nil {
		t.Fatalf("unmatched PO must not fail: %v", err)
	}
	linked := 0
	for _, fi := range store.state.freight {
		if fi.PurchaseOrderID != "" {
			linked++
		}
	}
	if len(store.state.freight) != 2 || linked != 1 {
		t.Fatalf("expected one linked and one unlinked freight invoice, got %d/%d", len(store.state.freight), linked)
	}
	if len(record.Warnings) == 0 {
		t.Fatalf("expected unlinked warning")
	}
}

func TestCommitConcurrentDuplicatesCreateOneRecord(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	resolved := classifyAndResolvePO24(t, vendors, materials)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = uc.Commit(context.Background(), resolved, domain.ImportOptions{}, "alice")
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, domain.ErrDuplicateImport):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || len(store.state.pos) != 1 {
		t.Fatalf("expected exactly one successful commit, got %d commits and %d POs", ok, len(store.state.pos))
	}
}

func refKinds(refs []domain.EntityRef) string {
	kinds := make([]string, len(refs))
	for i, ref := range refs {
		kinds[i] = string(ref.Kind)
	}
	return strings.Join(kinds, ",")
}

func widgetInvoice(vendorName, number string) domain.ExtractionResult {
	tax := decimal.RequireFromString("1.60")
	return domain.ExtractionResult{
		DocumentType:   domain.DocumentVendorInvoice,
		SourceFilename: "inv-" + number + ".pdf",
		Payload: &domain.VendorInvoicePayload{
			InvoiceNumber:   number,
			VendorName:      vendorName,
			InvoiceDate:     "2024-05-12",
			DueDate:         "2024-06-11",
			RelatedPONumber: "PO-24",
			LineItems: []domain.LineItem{
				{Description: "Widget", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(20)},
			},
			Subtotal:    decimal.NewFromInt(20),
			TaxAmount:   &tax,
			TotalAmount: decimal.RequireFromString("21.60"),
		},
	}
}

func TestCommitVendorInvoiceLinksOrderAndReceives(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	poRecord, err := uc.Commit(context.Background(), classifyAndResolvePO24(t, vendors, materials), domain.ImportOptions{}, "alice")
	if err != nil {
		t.Fatalf("Commit(po) error = %v", err)
	}

	options := domain.ImportOptions{LinkToPO: true, MarkAsReceived: true, UpdateInventory: true}
	record, err := uc.Commit(context.Background(), widgetInvoice("Acme Corp", "INV-88"), options, "alice")
	if err != nil {
		t.Fatalf("Commit(invoice) error = %v", err)
	}
	if got := refKinds(record.Created); got != "vendor_invoice,invoice_line" {
		t.Fatalf("unexpected created refs: %s", got)
	}
	if len(record.Updated) != 1 || record.Updated[0].Kind != domain.EntityInventory || record.Updated[0].ID != widgetMaterialID {
		t.Fatalf("expected widget inventory update, got %+v", record.Updated)
	}
	if got := store.state.materials[widgetMaterialID].OnHand; !got.Equal(decimal.NewFromInt(7)) {
		t.Fatalf("expected on hand 5+2=7, got %s", got)
	}

	if len(store.state.invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(store.state.invoices))
	}
	for _, inv := range store.state.invoices {
		if inv.VendorID != acmeVendorID || inv.Status != domain.InvoiceOpen || inv.ImportID != record.ID {
			t.Fatalf("unexpected invoice header: %+v", inv)
		}
		if inv.PurchaseOrderID == "" || inv.PurchaseOrderID != poRecord.Created[0].ID {
			t.Fatalf("expected link to PO-24 (%s), got %q", poRecord.Created[0].ID, inv.PurchaseOrderID)
		}
		if len(inv.Lines) != 1 || inv.Lines[0].MaterialID != widgetMaterialID {
			t.Fatalf("expected widget line, got %+v", inv.Lines)
		}
	}
	for _, w := range record.Warnings {
		if strings.Contains(w, "PO-24") {
			t.Fatalf("linked invoice must not warn: %v", record.Warnings)
		}
	}
}

func TestCommitVendorInvoiceDuplicateScopedByVendor(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)

	first, err := uc.Commit(context.Background(), widgetInvoice("Acme Corp", "INV-88"), domain.ImportOptions{}, "alice")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	rows := store.rows()

	prior, err := uc.Commit(context.Background(), widgetInvoice("ACME Corp.", "inv-88"), domain.ImportOptions{}, "bob")
	if !errors.Is(err, domain.ErrDuplicateImport) || prior == nil || prior.ID != first.ID {
		t.Fatalf("expected duplicate of %s, got prior=%+v err=%v", first.ID, prior, err)
	}
	if store.rows() != rows {
		t.Fatalf("duplicate invoice must not write rows")
	}

	record, err := uc.Commit(context.Background(), widgetInvoice("Globex", "INV-88"), domain.ImportOptions{}, "alice")
	if err != nil {
		t.Fatalf("same number from another vendor must import, got %v", err)
	}
	if record.Fingerprint == first.Fingerprint || len(store.state.invoices) != 2 {
		t.Fatalf("expected a second invoice with its own fingerprint")
	}
	for _, w := range record.Warnings {
		if strings.Contains(w, "PO-24") {
			t.Fatalf("LinkToPO off must not look up the order: %v", record.Warnings)
		}
	}
}

func TestCommitCustomsDocumentMatchesMaterials(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	declared := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	result := domain.ExtractionResult{
		DocumentType:   domain.DocumentCustomsDocument,
		SourceFilename: "bl-9.pdf",
		Payload: &domain.CustomsDocumentPayload{
			DocumentNumber:  "BL-9",
			Kind:            domain.CustomsBillOfLading,
			Shipper:         domain.Party{Name: "Shenzhen Parts Co", Country: "CN"},
			Consignee:       domain.Party{Name: "Acme Manufacturing", Country: "US"},
			CountryOfOrigin: "CN",
			RelatedPONumber: "PO-404",
			LineItems: []domain.LineItem{
				{Description: "Widget housings", SKU: "wid-1", HSCode: "8483.40", Quantity: decimal.NewFromInt(10), DeclaredValue: declared(100)},
				{Description: "Gears", HSCode: "8483.90", Quantity: decimal.NewFromInt(4), DeclaredValue: declared(60)},
			},
			TotalDeclaredValue: decimal.NewFromInt(160),
		},
	}

	record, err := uc.Commit(context.Background(), result, domain.ImportOptions{LinkToPO: true, MarkAsReceived: true, UpdateInventory: true}, "alice")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := refKinds(record.Created); got != "customs_document,customs_line,customs_line" {
		t.Fatalf("unexpected created refs: %s", got)
	}
	if len(record.Updated) != 0 || !store.state.materials[widgetMaterialID].OnHand.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("customs documents must not touch inventory, got %+v", record.Updated)
	}
	unlinked := false
	for _, w := range record.Warnings {
		if strings.Contains(w, "PO-404") {
			unlinked = true
		}
	}
	if !unlinked {
		t.Fatalf("expected unlinked PO warning, got %v", record.Warnings)
	}
	for _, doc := range store.state.customs {
		if doc.PurchaseOrderID != "" || doc.Kind != domain.CustomsBillOfLading || doc.Shipper.Name != "Shenzhen Parts Co" {
			t.Fatalf("unexpected customs record: %+v", doc)
		}
		if len(doc.Lines) != 2 || doc.Lines[0].MaterialID != widgetMaterialID || doc.Lines[1].MaterialID != "" {
			t.Fatalf("expected widget matched by sku and gears unmatched, got %+v", doc.Lines)
		}
		if doc.Lines[0].HSCode != "8483.40" || !doc.Lines[1].DeclaredValue.Equal(decimal.NewFromInt(60)) {
			t.Fatalf("customs line fields not carried: %+v", doc.Lines)
		}
	}
}

func TestCommitLostRaceReturnsWinner(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)
	resolved := classifyAndResolvePO24(t, vendors, materials)
	winner, err := uc.Commit(context.Background(), resolved, domain.ImportOptions{}, "alice")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	store.failOn = "lost_race"
	prior, err := uc.Commit(context.Background(), resolved, domain.ImportOptions{}, "bob")
	var dup *domain.DuplicateImportError
	if !errors.As(err, &dup) || dup.Prior == nil || dup.Prior.ID != winner.ID {
		t.Fatalf("expected duplicate error carrying the winner, got %v", err)
	}
	if prior == nil || prior.ID != winner.ID {
		t.Fatalf("expected winner record returned, got %+v", prior)
	}
	for _, h := range store.state.history {
		if h.Status == domain.ImportFailed {
			t.Fatalf("a lost race is a duplicate, not a failure: %+v", store.state.history)
		}
	}
	if len(store.state.pos) != 1 {
		t.Fatalf("expected the losing transaction rolled back, got %d POs", len(store.state.pos))
	}
}

func TestCommitRejectsNonPositiveQuantity(t *testing.T) {
	vendors, materials := acmeRegistry()
	store := newMemStore(vendors, materials)
	uc := NewCommitUseCase(store, nil, nil)

	edited := classifyAndResolvePO24(t, vendors, materials)
	po := edited.Payload.(*domain.PurchaseOrderPayload)
	po.LineItems[0].Quantity = decimal.NewFromInt(-3)

	_, err := uc.Commit(context.Background(), edited, domain.ImportOptions{MarkAsReceived: true, UpdateInventory: true}, "alice")
	var docErr *domain.DocumentError
	if !errors.As(err, &docErr) || !errors.Is(err, domain.ErrValidation) || docErr.Field != "line_items.0.quantity" {
		t.Fatalf("expected quantity validation error, got %v", err)
	}
	if store.txCalls != 0 || !store.state.materials[widgetMaterialID].OnHand.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("rejected payload must not reach the store")
	}
}

func TestClassifyNegativeQuantityIsUnknown(t *testing.T) {
	extractor := newExtractorFake(map[string]fixture{
		"po-neg.pdf": {docType: "purchase_order", confidence: 0.9, fields: `{"po_number":"PO-31","vendor_name":"Acme Corp","order_date":"2024-05-01","line_items":[{"description":"Widget","quantity":"(3)","unit_price":"-10.00","total_price":"30.00"}],"total_amount":"30.00"}`},
	})
	uc := newTestClassifier(t, extractor)

	res, err := uc.Classify(context.Background(), domain.RawDocument{Content: []byte("x"), MimeType: domain.MimePDF, Filename: "po-neg.pdf"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if res.DocumentType != domain.DocumentUnknown || res.Payload != nil {
		t.Fatalf("expected unknown for negative quantity, got %+v", res)
	}
}
