package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/extraction"
	"github.com/kirillkom/docimport/internal/core/ports"
)

type CommitUseCase struct {
	store  ports.ImportStore
	events ports.ImportEventPublisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewCommitUseCase(store ports.ImportStore, events ports.ImportEventPublisher, logger *slog.Logger) *CommitUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitUseCase{
		store:  store,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Commit writes the business records of a confirmed extraction and its import
// record in one transaction. A document that was already imported yields the
// prior record and a *domain.DuplicateImportError.
func (uc *CommitUseCase) Commit(
	ctx context.Context,
	result domain.ExtractionResult,
	options domain.ImportOptions,
	actor string,
) (*domain.ImportRecord, error) {
	if result.IsUnknown() {
		return nil, domain.NewDocumentError(domain.ErrValidation, result.SourceFilename, result.AttemptedType, "document_type",
			errors.New("unknown documents cannot be imported"))
	}
	payload := result.Payload
	if err := extraction.CheckRequired(payload); err != nil {
		var docErr *domain.DocumentError
		if errors.As(err, &docErr) {
			docErr.Filename = result.SourceFilename
		}
		return nil, err
	}

	fingerprint, hasKey := domain.Fingerprint(payload)
	warnings := append([]string(nil), extraction.TotalsWarnings(payload)...)
	warnings = append(warnings, extraction.LineItemWarnings(payload.Items())...)
	if !hasKey {
		warnings = append(warnings, domain.WarningNoNaturalKey)
	}
	if options.UpdateInventory && !options.MarkAsReceived {
		warnings = append(warnings, "update_inventory ignored: document not marked as received")
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}

	record := &domain.ImportRecord{
		ID:             uc.newID(),
		Fingerprint:    fingerprint,
		DocumentType:   payload.DocumentType(),
		SourceFilename: result.SourceFilename,
		Actor:          actor,
		Created:        []domain.EntityRef{},
		Updated:        []domain.EntityRef{},
		Options:        options,
		Warnings:       warnings,
		CreatedAt:      uc.now(),
	}

	err := uc.store.RunInTx(ctx, func(ctx context.Context, tx ports.ImportTx) error {
		if hasKey {
			if err := tx.LockFingerprint(ctx, fingerprint); err != nil {
				return fmt.Errorf("lock fingerprint: %w", err)
			}
			prior, err := tx.FindCompleted(ctx, fingerprint)
			if err != nil {
				return fmt.Errorf("find completed import: %w", err)
			}
			if prior != nil {
				return &domain.DuplicateImportError{Prior: prior, Fingerprint: fingerprint}
			}
		}

		w := &recordWriter{tx: tx, record: record, options: options, result: result, now: record.CreatedAt, newID: uc.newID}
		if err := w.write(ctx, payload); err != nil {
			return err
		}
		if err := tx.SaveImportRecord(ctx, record); err != nil {
			return fmt.Errorf("save import record: %w", err)
		}
		entry := uc.historyEntry(record, domain.ImportCompleted, "")
		if err := tx.AppendHistory(ctx, entry); err != nil {
			return fmt.Errorf("append import history: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateImport) {
			dup := uc.duplicateOf(ctx, fingerprint, err)
			priorID := ""
			if dup.Prior != nil {
				priorID = dup.Prior.ID
			}
			uc.logger.Info("import_duplicate",
				"filename", result.SourceFilename,
				"fingerprint", fingerprint,
				"prior_import_id", priorID,
			)
			return dup.Prior, dup
		}
		uc.recordFailure(ctx, record, err)
		return nil, err
	}

	uc.logger.Info("import_committed",
		"import_id", record.ID,
		"document_type", record.DocumentType,
		"filename", record.SourceFilename,
		"created", len(record.Created),
		"updated", len(record.Updated),
		"warnings", len(record.Warnings),
	)
	if uc.events != nil {
		if pubErr := uc.events.PublishImportCommitted(context.WithoutCancel(ctx), record); pubErr != nil {
			uc.logger.Warn("import_event_publish_failed", "import_id", record.ID, "error", pubErr)
		}
	}
	return record, nil
}

// duplicateOf turns err into a *domain.DuplicateImportError. When the store's
// unique index caught a concurrent commit, the winner's record is read back.
func (uc *CommitUseCase) duplicateOf(ctx context.Context, fingerprint string, err error) *domain.DuplicateImportError {
	var dup *domain.DuplicateImportError
	if errors.As(err, &dup) {
		return dup
	}
	dup = &domain.DuplicateImportError{Fingerprint: fingerprint}
	prior, findErr := uc.store.FindCompleted(context.WithoutCancel(ctx), fingerprint)
	if findErr != nil {
		uc.logger.Warn("import_duplicate_lookup_failed", "fingerprint", fingerprint, "error", findErr)
		return dup
	}
	dup.Prior = prior
	return dup
}

func (uc *CommitUseCase) historyEntry(record *domain.ImportRecord, status domain.ImportStatus, errMessage string) *domain.ImportHistoryEntry {
	entry := &domain.ImportHistoryEntry{
		ID:             uc.newID(),
		FileName:       record.SourceFilename,
		DocumentType:   record.DocumentType,
		Status:         status,
		Fingerprint:    record.Fingerprint,
		Error:          errMessage,
		Timestamp:      uc.now(),
		RecordsCreated: len(record.Created),
		RecordsUpdated: len(record.Updated),
	}
	if status == domain.ImportCompleted {
		entry.ImportRecordID = record.ID
	} else {
		entry.RecordsCreated, entry.RecordsUpdated = 0, 0
	}
	return entry
}

// recordFailure leaves a trace of a rolled back import. It runs outside the
// aborted transaction and never changes the returned error.
func (uc *CommitUseCase) recordFailure(ctx context.Context, record *domain.ImportRecord, commitErr error) {
	entry := uc.historyEntry(record, domain.ImportFailed, commitErr.Error())
	if err := uc.store.AppendHistory(context.WithoutCancel(ctx), entry); err != nil {
		uc.logger.Warn("import_failure_history_failed", "filename", record.SourceFilename, "error", err)
	}
	uc.logger.Warn("import_failed", "filename", record.SourceFilename, "document_type", record.DocumentType, "error", commitErr)
}

// recordWriter performs the type specific side effects of one commit.
type recordWriter struct {
	tx      ports.ImportTx
	record  *domain.ImportRecord
	options domain.ImportOptions
	result  domain.ExtractionResult
	now     time.Time
	newID   func() string
}

func (w *recordWriter) write(ctx context.Context, payload domain.Payload) error {
	switch p := payload.(type) {
	case *domain.PurchaseOrderPayload:
		return w.purchaseOrder(ctx, p)
	case *domain.VendorInvoicePayload:
		return w.vendorInvoice(ctx, p)
	case *domain.FreightInvoicePayload:
		return w.freightInvoice(ctx, p)
	case *domain.CustomsDocumentPayload:
		return w.customsDocument(ctx, p)
	default:
		return domain.NewDocumentError(domain.ErrValidation, w.result.SourceFilename, payload.DocumentType(), "", fmt.Errorf("unsupported payload %T", payload))
	}
}

func (w *recordWriter) created(kind domain.EntityKind, id string) {
	w.record.Created = append(w.record.Created, domain.EntityRef{Kind: kind, ID: id})
}

func (w *recordWriter) warn(format string, args ...any) {
	w.record.Warnings = append(w.record.Warnings, fmt.Sprintf(format, args...))
}

func (w *recordWriter) vendor(ctx context.Context, vendorID, name, email string) (string, error) {
	if vendorID != "" {
		v, err := w.tx.GetVendor(ctx, vendorID)
		if err != nil {
			return "", fmt.Errorf("get vendor: %w", err)
		}
		if v != nil {
			return v.ID, nil
		}
	}
	v, err := w.tx.FindVendorByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("find vendor by name: %w", err)
	}
	if v != nil {
		return v.ID, nil
	}
	if !w.options.CreateVendor {
		return "", domain.NewDocumentError(domain.ErrMissingEntity, w.result.SourceFilename, w.record.DocumentType, "vendor_name",
			fmt.Errorf("vendor %q does not exist", name))
	}
	created := &domain.Vendor{ID: w.newID(), Name: strings.TrimSpace(name), Email: email, Active: true}
	if err := w.tx.CreateVendor(ctx, created); err != nil {
		return "", fmt.Errorf("create vendor: %w", err)
	}
	w.created(domain.EntityVendor, created.ID)
	return created.ID, nil
}

func (w *recordWriter) materialID(ctx context.Context, item domain.LineItem) (string, error) {
	if item.MatchedEntityID != "" {
		return item.MatchedEntityID, nil
	}
	m, err := w.tx.FindMaterialByNameOrSku(ctx, item.Description, item.SKU)
	if err != nil {
		return "", fmt.Errorf("find material: %w", err)
	}
	if m == nil {
		return "", nil
	}
	return m.ID, nil
}

func (w *recordWriter) orderLines(ctx context.Context, items []domain.LineItem) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		materialID, err := w.materialID(ctx, item)
		if err != nil {
			return nil, err
		}
		line := domain.OrderLine{
			ID:          w.newID(),
			MaterialID:  materialID,
			Description: item.Description,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (w *recordWriter) receive(ctx context.Context, lines []domain.OrderLine) error {
	if !w.options.UpdateInventory || !w.options.MarkAsReceived {
		return nil
	}
	for i, line := range lines {
		if line.MaterialID == "" {
			w.warn("line %d (%s) not matched to a material: inventory not updated", i+1, line.Description)
			continue
		}
		if err := w.tx.IncrementInventory(ctx, line.MaterialID, line.Quantity); err != nil {
			return fmt.Errorf("increment inventory: %w", err)
		}
		w.record.Updated = append(w.record.Updated, domain.EntityRef{Kind: domain.EntityInventory, ID: line.MaterialID})
	}
	return nil
}

func (w *recordWriter) linkPurchaseOrder(ctx context.Context, number string) (string, error) {
	number = strings.TrimSpace(number)
	if !w.options.LinkToPO || number == "" {
		return "", nil
	}
	po, err := w.tx.FindPurchaseOrderByNumber(ctx, number)
	if err != nil {
		return "", fmt.Errorf("find purchase order: %w", err)
	}
	if po == nil {
		w.warn("purchase order %s not found: record left unlinked", number)
		return "", nil
	}
	return po.ID, nil
}

func (w *recordWriter) purchaseOrder(ctx context.Context, p *domain.PurchaseOrderPayload) error {
	vendorID, err := w.vendor(ctx, p.VendorID, p.VendorName, p.VendorEmail)
	if err != nil {
		return err
	}
	lines, err := w.orderLines(ctx, p.LineItems)
	if err != nil {
		return err
	}
	status := domain.PurchaseOrderDraft
	if w.options.MarkAsReceived {
		status = domain.PurchaseOrderReceived
	}
	po := &domain.PurchaseOrder{
		ID:           w.newID(),
		Number:       p.PONumber,
		VendorID:     vendorID,
		Status:       status,
		OrderDate:    p.OrderDate,
		DeliveryDate: p.DeliveryDate,
		Subtotal:     p.Subtotal,
		Total:        p.TotalAmount,
		Notes:        p.Notes,
		ImportID:     w.record.ID,
		Lines:        lines,
		CreatedAt:    w.now,
	}
	if err := w.tx.CreatePurchaseOrder(ctx, po); err != nil {
		return fmt.Errorf("create purchase order: %w", err)
	}
	w.created(domain.EntityPurchaseOrder, po.ID)
	for _, line := range lines {
		w.created(domain.EntityPurchaseOrderLine, line.ID)
	}
	return w.receive(ctx, lines)
}

func (w *recordWriter) vendorInvoice(ctx context.Context, p *domain.VendorInvoicePayload) error {
	vendorID, err := w.vendor(ctx, p.VendorID, p.VendorName, p.VendorEmail)
	if err != nil {
		return err
	}
	lines, err := w.orderLines(ctx, p.LineItems)
	if err != nil {
		return err
	}
	poID, err := w.linkPurchaseOrder(ctx, p.RelatedPONumber)
	if err != nil {
		return err
	}
	inv := &domain.Invoice{
		ID:              w.newID(),
		Number:          p.InvoiceNumber,
		VendorID:        vendorID,
		PurchaseOrderID: poID,
		Status:          domain.InvoiceOpen,
		InvoiceDate:     p.InvoiceDate,
		DueDate:         p.DueDate,
		Subtotal:        p.Subtotal,
		Tax:             p.TaxAmount,
		Shipping:        p.ShippingAmount,
		Total:           p.TotalAmount,
		PaymentTerms:    p.PaymentTerms,
		ImportID:        w.record.ID,
		Lines:           lines,
		CreatedAt:       w.now,
	}
	if err := w.tx.CreateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	w.created(domain.EntityVendorInvoice, inv.ID)
	for _, line := range lines {
		w.created(domain.EntityInvoiceLine, line.ID)
	}
	return w.receive(ctx, lines)
}

func (w *recordWriter) freightInvoice(ctx context.Context, p *domain.FreightInvoicePayload) error {
	poID, err := w.linkPurchaseOrder(ctx, p.RelatedPONumber)
	if err != nil {
		return err
	}
	inv := &domain.FreightInvoice{
		ID:                 w.newID(),
		Number:             p.InvoiceNumber,
		Carrier:            p.CarrierName,
		PurchaseOrderID:    poID,
		InvoiceDate:        p.InvoiceDate,
		ShipDate:           p.ShipDate,
		DeliveryDate:       p.DeliveryDate,
		Origin:             p.Origin,
		Destination:        p.Destination,
		TrackingNumber:     p.TrackingNumber,
		FreightCharges:     p.FreightCharges,
		FuelSurcharge:      p.FuelSurcharge,
		AccessorialCharges: p.AccessorialCharges,
		Total:              p.TotalAmount,
		ImportID:           w.record.ID,
		CreatedAt:          w.now,
	}
	if err := w.tx.CreateFreightInvoice(ctx, inv); err != nil {
		return fmt.Errorf("create freight invoice: %w", err)
	}
	w.created(domain.EntityFreightInvoice, inv.ID)
	return nil
}

func (w *recordWriter) customsDocument(ctx context.Context, p *domain.CustomsDocumentPayload) error {
	poID, err := w.linkPurchaseOrder(ctx, p.RelatedPONumber)
	if err != nil {
		return err
	}
	lines := make([]domain.CustomsLine, 0, len(p.LineItems))
	for _, item := range p.LineItems {
		materialID, err := w.materialID(ctx, item)
		if err != nil {
			return err
		}
		lines = append(lines, domain.CustomsLine{
			ID:            w.newID(),
			MaterialID:    materialID,
			Description:   item.Description,
			HSCode:        item.HSCode,
			Quantity:      item.Quantity,
			DeclaredValue: item.DeclaredValue,
			DutyRate:      item.DutyRate,
			DutyAmount:    item.DutyAmount,
		})
	}
	doc := &domain.CustomsRecord{
		ID:                 w.newID(),
		Number:             p.DocumentNumber,
		Kind:               p.Kind,
		Shipper:            p.Shipper,
		Consignee:          p.Consignee,
		CountryOfOrigin:    p.CountryOfOrigin,
		PurchaseOrderID:    poID,
		TotalDeclaredValue: p.TotalDeclaredValue,
		TotalDuty:          p.TotalDuty,
		Broker:             p.Broker,
		ImportID:           w.record.ID,
		Lines:              lines,
		CreatedAt:          w.now,
	}
	if err := w.tx.CreateCustomsDocument(ctx, doc); err != nil {
		return fmt.Errorf("create customs document: %w", err)
	}
	w.created(domain.EntityCustomsDocument, doc.ID)
	for _, line := range lines {
		w.created(domain.EntityCustomsLine, line.ID)
	}
	return nil
}
