package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ImportOptions struct {
	MarkAsReceived  bool `json:"mark_as_received"`
	UpdateInventory bool `json:"update_inventory"`
	LinkToPO        bool `json:"link_to_po"`
	CreateVendor    bool `json:"create_vendor"`
}

type EntityKind string

const (
	EntityVendor            EntityKind = "vendor"
	EntityPurchaseOrder     EntityKind = "purchase_order"
	EntityPurchaseOrderLine EntityKind = "purchase_order_line"
	EntityVendorInvoice     EntityKind = "vendor_invoice"
	EntityInvoiceLine       EntityKind = "invoice_line"
	EntityFreightInvoice    EntityKind = "freight_invoice"
	EntityCustomsDocument   EntityKind = "customs_document"
	EntityCustomsLine       EntityKind = "customs_line"
	EntityInventory         EntityKind = "inventory"
)

type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// ImportRecord is the immutable outcome of one commit.
type ImportRecord struct {
	ID             string        `json:"id"`
	Fingerprint    string        `json:"fingerprint,omitempty"`
	DocumentType   DocumentType  `json:"document_type"`
	SourceFilename string        `json:"source_filename,omitempty"`
	Actor          string        `json:"actor"`
	Created        []EntityRef   `json:"created"`
	Updated        []EntityRef   `json:"updated"`
	Options        ImportOptions `json:"options"`
	Warnings       []string      `json:"warnings,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

type ImportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportCompleted ImportStatus = "completed"
	ImportFailed    ImportStatus = "failed"
)

type ImportHistoryEntry struct {
	ID             string       `json:"id"`
	FileName       string       `json:"file_name"`
	DocumentType   DocumentType `json:"document_type"`
	Status         ImportStatus `json:"status"`
	RecordsCreated int          `json:"records_created"`
	RecordsUpdated int          `json:"records_updated"`
	Fingerprint    string       `json:"fingerprint,omitempty"`
	ImportRecordID string       `json:"import_record_id,omitempty"`
	Error          string       `json:"error,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

type PurchaseOrderStatus string

const (
	PurchaseOrderDraft    PurchaseOrderStatus = "draft"
	PurchaseOrderReceived PurchaseOrderStatus = "received"
)

type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
)

type OrderLine struct {
	ID          string          `json:"id"`
	MaterialID  string          `json:"material_id,omitempty"`
	Description string          `json:"description"`
	SKU         string          `json:"sku,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type PurchaseOrder struct {
	ID           string              `json:"id"`
	Number       string              `json:"number,omitempty"`
	VendorID     string              `json:"vendor_id"`
	Status       PurchaseOrderStatus `json:"status"`
	OrderDate    string              `json:"order_date"`
	DeliveryDate string              `json:"delivery_date,omitempty"`
	Subtotal     decimal.Decimal     `json:"subtotal"`
	Total        decimal.Decimal     `json:"total"`
	Notes        string              `json:"notes,omitempty"`
	ImportID     string              `json:"import_id"`
	Lines        []OrderLine         `json:"lines"`
	CreatedAt    time.Time           `json:"created_at"`
}

type Invoice struct {
	ID              string           `json:"id"`
	Number          string           `json:"number,omitempty"`
	VendorID        string           `json:"vendor_id"`
	PurchaseOrderID string           `json:"purchase_order_id,omitempty"`
	Status          InvoiceStatus    `json:"status"`
	InvoiceDate     string           `json:"invoice_date"`
	DueDate         string           `json:"due_date,omitempty"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	Tax             *decimal.Decimal `json:"tax,omitempty"`
	Shipping        *decimal.Decimal `json:"shipping,omitempty"`
	Total           decimal.Decimal  `json:"total"`
	PaymentTerms    string           `json:"payment_terms,omitempty"`
	ImportID        string           `json:"import_id"`
	Lines           []OrderLine      `json:"lines"`
	CreatedAt       time.Time        `json:"created_at"`
}

type FreightInvoice struct {
	ID                 string           `json:"id"`
	Number             string           `json:"number,omitempty"`
	Carrier            string           `json:"carrier"`
	PurchaseOrderID    string           `json:"purchase_order_id,omitempty"`
	InvoiceDate        string           `json:"invoice_date"`
	ShipDate           string           `json:"ship_date,omitempty"`
	DeliveryDate       string           `json:"delivery_date,omitempty"`
	Origin             string           `json:"origin,omitempty"`
	Destination        string           `json:"destination,omitempty"`
	TrackingNumber     string           `json:"tracking_number,omitempty"`
	FreightCharges     decimal.Decimal  `json:"freight_charges"`
	FuelSurcharge      *decimal.Decimal `json:"fuel_surcharge,omitempty"`
	AccessorialCharges *decimal.Decimal `json:"accessorial_charges,omitempty"`
	Total              decimal.Decimal  `json:"total"`
	ImportID           string           `json:"import_id"`
	CreatedAt          time.Time        `json:"created_at"`
}

type CustomsLine struct {
	ID            string           `json:"id"`
	MaterialID    string           `json:"material_id,omitempty"`
	Description   string           `json:"description"`
	HSCode        string           `json:"hs_code,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	DeclaredValue *decimal.Decimal `json:"declared_value,omitempty"`
	DutyRate      *decimal.Decimal `json:"duty_rate,omitempty"`
	DutyAmount    *decimal.Decimal `json:"duty_amount,omitempty"`
}

type CustomsRecord struct {
	ID                 string           `json:"id"`
	Number             string           `json:"number,omitempty"`
	Kind               CustomsKind      `json:"kind"`
	Shipper            Party            `json:"shipper"`
	Consignee          Party            `json:"consignee"`
	CountryOfOrigin    string           `json:"country_of_origin,omitempty"`
	PurchaseOrderID    string           `json:"purchase_order_id,omitempty"`
	TotalDeclaredValue decimal.Decimal  `json:"total_declared_value"`
	TotalDuty          *decimal.Decimal `json:"total_duty,omitempty"`
	Broker             *BrokerInfo      `json:"broker,omitempty"`
	ImportID           string           `json:"import_id"`
	Lines              []CustomsLine    `json:"lines"`
	CreatedAt          time.Time        `json:"created_at"`
}

// BatchResult keeps the position of its source in the submitted batch.
type BatchResult struct {
	Source     RawDocument       `json:"source"`
	Success    bool              `json:"success"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Err        error             `json:"-"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Unknown   int `json:"unknown"`
}

func Summarize(results []BatchResult) BatchSummary {
	summary := BatchSummary{Total: len(results)}
	for _, res := range results {
		if !res.Success {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		if res.Extraction != nil && res.Extraction.IsUnknown() {
			summary.Unknown++
		}
	}
	return summary
}
