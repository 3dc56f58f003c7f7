package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type DocumentType string

const (
	DocumentPurchaseOrder   DocumentType = "purchase_order"
	DocumentVendorInvoice   DocumentType = "vendor_invoice"
	DocumentFreightInvoice  DocumentType = "freight_invoice"
	DocumentCustomsDocument DocumentType = "customs_document"
	DocumentUnknown         DocumentType = "unknown"
)

func KnownDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentPurchaseOrder,
		DocumentVendorInvoice,
		DocumentFreightInvoice,
		DocumentCustomsDocument,
	}
}

// ParseDocumentType maps free-form model output onto the closed set. Anything
// unrecognised becomes DocumentUnknown.
func ParseDocumentType(raw string) DocumentType {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	switch normalized {
	case "purchase_order", "po":
		return DocumentPurchaseOrder
	case "vendor_invoice", "invoice", "supplier_invoice":
		return DocumentVendorInvoice
	case "freight_invoice", "freight_bill", "carrier_invoice":
		return DocumentFreightInvoice
	case "customs_document", "customs", "customs_declaration":
		return DocumentCustomsDocument
	default:
		return DocumentUnknown
	}
}

func (t DocumentType) Known() bool {
	switch t {
	case DocumentPurchaseOrder, DocumentVendorInvoice, DocumentFreightInvoice, DocumentCustomsDocument:
		return true
	default:
		return false
	}
}

// Payload is the closed set of type-specific extraction payloads. Only the
// four payload structs in this package implement it.
type Payload interface {
	DocumentType() DocumentType
	// NaturalKey returns the business number and the party name scoping it.
	NaturalKey() (scope, key string)
	Items() []LineItem
	Clone() Payload
	sealedPayload()
}

type LineItem struct {
	Description   string           `json:"description"`
	SKU           string           `json:"sku,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Unit          string           `json:"unit,omitempty"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	TotalPrice    decimal.Decimal  `json:"total_price"`
	HSCode        string           `json:"hs_code,omitempty"`
	DeclaredValue *decimal.Decimal `json:"declared_value,omitempty"`
	DutyRate      *decimal.Decimal `json:"duty_rate,omitempty"`
	DutyAmount    *decimal.Decimal `json:"duty_amount,omitempty"`

	MatchedEntityID string      `json:"matched_entity_id,omitempty"`
	MatchConfidence *float64    `json:"match_confidence,omitempty"`
	MatchMethod     MatchMethod `json:"match_method,omitempty"`
	// Suggested marks a line with no registry match; a new material may be created.
	Suggested bool `json:"suggested,omitempty"`
}

type PurchaseOrderPayload struct {
	PONumber     string          `json:"po_number,omitempty"`
	VendorName   string          `json:"vendor_name"`
	VendorEmail  string          `json:"vendor_email,omitempty"`
	VendorID     string          `json:"vendor_id,omitempty"`
	OrderDate    string          `json:"order_date"`
	DeliveryDate string          `json:"delivery_date,omitempty"`
	LineItems    []LineItem      `json:"line_items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Notes        string          `json:"notes,omitempty"`
}

func (p *PurchaseOrderPayload) DocumentType() DocumentType { return DocumentPurchaseOrder }
func (p *PurchaseOrderPayload) NaturalKey() (string, string) {
	return p.VendorName, p.PONumber
}
func (p *PurchaseOrderPayload) Items() []LineItem { return p.LineItems }
func (p *PurchaseOrderPayload) Clone() Payload {
	out := *p
	out.LineItems = cloneItems(p.LineItems)
	return &out
}
func (*PurchaseOrderPayload) sealedPayload() {}

type VendorInvoicePayload struct {
	InvoiceNumber   string           `json:"invoice_number,omitempty"`
	VendorName      string           `json:"vendor_name"`
	VendorEmail     string           `json:"vendor_email,omitempty"`
	VendorID        string           `json:"vendor_id,omitempty"`
	InvoiceDate     string           `json:"invoice_date"`
	DueDate         string           `json:"due_date,omitempty"`
	LineItems       []LineItem       `json:"line_items"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	TaxAmount       *decimal.Decimal `json:"tax_amount,omitempty"`
	ShippingAmount  *decimal.Decimal `json:"shipping_amount,omitempty"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	RelatedPONumber string           `json:"related_po_number,omitempty"`
	PaymentTerms    string           `json:"payment_terms,omitempty"`
}

func (p *VendorInvoicePayload) DocumentType() DocumentType { return DocumentVendorInvoice }
func (p *VendorInvoicePayload) NaturalKey() (string, string) {
	return p.VendorName, p.InvoiceNumber
}
func (p *VendorInvoicePayload) Items() []LineItem { return p.LineItems }
func (p *VendorInvoicePayload) Clone() Payload {
	out := *p
	out.LineItems = cloneItems(p.LineItems)
	return &out
}
func (*VendorInvoicePayload) sealedPayload() {}

type FreightInvoicePayload struct {
	InvoiceNumber      string           `json:"invoice_number,omitempty"`
	CarrierName        string           `json:"carrier_name"`
	InvoiceDate        string           `json:"invoice_date"`
	ShipDate           string           `json:"ship_date,omitempty"`
	DeliveryDate       string           `json:"delivery_date,omitempty"`
	Origin             string           `json:"origin,omitempty"`
	Destination        string           `json:"destination,omitempty"`
	TrackingNumber     string           `json:"tracking_number,omitempty"`
	FreightCharges     decimal.Decimal  `json:"freight_charges"`
	FuelSurcharge      *decimal.Decimal `json:"fuel_surcharge,omitempty"`
	AccessorialCharges *decimal.Decimal `json:"accessorial_charges,omitempty"`
	TotalAmount        decimal.Decimal  `json:"total_amount"`
	RelatedPONumber    string           `json:"related_po_number,omitempty"`
}

func (p *FreightInvoicePayload) DocumentType() DocumentType { return DocumentFreightInvoice }
func (p *FreightInvoicePayload) NaturalKey() (string, string) {
	return p.CarrierName, p.InvoiceNumber
}
func (p *FreightInvoicePayload) Items() []LineItem { return nil }
func (p *FreightInvoicePayload) Clone() Payload {
	out := *p
	return &out
}
func (*FreightInvoicePayload) sealedPayload() {}

type CustomsKind string

const (
	CustomsBillOfLading        CustomsKind = "bill_of_lading"
	CustomsEntry               CustomsKind = "customs_entry"
	CustomsCommercialInvoice   CustomsKind = "commercial_invoice"
	CustomsPackingList         CustomsKind = "packing_list"
	CustomsCertificateOfOrigin CustomsKind = "certificate_of_origin"
	CustomsImportPermit        CustomsKind = "import_permit"
	CustomsOther               CustomsKind = "other"
)

func CustomsKinds() []CustomsKind {
	return []CustomsKind{
		CustomsBillOfLading, CustomsEntry, CustomsCommercialInvoice, CustomsPackingList,
		CustomsCertificateOfOrigin, CustomsImportPermit, CustomsOther,
	}
}

type Party struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Country string `json:"country,omitempty"`
}

type BrokerInfo struct {
	Name          string `json:"name"`
	LicenseNumber string `json:"license_number,omitempty"`
	Contact       string `json:"contact,omitempty"`
}

type CustomsDocumentPayload struct {
	DocumentNumber     string           `json:"document_number,omitempty"`
	Kind               CustomsKind      `json:"customs_type"`
	Shipper            Party            `json:"shipper"`
	Consignee          Party            `json:"consignee"`
	CountryOfOrigin    string           `json:"country_of_origin,omitempty"`
	LineItems          []LineItem       `json:"line_items"`
	TotalDeclaredValue decimal.Decimal  `json:"total_declared_value"`
	TotalDuty          *decimal.Decimal `json:"total_duty,omitempty"`
	RelatedPONumber    string           `json:"related_po_number,omitempty"`
	Broker             *BrokerInfo      `json:"broker,omitempty"`
}

func (p *CustomsDocumentPayload) DocumentType() DocumentType { return DocumentCustomsDocument }
func (p *CustomsDocumentPayload) NaturalKey() (string, string) {
	return p.Shipper.Name, p.DocumentNumber
}
func (p *CustomsDocumentPayload) Items() []LineItem { return p.LineItems }
func (p *CustomsDocumentPayload) Clone() Payload {
	out := *p
	out.LineItems = cloneItems(p.LineItems)
	if p.Broker != nil {
		broker := *p.Broker
		out.Broker = &broker
	}
	return &out
}
func (*CustomsDocumentPayload) sealedPayload() {}

func cloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// NewPayload returns an empty payload for a known document type.
func NewPayload(t DocumentType) (Payload, error) {
	switch t {
	case DocumentPurchaseOrder:
		return &PurchaseOrderPayload{}, nil
	case DocumentVendorInvoice:
		return &VendorInvoicePayload{}, nil
	case DocumentFreightInvoice:
		return &FreightInvoicePayload{}, nil
	case DocumentCustomsDocument:
		return &CustomsDocumentPayload{}, nil
	default:
		return nil, fmt.Errorf("no payload for document type %q", t)
	}
}

// ExtractionResult is produced once per RawDocument. Corrections produce a new
// value; the resolver returns an annotated copy.
type ExtractionResult struct {
	DocumentType   DocumentType
	Payload        Payload
	Confidence     float64
	SourceFilename string
	// AttemptedType is the type the model asserted when the result was
	// downgraded to unknown.
	AttemptedType DocumentType
	VendorMatch   *MatchCandidate
	Warnings      []string
}

func UnknownResult(filename string, attempted DocumentType, warnings ...string) ExtractionResult {
	if attempted == "" {
		attempted = DocumentUnknown
	}
	return ExtractionResult{
		DocumentType:   DocumentUnknown,
		Confidence:     0,
		SourceFilename: filename,
		AttemptedType:  attempted,
		Warnings:       warnings,
	}
}

func (r ExtractionResult) IsUnknown() bool {
	return r.DocumentType == DocumentUnknown || r.Payload == nil
}

type extractionJSON struct {
	DocumentType   DocumentType    `json:"document_type"`
	Confidence     float64         `json:"confidence"`
	SourceFilename string          `json:"source_filename,omitempty"`
	AttemptedType  DocumentType    `json:"attempted_type,omitempty"`
	VendorMatch    *MatchCandidate `json:"vendor_match,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func (r ExtractionResult) MarshalJSON() ([]byte, error) {
	docType := r.DocumentType
	if docType == "" {
		docType = DocumentUnknown
	}
	out := extractionJSON{
		DocumentType:   docType,
		Confidence:     r.Confidence,
		SourceFilename: r.SourceFilename,
		AttemptedType:  r.AttemptedType,
		VendorMatch:    r.VendorMatch,
		Warnings:       r.Warnings,
	}
	if r.Payload != nil && docType != DocumentUnknown {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		out.Payload = raw
	}
	return json.Marshal(out)
}

func (r *ExtractionResult) UnmarshalJSON(data []byte) error {
	var in extractionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	docType := ParseDocumentType(string(in.DocumentType))
	*r = ExtractionResult{
		DocumentType:   docType,
		Confidence:     in.Confidence,
		SourceFilename: in.SourceFilename,
		AttemptedType:  in.AttemptedType,
		VendorMatch:    in.VendorMatch,
		Warnings:       in.Warnings,
	}
	if docType == DocumentUnknown || len(in.Payload) == 0 || string(in.Payload) == "null" {
		return nil
	}
	payload, err := NewPayload(docType)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(in.Payload, payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", docType, err)
	}
	r.Payload = payload
	return nil
}
