package extraction

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
)

const moneyPlaces = 2

// Parsed is a validated, typed payload plus what was learned on the way.
type Parsed struct {
	Payload         domain.Payload
	MissingExpected []string
	Notes           []string
}

// Parser turns raw model fields into typed payloads.
type Parser struct {
	validator *Validator
	logger    *slog.Logger
}

func NewParser(logger *slog.Logger) (*Parser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Parser{validator: validator, logger: logger}, nil
}

// Parse sanitizes, validates and decodes fields for a known type. Malformed
// JSON and schema violations are reported as ErrValidation document errors.
func (p *Parser) Parse(t domain.DocumentType, fields json.RawMessage) (Parsed, error) {
	if !t.Known() {
		return Parsed{}, domain.NewDocumentError(domain.ErrValidation, "", t, "document_type", fmt.Errorf("not a committable type"))
	}
	doc, notes, err := Sanitize(t, fields, p.logger)
	if err != nil {
		return Parsed{}, domain.NewDocumentError(domain.ErrValidation, "", t, "", err)
	}
	if err := p.validator.Validate(t, doc); err != nil {
		return Parsed{Notes: notes}, err
	}
	payload, err := Decode(t, doc)
	if err != nil {
		return Parsed{Notes: notes}, domain.NewDocumentError(domain.ErrValidation, "", t, "", err)
	}

	var missing []string
	for _, k := range ExpectedFields(t) {
		if _, ok := doc[k]; !ok {
			missing = append(missing, k)
		}
	}
	return Parsed{Payload: payload, MissingExpected: missing, Notes: notes}, nil
}

// Decode maps a sanitized document onto its payload struct and rounds money
// to cents.
func Decode(t domain.DocumentType, doc map[string]any) (domain.Payload, error) {
	payload, err := domain.NewPayload(t)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(b, payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	roundMoney(payload)
	return payload, nil
}

func roundMoney(p domain.Payload) {
	switch v := p.(type) {
	case *domain.PurchaseOrderPayload:
		v.Subtotal = v.Subtotal.Round(moneyPlaces)
		v.TotalAmount = v.TotalAmount.Round(moneyPlaces)
		roundItems(v.LineItems)
	case *domain.VendorInvoicePayload:
		v.Subtotal = v.Subtotal.Round(moneyPlaces)
		v.TaxAmount = roundPtr(v.TaxAmount)
		v.ShippingAmount = roundPtr(v.ShippingAmount)
		v.TotalAmount = v.TotalAmount.Round(moneyPlaces)
		roundItems(v.LineItems)
	case *domain.FreightInvoicePayload:
		v.FreightCharges = v.FreightCharges.Round(moneyPlaces)
		v.FuelSurcharge = roundPtr(v.FuelSurcharge)
		v.AccessorialCharges = roundPtr(v.AccessorialCharges)
		v.TotalAmount = v.TotalAmount.Round(moneyPlaces)
	case *domain.CustomsDocumentPayload:
		v.TotalDeclaredValue = v.TotalDeclaredValue.Round(moneyPlaces)
		v.TotalDuty = roundPtr(v.TotalDuty)
		roundItems(v.LineItems)
	}
}

func roundItems(items []domain.LineItem) {
	for i := range items {
		items[i].UnitPrice = items[i].UnitPrice.Round(moneyPlaces)
		items[i].TotalPrice = items[i].TotalPrice.Round(moneyPlaces)
		items[i].DeclaredValue = roundPtr(items[i].DeclaredValue)
		items[i].DutyAmount = roundPtr(items[i].DutyAmount)
	}
}

func roundPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(moneyPlaces)
	return &r
}
