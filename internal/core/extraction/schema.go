package extraction

import "github.com/kirillkom/docimport/internal/core/domain"

const datePattern = `^\d{4}-\d{2}-\d{2}$`

// ClassificationSchema constrains the first extraction pass to a document type
// and a confidence.
func ClassificationSchema() map[string]any {
	types := make([]string, 0, 5)
	for _, t := range domain.KnownDocumentTypes() {
		types = append(types, string(t))
	}
	types = append(types, string(domain.DocumentUnknown))
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"document_type": map[string]any{"type": "string", "enum": types},
			"confidence":    map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"document_type"},
	}
}

// Schema returns the JSON schema for a known document type, or nil.
func Schema(t domain.DocumentType) map[string]any {
	var props map[string]any
	switch t {
	case domain.DocumentPurchaseOrder:
		props = map[string]any{
			"po_number":     stringProp(),
			"vendor_name":   nonEmptyProp(),
			"vendor_email":  stringProp(),
			"order_date":    dateProp(),
			"delivery_date": dateProp(),
			"line_items":    itemsProp(true),
			"subtotal":      moneyProp(),
			"total_amount":  moneyProp(),
			"notes":         stringProp(),
		}
	case domain.DocumentVendorInvoice:
		props = map[string]any{
			"invoice_number":    stringProp(),
			"vendor_name":       nonEmptyProp(),
			"vendor_email":      stringProp(),
			"invoice_date":      dateProp(),
			"due_date":          dateProp(),
			"line_items":        itemsProp(true),
			"subtotal":          moneyProp(),
			"tax_amount":        moneyProp(),
			"shipping_amount":   moneyProp(),
			"total_amount":      moneyProp(),
			"related_po_number": stringProp(),
			"payment_terms":     stringProp(),
		}
	case domain.DocumentFreightInvoice:
		props = map[string]any{
			"invoice_number":      stringProp(),
			"carrier_name":        nonEmptyProp(),
			"invoice_date":        dateProp(),
			"ship_date":           dateProp(),
			"delivery_date":       dateProp(),
			"origin":              stringProp(),
			"destination":         stringProp(),
			"tracking_number":     stringProp(),
			"freight_charges":     moneyProp(),
			"fuel_surcharge":      moneyProp(),
			"accessorial_charges": moneyProp(),
			"total_amount":        moneyProp(),
			"related_po_number":   stringProp(),
		}
	case domain.DocumentCustomsDocument:
		kinds := make([]string, 0, 7)
		for _, k := range domain.CustomsKinds() {
			kinds = append(kinds, string(k))
		}
		props = map[string]any{
			"document_number":      stringProp(),
			"customs_type":         map[string]any{"type": "string", "enum": kinds},
			"shipper":              partyProp(),
			"consignee":            partyProp(),
			"country_of_origin":    stringProp(),
			"line_items":           itemsProp(false),
			"total_declared_value": moneyProp(),
			"total_duty":           moneyProp(),
			"related_po_number":    stringProp(),
			"broker": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":           nonEmptyProp(),
					"license_number": stringProp(),
					"contact":        stringProp(),
				},
				"required": []string{"name"},
			},
		}
	default:
		return nil
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             RequiredFields(t),
	}
}

// RequiredFields lists the keys without which a payload cannot be committed.
func RequiredFields(t domain.DocumentType) []string {
	switch t {
	case domain.DocumentPurchaseOrder:
		return []string{"vendor_name", "order_date", "line_items", "total_amount"}
	case domain.DocumentVendorInvoice:
		return []string{"vendor_name", "invoice_date", "line_items", "total_amount"}
	case domain.DocumentFreightInvoice:
		return []string{"carrier_name", "invoice_date", "freight_charges", "total_amount"}
	case domain.DocumentCustomsDocument:
		return []string{"customs_type", "shipper", "consignee", "line_items", "total_declared_value"}
	default:
		return nil
	}
}

// ExpectedFields are optional keys whose absence lowers confidence.
func ExpectedFields(t domain.DocumentType) []string {
	switch t {
	case domain.DocumentPurchaseOrder:
		return []string{"delivery_date", "vendor_email"}
	case domain.DocumentVendorInvoice:
		return []string{"due_date", "payment_terms"}
	case domain.DocumentFreightInvoice:
		return []string{"tracking_number", "related_po_number"}
	case domain.DocumentCustomsDocument:
		return []string{"broker", "country_of_origin"}
	default:
		return nil
	}
}

func stringProp() map[string]any {
	return map[string]any{"type": "string"}
}

func nonEmptyProp() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func dateProp() map[string]any {
	return map[string]any{"type": "string", "pattern": datePattern}
}

func moneyProp() map[string]any {
	return map[string]any{"type": "number"}
}

func positiveProp() map[string]any {
	return map[string]any{"type": "number", "exclusiveMinimum": 0}
}

func nonNegativeProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0}
}

func partyProp() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":    nonEmptyProp(),
			"address": stringProp(),
			"country": stringProp(),
		},
		"required": []string{"name"},
	}
}

func itemsProp(priced bool) map[string]any {
	required := []string{"description", "quantity"}
	if priced {
		required = append(required, "unit_price", "total_price")
	}
	return map[string]any{
		"type":     "array",
		"minItems": 1,
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description":    nonEmptyProp(),
				"sku":            stringProp(),
				"quantity":       positiveProp(),
				"unit":           stringProp(),
				"unit_price":     nonNegativeProp(),
				"total_price":    moneyProp(),
				"hs_code":        stringProp(),
				"declared_value": moneyProp(),
				"duty_rate":      moneyProp(),
				"duty_amount":    moneyProp(),
			},
			"required": required,
		},
	}
}
