package extraction

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
)

var synonyms = map[domain.DocumentType]map[string]string{
	domain.DocumentPurchaseOrder: {
		"po":             "po_number",
		"po_no":          "po_number",
		"order_number":   "po_number",
		"vendor":         "vendor_name",
		"supplier":       "vendor_name",
		"supplier_name":  "vendor_name",
		"date":           "order_date",
		"items":          "line_items",
		"total":          "total_amount",
		"expected_date":  "delivery_date",
		"email":          "vendor_email",
		"supplier_email": "vendor_email",
	},
	domain.DocumentVendorInvoice: {
		"invoice_no":    "invoice_number",
		"vendor":        "vendor_name",
		"supplier":      "vendor_name",
		"supplier_name": "vendor_name",
		"date":          "invoice_date",
		"items":         "line_items",
		"total":         "total_amount",
		"tax":           "tax_amount",
		"shipping":      "shipping_amount",
		"po_number":     "related_po_number",
		"terms":         "payment_terms",
	},
	domain.DocumentFreightInvoice: {
		"invoice_no":  "invoice_number",
		"carrier":     "carrier_name",
		"date":        "invoice_date",
		"pro_number":  "tracking_number",
		"total":       "total_amount",
		"freight":     "freight_charges",
		"fuel":        "fuel_surcharge",
		"po_number":   "related_po_number",
		"accessorial": "accessorial_charges",
	},
	domain.DocumentCustomsDocument: {
		"type":           "customs_type",
		"document_type":  "customs_type",
		"entry_number":   "document_number",
		"items":          "line_items",
		"declared_value": "total_declared_value",
		"duty":           "total_duty",
		"po_number":      "related_po_number",
		"broker_info":    "broker",
		"origin_country": "country_of_origin",
	},
}

var moneyFields = map[domain.DocumentType][]string{
	domain.DocumentPurchaseOrder:   {"subtotal", "total_amount"},
	domain.DocumentVendorInvoice:   {"subtotal", "tax_amount", "shipping_amount", "total_amount"},
	domain.DocumentFreightInvoice:  {"freight_charges", "fuel_surcharge", "accessorial_charges", "total_amount"},
	domain.DocumentCustomsDocument: {"total_declared_value", "total_duty"},
}

var dateFields = []string{"order_date", "delivery_date", "invoice_date", "due_date", "ship_date"}

var itemNumberFields = []string{"quantity", "unit_price", "total_price", "declared_value", "duty_rate", "duty_amount"}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	time.RFC3339,
}

// Sanitize normalizes model output for the given type so that it can be
// validated strictly. It renames synonyms, coerces stringified numbers and
// dates, drops nulls and unknown keys. Notes describe every change.
func Sanitize(t domain.DocumentType, raw json.RawMessage, logger *slog.Logger) (map[string]any, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := decodeObject(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var notes []string
	for from, to := range synonyms[t] {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		notes = append(notes, from+"->"+to)
	}

	for k, v := range maps.Clone(m) {
		switch tv := v.(type) {
		case nil:
			delete(m, k)
			notes = append(notes, k+"(null)")
		case string:
			s := strings.TrimSpace(tv)
			if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
				delete(m, k)
				notes = append(notes, k+"(empty)")
				continue
			}
			m[k] = s
		}
	}

	for _, k := range moneyFields[t] {
		if v, ok := m[k]; ok {
			n, ok := coerceNumber(v)
			if !ok {
				notes = append(notes, k+"(not a number)")
				continue
			}
			m[k] = n
		}
	}

	for _, k := range dateFields {
		s, ok := m[k].(string)
		if !ok {
			continue
		}
		if d, ok := normalizeDate(s); ok {
			m[k] = d
		} else {
			notes = append(notes, k+"(unparsed date)")
		}
	}

	if items, ok := m["line_items"].([]any); ok {
		m["line_items"] = sanitizeItems(items)
	}

	if t == domain.DocumentCustomsDocument {
		sanitizeCustoms(m, &notes)
	}

	if schema := Schema(t); schema != nil {
		props, _ := schema["properties"].(map[string]any)
		for k := range maps.Clone(m) {
			if _, ok := props[k]; !ok {
				delete(m, k)
				notes = append(notes, k+"(unknown)")
			}
		}
	}

	if len(notes) > 0 {
		logger.Debug("extraction_sanitized", "document_type", t, "notes", notes)
	}
	return m, notes, nil
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("expected JSON object")
	}
	return m, nil
}

func sanitizeItems(items []any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			out = append(out, it)
			continue
		}
		for k, v := range maps.Clone(obj) {
			switch tv := v.(type) {
			case nil:
				delete(obj, k)
			case string:
				s := strings.TrimSpace(tv)
				if s == "" {
					delete(obj, k)
					continue
				}
				obj[k] = s
			}
		}
		if _, ok := obj["description"]; !ok {
			if name, ok := obj["name"]; ok {
				obj["description"] = name
				delete(obj, "name")
			}
		}
		for _, k := range itemNumberFields {
			if v, ok := obj[k]; ok {
				if n, ok := coerceNumber(v); ok {
					obj[k] = n
				}
			}
		}
		out = append(out, obj)
	}
	return out
}

func sanitizeCustoms(m map[string]any, notes *[]string) {
	if s, ok := m["customs_type"].(string); ok {
		kind := domain.CustomsKind(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(s)))
		known := false
		for _, k := range domain.CustomsKinds() {
			if k == kind {
				known = true
				break
			}
		}
		if !known {
			*notes = append(*notes, "customs_type("+s+"->other)")
			kind = domain.CustomsOther
		}
		m["customs_type"] = string(kind)
	}
	for _, k := range []string{"shipper", "consignee"} {
		if s, ok := m[k].(string); ok {
			m[k] = map[string]any{"name": s}
			*notes = append(*notes, k+"(string->party)")
		}
	}
	if s, ok := m["broker"].(string); ok {
		m["broker"] = map[string]any{"name": s}
	}
}

// coerceNumber accepts JSON numbers and strings like "$1,234.50", "12" or
// "(40.00)". Comma decimal separators are not supported.
func coerceNumber(v any) (json.Number, bool) {
	switch tv := v.(type) {
	case json.Number:
		return tv, true
	case float64:
		return json.Number(decimal.NewFromFloat(tv).String()), true
	case string:
		s := strings.TrimSpace(tv)
		negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
		s = strings.Trim(s, "()")
		s = strings.Map(func(r rune) rune {
			switch r {
			case '$', '€', '£', '¥', ',', ' ':
				return -1
			}
			return r
		}, s)
		s = strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(s), "USD"), "EUR")
		d, err := decimal.NewFromString(s)
		if err != nil {
			return "", false
		}
		if negative {
			d = d.Neg()
		}
		return json.Number(d.String()), true
	default:
		return "", false
	}
}

func normalizeDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d.Format("2006-01-02"), true
		}
	}
	return "", false
}
