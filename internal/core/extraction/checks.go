package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
)

var tolerance = decimal.New(1, -2)

// LineItemWarnings flags lines whose quantity times unit price disagrees with
// the stated total. Stored totals are never rewritten.
func LineItemWarnings(items []domain.LineItem) []string {
	var warnings []string
	for i, it := range items {
		if it.UnitPrice.IsZero() && it.TotalPrice.IsZero() {
			continue
		}
		expected := it.Quantity.Mul(it.UnitPrice)
		if expected.Sub(it.TotalPrice).Abs().GreaterThan(tolerance) {
			warnings = append(warnings, fmt.Sprintf(
				"line %d (%s): quantity %s x unit price %s = %s, stated total %s",
				i+1, it.Description, it.Quantity, it.UnitPrice.StringFixed(2),
				expected.StringFixed(2), it.TotalPrice.StringFixed(2)))
		}
	}
	return warnings
}

// TotalsWarnings compares header amounts with the sum of their parts.
func TotalsWarnings(p domain.Payload) []string {
	var warnings []string
	mismatch := func(label string, stated, computed decimal.Decimal) {
		if stated.Sub(computed).Abs().GreaterThan(tolerance) {
			warnings = append(warnings, fmt.Sprintf("%s %s does not match computed %s",
				label, stated.StringFixed(2), computed.StringFixed(2)))
		}
	}

	switch v := p.(type) {
	case *domain.PurchaseOrderPayload:
		lines := sumLines(v.LineItems)
		if !v.Subtotal.IsZero() {
			mismatch("subtotal", v.Subtotal, lines)
		} else {
			mismatch("total", v.TotalAmount, lines)
		}
	case *domain.VendorInvoicePayload:
		lines := sumLines(v.LineItems)
		base := lines
		if !v.Subtotal.IsZero() {
			mismatch("subtotal", v.Subtotal, lines)
			base = v.Subtotal
		}
		mismatch("total", v.TotalAmount, base.Add(deref(v.TaxAmount)).Add(deref(v.ShippingAmount)))
	case *domain.FreightInvoicePayload:
		computed := v.FreightCharges.Add(deref(v.FuelSurcharge)).Add(deref(v.AccessorialCharges))
		mismatch("total", v.TotalAmount, computed)
	case *domain.CustomsDocumentPayload:
		sum := decimal.Zero
		for _, it := range v.LineItems {
			if it.DeclaredValue == nil {
				return nil
			}
			sum = sum.Add(*it.DeclaredValue)
		}
		mismatch("total declared value", v.TotalDeclaredValue, sum)
	}
	return warnings
}

// CheckRequired rechecks a typed payload before it is committed. Payloads may
// have been edited by a reviewer after classification.
func CheckRequired(p domain.Payload) error {
	if p == nil {
		return domain.NewDocumentError(domain.ErrValidation, "", domain.DocumentUnknown, "payload", fmt.Errorf("unknown documents cannot be imported"))
	}
	t := p.DocumentType()
	missing := func(field string) error {
		return domain.NewDocumentError(domain.ErrValidation, "", t, field, fmt.Errorf("required field is empty"))
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch v := p.(type) {
	case *domain.PurchaseOrderPayload:
		switch {
		case blank(v.VendorName):
			return missing("vendor_name")
		case blank(v.OrderDate):
			return missing("order_date")
		case len(v.LineItems) == 0:
			return missing("line_items")
		}
		return checkItems(t, v.LineItems)
	case *domain.VendorInvoicePayload:
		switch {
		case blank(v.VendorName):
			return missing("vendor_name")
		case blank(v.InvoiceDate):
			return missing("invoice_date")
		case len(v.LineItems) == 0:
			return missing("line_items")
		}
		return checkItems(t, v.LineItems)
	case *domain.FreightInvoicePayload:
		switch {
		case blank(v.CarrierName):
			return missing("carrier_name")
		case blank(v.InvoiceDate):
			return missing("invoice_date")
		}
	case *domain.CustomsDocumentPayload:
		switch {
		case blank(string(v.Kind)):
			return missing("customs_type")
		case blank(v.Shipper.Name):
			return missing("shipper.name")
		case blank(v.Consignee.Name):
			return missing("consignee.name")
		case len(v.LineItems) == 0:
			return missing("line_items")
		}
		return checkItems(t, v.LineItems)
	}
	return nil
}

// checkItems holds every line to a description, a positive quantity and a
// unit price that is not negative.
func checkItems(t domain.DocumentType, items []domain.LineItem) error {
	invalid := func(i int, field, reason string) error {
		return domain.NewDocumentError(domain.ErrValidation, "", t,
			fmt.Sprintf("line_items.%d.%s", i, field), errors.New(reason))
	}
	for i, it := range items {
		switch {
		case strings.TrimSpace(it.Description) == "":
			return invalid(i, "description", "required field is empty")
		case it.Quantity.LessThanOrEqual(decimal.Zero):
			return invalid(i, "quantity", fmt.Sprintf("quantity %s must be greater than zero", it.Quantity))
		case it.UnitPrice.IsNegative():
			return invalid(i, "unit_price", fmt.Sprintf("unit price %s must not be negative", it.UnitPrice))
		}
	}
	return nil
}

func sumLines(items []domain.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.TotalPrice)
	}
	return sum
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
