package domain

import "github.com/shopspring/decimal"

type Vendor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Active bool   `json:"active"`
}

type Material struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku,omitempty"`
	Unit              string          `json:"unit,omitempty"`
	PreferredVendorID string          `json:"preferred_vendor_id,omitempty"`
	OnHand            decimal.Decimal `json:"on_hand"`
}

type MatchMethod string

const (
	MatchExactSKU          MatchMethod = "exact_sku"
	MatchExactName         MatchMethod = "exact_name"
	MatchFuzzySubstring    MatchMethod = "fuzzy_substring"
	MatchPreferredVendor   MatchMethod = "preferred_vendor"
	MatchNoneSuggestCreate MatchMethod = "none_suggest_create"
)

// MatchCandidate links extracted text to an existing vendor or material.
// Suggested candidates are low-confidence fallbacks that need confirmation.
type MatchCandidate struct {
	EntityID   string      `json:"entity_id,omitempty"`
	EntityName string      `json:"entity_name,omitempty"`
	Score      float64     `json:"match_score"`
	Method     MatchMethod `json:"match_method"`
	Suggested  bool        `json:"suggested,omitempty"`
}

func (c MatchCandidate) Matched() bool {
	return c.EntityID != "" && c.Method != MatchNoneSuggestCreate
}
