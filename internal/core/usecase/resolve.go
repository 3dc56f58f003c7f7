package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/matching"
	"github.com/kirillkom/docimport/internal/core/ports"
)

const (
	scoreExact           = 1.0
	scoreExactName       = 0.95
	scoreFuzzyItem       = 0.7
	scoreSuggestedVendor = 0.1
)

type ResolveUseCase struct {
	vendors   ports.VendorRegistry
	materials ports.MaterialRegistry
	strategy  matching.MatchStrategy
	logger    *slog.Logger
}

func NewResolveUseCase(
	vendors ports.VendorRegistry,
	materials ports.MaterialRegistry,
	strategy matching.MatchStrategy,
	logger *slog.Logger,
) *ResolveUseCase {
	if strategy == nil {
		strategy = matching.NewSubstringStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolveUseCase{
		vendors:   vendors,
		materials: materials,
		strategy:  strategy,
		logger:    logger,
	}
}

// ResolveVendor proposes a vendor for an extracted name. An exact name match
// comes first; otherwise the preferred vendor of a matched material wins over
// the fuzzy scan. When nothing matches, the first active vendor is returned
// as a suggestion.
func (uc *ResolveUseCase) ResolveVendor(ctx context.Context, name string, items []domain.LineItem) (domain.MatchCandidate, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		vendor, err := uc.vendors.FindVendorByName(ctx, name)
		if err != nil {
			return domain.MatchCandidate{}, fmt.Errorf("find vendor by name: %w", err)
		}
		if vendor != nil && vendor.Active {
			return domain.MatchCandidate{
				EntityID:   vendor.ID,
				EntityName: vendor.Name,
				Score:      scoreExact,
				Method:     domain.MatchExactName,
			}, nil
		}
	}

	// A material's preferred vendor outranks any fuzzy name score.
	if candidate, ok, err := uc.preferredVendor(ctx, items); err != nil {
		return domain.MatchCandidate{}, err
	} else if ok {
		return candidate, nil
	}

	active, err := uc.vendors.ListActiveVendors(ctx)
	if err != nil {
		return domain.MatchCandidate{}, fmt.Errorf("list active vendors: %w", err)
	}
	if name != "" {
		names := make([]string, len(active))
		for i, v := range active {
			names[i] = v.Name
		}
		if idx, score := matching.Best(uc.strategy, name, names); idx >= 0 {
			return domain.MatchCandidate{
				EntityID:   active[idx].ID,
				EntityName: active[idx].Name,
				Score:      score,
				Method:     domain.MatchFuzzySubstring,
			}, nil
		}
	}
	if len(active) == 0 {
		return domain.MatchCandidate{}, domain.WrapError(domain.ErrNoVendorAvailable, "resolve vendor", fmt.Errorf("no active vendor matches %q", name))
	}
	return domain.MatchCandidate{
		EntityID:   active[0].ID,
		EntityName: active[0].Name,
		Score:      scoreSuggestedVendor,
		Method:     domain.MatchNoneSuggestCreate,
		Suggested:  true,
	}, nil
}

func (uc *ResolveUseCase) preferredVendor(ctx context.Context, items []domain.LineItem) (domain.MatchCandidate, bool, error) {
	if len(items) == 0 {
		return domain.MatchCandidate{}, false, nil
	}
	known, err := uc.materials.ListMaterials(ctx)
	if err != nil {
		return domain.MatchCandidate{}, false, fmt.Errorf("list materials: %w", err)
	}
	for _, item := range items {
		material, _ := uc.matchMaterial(item, known)
		if material == nil || material.PreferredVendorID == "" {
			continue
		}
		vendor, err := uc.vendors.GetVendor(ctx, material.PreferredVendorID)
		if err != nil {
			return domain.MatchCandidate{}, false, fmt.Errorf("get preferred vendor: %w", err)
		}
		if vendor == nil || !vendor.Active {
			continue
		}
		return domain.MatchCandidate{
			EntityID:   vendor.ID,
			EntityName: vendor.Name,
			Score:      scoreExact,
			Method:     domain.MatchPreferredVendor,
		}, true, nil
	}
	return domain.MatchCandidate{}, false, nil
}

// ResolveLineItems returns annotated copies of items. If knownMaterials is nil
// the material registry is listed.
func (uc *ResolveUseCase) ResolveLineItems(ctx context.Context, items []domain.LineItem, knownMaterials []domain.Material) ([]domain.LineItem, error) {
	if knownMaterials == nil {
		listed, err := uc.materials.ListMaterials(ctx)
		if err != nil {
			return nil, fmt.Errorf("list materials: %w", err)
		}
		knownMaterials = listed
	}
	out := make([]domain.LineItem, len(items))
	for i, item := range items {
		material, candidate := uc.matchMaterial(item, knownMaterials)
		score := candidate.Score
		item.MatchMethod = candidate.Method
		item.MatchConfidence = &score
		item.Suggested = material == nil
		item.MatchedEntityID = ""
		if material != nil {
			item.MatchedEntityID = material.ID
		}
		out[i] = item
	}
	return out, nil
}

func (uc *ResolveUseCase) matchMaterial(item domain.LineItem, known []domain.Material) (*domain.Material, domain.MatchCandidate) {
	if sku := strings.TrimSpace(item.SKU); sku != "" {
		for i := range known {
			if known[i].SKU != "" && strings.EqualFold(strings.TrimSpace(known[i].SKU), sku) {
				return &known[i], domain.MatchCandidate{EntityID: known[i].ID, EntityName: known[i].Name, Score: scoreExact, Method: domain.MatchExactSKU}
			}
		}
	}
	name := matching.Normalize(item.Description)
	if name != "" {
		for i := range known {
			if matching.Normalize(known[i].Name) == name {
				return &known[i], domain.MatchCandidate{EntityID: known[i].ID, EntityName: known[i].Name, Score: scoreExactName, Method: domain.MatchExactName}
			}
		}
		names := make([]string, len(known))
		for i := range known {
			names[i] = known[i].Name
		}
		if idx, _ := matching.Best(uc.strategy, item.Description, names); idx >= 0 {
			return &known[idx], domain.MatchCandidate{EntityID: known[idx].ID, EntityName: known[idx].Name, Score: scoreFuzzyItem, Method: domain.MatchFuzzySubstring}
		}
	}
	return nil, domain.MatchCandidate{Method: domain.MatchNoneSuggestCreate}
}

// ResolveExtraction annotates a copy of the extraction. The vendor id is only
// filled for confident matches; suggestions are reported via VendorMatch.
// ErrNoVendorAvailable is returned together with the annotated result.
func (uc *ResolveUseCase) ResolveExtraction(ctx context.Context, result domain.ExtractionResult) (domain.ExtractionResult, error) {
	if result.IsUnknown() {
		return result, nil
	}
	out := result
	out.Payload = result.Payload.Clone()
	out.Warnings = append([]string(nil), result.Warnings...)

	materials, err := uc.materials.ListMaterials(ctx)
	if err != nil {
		return result, fmt.Errorf("list materials: %w", err)
	}

	var vendorName string
	switch p := out.Payload.(type) {
	case *domain.PurchaseOrderPayload:
		if p.LineItems, err = uc.ResolveLineItems(ctx, p.LineItems, materials); err != nil {
			return result, err
		}
		vendorName = p.VendorName
	case *domain.VendorInvoicePayload:
		if p.LineItems, err = uc.ResolveLineItems(ctx, p.LineItems, materials); err != nil {
			return result, err
		}
		vendorName = p.VendorName
	case *domain.CustomsDocumentPayload:
		if p.LineItems, err = uc.ResolveLineItems(ctx, p.LineItems, materials); err != nil {
			return result, err
		}
		return out, nil
	case *domain.FreightInvoicePayload:
		return out, nil
	}

	candidate, err := uc.ResolveVendor(ctx, vendorName, out.Payload.Items())
	if err != nil {
		if errors.Is(err, domain.ErrNoVendorAvailable) {
			out.Warnings = append(out.Warnings, "no vendor available: create one or enable create_vendor")
		}
		return out, err
	}
	out.VendorMatch = &candidate
	if candidate.Suggested {
		out.Warnings = append(out.Warnings, fmt.Sprintf("vendor %q not found; suggested %q needs confirmation", vendorName, candidate.EntityName))
	} else {
		setVendorID(out.Payload, candidate.EntityID)
	}
	uc.logger.Debug("extraction_resolved", "filename", result.SourceFilename, "vendor_method", candidate.Method, "vendor_score", candidate.Score)
	return out, nil
}

func setVendorID(p domain.Payload, id string) {
	switch v := p.(type) {
	case *domain.PurchaseOrderPayload:
		v.VendorID = id
	case *domain.VendorInvoicePayload:
		v.VendorID = id
	}
}
