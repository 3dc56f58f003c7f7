package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/docimport/internal/core/domain"
)

// Registry serves vendor and material lookups for entity resolution.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) FindVendorByName(ctx context.Context, name string) (*domain.Vendor, error) {
	return findVendorByName(ctx, r.db, name)
}

func (r *Registry) ListActiveVendors(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, COALESCE(email, ''), active
FROM vendors
WHERE active
ORDER BY created_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("query active vendors: %w", err)
	}
	defer rows.Close()

	var out []domain.Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *vendor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendors: %w", err)
	}
	return out, nil
}

func (r *Registry) GetVendor(ctx context.Context, id string) (*domain.Vendor, error) {
	return getVendor(ctx, r.db, id)
}

func (r *Registry) FindMaterialByNameOrSku(ctx context.Context, name, sku string) (*domain.Material, error) {
	return findMaterial(ctx, r.db, name, sku)
}

func (r *Registry) ListMaterials(ctx context.Context) ([]domain.Material, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, COALESCE(sku, ''), COALESCE(unit, ''), COALESCE(preferred_vendor_id, ''), on_hand
FROM materials
ORDER BY name, id
`)
	if err != nil {
		return nil, fmt.Errorf("query materials: %w", err)
	}
	defer rows.Close()

	var out []domain.Material
	for rows.Next() {
		material, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *material)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate materials: %w", err)
	}
	return out, nil
}

func findVendorByName(ctx context.Context, q queryer, name string) (*domain.Vendor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	row := q.QueryRowContext(ctx, `
SELECT id, name, COALESCE(email, ''), active
FROM vendors
WHERE lower(name) = lower($1)
ORDER BY active DESC, created_at
LIMIT 1
`, name)
	return scanOptionalVendor(row)
}

func getVendor(ctx context.Context, q queryer, id string) (*domain.Vendor, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, name, COALESCE(email, ''), active
FROM vendors
WHERE id = $1
`, id)
	return scanOptionalVendor(row)
}

func findMaterial(ctx context.Context, q queryer, name, sku string) (*domain.Material, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, name, COALESCE(sku, ''), COALESCE(unit, ''), COALESCE(preferred_vendor_id, ''), on_hand
FROM materials
WHERE ($2 <> '' AND lower(sku) = lower($2)) OR lower(name) = lower($1)
ORDER BY ($2 <> '' AND lower(sku) = lower($2)) DESC, id
LIMIT 1
`, strings.TrimSpace(name), strings.TrimSpace(sku))
	material, err := scanMaterial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return material, nil
}

func scanOptionalVendor(row rowScanner) (*domain.Vendor, error) {
	vendor, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return vendor, err
}

func scanVendor(row rowScanner) (*domain.Vendor, error) {
	var vendor domain.Vendor
	if err := row.Scan(&vendor.ID, &vendor.Name, &vendor.Email, &vendor.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan vendor: %w", err)
	}
	return &vendor, nil
}

func scanMaterial(row rowScanner) (*domain.Material, error) {
	var material domain.Material
	var onHand decimal.Decimal
	if err := row.Scan(&material.ID, &material.Name, &material.SKU, &material.Unit, &material.PreferredVendorID, &onHand); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan material: %w", err)
	}
	material.OnHand = onHand
	return &material, nil
}
