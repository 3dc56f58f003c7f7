package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docimport/internal/core/domain"
)

type seedFile struct {
	Vendors []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Email    string `yaml:"email"`
		Inactive bool   `yaml:"inactive"`
	} `yaml:"vendors"`
	Materials []struct {
		ID              string `yaml:"id"`
		Name            string `yaml:"name"`
		SKU             string `yaml:"sku"`
		Unit            string `yaml:"unit"`
		PreferredVendor string `yaml:"preferred_vendor"`
		OnHand          string `yaml:"on_hand"`
	} `yaml:"materials"`
}

type seedWriter interface {
	PutVendor(ctx context.Context, vendor domain.Vendor) error
	PutMaterial(ctx context.Context, material domain.Material) error
}

func loadSeed(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// apply upserts seed rows. Rows without an id get a fresh one, so reapplying
// such a file adds duplicates.
func (s *seedFile) apply(ctx context.Context, store seedWriter) error {
	for _, v := range s.Vendors {
		vendor := domain.Vendor{ID: orNewID(v.ID), Name: v.Name, Email: v.Email, Active: !v.Inactive}
		if err := store.PutVendor(ctx, vendor); err != nil {
			return fmt.Errorf("seed vendor %q: %w", v.Name, err)
		}
	}
	for _, m := range s.Materials {
		onHand := decimal.Zero
		if m.OnHand != "" {
			parsed, err := decimal.NewFromString(m.OnHand)
			if err != nil {
				return fmt.Errorf("seed material %q on_hand: %w", m.Name, err)
			}
			onHand = parsed
		}
		material := domain.Material{
			ID:                orNewID(m.ID),
			Name:              m.Name,
			SKU:               m.SKU,
			Unit:              m.Unit,
			PreferredVendorID: m.PreferredVendor,
			OnHand:            onHand,
		}
		if err := store.PutMaterial(ctx, material); err != nil {
			return fmt.Errorf("seed material %q: %w", m.Name, err)
		}
	}
	return nil
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
