// Package seed loads catalogue fixtures (inventory, rate cards and customer
// profiles) from YAML into a store. It backs the in-memory driver and local
// development databases.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"fulfillment-engine/internal/domain"
	"fulfillment-engine/internal/logger"
	"fulfillment-engine/internal/repository"

	"gopkg.in/yaml.v3"
)

type Item struct {
	ID       string          `yaml:"id"`
	Kind     domain.ItemKind `yaml:"kind"`
	SKU      string          `yaml:"sku"`
	Category string          `yaml:"category"`
	Serial   string          `yaml:"serial"`
	Total    int32           `yaml:"total"`
}

type Rate struct {
	SKU          string              `yaml:"sku"`
	Category     string              `yaml:"category"`
	DurationUnit domain.DurationUnit `yaml:"duration_unit"`
	Daily        int64               `yaml:"daily"`
	Weekly       int64               `yaml:"weekly"`
	Monthly      int64               `yaml:"monthly"`
	UnitPrice    int64               `yaml:"unit_price"`
	Deposit      int64               `yaml:"deposit"`
	TaxRateBps   int32               `yaml:"tax_rate_bps"`
}

type Customer struct {
	SubjectID      string `yaml:"subject_id"`
	AgeDays        int    `yaml:"age_days"`
	Verified       bool   `yaml:"verified"`
	PriorViolation bool   `yaml:"prior_violation"`
	HighRisk       bool   `yaml:"high_risk"`
	Blacklisted    bool   `yaml:"blacklisted"`
}

type File struct {
	Items     []Item     `yaml:"items"`
	Rates     []Rate     `yaml:"rates"`
	Customers []Customer `yaml:"customers"`
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for _, it := range f.Items {
		if it.ID == "" || it.SKU == "" {
			return nil, fmt.Errorf("seed item requires id and sku")
		}
		if it.Total < 0 {
			return nil, fmt.Errorf("seed item %s has negative total", it.ID)
		}
	}
	return &f, nil
}

// Apply writes the fixtures into store. Customer ages are relative to now.
func (f *File) Apply(ctx context.Context, store repository.Store, now time.Time) error {
	logger.EnterMethod("seed.Apply", "items", len(f.Items), "rates", len(f.Rates), "customers", len(f.Customers))

	return store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, it := range f.Items {
			kind := it.Kind
			if kind == "" {
				kind = domain.ItemKindSKU
			}
			item := &domain.InventoryItem{
				ID:             it.ID,
				Kind:           kind,
				SKU:            it.SKU,
				Category:       it.Category,
				Serial:         it.Serial,
				TotalCount:     it.Total,
				AvailableCount: it.Total,
				UpdatedAt:      now,
			}
			item.RefreshStatus()
			if err := tx.Inventory().CreateItem(ctx, item); err != nil {
				logger.ExitMethodWithError("seed.Apply", err, "item", it.ID)
				return err
			}
		}
		for _, r := range f.Rates {
			unit := r.DurationUnit
			if unit == "" {
				unit = domain.DurationUnitDay
			}
			if err := tx.Rates().Upsert(ctx, &domain.RateCard{
				SKU:          r.SKU,
				Category:     r.Category,
				DurationUnit: unit,
				Daily:        r.Daily,
				Weekly:       r.Weekly,
				Monthly:      r.Monthly,
				UnitPrice:    r.UnitPrice,
				Deposit:      r.Deposit,
				TaxRateBps:   r.TaxRateBps,
				Active:       true,
			}); err != nil {
				logger.ExitMethodWithError("seed.Apply", err, "sku", r.SKU)
				return err
			}
		}
		for _, c := range f.Customers {
			if err := tx.Customers().UpsertProfile(ctx, &domain.CustomerProfile{
				SubjectID:      c.SubjectID,
				CreatedAt:      now.AddDate(0, 0, -c.AgeDays),
				Verified:       c.Verified,
				PriorViolation: c.PriorViolation,
				HighRisk:       c.HighRisk,
				Blacklisted:    c.Blacklisted,
			}); err != nil {
				logger.ExitMethodWithError("seed.Apply", err, "subject", c.SubjectID)
				return err
			}
		}
		logger.ExitMethod("seed.Apply")
		return nil
	})
}
