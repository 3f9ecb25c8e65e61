// Package seed bootstraps reference data so a fresh install is usable
// without manual catalog setup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	"gorm.io/gorm"
)

// EnsureDefaultTiers seeds the three standard plans when the catalog is
// empty. Existing codes are left untouched so admin edits survive restarts.
func EnsureDefaultTiers(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tier := range defaultTiers() {
			var count int64
			if err := tx.WithContext(ctx).
				Model(&tierdomain.Tier{}).
				Where("code = ?", tier.Code).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			now := time.Now().UTC()
			tier.ID = node.Generate()
			tier.Active = true
			tier.CreatedAt = now
			tier.UpdatedAt = now
			if err := tx.WithContext(ctx).Create(&tier).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func defaultTiers() []tierdomain.Tier {
	return []tierdomain.Tier{
		{
			Code:                    "HDB",
			Name:                    "HDB Essential",
			Description:             "Essential coverage for HDB flats",
			MonthlyPriceCents:       2900,
			YearlyPriceCents:        29900,
			ServiceRequestsPerMonth: 2,
			ResponseTimeHours:       48,
			MaterialDiscountPercent: 5,
			AnnualInspections:       1,
		},
		{
			Code:                    "CONDO",
			Name:                    "Condo Plus",
			Description:             "Extended coverage for condominiums",
			MonthlyPriceCents:       5900,
			YearlyPriceCents:        59900,
			ServiceRequestsPerMonth: 5,
			ResponseTimeHours:       24,
			MaterialDiscountPercent: 10,
			AnnualInspections:       2,
			EmergencyService:        true,
			PrioritySupport:         true,
		},
		{
			Code:                    "LANDED",
			Name:                    "Landed Premier",
			Description:             "Full coverage for landed property",
			MonthlyPriceCents:       9900,
			YearlyPriceCents:        99900,
			ServiceRequestsPerMonth: tierdomain.UnlimitedRequests,
			ResponseTimeHours:       4,
			MaterialDiscountPercent: 15,
			AnnualInspections:       4,
			EmergencyService:        true,
			PrioritySupport:         true,
			DedicatedManager:        true,
		},
	}
}
