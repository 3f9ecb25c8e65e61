package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tierdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tier *tierdomain.Tier) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO membership_tiers (
			id, code, name, description, monthly_price_cents, yearly_price_cents,
			service_requests_per_month, response_time_hours, material_discount_percent,
			annual_inspections, emergency_service, priority_support, dedicated_manager,
			active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tier.ID,
		tier.Code,
		tier.Name,
		tier.Description,
		tier.MonthlyPriceCents,
		tier.YearlyPriceCents,
		tier.ServiceRequestsPerMonth,
		tier.ResponseTimeHours,
		tier.MaterialDiscountPercent,
		tier.AnnualInspections,
		tier.EmergencyService,
		tier.PrioritySupport,
		tier.DedicatedManager,
		tier.Active,
		tier.CreatedAt,
		tier.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tier *tierdomain.Tier) error {
	return db.WithContext(ctx).Exec(
		`UPDATE membership_tiers
		 SET name = ?, description = ?, monthly_price_cents = ?, yearly_price_cents = ?,
		     service_requests_per_month = ?, response_time_hours = ?, material_discount_percent = ?,
		     annual_inspections = ?, emergency_service = ?, priority_support = ?,
		     dedicated_manager = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		tier.Name,
		tier.Description,
		tier.MonthlyPriceCents,
		tier.YearlyPriceCents,
		tier.ServiceRequestsPerMonth,
		tier.ResponseTimeHours,
		tier.MaterialDiscountPercent,
		tier.AnnualInspections,
		tier.EmergencyService,
		tier.PrioritySupport,
		tier.DedicatedManager,
		tier.Active,
		tier.UpdatedAt,
		tier.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tierdomain.Tier, error) {
	var tier tierdomain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, description, monthly_price_cents, yearly_price_cents,
		 service_requests_per_month, response_time_hours, material_discount_percent,
		 annual_inspections, emergency_service, priority_support, dedicated_manager,
		 active, created_at, updated_at
		 FROM membership_tiers WHERE id = ?`,
		id,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == 0 {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]tierdomain.Tier, error) {
	var tiers []tierdomain.Tier
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, description, monthly_price_cents, yearly_price_cents,
		 service_requests_per_month, response_time_hours, material_discount_percent,
		 annual_inspections, emergency_service, priority_support, dedicated_manager,
		 active, created_at, updated_at
		 FROM membership_tiers ORDER BY monthly_price_cents ASC`,
	).Scan(&tiers).Error
	if err != nil {
		return nil, err
	}
	return tiers, nil
}
