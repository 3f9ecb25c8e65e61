package domain

import (
	"context"
	"errors"
)

type CreateTierRequest struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`

	MonthlyPriceCents int64 `json:"monthly_price_cents"`
	YearlyPriceCents  int64 `json:"yearly_price_cents"`

	ServiceRequestsPerMonth int  `json:"service_requests_per_month"`
	ResponseTimeHours       int  `json:"response_time_hours"`
	MaterialDiscountPercent int  `json:"material_discount_percent"`
	AnnualInspections       int  `json:"annual_inspections"`
	EmergencyService        bool `json:"emergency_service"`
	PrioritySupport         bool `json:"priority_support"`
	DedicatedManager        bool `json:"dedicated_manager"`
}

type UpdateTierRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`

	MonthlyPriceCents *int64 `json:"monthly_price_cents,omitempty"`
	YearlyPriceCents  *int64 `json:"yearly_price_cents,omitempty"`

	ServiceRequestsPerMonth *int  `json:"service_requests_per_month,omitempty"`
	ResponseTimeHours       *int  `json:"response_time_hours,omitempty"`
	MaterialDiscountPercent *int  `json:"material_discount_percent,omitempty"`
	AnnualInspections       *int  `json:"annual_inspections,omitempty"`
	EmergencyService        *bool `json:"emergency_service,omitempty"`
	PrioritySupport         *bool `json:"priority_support,omitempty"`
	DedicatedManager        *bool `json:"dedicated_manager,omitempty"`
	Active                  *bool `json:"active,omitempty"`
}

type Service interface {
	List(ctx context.Context) ([]Tier, error)
	GetByID(ctx context.Context, id string) (Tier, error)
	Create(ctx context.Context, req CreateTierRequest) (Tier, error)
	Update(ctx context.Context, id string, req UpdateTierRequest) (Tier, error)
}

var (
	ErrTierNotFound    = errors.New("tier_not_found")
	ErrInvalidTier     = errors.New("invalid_tier")
	ErrInvalidCode     = errors.New("invalid_tier_code")
	ErrInvalidPrice    = errors.New("invalid_tier_price")
	ErrInvalidDiscount = errors.New("invalid_material_discount")
	ErrDuplicateCode   = errors.New("duplicate_tier_code")
)
