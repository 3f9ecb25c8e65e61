// Package domain contains the membership tier catalog models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UnlimitedRequests is the sentinel for tiers without a monthly request cap.
const UnlimitedRequests = -1

// Tier is a named subscription plan with fixed pricing and entitlements.
// Reference data: the lifecycle manager reads it, only admins write it.
type Tier struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Code        string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	Description string       `json:"description" gorm:"type:text"`

	// Prices are stored in cents to avoid float arithmetic on money.
	MonthlyPriceCents int64 `json:"monthly_price_cents" gorm:"not null"`
	YearlyPriceCents  int64 `json:"yearly_price_cents" gorm:"not null"`

	ServiceRequestsPerMonth int  `json:"service_requests_per_month" gorm:"not null"`
	ResponseTimeHours       int  `json:"response_time_hours" gorm:"not null"`
	MaterialDiscountPercent int  `json:"material_discount_percent" gorm:"not null"`
	AnnualInspections       int  `json:"annual_inspections" gorm:"not null"`
	EmergencyService        bool `json:"emergency_service" gorm:"not null;default:false"`
	PrioritySupport         bool `json:"priority_support" gorm:"not null;default:false"`
	DedicatedManager        bool `json:"dedicated_manager" gorm:"not null;default:false"`

	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Tier) TableName() string { return "membership_tiers" }

// Unlimited reports whether the tier has no monthly service-request cap.
func (t Tier) Unlimited() bool {
	return t.ServiceRequestsPerMonth == UnlimitedRequests
}

// PriceCents returns the price for the given billing cycle.
func (t Tier) PriceCents(yearly bool) int64 {
	if yearly {
		return t.YearlyPriceCents
	}
	return t.MonthlyPriceCents
}
