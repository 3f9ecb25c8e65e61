// Package domain contains persistence models and lifecycle rules for memberships.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MembershipStatus represents lifecycle states for a membership.
type MembershipStatus string

const (
	MembershipStatusPending   MembershipStatus = "PENDING"
	MembershipStatusActive    MembershipStatus = "ACTIVE"
	MembershipStatusCancelled MembershipStatus = "CANCELLED"
	MembershipStatusExpired   MembershipStatus = "EXPIRED"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "MONTHLY"
	BillingCycleYearly  BillingCycle = "YEARLY"
)

// Next returns the end of the billing period that starts at from.
func (c BillingCycle) Next(from time.Time) time.Time {
	if c == BillingCycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// Membership captures a customer's subscription to a tier. Records are never
// deleted, only transitioned; history stays behind for billing and audit.
type Membership struct {
	ID         snowflake.ID     `json:"id" gorm:"primaryKey"`
	CustomerID snowflake.ID     `json:"customer_id" gorm:"not null;index"`
	TierID     snowflake.ID     `json:"tier_id" gorm:"not null;index"`
	Status     MembershipStatus `json:"status" gorm:"type:text;not null;index"`

	BillingCycle    BillingCycle `json:"billing_cycle" gorm:"type:text;not null"`
	StartDate       time.Time    `json:"start_date" gorm:"not null"`
	EndDate         *time.Time   `json:"end_date"`
	NextBillingDate *time.Time   `json:"next_billing_date"`
	CancelledAt     *time.Time   `json:"cancelled_at"`
	AutoRenew       bool         `json:"auto_renew" gorm:"not null;default:false"`

	ServiceRequestsUsed int `json:"service_requests_used" gorm:"not null;default:0"`

	// CheckoutRef is the latest gateway checkout reference issued for this
	// membership. Re-issued on every payment retry.
	CheckoutRef string `json:"-" gorm:"type:text"`

	// GatewayTransactionID is set exactly once, by the confirmation that
	// activated the membership. Duplicate webhook deliveries compare against it.
	GatewayTransactionID *string `json:"-" gorm:"type:text"`

	// ReplacesID links a plan-change replacement to the membership it
	// supersedes. The old membership expires when this one activates.
	ReplacesID *snowflake.ID `json:"replaces_id,omitempty" gorm:"index"`

	Metadata  datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

// EffectiveStatus is the access-relevant status computed from stored state at
// read time. A CANCELLED membership past its end date reads as EXPIRED even if
// no sweep has flipped the stored column yet.
type EffectiveStatus struct {
	Status          MembershipStatus `json:"status"`
	HasActiveAccess bool             `json:"has_active_access"`
}

// Effective computes the membership's effective status at the given instant.
// Pure function of (status, endDate, now); callers gating access must use this,
// never the stored status column directly.
func (m Membership) Effective(now time.Time) EffectiveStatus {
	switch m.Status {
	case MembershipStatusActive:
		return EffectiveStatus{Status: MembershipStatusActive, HasActiveAccess: true}
	case MembershipStatusCancelled:
		if m.EndDate != nil && m.EndDate.After(now) {
			return EffectiveStatus{Status: MembershipStatusCancelled, HasActiveAccess: true}
		}
		return EffectiveStatus{Status: MembershipStatusExpired, HasActiveAccess: false}
	case MembershipStatusExpired:
		return EffectiveStatus{Status: MembershipStatusExpired, HasActiveAccess: false}
	default:
		return EffectiveStatus{Status: m.Status, HasActiveAccess: false}
	}
}

// InGracePeriod reports whether the membership is cancelled but still inside
// its paid-through window.
func (m Membership) InGracePeriod(now time.Time) bool {
	return m.Status == MembershipStatusCancelled && m.EndDate != nil && m.EndDate.After(now)
}

// transitions enumerates the legal status moves. EXPIRED is terminal.
var transitions = map[MembershipStatus][]MembershipStatus{
	MembershipStatusPending:   {MembershipStatusActive, MembershipStatusExpired},
	MembershipStatusActive:    {MembershipStatusCancelled, MembershipStatusExpired},
	MembershipStatusCancelled: {MembershipStatusExpired},
	MembershipStatusExpired:   {},
}

// TransitionAllowed reports whether current may move to target.
func TransitionAllowed(current, target MembershipStatus) bool {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}
