package domain

import (
	"context"
	"errors"
	"time"
)

type SubscribeRequest struct {
	TierID       string `json:"tier_id"`
	BillingCycle string `json:"billing_cycle"`
}

type SubscribeResponse struct {
	Membership Membership `json:"membership"`
	PaymentURL string     `json:"payment_url"`
}

type ConfirmPaymentRequest struct {
	MembershipID  string
	TransactionID string
}

type RetryPaymentResponse struct {
	PaymentURL string `json:"payment_url"`
}

type CancelRequest struct {
	Immediate bool `json:"immediate"`
}

type ChangePlanRequest struct {
	NewTierID    string `json:"new_tier_id"`
	BillingCycle string `json:"billing_cycle"`
}

// UsageAnalytics summarises the current period for the my-membership view.
// Aggregation beyond the stored counter is owned by an external collaborator.
type UsageAnalytics struct {
	ServiceRequestsUsed      int  `json:"service_requests_used"`
	ServiceRequestsRemaining *int `json:"service_requests_remaining,omitempty"`
	DaysUntilRenewal         *int `json:"days_until_renewal,omitempty"`
}

type MembershipView struct {
	Membership Membership      `json:"membership"`
	Effective  EffectiveStatus `json:"effective"`
	Analytics  UsageAnalytics  `json:"analytics"`
}

type Service interface {
	// Subscribe creates a PENDING membership and returns the gateway redirect
	// URL. No access is granted until the payment confirms.
	Subscribe(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error)

	// ConfirmPayment activates a PENDING membership. Idempotent on the
	// (membership, transaction) pair: replaying a confirmation returns the
	// already-activated membership unchanged.
	ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (Membership, error)

	// RetryPayment issues a fresh redirect URL for the customer's PENDING
	// membership without creating a second record.
	RetryPayment(ctx context.Context) (RetryPaymentResponse, error)

	Cancel(ctx context.Context, req CancelRequest) (Membership, error)

	// ChangePlan creates a PENDING replacement for the customer's ACTIVE
	// membership. The old membership expires only when the replacement's
	// payment confirms, inside the same transaction.
	ChangePlan(ctx context.Context, req ChangePlanRequest) (SubscribeResponse, error)

	// GetMyMembership returns the customer's current membership with its
	// effective status recomputed at read time.
	GetMyMembership(ctx context.Context) (MembershipView, error)

	// ExpireDue flips CANCELLED memberships whose end date has passed to
	// EXPIRED. Eager optimization only; access checks never depend on it.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// ExpireStalePending expires PENDING memberships abandoned before cutoff.
	ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidMembership   = errors.New("invalid_membership")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
	ErrMembershipNotFound  = errors.New("membership_not_found")
	ErrAlreadySubscribed   = errors.New("already_subscribed")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrNotPending          = errors.New("membership_not_pending")
	ErrNotActive           = errors.New("membership_not_active")
	ErrConflict            = errors.New("membership_conflict")
)

// ParseBillingCycle normalizes the wire value into a BillingCycle.
func ParseBillingCycle(value string) (BillingCycle, error) {
	switch BillingCycle(normalizeUpper(value)) {
	case BillingCycleMonthly:
		return BillingCycleMonthly, nil
	case BillingCycleYearly:
		return BillingCycleYearly, nil
	default:
		return "", ErrInvalidBillingCycle
	}
}
