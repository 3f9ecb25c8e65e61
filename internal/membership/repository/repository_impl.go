package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	"gorm.io/gorm"
)

const membershipColumns = `id, customer_id, tier_id, status, billing_cycle, start_date, end_date,
	 next_billing_date, cancelled_at, auto_renew, service_requests_used, checkout_ref,
	 gateway_transaction_id, replaces_id, metadata, created_at, updated_at`

type repo struct{}

func Provide() membershipdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, membership *membershipdomain.Membership) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO memberships (
			id, customer_id, tier_id, status, billing_cycle, start_date, end_date,
			next_billing_date, cancelled_at, auto_renew, service_requests_used, checkout_ref,
			gateway_transaction_id, replaces_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		membership.ID,
		membership.CustomerID,
		membership.TierID,
		membership.Status,
		membership.BillingCycle,
		membership.StartDate,
		membership.EndDate,
		membership.NextBillingDate,
		membership.CancelledAt,
		membership.AutoRenew,
		membership.ServiceRequestsUsed,
		membership.CheckoutRef,
		membership.GatewayTransactionID,
		membership.ReplacesID,
		membership.Metadata,
		membership.CreatedAt,
		membership.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*membershipdomain.Membership, error) {
	var membership membershipdomain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT `+membershipColumns+`
		 FROM memberships WHERE id = ?`,
		id,
	).Scan(&membership).Error
	if err != nil {
		return nil, err
	}
	if membership.ID == 0 {
		return nil, nil
	}
	return &membership, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*membershipdomain.Membership, error) {
	var membership membershipdomain.Membership
	query := `SELECT ` + membershipColumns + `
		 FROM memberships WHERE id = ?`
	if db.Dialector.Name() != "sqlite" {
		query += ` FOR UPDATE`
	}
	err := db.WithContext(ctx).Raw(query, id).Scan(&membership).Error
	if err != nil {
		return nil, err
	}
	if membership.ID == 0 {
		return nil, nil
	}
	return &membership, nil
}

func (r *repo) FindCurrentByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*membershipdomain.Membership, error) {
	// ACTIVE outranks CANCELLED outranks PENDING, so a plan-change
	// replacement never shadows the membership the customer is still on.
	var membership membershipdomain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT `+membershipColumns+`
		 FROM memberships
		 WHERE customer_id = ? AND status <> ?
		 ORDER BY CASE status
		     WHEN 'ACTIVE' THEN 0
		     WHEN 'CANCELLED' THEN 1
		     ELSE 2
		 END, created_at DESC
		 LIMIT 1`,
		customerID,
		membershipdomain.MembershipStatusExpired,
	).Scan(&membership).Error
	if err != nil {
		return nil, err
	}
	if membership.ID == 0 {
		return nil, nil
	}
	return &membership, nil
}

func (r *repo) FindPendingByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*membershipdomain.Membership, error) {
	var membership membershipdomain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT `+membershipColumns+`
		 FROM memberships
		 WHERE customer_id = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		customerID,
		membershipdomain.MembershipStatusPending,
	).Scan(&membership).Error
	if err != nil {
		return nil, err
	}
	if membership.ID == 0 {
		return nil, nil
	}
	return &membership, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, membership *membershipdomain.Membership, priorStatus membershipdomain.MembershipStatus) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET status = ?, start_date = ?, end_date = ?, next_billing_date = ?, cancelled_at = ?,
		     auto_renew = ?, gateway_transaction_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		membership.Status,
		membership.StartDate,
		membership.EndDate,
		membership.NextBillingDate,
		membership.CancelledAt,
		membership.AutoRenew,
		membership.GatewayTransactionID,
		membership.UpdatedAt,
		membership.ID,
		priorStatus,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) UpdateCheckoutRef(ctx context.Context, db *gorm.DB, id snowflake.ID, checkoutRef string, updatedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE memberships SET checkout_ref = ?, updated_at = ? WHERE id = ? AND status = ?`,
		checkoutRef,
		updatedAt,
		id,
		membershipdomain.MembershipStatusPending,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ExpireDueCancelled(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET status = ?, updated_at = ?
		 WHERE status = ? AND end_date IS NOT NULL AND end_date <= ?`,
		membershipdomain.MembershipStatusExpired,
		now,
		membershipdomain.MembershipStatusCancelled,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ExpireStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE memberships
		 SET status = ?, end_date = ?, updated_at = ?
		 WHERE status = ? AND created_at <= ?`,
		membershipdomain.MembershipStatusExpired,
		now,
		now,
		membershipdomain.MembershipStatusPending,
		cutoff,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
