package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, membership *Membership) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Membership, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Membership, error)

	// FindCurrentByCustomerID returns the customer's latest non-EXPIRED
	// membership, or nil.
	FindCurrentByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*Membership, error)
	FindPendingByCustomerID(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*Membership, error)

	// UpdateLifecycle persists a status transition guarded by the status the
	// row held when it was read. Zero rows affected means a concurrent writer
	// won the race.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, membership *Membership, priorStatus MembershipStatus) (int64, error)
	// UpdateCheckoutRef re-stamps the checkout reference on a row that is
	// still PENDING. Zero rows affected means the payment already settled.
	UpdateCheckoutRef(ctx context.Context, db *gorm.DB, id snowflake.ID, checkoutRef string, updatedAt time.Time) (int64, error)

	ExpireDueCancelled(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	ExpireStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, now time.Time) (int64, error)
}

func normalizeUpper(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
