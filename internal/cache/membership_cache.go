package cache

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/config"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
)

// MembershipCache is a read-through cache for the my-membership lookup,
// keyed by customer ID. Every lifecycle mutation must call Invalidate so a
// stale row never outlives the configured TTL on the customer's own reads.
type MembershipCache interface {
	Get(customerID snowflake.ID) (membershipdomain.Membership, bool)
	Set(customerID snowflake.ID, membership membershipdomain.Membership)
	Invalidate(customerID snowflake.ID)
}

type membershipCache struct {
	entries Cache[snowflake.ID, membershipdomain.Membership]
	holder  *config.MembershipConfigHolder
}

// NewMembershipCache returns an in-memory cache whose TTL tracks the
// hot-reloadable membership config.
func NewMembershipCache(holder *config.MembershipConfigHolder) MembershipCache {
	return &membershipCache{
		entries: NewTTLCache[snowflake.ID, membershipdomain.Membership](),
		holder:  holder,
	}
}

func (c *membershipCache) Get(customerID snowflake.ID) (membershipdomain.Membership, bool) {
	return c.entries.Get(customerID)
}

func (c *membershipCache) Set(customerID snowflake.ID, membership membershipdomain.Membership) {
	if membership.ID == 0 {
		return
	}
	c.entries.Set(customerID, membership, c.holder.Get().CacheTTL())
}

func (c *membershipCache) Invalidate(customerID snowflake.ID) {
	c.entries.Delete(customerID)
}
