package custcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// CustomerContextKey is the request context key for the authenticated customer ID.
type CustomerContextKey struct{}

// WithCustomerID stores the customer ID in the context.
func WithCustomerID(ctx context.Context, customerID int64) context.Context {
	return context.WithValue(ctx, CustomerContextKey{}, customerID)
}

// CustomerIDFromContext returns the customer ID from context, if set.
func CustomerIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(CustomerContextKey{})
	if value == nil {
		return 0, false
	}

	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
