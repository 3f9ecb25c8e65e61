// Package domain defines the payment gateway collaborator boundary: redirect
// checkout creation and webhook confirmation events.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the idempotency ledger for inbound gateway events. The
// gateway delivers at-least-once; a unique provider event ID dedupes replays.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:idx_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	MembershipID    snowflake.ID   `json:"membership_id" gorm:"not null;index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentEvent is the canonical event parsed from a gateway webhook.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	TransactionID   string
	Type            string
	MembershipID    snowflake.ID
	Amount          int64
	Currency        string
	OccurredAt      time.Time
	RawPayload      []byte
}

// CheckoutRequest describes the redirect checkout to create at the gateway.
type CheckoutRequest struct {
	MembershipID snowflake.ID
	CustomerID   snowflake.ID
	Description  string
	AmountCents  int64
	Currency     string
	SuccessURL   string
	CancelURL    string
}

// CheckoutSession is the gateway's answer: where to send the customer.
type CheckoutSession struct {
	Reference   string
	RedirectURL string
}

// Gateway is the external payment collaborator. Two concerns only: create a
// redirect checkout, and verify/parse the confirmation webhook.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error
	ParseWebhook(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

// GatewayFactory builds a provider-specific Gateway from config.
type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

// GatewayConfig carries provider credentials and redirect endpoints.
type GatewayConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Repository interface {
	// InsertEvent stores the record, returning false if the provider event ID
	// was already seen.
	InsertEvent(ctx context.Context, record *EventRecord) (bool, error)
	FindEvent(ctx context.Context, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, id snowflake.ID, at time.Time) error
}

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_gateway_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrGatewayUnavailable    = errors.New("payment_gateway_unavailable")
)
