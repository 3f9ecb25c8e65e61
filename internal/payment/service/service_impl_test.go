package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	"github.com/smallbiznis/homecare/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/smallbiznis/homecare/internal/payment/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manual Mocks

type scriptedFactory struct {
	gateway *scriptedGateway
}

func (f *scriptedFactory) Provider() string { return "stripe" }

func (f *scriptedFactory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	return f.gateway, nil
}

// scriptedGateway parses webhook payloads of the shape
// {"event_id":..,"type":..,"membership_id":..,"transaction_id":..}.
type scriptedGateway struct {
	verifyErr error
}

func (g *scriptedGateway) CreateCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (paymentdomain.CheckoutSession, error) {
	return paymentdomain.CheckoutSession{Reference: "cs_test", RedirectURL: "https://checkout.test/cs_test"}, nil
}

func (g *scriptedGateway) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return g.verifyErr
}

func (g *scriptedGateway) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var body struct {
		EventID       string `json:"event_id"`
		Type          string `json:"type"`
		MembershipID  string `json:"membership_id"`
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	membershipID, err := strconv.ParseInt(body.MembershipID, 10, 64)
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: body.EventID,
		TransactionID:   body.TransactionID,
		Type:            body.Type,
		MembershipID:    snowflake.ID(membershipID),
		RawPayload:      payload,
	}, nil
}

type fakeMembershipService struct {
	membershipdomain.Service

	confirms   []membershipdomain.ConfirmPaymentRequest
	confirmErr error
}

func (s *fakeMembershipService) ConfirmPayment(ctx context.Context, req membershipdomain.ConfirmPaymentRequest) (membershipdomain.Membership, error) {
	s.confirms = append(s.confirms, req)
	if s.confirmErr != nil {
		return membershipdomain.Membership{}, s.confirmErr
	}
	return membershipdomain.Membership{Status: membershipdomain.MembershipStatusActive}, nil
}

// Helpers

type webhookEnv struct {
	svc           *Service
	db            *gorm.DB
	gateway       *scriptedGateway
	membershipSvc *fakeMembershipService
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := conn.AutoMigrate(&paymentdomain.EventRecord{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	node, _ := snowflake.NewNode(1)
	gateway := &scriptedGateway{}
	membershipSvc := &fakeMembershipService{}

	svc := NewService(Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)),
		Cfg:           config.Config{Gateway: config.GatewayConfig{Provider: "stripe"}},
		Repo:          repository.Provide(conn),
		Registry:      adapters.NewRegistry(&scriptedFactory{gateway: gateway}),
		MembershipSvc: membershipSvc,
	})

	return &webhookEnv{svc: svc, db: conn, gateway: gateway, membershipSvc: membershipSvc}
}

func succeededPayload(eventID, membershipID, transactionID string) []byte {
	payload, _ := json.Marshal(map[string]string{
		"event_id":       eventID,
		"type":           paymentdomain.EventTypePaymentSucceeded,
		"membership_id":  membershipID,
		"transaction_id": transactionID,
	})
	return payload
}

func (e *webhookEnv) storedEvent(t *testing.T, eventID string) paymentdomain.EventRecord {
	t.Helper()
	var record paymentdomain.EventRecord
	if err := e.db.Where("provider_event_id = ?", eventID).First(&record).Error; err != nil {
		t.Fatalf("load event record: %v", err)
	}
	return record
}

// Tests

func TestIngestWebhookConfirmsPayment(t *testing.T) {
	env := newWebhookEnv(t)

	payload := succeededPayload("evt_1", "42", "txn_1")
	if err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if len(env.membershipSvc.confirms) != 1 {
		t.Fatalf("confirms = %d, want 1", len(env.membershipSvc.confirms))
	}
	confirm := env.membershipSvc.confirms[0]
	if confirm.MembershipID != "42" || confirm.TransactionID != "txn_1" {
		t.Errorf("confirm = %+v", confirm)
	}

	record := env.storedEvent(t, "evt_1")
	if record.ProcessedAt == nil {
		t.Error("event not marked processed")
	}
}

func TestIngestWebhookDedupesReplay(t *testing.T) {
	env := newWebhookEnv(t)

	payload := succeededPayload("evt_dup", "42", "txn_1")
	if err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{})
	if err != paymentdomain.ErrEventAlreadyProcessed {
		t.Fatalf("replay: %v", err)
	}
	if len(env.membershipSvc.confirms) != 1 {
		t.Errorf("confirms = %d, replay must not reapply", len(env.membershipSvc.confirms))
	}
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	env := newWebhookEnv(t)

	err := env.svc.IngestWebhook(context.Background(), "paypal", succeededPayload("evt_1", "42", "txn_1"), http.Header{})
	if err != paymentdomain.ErrProviderNotFound {
		t.Errorf("unknown provider: %v", err)
	}
}

func TestIngestWebhookRejectsMalformedPayload(t *testing.T) {
	env := newWebhookEnv(t)

	err := env.svc.IngestWebhook(context.Background(), "stripe", []byte("{not json"), http.Header{})
	if err != paymentdomain.ErrInvalidPayload {
		t.Errorf("malformed payload: %v", err)
	}
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	env := newWebhookEnv(t)
	env.gateway.verifyErr = paymentdomain.ErrInvalidSignature

	payload := succeededPayload("evt_1", "42", "txn_1")
	err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{})
	if err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("bad signature: %v", err)
	}
	if len(env.membershipSvc.confirms) != 0 {
		t.Error("unverified event must not be applied")
	}

	// Nothing was recorded, so the genuine delivery still goes through.
	env.gateway.verifyErr = nil
	if err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{}); err != nil {
		t.Fatalf("retry after signature failure: %v", err)
	}
}

func TestIngestWebhookFailedEventKeepsPending(t *testing.T) {
	env := newWebhookEnv(t)

	payload, _ := json.Marshal(map[string]string{
		"event_id":      "evt_fail",
		"type":          paymentdomain.EventTypePaymentFailed,
		"membership_id": "42",
	})
	if err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{}); err != nil {
		t.Fatalf("ingest failed event: %v", err)
	}

	if len(env.membershipSvc.confirms) != 0 {
		t.Error("failed event must not confirm anything")
	}
	if env.storedEvent(t, "evt_fail").ProcessedAt == nil {
		t.Error("failed event should still be marked processed")
	}
}

func TestIngestWebhookAcksLateConfirmation(t *testing.T) {
	env := newWebhookEnv(t)
	env.membershipSvc.confirmErr = membershipdomain.ErrInvalidTransition

	// The membership already moved on; the delivery is acknowledged so the
	// gateway stops retrying.
	payload := succeededPayload("evt_late", "42", "txn_1")
	if err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{}); err != nil {
		t.Fatalf("late confirmation: %v", err)
	}
	if env.storedEvent(t, "evt_late").ProcessedAt == nil {
		t.Error("acked event should be marked processed")
	}
}

func TestIngestWebhookUnknownEventType(t *testing.T) {
	env := newWebhookEnv(t)

	payload, _ := json.Marshal(map[string]string{
		"event_id":      "evt_odd",
		"type":          "customer.updated",
		"membership_id": "42",
	})
	err := env.svc.IngestWebhook(context.Background(), "stripe", payload, http.Header{})
	if err != paymentdomain.ErrInvalidEvent {
		t.Fatalf("unknown event type: %v", err)
	}
	if env.storedEvent(t, "evt_odd").ProcessedAt != nil {
		t.Error("unapplied event must not be marked processed")
	}
}
