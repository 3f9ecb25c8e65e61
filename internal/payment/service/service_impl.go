package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	"github.com/smallbiznis/homecare/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Repo          paymentdomain.Repository
	Registry      *adapters.Registry
	MembershipSvc membershipdomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	cfg           config.Config
	repo          paymentdomain.Repository
	registry      *adapters.Registry
	membershipSvc membershipdomain.Service
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		cfg:           p.Cfg,
		repo:          p.Repo,
		registry:      p.Registry,
		membershipSvc: p.MembershipSvc,
		metrics:       p.Metrics,
	}
}

// IngestWebhook verifies, dedupes, and applies one gateway delivery. Replays
// of an already-processed event return ErrEventAlreadyProcessed so the
// handler can acknowledge without reapplying.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.registry.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	gateway, err := s.registry.NewGateway(provider, paymentdomain.GatewayConfig{
		APIKey:        s.cfg.Gateway.APIKey,
		WebhookSecret: s.cfg.Gateway.WebhookSecret,
		SuccessURL:    s.cfg.Gateway.SuccessURL,
		CancelURL:     s.cfg.Gateway.CancelURL,
	})
	if err != nil {
		return err
	}

	if err := gateway.VerifyWebhook(ctx, payload, headers); err != nil {
		return err
	}

	event, err := gateway.ParseWebhook(ctx, payload)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		MembershipID:    event.MembershipID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, &record)
	if err != nil {
		return err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.applyEvent(ctx, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, stored.ID, now); err != nil {
		return err
	}

	if inserted && s.metrics != nil {
		s.metrics.RecordPaymentEvent(provider, event.Type)
	}

	return nil
}

func (s *Service) applyEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		_, err := s.membershipSvc.ConfirmPayment(ctx, membershipdomain.ConfirmPaymentRequest{
			MembershipID:  event.MembershipID.String(),
			TransactionID: event.TransactionID,
		})
		if errors.Is(err, membershipdomain.ErrInvalidTransition) {
			// A confirmation for a membership that already moved on (e.g. the
			// customer cancelled the PENDING record before the webhook
			// arrived). Ack it; replaying will not help.
			s.log.Warn("payment confirmation ignored",
				zap.String("membership_id", event.MembershipID.String()),
				zap.String("transaction_id", event.TransactionID),
			)
			return nil
		}
		return err
	case paymentdomain.EventTypePaymentFailed:
		// Failed or abandoned checkout keeps the membership PENDING; retry
		// payment is the recovery path.
		s.log.Info("payment failed event",
			zap.String("membership_id", event.MembershipID.String()),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	default:
		return paymentdomain.ErrInvalidEvent
	}
}
