package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/cache"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/custcontext"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	repo    membershipdomain.Repository
	tierSvc tierdomain.Service
	gateway paymentdomain.Gateway
	cache   cache.MembershipCache
	metrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    membershipdomain.Repository
	TierSvc tierdomain.Service
	Gateway paymentdomain.Gateway
	Cache   cache.MembershipCache
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) membershipdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("membership.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		tierSvc: p.TierSvc,
		gateway: p.Gateway,
		cache:   p.Cache,
		metrics: p.Metrics,
	}
}

func (s *Service) Subscribe(ctx context.Context, req membershipdomain.SubscribeRequest) (membershipdomain.SubscribeResponse, error) {
	customerID, ok := custcontext.CustomerIDFromContext(ctx)
	if !ok {
		return membershipdomain.SubscribeResponse{}, membershipdomain.ErrInvalidCustomer
	}

	tier, err := s.subscribableTier(ctx, req.TierID)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}

	cycle, err := membershipdomain.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}

	now := s.clock.Now()

	current, err := s.repo.FindCurrentByCustomerID(ctx, s.db, customerID)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}
	if current != nil {
		// A CANCELLED row past its paid-through date reads as EXPIRED even
		// if no sweep has flipped it yet; it must not block a new signup.
		if current.Effective(now).Status != membershipdomain.MembershipStatusExpired {
			return membershipdomain.SubscribeResponse{}, membershipdomain.ErrAlreadySubscribed
		}
		if err := s.expireStale(ctx, current, now); err != nil {
			return membershipdomain.SubscribeResponse{}, err
		}
	}

	membership := membershipdomain.Membership{
		ID:           s.genID.Generate(),
		CustomerID:   customerID,
		TierID:       tier.ID,
		Status:       membershipdomain.MembershipStatusPending,
		BillingCycle: cycle,
		StartDate:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	session, err := s.createCheckout(ctx, membership, tier)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}
	membership.CheckoutRef = session.Reference

	if err := s.repo.Insert(ctx, s.db, &membership); err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}
	s.cache.Invalidate(customerID)

	s.log.Info("membership pending",
		zap.String("membership_id", membership.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("tier", tier.Code),
		zap.String("billing_cycle", string(cycle)),
	)

	return membershipdomain.SubscribeResponse{
		Membership: membership,
		PaymentURL: session.RedirectURL,
	}, nil
}

func (s *Service) ConfirmPayment(ctx context.Context, req membershipdomain.ConfirmPaymentRequest) (membershipdomain.Membership, error) {
	membershipID, err := snowflake.ParseString(strings.TrimSpace(req.MembershipID))
	if err != nil {
		return membershipdomain.Membership{}, membershipdomain.ErrInvalidMembership
	}
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return membershipdomain.Membership{}, membershipdomain.ErrInvalidMembership
	}

	var confirmed membershipdomain.Membership
	err = s.db.Transaction(func(tx *gorm.DB) error {
		membership, err := s.repo.FindByIDForUpdate(ctx, tx, membershipID)
		if err != nil {
			return err
		}
		if membership == nil {
			return membershipdomain.ErrMembershipNotFound
		}

		if membership.Status != membershipdomain.MembershipStatusPending {
			// Replayed confirmation for the transaction that already
			// activated this membership: return it unchanged.
			if membership.GatewayTransactionID != nil && *membership.GatewayTransactionID == transactionID {
				confirmed = *membership
				return nil
			}
			return membershipdomain.ErrInvalidTransition
		}
		if !membershipdomain.TransitionAllowed(membership.Status, membershipdomain.MembershipStatusActive) {
			return membershipdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		next := membership.BillingCycle.Next(now)

		membership.Status = membershipdomain.MembershipStatusActive
		membership.StartDate = now
		membership.EndDate = nil
		membership.NextBillingDate = &next
		membership.AutoRenew = true
		membership.GatewayTransactionID = &transactionID
		membership.UpdatedAt = now

		rows, err := s.repo.UpdateLifecycle(ctx, tx, membership, membershipdomain.MembershipStatusPending)
		if err != nil {
			return err
		}
		if rows == 0 {
			return membershipdomain.ErrConflict
		}

		// Plan change: the replaced membership expires in the same
		// transaction, so the customer never holds two live records.
		if membership.ReplacesID != nil {
			if err := s.expireReplaced(ctx, tx, *membership.ReplacesID, now); err != nil {
				return err
			}
		}

		confirmed = *membership
		return nil
	})
	if err != nil {
		return membershipdomain.Membership{}, err
	}

	s.cache.Invalidate(confirmed.CustomerID)
	s.metrics.RecordTransition(string(membershipdomain.MembershipStatusPending), string(membershipdomain.MembershipStatusActive))
	s.log.Info("membership activated",
		zap.String("membership_id", confirmed.ID.String()),
		zap.String("customer_id", confirmed.CustomerID.String()),
		zap.String("transaction_id", transactionID),
	)

	return confirmed, nil
}

func (s *Service) RetryPayment(ctx context.Context) (membershipdomain.RetryPaymentResponse, error) {
	customerID, ok := custcontext.CustomerIDFromContext(ctx)
	if !ok {
		return membershipdomain.RetryPaymentResponse{}, membershipdomain.ErrInvalidCustomer
	}

	pending, err := s.repo.FindPendingByCustomerID(ctx, s.db, customerID)
	if err != nil {
		return membershipdomain.RetryPaymentResponse{}, err
	}
	if pending == nil {
		return membershipdomain.RetryPaymentResponse{}, membershipdomain.ErrNotPending
	}

	tier, err := s.tierSvc.GetByID(ctx, pending.TierID.String())
	if err != nil {
		return membershipdomain.RetryPaymentResponse{}, err
	}

	session, err := s.createCheckout(ctx, *pending, tier)
	if err != nil {
		return membershipdomain.RetryPaymentResponse{}, err
	}

	rows, err := s.repo.UpdateCheckoutRef(ctx, s.db, pending.ID, session.Reference, s.clock.Now())
	if err != nil {
		return membershipdomain.RetryPaymentResponse{}, err
	}
	if rows == 0 {
		// A concurrent confirmation settled the payment first.
		return membershipdomain.RetryPaymentResponse{}, membershipdomain.ErrNotPending
	}

	s.log.Info("payment retry issued",
		zap.String("membership_id", pending.ID.String()),
		zap.String("customer_id", customerID.String()),
	)

	return membershipdomain.RetryPaymentResponse{PaymentURL: session.RedirectURL}, nil
}

func (s *Service) Cancel(ctx context.Context, req membershipdomain.CancelRequest) (membershipdomain.Membership, error) {
	customerID, ok := custcontext.CustomerIDFromContext(ctx)
	if !ok {
		return membershipdomain.Membership{}, membershipdomain.ErrInvalidCustomer
	}

	var cancelled membershipdomain.Membership
	var from, to membershipdomain.MembershipStatus
	err := s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindCurrentByCustomerID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if current == nil {
			return membershipdomain.ErrMembershipNotFound
		}

		membership, err := s.repo.FindByIDForUpdate(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		if membership == nil {
			return membershipdomain.ErrMembershipNotFound
		}

		now := s.clock.Now()

		switch membership.Status {
		case membershipdomain.MembershipStatusActive:
			if req.Immediate {
				return s.applyCancel(ctx, tx, membership, now, now, &cancelled, &from, &to)
			}
			end := now
			if membership.NextBillingDate != nil {
				end = *membership.NextBillingDate
			}
			return s.applyCancel(ctx, tx, membership, now, end, &cancelled, &from, &to)

		case membershipdomain.MembershipStatusCancelled:
			// Forfeiting the remaining grace period is the only legal move
			// out of CANCELLED; a repeated scheduled cancel is rejected.
			if !membership.InGracePeriod(now) || !req.Immediate {
				return membershipdomain.ErrInvalidTransition
			}
			return s.applyExpire(ctx, tx, membership, now, &cancelled, &from, &to)

		default:
			return membershipdomain.ErrInvalidTransition
		}
	})
	if err != nil {
		return membershipdomain.Membership{}, err
	}

	s.cache.Invalidate(customerID)
	if to != "" {
		s.metrics.RecordTransition(string(from), string(to))
		s.log.Info("membership cancelled",
			zap.String("membership_id", cancelled.ID.String()),
			zap.String("customer_id", customerID.String()),
			zap.String("status", string(cancelled.Status)),
			zap.Bool("immediate", req.Immediate),
		)
	}

	return cancelled, nil
}

func (s *Service) ChangePlan(ctx context.Context, req membershipdomain.ChangePlanRequest) (membershipdomain.SubscribeResponse, error) {
	customerID, ok := custcontext.CustomerIDFromContext(ctx)
	if !ok {
		return membershipdomain.SubscribeResponse{}, membershipdomain.ErrInvalidCustomer
	}

	tier, err := s.subscribableTier(ctx, req.NewTierID)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}

	cycle, err := membershipdomain.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}

	now := s.clock.Now()

	current, err := s.repo.FindCurrentByCustomerID(ctx, s.db, customerID)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}
	if current == nil {
		return membershipdomain.SubscribeResponse{}, membershipdomain.ErrMembershipNotFound
	}
	if current.Status != membershipdomain.MembershipStatusActive {
		return membershipdomain.SubscribeResponse{}, membershipdomain.ErrNotActive
	}

	// An unpaid replacement already exists; retry its payment instead of
	// stacking another one.
	pending, err := s.repo.FindPendingByCustomerID(ctx, s.db, customerID)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}
	if pending != nil {
		return membershipdomain.SubscribeResponse{}, membershipdomain.ErrAlreadySubscribed
	}

	replacesID := current.ID
	replacement := membershipdomain.Membership{
		ID:           s.genID.Generate(),
		CustomerID:   customerID,
		TierID:       tier.ID,
		Status:       membershipdomain.MembershipStatusPending,
		BillingCycle: cycle,
		StartDate:    now,
		ReplacesID:   &replacesID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	session, err := s.createCheckout(ctx, replacement, tier)
	if err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}
	replacement.CheckoutRef = session.Reference

	if err := s.repo.Insert(ctx, s.db, &replacement); err != nil {
		return membershipdomain.SubscribeResponse{}, err
	}

	s.log.Info("plan change pending",
		zap.String("membership_id", replacement.ID.String()),
		zap.String("replaces_id", replacesID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("tier", tier.Code),
	)

	return membershipdomain.SubscribeResponse{
		Membership: replacement,
		PaymentURL: session.RedirectURL,
	}, nil
}

func (s *Service) GetMyMembership(ctx context.Context) (membershipdomain.MembershipView, error) {
	customerID, ok := custcontext.CustomerIDFromContext(ctx)
	if !ok {
		return membershipdomain.MembershipView{}, membershipdomain.ErrInvalidCustomer
	}

	membership, cached := s.cache.Get(customerID)
	if !cached {
		found, err := s.repo.FindCurrentByCustomerID(ctx, s.db, customerID)
		if err != nil {
			return membershipdomain.MembershipView{}, err
		}
		if found == nil {
			return membershipdomain.MembershipView{}, membershipdomain.ErrMembershipNotFound
		}
		membership = *found
		s.cache.Set(customerID, membership)
	}

	tier, err := s.tierSvc.GetByID(ctx, membership.TierID.String())
	if err != nil {
		return membershipdomain.MembershipView{}, err
	}

	now := s.clock.Now()
	effective := membership.Effective(now)

	return membershipdomain.MembershipView{
		Membership: membership,
		Effective:  effective,
		Analytics:  buildAnalytics(membership, tier, effective, now),
	}, nil
}

func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	rows, err := s.repo.ExpireDueCancelled(ctx, s.db, now)
	if err != nil {
		return 0, err
	}
	for i := int64(0); i < rows; i++ {
		s.metrics.RecordTransition(
			string(membershipdomain.MembershipStatusCancelled),
			string(membershipdomain.MembershipStatusExpired),
		)
	}
	return rows, nil
}

func (s *Service) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.repo.ExpireStalePending(ctx, s.db, cutoff, s.clock.Now())
	if err != nil {
		return 0, err
	}
	for i := int64(0); i < rows; i++ {
		s.metrics.RecordTransition(
			string(membershipdomain.MembershipStatusPending),
			string(membershipdomain.MembershipStatusExpired),
		)
	}
	return rows, nil
}

// subscribableTier resolves the tier and rejects inactive plans.
func (s *Service) subscribableTier(ctx context.Context, tierID string) (tierdomain.Tier, error) {
	tier, err := s.tierSvc.GetByID(ctx, tierID)
	if err != nil {
		return tierdomain.Tier{}, err
	}
	if !tier.Active {
		return tierdomain.Tier{}, tierdomain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) createCheckout(ctx context.Context, membership membershipdomain.Membership, tier tierdomain.Tier) (paymentdomain.CheckoutSession, error) {
	session, err := s.gateway.CreateCheckout(ctx, paymentdomain.CheckoutRequest{
		MembershipID: membership.ID,
		CustomerID:   membership.CustomerID,
		Description:  tier.Name + " membership",
		AmountCents:  tier.PriceCents(membership.BillingCycle == membershipdomain.BillingCycleYearly),
		SuccessURL:   s.cfg.Gateway.SuccessURL,
		CancelURL:    s.cfg.Gateway.CancelURL,
	})
	if err != nil {
		s.metrics.RecordCheckout(s.cfg.Gateway.Provider, obsmetrics.CheckoutOutcomeError)
		return paymentdomain.CheckoutSession{}, err
	}
	s.metrics.RecordCheckout(s.cfg.Gateway.Provider, obsmetrics.CheckoutOutcomeCreated)
	return session, nil
}

// expireStale flips a CANCELLED row past its paid-through date during signup.
// Losing the race to the sweep is fine; the guard just reports zero rows.
func (s *Service) expireStale(ctx context.Context, membership *membershipdomain.Membership, now time.Time) error {
	prior := membership.Status
	membership.Status = membershipdomain.MembershipStatusExpired
	membership.UpdatedAt = now
	_, err := s.repo.UpdateLifecycle(ctx, s.db, membership, prior)
	return err
}

func (s *Service) expireReplaced(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) error {
	replaced, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if replaced == nil || replaced.Status == membershipdomain.MembershipStatusExpired {
		return nil
	}
	if !membershipdomain.TransitionAllowed(replaced.Status, membershipdomain.MembershipStatusExpired) {
		return membershipdomain.ErrInvalidTransition
	}

	prior := replaced.Status
	end := now
	replaced.Status = membershipdomain.MembershipStatusExpired
	replaced.EndDate = &end
	replaced.NextBillingDate = nil
	replaced.AutoRenew = false
	replaced.UpdatedAt = now

	rows, err := s.repo.UpdateLifecycle(ctx, tx, replaced, prior)
	if err != nil {
		return err
	}
	if rows == 0 {
		return membershipdomain.ErrConflict
	}
	s.metrics.RecordTransition(string(prior), string(membershipdomain.MembershipStatusExpired))
	return nil
}

func (s *Service) applyCancel(ctx context.Context, tx *gorm.DB, membership *membershipdomain.Membership, now, end time.Time, out *membershipdomain.Membership, from, to *membershipdomain.MembershipStatus) error {
	target := membershipdomain.MembershipStatusCancelled
	if !end.After(now) {
		// Immediate cancellation skips the grace period entirely.
		target = membershipdomain.MembershipStatusExpired
	}
	if !membershipdomain.TransitionAllowed(membership.Status, target) {
		return membershipdomain.ErrInvalidTransition
	}

	prior := membership.Status
	cancelledAt := now
	endDate := end
	membership.Status = target
	membership.EndDate = &endDate
	membership.NextBillingDate = nil
	membership.CancelledAt = &cancelledAt
	membership.AutoRenew = false
	membership.UpdatedAt = now

	rows, err := s.repo.UpdateLifecycle(ctx, tx, membership, prior)
	if err != nil {
		return err
	}
	if rows == 0 {
		return membershipdomain.ErrConflict
	}

	*out = *membership
	*from = prior
	*to = target
	return nil
}

func (s *Service) applyExpire(ctx context.Context, tx *gorm.DB, membership *membershipdomain.Membership, now time.Time, out *membershipdomain.Membership, from, to *membershipdomain.MembershipStatus) error {
	prior := membership.Status
	end := now
	membership.Status = membershipdomain.MembershipStatusExpired
	membership.EndDate = &end
	membership.UpdatedAt = now

	rows, err := s.repo.UpdateLifecycle(ctx, tx, membership, prior)
	if err != nil {
		return err
	}
	if rows == 0 {
		return membershipdomain.ErrConflict
	}

	*out = *membership
	*from = prior
	*to = membershipdomain.MembershipStatusExpired
	return nil
}

func buildAnalytics(membership membershipdomain.Membership, tier tierdomain.Tier, effective membershipdomain.EffectiveStatus, now time.Time) membershipdomain.UsageAnalytics {
	analytics := membershipdomain.UsageAnalytics{
		ServiceRequestsUsed: membership.ServiceRequestsUsed,
	}

	if !tier.Unlimited() {
		remaining := tier.ServiceRequestsPerMonth - membership.ServiceRequestsUsed
		if remaining < 0 {
			remaining = 0
		}
		analytics.ServiceRequestsRemaining = &remaining
	}

	if effective.HasActiveAccess {
		var until *time.Time
		switch {
		case membership.Status == membershipdomain.MembershipStatusActive && membership.NextBillingDate != nil:
			until = membership.NextBillingDate
		case membership.Status == membershipdomain.MembershipStatusCancelled && membership.EndDate != nil:
			until = membership.EndDate
		}
		if until != nil {
			days := int(until.Sub(now).Hours() / 24)
			if days < 0 {
				days = 0
			}
			analytics.DaysUntilRenewal = &days
		}
	}

	return analytics
}
