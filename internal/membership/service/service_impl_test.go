package service

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/custcontext"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	membershiprepository "github.com/smallbiznis/homecare/internal/membership/repository"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	tierrepository "github.com/smallbiznis/homecare/internal/tier/repository"
	tierservice "github.com/smallbiznis/homecare/internal/tier/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manual Mocks

type fakeGateway struct {
	sessions int
	failWith error
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (paymentdomain.CheckoutSession, error) {
	if g.failWith != nil {
		return paymentdomain.CheckoutSession{}, g.failWith
	}
	g.sessions++
	ref := fmt.Sprintf("cs_test_%d", g.sessions)
	return paymentdomain.CheckoutSession{
		Reference:   ref,
		RedirectURL: "https://checkout.test/" + ref,
	}, nil
}

func (g *fakeGateway) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (g *fakeGateway) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	return nil, paymentdomain.ErrEventIgnored
}

type fakeCache struct {
	entries       map[snowflake.ID]membershipdomain.Membership
	invalidations int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[snowflake.ID]membershipdomain.Membership)}
}

func (c *fakeCache) Get(customerID snowflake.ID) (membershipdomain.Membership, bool) {
	m, ok := c.entries[customerID]
	return m, ok
}

func (c *fakeCache) Set(customerID snowflake.ID, membership membershipdomain.Membership) {
	c.entries[customerID] = membership
}

func (c *fakeCache) Invalidate(customerID snowflake.ID) {
	c.invalidations++
	delete(c.entries, customerID)
}

// Helpers

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	err = conn.AutoMigrate(
		&tierdomain.Tier{},
		&membershipdomain.Membership{},
	)
	if err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return conn
}

type testEnv struct {
	svc     membershipdomain.Service
	db      *gorm.DB
	clock   *clock.FakeClock
	gateway *fakeGateway
	cache   *fakeCache
	tierSvc tierdomain.Service
	node    *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := setupTestDB(t)
	node, _ := snowflake.NewNode(1)
	logger := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	gateway := &fakeGateway{}
	memCache := newFakeCache()

	tierSvc := tierservice.NewService(tierservice.ServiceParam{
		DB:    conn,
		Log:   logger,
		GenID: node,
		Clock: fake,
		Repo:  tierrepository.Provide(),
	})

	svc := NewService(ServiceParam{
		DB:      conn,
		Log:     logger,
		GenID:   node,
		Clock:   fake,
		Cfg:     config.Config{Gateway: config.GatewayConfig{Provider: "stripe"}},
		Repo:    membershiprepository.Provide(),
		TierSvc: tierSvc,
		Gateway: gateway,
		Cache:   memCache,
	})

	return &testEnv{
		svc:     svc,
		db:      conn,
		clock:   fake,
		gateway: gateway,
		cache:   memCache,
		tierSvc: tierSvc,
		node:    node,
	}
}

func (e *testEnv) createTier(t *testing.T, code string, monthly, yearly int64, requests int) tierdomain.Tier {
	t.Helper()
	tier, err := e.tierSvc.Create(context.Background(), tierdomain.CreateTierRequest{
		Code:                    code,
		Name:                    code + " plan",
		MonthlyPriceCents:       monthly,
		YearlyPriceCents:        yearly,
		ServiceRequestsPerMonth: requests,
		ResponseTimeHours:       24,
	})
	if err != nil {
		t.Fatalf("create tier: %v", err)
	}
	return tier
}

func (e *testEnv) customerCtx(customerID snowflake.ID) context.Context {
	return custcontext.WithCustomerID(context.Background(), int64(customerID))
}

func (e *testEnv) subscribe(t *testing.T, ctx context.Context, tier tierdomain.Tier) membershipdomain.SubscribeResponse {
	t.Helper()
	resp, err := e.svc.Subscribe(ctx, membershipdomain.SubscribeRequest{
		TierID:       tier.ID.String(),
		BillingCycle: "MONTHLY",
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return resp
}

func (e *testEnv) confirm(t *testing.T, membershipID snowflake.ID, transactionID string) membershipdomain.Membership {
	t.Helper()
	confirmed, err := e.svc.ConfirmPayment(context.Background(), membershipdomain.ConfirmPaymentRequest{
		MembershipID:  membershipID.String(),
		TransactionID: transactionID,
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return confirmed
}

func (e *testEnv) reload(t *testing.T, id snowflake.ID) membershipdomain.Membership {
	t.Helper()
	var m membershipdomain.Membership
	if err := e.db.Where("id = ?", id).First(&m).Error; err != nil {
		t.Fatalf("reload membership: %v", err)
	}
	return m
}

// Tests

func TestSubscribeCreatesPendingMembership(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)

	if resp.Membership.Status != membershipdomain.MembershipStatusPending {
		t.Errorf("status = %s, want PENDING", resp.Membership.Status)
	}
	if resp.PaymentURL == "" {
		t.Error("expected a redirect payment URL")
	}
	if resp.Membership.AutoRenew {
		t.Error("pending membership must not auto-renew")
	}

	eff := resp.Membership.Effective(env.clock.Now())
	if eff.HasActiveAccess {
		t.Error("pending membership must not grant access")
	}

	stored := env.reload(t, resp.Membership.ID)
	if stored.CheckoutRef == "" {
		t.Error("checkout reference not persisted")
	}
}

func TestSubscribeRejectsExistingMembership(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)

	// PENDING blocks a second signup; the retry endpoint is the recovery path.
	_, err := env.svc.Subscribe(ctx, membershipdomain.SubscribeRequest{
		TierID:       tier.ID.String(),
		BillingCycle: "MONTHLY",
	})
	if err != membershipdomain.ErrAlreadySubscribed {
		t.Errorf("second subscribe over PENDING: %v", err)
	}

	env.confirm(t, resp.Membership.ID, "txn_1")

	_, err = env.svc.Subscribe(ctx, membershipdomain.SubscribeRequest{
		TierID:       tier.ID.String(),
		BillingCycle: "MONTHLY",
	})
	if err != membershipdomain.ErrAlreadySubscribed {
		t.Errorf("second subscribe over ACTIVE: %v", err)
	}
}

func TestConfirmPaymentActivates(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "CONDO", 5900, 59900, 5)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.clock.Advance(10 * time.Minute)
	now := env.clock.Now()

	confirmed := env.confirm(t, resp.Membership.ID, "txn_abc")

	if confirmed.Status != membershipdomain.MembershipStatusActive {
		t.Fatalf("status = %s, want ACTIVE", confirmed.Status)
	}
	if !confirmed.StartDate.Equal(now) {
		t.Errorf("start date = %v, want %v", confirmed.StartDate, now)
	}
	if confirmed.NextBillingDate == nil || !confirmed.NextBillingDate.Equal(now.AddDate(0, 1, 0)) {
		t.Errorf("next billing date = %v, want %v", confirmed.NextBillingDate, now.AddDate(0, 1, 0))
	}
	if !confirmed.AutoRenew {
		t.Error("activated membership must auto-renew")
	}
	if !confirmed.Effective(now).HasActiveAccess {
		t.Error("activated membership must grant access")
	}
}

func TestConfirmPaymentIdempotentOnReplay(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	first := env.confirm(t, resp.Membership.ID, "txn_dup")

	// Same transaction delivered twice: no error, no change.
	replayed := env.confirm(t, resp.Membership.ID, "txn_dup")
	if replayed.Status != membershipdomain.MembershipStatusActive {
		t.Errorf("replay status = %s", replayed.Status)
	}
	if !replayed.StartDate.Equal(first.StartDate) {
		t.Error("replay must not move the start date")
	}

	// A different transaction against an ACTIVE membership is a real error.
	_, err := env.svc.ConfirmPayment(context.Background(), membershipdomain.ConfirmPaymentRequest{
		MembershipID:  resp.Membership.ID.String(),
		TransactionID: "txn_other",
	})
	if err != membershipdomain.ErrInvalidTransition {
		t.Errorf("conflicting confirm: %v", err)
	}
}

func TestRetryPaymentKeepsSameMembership(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	firstRef := env.reload(t, resp.Membership.ID).CheckoutRef

	retry, err := env.svc.RetryPayment(ctx)
	if err != nil {
		t.Fatalf("retry payment: %v", err)
	}
	if retry.PaymentURL == "" {
		t.Error("expected a fresh redirect URL")
	}

	var count int64
	env.db.Model(&membershipdomain.Membership{}).Where("customer_id = ?", customerID).Count(&count)
	if count != 1 {
		t.Errorf("memberships = %d, want 1", count)
	}

	if ref := env.reload(t, resp.Membership.ID).CheckoutRef; ref == firstRef {
		t.Error("checkout reference should be re-issued")
	}
}

func TestRetryPaymentWithoutPending(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")

	if _, err := env.svc.RetryPayment(ctx); err != membershipdomain.ErrNotPending {
		t.Errorf("retry on ACTIVE: %v", err)
	}
}

func TestCheckoutRefOnlyUpdatesPendingRows(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)
	repo := membershiprepository.Provide()

	resp := env.subscribe(t, ctx, tier)
	id := resp.Membership.ID

	rows, err := repo.UpdateCheckoutRef(context.Background(), env.db, id, "cs_test_retry", env.clock.Now())
	if err != nil {
		t.Fatalf("update checkout ref: %v", err)
	}
	if rows != 1 {
		t.Fatalf("rows = %d, want 1 while PENDING", rows)
	}

	env.confirm(t, id, "txn_1")

	// A retry that loses the race to a confirmation must not touch the row.
	rows, err = repo.UpdateCheckoutRef(context.Background(), env.db, id, "cs_test_stale", env.clock.Now())
	if err != nil {
		t.Fatalf("update checkout ref after confirm: %v", err)
	}
	if rows != 0 {
		t.Fatalf("rows = %d, want 0 once ACTIVE", rows)
	}
	if got := env.reload(t, id).CheckoutRef; got != "cs_test_retry" {
		t.Errorf("checkout ref = %s, want cs_test_retry", got)
	}
}

func TestCancelSchedulesExpiryAtPeriodEnd(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "CONDO", 5900, 59900, 5)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	confirmed := env.confirm(t, resp.Membership.ID, "txn_1")
	periodEnd := *confirmed.NextBillingDate

	cancelled, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if cancelled.Status != membershipdomain.MembershipStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", cancelled.Status)
	}
	if cancelled.EndDate == nil || !cancelled.EndDate.Equal(periodEnd) {
		t.Errorf("end date = %v, want %v", cancelled.EndDate, periodEnd)
	}
	if cancelled.AutoRenew {
		t.Error("cancelled membership must not auto-renew")
	}
	if cancelled.CancelledAt == nil {
		t.Error("cancelled_at not set")
	}

	// Day 10 of the grace period: access continues.
	env.clock.Advance(10 * 24 * time.Hour)
	if !cancelled.Effective(env.clock.Now()).HasActiveAccess {
		t.Error("grace period must retain access")
	}

	// Past the paid-through date: effectively expired without any sweep.
	env.clock.Set(periodEnd.Add(time.Hour))
	eff := cancelled.Effective(env.clock.Now())
	if eff.Status != membershipdomain.MembershipStatusExpired || eff.HasActiveAccess {
		t.Errorf("past end: got %+v", eff)
	}

	// And cancelling an effectively expired membership always fails.
	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != membershipdomain.ErrInvalidTransition {
		t.Errorf("cancel after lapse: %v", err)
	}
}

func TestCancelImmediateSkipsGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")

	now := env.clock.Now()
	cancelled, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{Immediate: true})
	if err != nil {
		t.Fatalf("cancel immediate: %v", err)
	}

	if cancelled.Status != membershipdomain.MembershipStatusExpired {
		t.Fatalf("status = %s, want EXPIRED", cancelled.Status)
	}
	if cancelled.EndDate == nil || !cancelled.EndDate.Equal(now) {
		t.Errorf("end date = %v, want %v", cancelled.EndDate, now)
	}
	if cancelled.Effective(now).HasActiveAccess {
		t.Error("immediate cancel must revoke access")
	}
}

func TestCancelScheduledThenImmediate(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")

	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != nil {
		t.Fatalf("scheduled cancel: %v", err)
	}

	// Scheduling a second cancel on an already cancelled membership is
	// rejected; only the immediate escalation below is allowed.
	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != membershipdomain.ErrInvalidTransition {
		t.Fatalf("repeat scheduled cancel: %v, want ErrInvalidTransition", err)
	}

	// Escalating to immediate forfeits the grace period.
	env.clock.Advance(24 * time.Hour)
	now := env.clock.Now()
	expired, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{Immediate: true})
	if err != nil {
		t.Fatalf("immediate after scheduled: %v", err)
	}
	if expired.Status != membershipdomain.MembershipStatusExpired {
		t.Fatalf("status = %s, want EXPIRED", expired.Status)
	}
	if expired.EndDate == nil || !expired.EndDate.Equal(now) {
		t.Errorf("end date = %v, want %v", expired.EndDate, now)
	}
}

func TestCancelWithOnlyExpiredMembership(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")
	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{Immediate: true}); err != nil {
		t.Fatalf("immediate cancel: %v", err)
	}

	// The EXPIRED row is no longer the customer's current membership, so a
	// further cancel has nothing to target.
	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != membershipdomain.ErrMembershipNotFound {
		t.Errorf("cancel with only expired rows: %v", err)
	}
}

func TestCancelPendingFails(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	env.subscribe(t, ctx, tier)

	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != membershipdomain.ErrInvalidTransition {
		t.Errorf("cancel PENDING: %v", err)
	}
}

func TestChangePlanActivatesReplacement(t *testing.T) {
	env := newTestEnv(t)
	hdb := env.createTier(t, "HDB", 2900, 29900, 2)
	condo := env.createTier(t, "CONDO", 5900, 59900, 5)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, hdb)
	env.confirm(t, resp.Membership.ID, "txn_1")
	oldID := resp.Membership.ID

	change, err := env.svc.ChangePlan(ctx, membershipdomain.ChangePlanRequest{
		NewTierID:    condo.ID.String(),
		BillingCycle: "YEARLY",
	})
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}

	if change.Membership.Status != membershipdomain.MembershipStatusPending {
		t.Fatalf("replacement status = %s, want PENDING", change.Membership.Status)
	}
	if change.Membership.ReplacesID == nil || *change.Membership.ReplacesID != oldID {
		t.Error("replacement must reference the membership it supersedes")
	}

	// Until payment confirms, the old membership stays the current one.
	view, err := env.svc.GetMyMembership(ctx)
	if err != nil {
		t.Fatalf("get my membership: %v", err)
	}
	if view.Membership.ID != oldID {
		t.Errorf("current membership = %s, want %s", view.Membership.ID, oldID)
	}

	// Stacking a second plan change is rejected.
	if _, err := env.svc.ChangePlan(ctx, membershipdomain.ChangePlanRequest{
		NewTierID:    hdb.ID.String(),
		BillingCycle: "MONTHLY",
	}); err != membershipdomain.ErrAlreadySubscribed {
		t.Errorf("stacked change plan: %v", err)
	}

	env.confirm(t, change.Membership.ID, "txn_2")

	replacement := env.reload(t, change.Membership.ID)
	if replacement.Status != membershipdomain.MembershipStatusActive {
		t.Errorf("replacement status = %s, want ACTIVE", replacement.Status)
	}
	old := env.reload(t, oldID)
	if old.Status != membershipdomain.MembershipStatusExpired {
		t.Errorf("old status = %s, want EXPIRED", old.Status)
	}
}

func TestChangePlanRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	hdb := env.createTier(t, "HDB", 2900, 29900, 2)
	condo := env.createTier(t, "CONDO", 5900, 59900, 5)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	if _, err := env.svc.ChangePlan(ctx, membershipdomain.ChangePlanRequest{
		NewTierID:    condo.ID.String(),
		BillingCycle: "MONTHLY",
	}); err != membershipdomain.ErrMembershipNotFound {
		t.Errorf("change plan without membership: %v", err)
	}

	env.subscribe(t, ctx, hdb)
	if _, err := env.svc.ChangePlan(ctx, membershipdomain.ChangePlanRequest{
		NewTierID:    condo.ID.String(),
		BillingCycle: "MONTHLY",
	}); err != membershipdomain.ErrNotActive {
		t.Errorf("change plan on PENDING: %v", err)
	}
}

func TestSubscribeAfterLapsedCancellation(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	confirmed := env.confirm(t, resp.Membership.ID, "txn_1")
	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// No sweep has run, but the paid-through date has passed.
	env.clock.Set(confirmed.NextBillingDate.Add(time.Hour))

	fresh, err := env.svc.Subscribe(ctx, membershipdomain.SubscribeRequest{
		TierID:       tier.ID.String(),
		BillingCycle: "MONTHLY",
	})
	if err != nil {
		t.Fatalf("subscribe after lapse: %v", err)
	}
	if fresh.Membership.ID == resp.Membership.ID {
		t.Error("expected a fresh membership record")
	}

	old := env.reload(t, resp.Membership.ID)
	if old.Status != membershipdomain.MembershipStatusExpired {
		t.Errorf("lapsed membership status = %s, want EXPIRED", old.Status)
	}
}

func TestGetMyMembershipAnalytics(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "CONDO", 5900, 59900, 5)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")

	view, err := env.svc.GetMyMembership(ctx)
	if err != nil {
		t.Fatalf("get my membership: %v", err)
	}

	if !view.Effective.HasActiveAccess {
		t.Error("expected active access")
	}
	if view.Analytics.ServiceRequestsRemaining == nil || *view.Analytics.ServiceRequestsRemaining != 5 {
		t.Errorf("remaining = %v, want 5", view.Analytics.ServiceRequestsRemaining)
	}
	if view.Analytics.DaysUntilRenewal == nil {
		t.Fatal("expected days until renewal")
	}
	if got := *view.Analytics.DaysUntilRenewal; got < 27 || got > 31 {
		t.Errorf("days until renewal = %d", got)
	}
}

func TestGetMyMembershipUnlimitedTier(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "LANDED", 9900, 99900, tierdomain.UnlimitedRequests)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")

	view, err := env.svc.GetMyMembership(ctx)
	if err != nil {
		t.Fatalf("get my membership: %v", err)
	}
	if view.Analytics.ServiceRequestsRemaining != nil {
		t.Error("unlimited tier must not report a remaining count")
	}
}

func TestExpireSweeps(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)

	// One cancelled membership past its end date.
	cancelledCustomer := env.node.Generate()
	cancelledCtx := env.customerCtx(cancelledCustomer)
	resp := env.subscribe(t, cancelledCtx, tier)
	confirmed := env.confirm(t, resp.Membership.ID, "txn_1")
	if _, err := env.svc.Cancel(cancelledCtx, membershipdomain.CancelRequest{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// One abandoned PENDING membership.
	pendingCustomer := env.node.Generate()
	pendingResp := env.subscribe(t, env.customerCtx(pendingCustomer), tier)

	env.clock.Set(confirmed.NextBillingDate.Add(time.Hour))
	now := env.clock.Now()

	expired, err := env.svc.ExpireDue(context.Background(), now)
	if err != nil {
		t.Fatalf("expire due: %v", err)
	}
	if expired != 1 {
		t.Errorf("expire due count = %d, want 1", expired)
	}
	if got := env.reload(t, resp.Membership.ID).Status; got != membershipdomain.MembershipStatusExpired {
		t.Errorf("cancelled membership after sweep = %s", got)
	}

	stale, err := env.svc.ExpireStalePending(context.Background(), now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("expire stale pending: %v", err)
	}
	if stale != 1 {
		t.Errorf("stale pending count = %d, want 1", stale)
	}
	if got := env.reload(t, pendingResp.Membership.ID).Status; got != membershipdomain.MembershipStatusExpired {
		t.Errorf("stale pending after sweep = %s", got)
	}
}

func TestCacheInvalidatedOnLifecycleChanges(t *testing.T) {
	env := newTestEnv(t)
	tier := env.createTier(t, "HDB", 2900, 29900, 2)
	customerID := env.node.Generate()
	ctx := env.customerCtx(customerID)

	resp := env.subscribe(t, ctx, tier)
	env.confirm(t, resp.Membership.ID, "txn_1")

	if _, err := env.svc.GetMyMembership(ctx); err != nil {
		t.Fatalf("get my membership: %v", err)
	}
	if _, ok := env.cache.Get(customerID); !ok {
		t.Fatal("expected membership cached after read")
	}

	if _, err := env.svc.Cancel(ctx, membershipdomain.CancelRequest{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := env.cache.Get(customerID); ok {
		t.Error("cancel must invalidate the cached membership")
	}

	view, err := env.svc.GetMyMembership(ctx)
	if err != nil {
		t.Fatalf("get my membership after cancel: %v", err)
	}
	if view.Membership.Status != membershipdomain.MembershipStatusCancelled {
		t.Errorf("view status = %s, want CANCELLED", view.Membership.Status)
	}
}
