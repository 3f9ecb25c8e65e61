package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
)

const (
	checkoutSessionsURL = "https://api.stripe.com/v1/checkout/sessions"
	requestTimeout      = 15 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if apiKey == "" || secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Gateway{
		apiKey:        apiKey,
		webhookSecret: secret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}, nil
}

type Gateway struct {
	apiKey        string
	webhookSecret string
	successURL    string
	cancelURL     string
	httpClient    *http.Client
}

// CreateCheckout opens a hosted Checkout Session and returns its redirect URL.
// Membership ID travels in session metadata so the webhook can route back.
func (g *Gateway) CreateCheckout(ctx context.Context, req paymentdomain.CheckoutRequest) (paymentdomain.CheckoutSession, error) {
	if req.MembershipID == 0 || req.AmountCents <= 0 {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrInvalidEvent
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = g.successURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = g.cancelURL
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "sgd"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("client_reference_id", req.MembershipID.String())
	form.Set("metadata[membership_id]", req.MembershipID.String())
	form.Set("metadata[customer_id]", req.CustomerID.String())
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, checkoutSessionsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return paymentdomain.CheckoutSession{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", fmt.Sprintf("checkout-%s-%d", req.MembershipID.String(), time.Now().UTC().Unix()))

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrGatewayUnavailable
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrGatewayUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return paymentdomain.CheckoutSession{}, fmt.Errorf("stripe checkout session: status %d", resp.StatusCode)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrInvalidPayload
	}
	if session.ID == "" || session.URL == "" {
		return paymentdomain.CheckoutSession{}, paymentdomain.ErrInvalidPayload
	}

	return paymentdomain.CheckoutSession{
		Reference:   session.ID,
		RedirectURL: session.URL,
	}, nil
}

func (g *Gateway) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (g *Gateway) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return parseCheckoutCompleted(event, payload)
	case "checkout.session.expired", "payment_intent.payment_failed":
		return parsePaymentFailed(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

func parseCheckoutCompleted(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var object checkoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	membershipID, err := membershipIDFromMetadata(object.Metadata)
	if err != nil {
		return nil, err
	}

	transactionID := strings.TrimSpace(object.PaymentIntent)
	if transactionID == "" {
		transactionID = strings.TrimSpace(object.ID)
	}
	if transactionID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		TransactionID:   transactionID,
		Type:            paymentdomain.EventTypePaymentSucceeded,
		MembershipID:    membershipID,
		Amount:          object.AmountTotal,
		Currency:        strings.ToUpper(object.Currency),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
		RawPayload:      payload,
	}, nil
}

func parsePaymentFailed(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var object checkoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &object); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	membershipID, err := membershipIDFromMetadata(object.Metadata)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		TransactionID:   strings.TrimSpace(object.ID),
		Type:            paymentdomain.EventTypePaymentFailed,
		MembershipID:    membershipID,
		Amount:          object.AmountTotal,
		Currency:        strings.ToUpper(object.Currency),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
		RawPayload:      payload,
	}, nil
}

func membershipIDFromMetadata(metadata map[string]string) (snowflake.ID, error) {
	raw := strings.TrimSpace(metadata["membership_id"])
	if raw == "" {
		return 0, paymentdomain.ErrInvalidEvent
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, paymentdomain.ErrInvalidEvent
	}
	return id, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}
