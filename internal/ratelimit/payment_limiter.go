package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/homecare/internal/config"
)

const (
	keyRetryPayment = "membership:retry:%s"
	keyWebhook      = "payment:webhook:%s"
	keySweepLock    = "membership:sweep:lock"
)

// PaymentLimiter throttles the two abuse-prone entry points: per-customer
// payment retries and per-provider webhook ingestion. It also owns the sweep
// lock so only one replica runs housekeeping at a time. A nil limiter (rate
// limiting disabled) allows everything.
type PaymentLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	retryRate    float64
	retryBurst   int
	webhookRate  float64
	webhookBurst int
	lockTTL      time.Duration
}

func NewPaymentLimiter(cfg config.Config) (*PaymentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.RetryPaymentRate <= 0 || limitCfg.RetryPaymentBurst <= 0 {
		return nil, errors.New("retry payment rate limit must be positive")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &PaymentLimiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		locker:       NewLocker(client),
		retryRate:    limitCfg.RetryPaymentRate,
		retryBurst:   limitCfg.RetryPaymentBurst,
		webhookRate:  limitCfg.WebhookRate,
		webhookBurst: limitCfg.WebhookBurst,
		lockTTL:      time.Duration(limitCfg.SweepLockTTLSecs) * time.Second,
	}, nil
}

func (l *PaymentLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *PaymentLimiter) AllowRetryPayment(ctx context.Context, customerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyRetryPayment, strings.TrimSpace(customerID))
	return l.bucket.Allow(ctx, key, l.retryRate, l.retryBurst)
}

func (l *PaymentLimiter) AllowWebhook(ctx context.Context, provider string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhook, strings.TrimSpace(provider))
	return l.bucket.Allow(ctx, key, l.webhookRate, l.webhookBurst)
}

func (l *PaymentLimiter) TryLockSweep(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepLock, l.lockTTL)
}

func (l *PaymentLimiter) ReleaseSweep(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keySweepLock, token)
}
