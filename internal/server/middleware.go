package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/homecare/internal/custcontext"
	"go.uber.org/zap"
)

const HeaderCustomer = "X-Customer-Id"

// RequestLogger emits one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// CustomerRequired resolves the calling customer from the X-Customer-Id
// header into the request context. Upstream auth owns verifying the header.
func (s *Server) CustomerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderCustomer))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		customerID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := custcontext.WithCustomerID(c.Request.Context(), int64(customerID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) RetryPaymentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		customerID, ok := custcontext.CustomerIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.limiter.AllowRetryPayment(c.Request.Context(), customerID.String())
		if err != nil {
			// Limiter outages must not take payment recovery down with them.
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter/time.Second)+1))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		provider := strings.TrimSpace(c.Param("provider"))
		result, err := s.limiter.AllowWebhook(c.Request.Context(), provider)
		if err != nil {
			c.Next()
			return
		}
		if !result.Allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
