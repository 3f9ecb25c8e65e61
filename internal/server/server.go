package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/homecare/internal/cache"
	"github.com/smallbiznis/homecare/internal/clock"
	"github.com/smallbiznis/homecare/internal/config"
	"github.com/smallbiznis/homecare/internal/membership"
	membershipdomain "github.com/smallbiznis/homecare/internal/membership/domain"
	"github.com/smallbiznis/homecare/internal/migration"
	obsmetrics "github.com/smallbiznis/homecare/internal/observability/metrics"
	"github.com/smallbiznis/homecare/internal/payment"
	paymentservice "github.com/smallbiznis/homecare/internal/payment/service"
	"github.com/smallbiznis/homecare/internal/ratelimit"
	"github.com/smallbiznis/homecare/internal/scheduler"
	"github.com/smallbiznis/homecare/internal/tier"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	obsmetrics.Module,
	fx.Provide(NewEngine),
	cache.Module,
	ratelimit.Module,
	tier.Module,
	membership.Module,
	payment.Module,
	migration.Module,
	scheduler.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	genID         *snowflake.Node
	clock         clock.Clock
	tierSvc       tierdomain.Service
	membershipSvc membershipdomain.Service
	paymentSvc    *paymentservice.Service
	limiter       *ratelimit.PaymentLimiter
	metrics       *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	GenID         *snowflake.Node
	Clock         clock.Clock
	TierSvc       tierdomain.Service
	MembershipSvc membershipdomain.Service
	PaymentSvc    *paymentservice.Service
	Limiter       *ratelimit.PaymentLimiter `optional:"true"`
	Metrics       *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		genID:         p.GenID,
		clock:         p.Clock,
		tierSvc:       p.TierSvc,
		membershipSvc: p.MembershipSvc,
		paymentSvc:    p.PaymentSvc,
		limiter:       p.Limiter,
		metrics:       p.Metrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Tiers --------
	api.GET("/tiers", s.ListTiers)
	api.GET("/tiers/:id", s.GetTierByID)

	// -------- Membership --------
	m := api.Group("/membership", s.CustomerRequired())
	{
		m.POST("/payment", s.SubscribeMembership)
		m.POST("/retry-payment", s.RetryPaymentRateLimit(), s.RetryMembershipPayment)
		m.PUT("/cancel", s.CancelMembership)
		m.POST("/change-plan-payment", s.ChangeMembershipPlan)
		m.GET("/my-membership", s.GetMyMembership)
	}

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/tiers", s.ListTiers)
	admin.POST("/tiers", s.CreateTier)
	admin.PATCH("/tiers/:id", s.UpdateTier)
}
