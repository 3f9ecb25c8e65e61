package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/homecare/internal/clock"
	tierdomain "github.com/smallbiznis/homecare/internal/tier/domain"
	"github.com/smallbiznis/homecare/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  tierdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  tierdomain.Repository
}

func NewService(p ServiceParam) tierdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("tier.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) List(ctx context.Context) ([]tierdomain.Tier, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) GetByID(ctx context.Context, id string) (tierdomain.Tier, error) {
	tierID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return tierdomain.Tier{}, tierdomain.ErrInvalidTier
	}

	tier, err := s.repo.FindByID(ctx, s.db, tierID)
	if err != nil {
		return tierdomain.Tier{}, err
	}
	if tier == nil {
		return tierdomain.Tier{}, tierdomain.ErrTierNotFound
	}

	return *tier, nil
}

func (s *Service) Create(ctx context.Context, req tierdomain.CreateTierRequest) (tierdomain.Tier, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return tierdomain.Tier{}, tierdomain.ErrInvalidCode
	}
	if err := validatePricing(req.MonthlyPriceCents, req.YearlyPriceCents, req.MaterialDiscountPercent); err != nil {
		return tierdomain.Tier{}, err
	}

	now := s.clock.Now()
	tier := tierdomain.Tier{
		ID:                      s.genID.Generate(),
		Code:                    code,
		Name:                    strings.TrimSpace(req.Name),
		Description:             strings.TrimSpace(req.Description),
		MonthlyPriceCents:       req.MonthlyPriceCents,
		YearlyPriceCents:        req.YearlyPriceCents,
		ServiceRequestsPerMonth: req.ServiceRequestsPerMonth,
		ResponseTimeHours:       req.ResponseTimeHours,
		MaterialDiscountPercent: req.MaterialDiscountPercent,
		AnnualInspections:       req.AnnualInspections,
		EmergencyService:        req.EmergencyService,
		PrioritySupport:         req.PrioritySupport,
		DedicatedManager:        req.DedicatedManager,
		Active:                  true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := s.repo.Insert(ctx, s.db, &tier); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return tierdomain.Tier{}, tierdomain.ErrDuplicateCode
		}
		return tierdomain.Tier{}, err
	}

	return tier, nil
}

func (s *Service) Update(ctx context.Context, id string, req tierdomain.UpdateTierRequest) (tierdomain.Tier, error) {
	tier, err := s.GetByID(ctx, id)
	if err != nil {
		return tierdomain.Tier{}, err
	}

	applyUpdate(&tier, req)

	if err := validatePricing(tier.MonthlyPriceCents, tier.YearlyPriceCents, tier.MaterialDiscountPercent); err != nil {
		return tierdomain.Tier{}, err
	}

	tier.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, &tier); err != nil {
		return tierdomain.Tier{}, err
	}

	return tier, nil
}

func applyUpdate(tier *tierdomain.Tier, req tierdomain.UpdateTierRequest) {
	if req.Name != nil {
		tier.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		tier.Description = strings.TrimSpace(*req.Description)
	}
	if req.MonthlyPriceCents != nil {
		tier.MonthlyPriceCents = *req.MonthlyPriceCents
	}
	if req.YearlyPriceCents != nil {
		tier.YearlyPriceCents = *req.YearlyPriceCents
	}
	if req.ServiceRequestsPerMonth != nil {
		tier.ServiceRequestsPerMonth = *req.ServiceRequestsPerMonth
	}
	if req.ResponseTimeHours != nil {
		tier.ResponseTimeHours = *req.ResponseTimeHours
	}
	if req.MaterialDiscountPercent != nil {
		tier.MaterialDiscountPercent = *req.MaterialDiscountPercent
	}
	if req.AnnualInspections != nil {
		tier.AnnualInspections = *req.AnnualInspections
	}
	if req.EmergencyService != nil {
		tier.EmergencyService = *req.EmergencyService
	}
	if req.PrioritySupport != nil {
		tier.PrioritySupport = *req.PrioritySupport
	}
	if req.DedicatedManager != nil {
		tier.DedicatedManager = *req.DedicatedManager
	}
	if req.Active != nil {
		tier.Active = *req.Active
	}
}

func validatePricing(monthly, yearly int64, discount int) error {
	if monthly < 0 || yearly < 0 {
		return tierdomain.ErrInvalidPrice
	}
	if discount < 0 || discount > 100 {
		return tierdomain.ErrInvalidDiscount
	}
	return nil
}
