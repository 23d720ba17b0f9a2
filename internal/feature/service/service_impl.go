package service

import (
	"context"
	"time"

	featuredomain "github.com/courtierpro/billing/internal/feature/domain"
	"github.com/courtierpro/billing/internal/tenantctx"
	"github.com/courtierpro/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// plans are the static SaaS tiers. Unknown tenants fall back to starter.
var plans = map[featuredomain.Tier]featuredomain.Plan{
	featuredomain.TierStarter: {
		Tier: featuredomain.TierStarter,
		Features: map[string]bool{
			featuredomain.FeatureQuotes: true,
		},
		Quotas: map[string]int64{
			featuredomain.FeatureQuotes: 20,
		},
	},
	featuredomain.TierPro: {
		Tier: featuredomain.TierPro,
		Features: map[string]bool{
			featuredomain.FeatureQuotes:   true,
			featuredomain.FeatureInvoices: true,
		},
		Quotas: map[string]int64{
			featuredomain.FeatureQuotes:   200,
			featuredomain.FeatureInvoices: 200,
		},
	},
	featuredomain.TierBusiness: {
		Tier: featuredomain.TierBusiness,
		Features: map[string]bool{
			featuredomain.FeatureQuotes:     true,
			featuredomain.FeatureInvoices:   true,
			featuredomain.FeatureAccounting: true,
		},
		Quotas: map[string]int64{},
	},
}

// counterTables maps quota counters to the tables they count.
var counterTables = map[string]string{
	featuredomain.FeatureQuotes:   "quotes",
	featuredomain.FeatureInvoices: "invoices",
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	planrepo repository.Repository[featuredomain.TenantPlan]
}

func NewService(p ServiceParam) featuredomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("feature.service"),

		planrepo: repository.ProvideStore[featuredomain.TenantPlan](p.DB),
	}
}

func (s *Service) CheckFeature(ctx context.Context, code string) error {
	plan, err := s.planForTenant(ctx)
	if err != nil {
		return err
	}

	if !plan.Features[code] {
		return featuredomain.ErrFeatureDisabled
	}
	return nil
}

func (s *Service) CheckQuota(ctx context.Context, counter string, year int) error {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return featuredomain.ErrInvalidTenant
	}

	plan, err := s.planForTenant(ctx)
	if err != nil {
		return err
	}

	limit := plan.Quotas[counter]
	if limit <= 0 {
		return nil
	}

	table, ok := counterTables[counter]
	if !ok {
		return nil
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	var created int64
	err = s.db.WithContext(ctx).
		Table(table).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ? AND deleted_at IS NULL", tenantID, from, to).
		Count(&created).Error
	if err != nil {
		return err
	}

	if created >= limit {
		return featuredomain.ErrQuotaExceeded
	}
	return nil
}

func (s *Service) planForTenant(ctx context.Context) (featuredomain.Plan, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok || tenantID == 0 {
		return featuredomain.Plan{}, featuredomain.ErrInvalidTenant
	}

	tier := featuredomain.TierStarter
	record, err := s.planrepo.FindOne(ctx, &featuredomain.TenantPlan{TenantID: tenantID})
	if err != nil {
		return featuredomain.Plan{}, err
	}
	if record != nil {
		tier = record.Tier
	}

	plan, ok := plans[tier]
	if !ok {
		plan = plans[featuredomain.TierStarter]
	}
	return plan, nil
}
