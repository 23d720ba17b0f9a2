package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	featuredomain "github.com/courtierpro/billing/internal/feature/domain"
	quotedomain "github.com/courtierpro/billing/internal/quote/domain"
	"github.com/courtierpro/billing/internal/tenantctx"
)

func setup(t *testing.T) (featuredomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&featuredomain.TenantPlan{},
		&quotedomain.Quote{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParam{DB: conn, Log: zap.NewNop()}), conn, node
}

func tenantCtx(tenantID snowflake.ID) context.Context {
	return tenantctx.WithTenantID(context.Background(), tenantID)
}

func TestCheckFeature_PerTier(t *testing.T) {
	svc, conn, node := setup(t)

	cases := []struct {
		tier    featuredomain.Tier
		feature string
		allowed bool
	}{
		{featuredomain.TierStarter, featuredomain.FeatureQuotes, true},
		{featuredomain.TierStarter, featuredomain.FeatureInvoices, false},
		{featuredomain.TierStarter, featuredomain.FeatureAccounting, false},
		{featuredomain.TierPro, featuredomain.FeatureQuotes, true},
		{featuredomain.TierPro, featuredomain.FeatureInvoices, true},
		{featuredomain.TierPro, featuredomain.FeatureAccounting, false},
		{featuredomain.TierBusiness, featuredomain.FeatureQuotes, true},
		{featuredomain.TierBusiness, featuredomain.FeatureInvoices, true},
		{featuredomain.TierBusiness, featuredomain.FeatureAccounting, true},
	}

	for _, tc := range cases {
		tenantID := node.Generate()
		require.NoError(t, conn.Create(&featuredomain.TenantPlan{TenantID: tenantID, Tier: tc.tier}).Error)

		err := svc.CheckFeature(tenantCtx(tenantID), tc.feature)
		if tc.allowed {
			assert.NoError(t, err, "%s / %s", tc.tier, tc.feature)
		} else {
			assert.ErrorIs(t, err, featuredomain.ErrFeatureDisabled, "%s / %s", tc.tier, tc.feature)
		}
	}
}

func TestCheckFeature_UnknownTenantFallsBackToStarter(t *testing.T) {
	svc, _, node := setup(t)
	ctx := tenantCtx(node.Generate())

	assert.NoError(t, svc.CheckFeature(ctx, featuredomain.FeatureQuotes))
	assert.ErrorIs(t, svc.CheckFeature(ctx, featuredomain.FeatureInvoices), featuredomain.ErrFeatureDisabled)
}

func TestCheckFeature_RequiresTenant(t *testing.T) {
	svc, _, _ := setup(t)

	err := svc.CheckFeature(context.Background(), featuredomain.FeatureQuotes)
	assert.ErrorIs(t, err, featuredomain.ErrInvalidTenant)
}

func TestCheckQuota_CountsCurrentYearOnly(t *testing.T) {
	svc, conn, node := setup(t)

	tenantID := node.Generate()
	require.NoError(t, conn.Create(&featuredomain.TenantPlan{TenantID: tenantID, Tier: featuredomain.TierStarter}).Error)

	seed := func(year, n int) {
		for i := 0; i < n; i++ {
			q := &quotedomain.Quote{
				ID:        node.Generate(),
				TenantID:  tenantID,
				ClientID:  node.Generate(),
				Number:    node.Generate().String(),
				Status:    quotedomain.StatusDraft,
				CreatedBy: tenantID,
				CreatedAt: time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC),
				UpdatedAt: time.Date(year, time.June, 1, 0, 0, 0, 0, time.UTC),
			}
			require.NoError(t, conn.Create(q).Error)
		}
	}

	// The starter allowance is 20 per year; last year's documents do
	// not count against this year.
	seed(2023, 20)
	seed(2024, 19)

	ctx := tenantCtx(tenantID)
	assert.NoError(t, svc.CheckQuota(ctx, featuredomain.FeatureQuotes, 2024))

	seed(2024, 1)
	assert.ErrorIs(t, svc.CheckQuota(ctx, featuredomain.FeatureQuotes, 2024), featuredomain.ErrQuotaExceeded)
	assert.NoError(t, svc.CheckQuota(ctx, featuredomain.FeatureQuotes, 2025))
}

func TestCheckQuota_UnlimitedTier(t *testing.T) {
	svc, conn, node := setup(t)

	tenantID := node.Generate()
	require.NoError(t, conn.Create(&featuredomain.TenantPlan{TenantID: tenantID, Tier: featuredomain.TierBusiness}).Error)

	assert.NoError(t, svc.CheckQuota(tenantCtx(tenantID), featuredomain.FeatureQuotes, 2024))
}
