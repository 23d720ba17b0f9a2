// Package domain defines the subscription plan gate consulted before
// document creation. A tier enables named features and caps how many
// documents of each kind a tenant may create per year.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidTenant   = errors.New("invalid_tenant")
	ErrFeatureDisabled = errors.New("feature_disabled")
	ErrQuotaExceeded   = errors.New("quota_exceeded")
)

// Feature codes gated by subscription tier.
const (
	FeatureQuotes     = "devis"
	FeatureInvoices   = "factures"
	FeatureAccounting = "comptabilite"
)

type Tier string

const (
	TierStarter  Tier = "starter"
	TierPro      Tier = "pro"
	TierBusiness Tier = "business"
)

// Plan describes what a tier allows. A quota of 0 means unlimited.
type Plan struct {
	Tier     Tier
	Features map[string]bool
	Quotas   map[string]int64
}

// TenantPlan binds a tenant to its subscription tier.
type TenantPlan struct {
	TenantID  snowflake.ID `gorm:"primaryKey"`
	Tier      Tier         `gorm:"type:text;not null;default:'starter'"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TenantPlan) TableName() string { return "tenant_plans" }

type Service interface {
	// CheckFeature fails with ErrFeatureDisabled when the tenant's tier
	// does not include the named feature.
	CheckFeature(ctx context.Context, code string) error
	// CheckQuota fails with ErrQuotaExceeded when the tenant has already
	// created its plan's yearly allowance for the named counter.
	CheckQuota(ctx context.Context, counter string, year int) error
}
